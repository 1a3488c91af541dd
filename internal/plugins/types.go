package plugins

import (
	"encoding/json"
	"errors"
	"time"
)

// PluginType classifies what a plugin contributes.
type PluginType string

const (
	TypeProvider    PluginType = "provider"
	TypeEvaluator   PluginType = "evaluator"
	TypeBenchmark   PluginType = "benchmark"
	TypeReporter    PluginType = "reporter"
	TypeTransformer PluginType = "transformer"
	TypeHook        PluginType = "hook"
)

// PluginStatus is the instance lifecycle state.
type PluginStatus string

const (
	StatusLoading   PluginStatus = "loading"
	StatusReady     PluginStatus = "ready"
	StatusExecuting PluginStatus = "executing"
	StatusError     PluginStatus = "error"
	StatusUnloading PluginStatus = "unloading"
)

// Capability is an opt-in host feature. A capability the host did not grant
// simply is not linked into the guest.
type Capability string

const (
	CapFilesystem Capability = "filesystem"
	CapNetwork    Capability = "network"
	CapSystemTime Capability = "system-time"
)

// ResourceLimits bound one invocation.
type ResourceLimits struct {
	MaxMemoryBytes     int64 `json:"maxMemoryBytes"`
	MaxExecutionTimeMs int64 `json:"maxExecutionTimeMs"`
	MaxInstructions    int64 `json:"maxInstructions,omitempty"`
}

// DefaultLimits are applied when the configuration leaves a field zero.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		MaxMemoryBytes:     128 * 1024 * 1024,
		MaxExecutionTimeMs: 60_000,
	}
}

// Metadata is the plugin's self-description, returned by plugin_metadata.
type Metadata struct {
	Name         string       `json:"name"`
	Version      string       `json:"version"`
	Type         PluginType   `json:"type"`
	Description  string       `json:"description,omitempty"`
	Capabilities []Capability `json:"capabilities,omitempty"`
}

// Info is the host-side view of a loaded plugin.
type Info struct {
	ID                   string         `json:"id"`
	Metadata             Metadata       `json:"metadata"`
	Status               PluginStatus   `json:"status"`
	LoadedAt             time.Time      `json:"loadedAt"`
	LastExecuted         *time.Time     `json:"lastExecuted,omitempty"`
	ExecutionCount       int64          `json:"executionCount"`
	TotalExecutionTimeMs int64          `json:"totalExecutionTimeMs"`
	ErrorCount           int64          `json:"errorCount"`
	Limits               ResourceLimits `json:"limits"`
}

// Input is the serialized request handed to plugin_execute.
type Input struct {
	Operation string          `json:"operation,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Config    map[string]any  `json:"config,omitempty"`
}

// Output is the plugin's reply.
type Output struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
	Metadata OutputMetadata  `json:"metadata"`
}

type OutputMetadata struct {
	ExecutionTimeMs int64 `json:"executionTimeMs"`
}

// Errors surfaced by the plugin runtime.
var (
	ErrPluginNotFound = errors.New("plugin not found")
	ErrPluginLimit    = errors.New("maximum concurrent plugins limit reached")
	ErrPluginTimeout  = errors.New("plugin execution timed out")
	ErrExecution      = errors.New("plugin execution failed")
)

// Conventional guest exports.
const (
	fnMetadata = "plugin_metadata"
	fnInit     = "plugin_init"
	fnExecute  = "plugin_execute"
	fnShutdown = "plugin_shutdown"
	fnAlloc    = "plugin_alloc"
	fnFree     = "plugin_free"
)

// resultOK is the guest's success return code.
const resultOK = 0

const (
	maxMetadataSize = 64 * 1024
	maxOutputSize   = 10 * 1024 * 1024
)
