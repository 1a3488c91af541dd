package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/modelbench-go/pkg/events"
	"github.com/modelbench-go/pkg/logger"
	"github.com/modelbench-go/pkg/metrics"
	"github.com/modelbench-go/pkg/telemetry"
)

// ManagerConfig tunes the plugin manager.
type ManagerConfig struct {
	Limits        ResourceLimits
	MaxConcurrent int
	CacheDir      string
	Capabilities  []Capability
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Limits:        DefaultLimits(),
		MaxConcurrent: 100,
	}
}

type loadedPlugin struct {
	info   Info
	module guestModule
}

// Manager loads wasm plugins and runs them inside the sandbox. The compiled
// module is cached per plugin; every invocation gets a fresh instance with
// its own linear memory, so concurrent invocations never share state.
type Manager struct {
	config  ManagerConfig
	runtime guestRuntime
	bus     *events.Bus
	logger  logger.Logger

	mu      sync.RWMutex
	plugins map[string]*loadedPlugin
}

func NewManager(ctx context.Context, cfg ManagerConfig, bus *events.Bus, log logger.Logger) (*Manager, error) {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 100
	}
	if cfg.Limits.MaxMemoryBytes <= 0 {
		cfg.Limits = DefaultLimits()
	}

	runtime, err := newWasmRuntime(ctx, RuntimeConfig{
		Limits:       cfg.Limits,
		CacheDir:     cfg.CacheDir,
		Capabilities: cfg.Capabilities,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create wasm runtime: %w", err)
	}

	return newManager(cfg, runtime, bus, log), nil
}

// newManager wires an explicit runtime. Tests inject a stub here.
func newManager(cfg ManagerConfig, runtime guestRuntime, bus *events.Bus, log logger.Logger) *Manager {
	return &Manager{
		config:  cfg,
		runtime: runtime,
		bus:     bus,
		logger:  log,
		plugins: make(map[string]*loadedPlugin),
	}
}

// LoadFromFile loads a plugin from a .wasm file, naming it after the file.
func (m *Manager) LoadFromFile(ctx context.Context, path string) (string, error) {
	wasm, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read plugin file: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return m.Load(ctx, name, wasm)
}

// Load compiles the module, probes its metadata with a throwaway instance and
// registers it under a fresh id.
func (m *Manager) Load(ctx context.Context, name string, wasm []byte) (string, error) {
	m.mu.RLock()
	count := len(m.plugins)
	m.mu.RUnlock()
	if count >= m.config.MaxConcurrent {
		return "", ErrPluginLimit
	}

	module, err := m.runtime.Compile(ctx, wasm)
	if err != nil {
		return "", err
	}

	metadata, err := m.probeMetadata(ctx, module)
	if err != nil {
		module.Close(ctx)
		return "", fmt.Errorf("failed to read plugin metadata: %w", err)
	}
	if metadata.Name == "" {
		metadata.Name = name
	}

	pluginID := fmt.Sprintf("%s_%s", metadata.Name, uuid.New().String())

	plugin := &loadedPlugin{
		info: Info{
			ID:       pluginID,
			Metadata: metadata,
			Status:   StatusReady,
			LoadedAt: time.Now(),
			Limits:   m.config.Limits,
		},
		module: module,
	}

	m.mu.Lock()
	if len(m.plugins) >= m.config.MaxConcurrent {
		m.mu.Unlock()
		module.Close(ctx)
		return "", ErrPluginLimit
	}
	m.plugins[pluginID] = plugin
	m.mu.Unlock()

	m.publish(events.New(events.PluginLoaded, pluginID).
		With("name", metadata.Name).
		With("pluginType", string(metadata.Type)))
	m.logger.Info("Plugin loaded", logger.KeyPluginID, pluginID, "type", metadata.Type)

	return pluginID, nil
}

// Unload removes a plugin and releases its compiled module.
func (m *Manager) Unload(ctx context.Context, pluginID string) error {
	m.mu.Lock()
	plugin, ok := m.plugins[pluginID]
	if !ok {
		m.mu.Unlock()
		return ErrPluginNotFound
	}
	plugin.info.Status = StatusUnloading
	delete(m.plugins, pluginID)
	m.mu.Unlock()

	if err := plugin.module.Close(ctx); err != nil {
		m.logger.Warn("Failed to close plugin module", logger.KeyPluginID, pluginID, "error", err)
	}

	m.publish(events.New(events.PluginUnloaded, pluginID))
	m.logger.Info("Plugin unloaded", logger.KeyPluginID, pluginID)
	return nil
}

// Execute runs one invocation in a fresh instance, bounded by the configured
// wall-clock limit. A limit overrun aborts the instance and leaves the plugin
// in Error status until it is reloaded.
func (m *Manager) Execute(ctx context.Context, pluginID string, input Input) (Output, error) {
	m.mu.Lock()
	plugin, ok := m.plugins[pluginID]
	if !ok {
		m.mu.Unlock()
		return Output{}, ErrPluginNotFound
	}
	if plugin.info.Status == StatusError {
		m.mu.Unlock()
		return Output{}, fmt.Errorf("%w: plugin is in error state until reloaded", ErrExecution)
	}
	module := plugin.module
	name := plugin.info.Metadata.Name
	plugin.info.Status = StatusExecuting
	m.mu.Unlock()

	ctx, span := otel.Tracer("modelbench/plugins").Start(ctx, "plugin.execute",
		trace.WithAttributes(telemetry.PluginID(pluginID)))
	defer span.End()

	start := time.Now()
	timeout := time.Duration(m.config.Limits.MaxExecutionTimeMs) * time.Millisecond
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outputBytes, err := m.invoke(callCtx, module, input)
	elapsed := time.Since(start)

	if err != nil {
		failure := err
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			failure = fmt.Errorf("%w after %dms", ErrPluginTimeout, m.config.Limits.MaxExecutionTimeMs)
		}
		span.RecordError(failure)
		m.recordFailure(pluginID)
		metrics.RecordPluginExecution(name, "error", elapsed.Seconds())
		m.publish(events.New(events.PluginErrored, pluginID).With("error", failure.Error()))
		return Output{}, failure
	}

	var output Output
	if err := json.Unmarshal(outputBytes, &output); err != nil {
		m.recordFailure(pluginID)
		metrics.RecordPluginExecution(name, "error", elapsed.Seconds())
		return Output{}, fmt.Errorf("%w: undecodable plugin output: %v", ErrExecution, err)
	}
	output.Metadata.ExecutionTimeMs = elapsed.Milliseconds()

	m.recordSuccess(pluginID, elapsed)
	metrics.RecordPluginExecution(name, "ok", elapsed.Seconds())

	return output, nil
}

// invoke does one full guest round trip: instantiate, init, copy the input
// into guest memory, execute, read the reply, shut down.
func (m *Manager) invoke(ctx context.Context, module guestModule, input Input) ([]byte, error) {
	instance, err := module.Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecution, err)
	}
	defer instance.Close(context.WithoutCancel(ctx))

	if err := m.initInstance(ctx, instance); err != nil {
		return nil, err
	}

	inputBytes, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize plugin input: %w", err)
	}

	inPtr, err := m.allocate(ctx, instance, uint32(len(inputBytes)))
	if err != nil {
		return nil, err
	}
	if err := instance.Write(inPtr, inputBytes); err != nil {
		return nil, err
	}

	outPtr, err := m.allocate(ctx, instance, maxOutputSize)
	if err != nil {
		return nil, err
	}

	results, err := instance.Call(ctx, fnExecute,
		uint64(inPtr), uint64(len(inputBytes)), uint64(outPtr), uint64(maxOutputSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecution, err)
	}
	if len(results) < 2 {
		return nil, fmt.Errorf("%w: unexpected result arity %d", ErrExecution, len(results))
	}
	if code := int32(results[0]); code != resultOK {
		return nil, fmt.Errorf("%w: guest returned code %d", ErrExecution, code)
	}

	outputBytes, err := instance.Read(outPtr, uint32(results[1]))
	if err != nil {
		return nil, err
	}

	m.free(ctx, instance, inPtr, uint32(len(inputBytes)))
	m.free(ctx, instance, outPtr, maxOutputSize)
	instance.Call(ctx, fnShutdown)

	return outputBytes, nil
}

func (m *Manager) initInstance(ctx context.Context, instance guestInstance) error {
	cfgBytes := []byte("{}")
	ptr, err := m.allocate(ctx, instance, uint32(len(cfgBytes)))
	if err != nil {
		return err
	}
	if err := instance.Write(ptr, cfgBytes); err != nil {
		return err
	}
	if _, err := instance.Call(ctx, fnInit, uint64(ptr), uint64(len(cfgBytes))); err != nil {
		return fmt.Errorf("%w: init failed: %v", ErrExecution, err)
	}
	m.free(ctx, instance, ptr, uint32(len(cfgBytes)))
	return nil
}

func (m *Manager) probeMetadata(ctx context.Context, module guestModule) (Metadata, error) {
	instance, err := module.Instantiate(ctx)
	if err != nil {
		return Metadata{}, err
	}
	defer instance.Close(context.WithoutCancel(ctx))

	ptr, err := m.allocate(ctx, instance, maxMetadataSize)
	if err != nil {
		return Metadata{}, err
	}

	results, err := instance.Call(ctx, fnMetadata, uint64(ptr), uint64(maxMetadataSize))
	if err != nil {
		return Metadata{}, err
	}
	if len(results) < 2 {
		return Metadata{}, fmt.Errorf("unexpected metadata result arity %d", len(results))
	}

	data, err := instance.Read(ptr, uint32(results[1]))
	if err != nil {
		return Metadata{}, err
	}
	m.free(ctx, instance, ptr, maxMetadataSize)

	var metadata Metadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("undecodable metadata: %w", err)
	}
	return metadata, nil
}

func (m *Manager) allocate(ctx context.Context, instance guestInstance, size uint32) (uint32, error) {
	results, err := instance.Call(ctx, fnAlloc, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("%w: allocation failed: %v", ErrExecution, err)
	}
	if len(results) < 1 {
		return 0, fmt.Errorf("%w: allocation returned nothing", ErrExecution)
	}
	return uint32(results[0]), nil
}

func (m *Manager) free(ctx context.Context, instance guestInstance, ptr, size uint32) {
	instance.Call(ctx, fnFree, uint64(ptr), uint64(size))
}

func (m *Manager) recordSuccess(pluginID string, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plugin, ok := m.plugins[pluginID]
	if !ok {
		return
	}
	now := time.Now()
	plugin.info.Status = StatusReady
	plugin.info.ExecutionCount++
	plugin.info.TotalExecutionTimeMs += elapsed.Milliseconds()
	plugin.info.LastExecuted = &now
}

func (m *Manager) recordFailure(pluginID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plugin, ok := m.plugins[pluginID]
	if !ok {
		return
	}
	plugin.info.Status = StatusError
	plugin.info.ErrorCount++
}

// List returns info for every loaded plugin.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Info, 0, len(m.plugins))
	for _, plugin := range m.plugins {
		out = append(out, plugin.info)
	}
	return out
}

// Get returns info for one plugin.
func (m *Manager) Get(pluginID string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	plugin, ok := m.plugins[pluginID]
	if !ok {
		return Info{}, false
	}
	return plugin.info, true
}

// Count returns the number of loaded plugins.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.plugins)
}

// Close unloads everything and shuts the engine down.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	for id, plugin := range m.plugins {
		plugin.module.Close(ctx)
		delete(m.plugins, id)
	}
	m.mu.Unlock()
	return m.runtime.Close(ctx)
}

func (m *Manager) publish(ev events.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}
