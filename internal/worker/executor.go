package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/modelbench-go/internal/coordinator/dispatch"
	"github.com/modelbench-go/internal/plugins"
)

// Executor runs one task type on the worker.
type Executor interface {
	Type() string
	Execute(ctx context.Context, task dispatch.Task) (json.RawMessage, error)
}

// Registry maps task types to executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	fallback  Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	r.executors[e.Type()] = e
	r.mu.Unlock()
}

// SetFallback installs the executor used for unknown task types.
func (r *Registry) SetFallback(e Executor) {
	r.mu.Lock()
	r.fallback = e
	r.mu.Unlock()
}

func (r *Registry) Lookup(taskType string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.executors[taskType]; ok {
		return e, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("no executor for task type %q", taskType)
}

// EchoExecutor returns the payload unchanged. Useful as a smoke-test task
// type and as the development fallback.
type EchoExecutor struct{}

func (EchoExecutor) Type() string { return "echo" }

func (EchoExecutor) Execute(_ context.Context, task dispatch.Task) (json.RawMessage, error) {
	if len(task.Payload) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return task.Payload, nil
}

// PluginExecutor routes evaluation tasks into the sandboxed plugin runtime.
// The payload names the plugin and carries its input.
type PluginExecutor struct {
	manager *plugins.Manager
}

func NewPluginExecutor(manager *plugins.Manager) *PluginExecutor {
	return &PluginExecutor{manager: manager}
}

func (*PluginExecutor) Type() string { return "evaluation" }

type evaluationPayload struct {
	PluginID  string          `json:"pluginId"`
	Operation string          `json:"operation,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (e *PluginExecutor) Execute(ctx context.Context, task dispatch.Task) (json.RawMessage, error) {
	var payload evaluationPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, fmt.Errorf("undecodable evaluation payload: %w", err)
	}
	if payload.PluginID == "" {
		return nil, fmt.Errorf("evaluation payload missing pluginId")
	}

	output, err := e.manager.Execute(ctx, payload.PluginID, plugins.Input{
		Operation: payload.Operation,
		Data:      payload.Data,
	})
	if err != nil {
		return nil, err
	}
	if !output.Success {
		return nil, fmt.Errorf("evaluator reported failure: %s", output.Error)
	}

	return json.Marshal(output)
}
