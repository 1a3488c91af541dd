package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelbench-go/pkg/logger"
)

// stubRuntime fakes the wasm engine so the manager's lifecycle, limits and
// ABI plumbing can be exercised without a toolchain-built module.
type stubRuntime struct {
	metadata Metadata
	execute  func(ctx context.Context, input []byte) ([]byte, int32, error)
}

func (r *stubRuntime) Compile(ctx context.Context, wasm []byte) (guestModule, error) {
	return &stubModule{runtime: r}, nil
}

func (r *stubRuntime) Close(ctx context.Context) error { return nil }

type stubModule struct {
	runtime *stubRuntime
}

func (m *stubModule) Instantiate(ctx context.Context) (guestInstance, error) {
	return &stubInstance{module: m, mem: make([]byte, 0, 1024)}, nil
}

func (m *stubModule) Close(ctx context.Context) error { return nil }

type stubInstance struct {
	module *stubModule
	mem    []byte
	next   uint32
}

func (i *stubInstance) Call(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	switch name {
	case fnAlloc:
		size := uint32(args[0])
		ptr := i.next
		i.grow(ptr + size)
		i.next += size
		return []uint64{uint64(ptr)}, nil

	case fnMetadata:
		data, err := json.Marshal(i.module.runtime.metadata)
		if err != nil {
			return nil, err
		}
		ptr := uint32(args[0])
		copy(i.mem[ptr:], data)
		return []uint64{resultOK, uint64(len(data))}, nil

	case fnInit, fnFree, fnShutdown:
		return []uint64{resultOK}, nil

	case fnExecute:
		inPtr, inLen := uint32(args[0]), uint32(args[1])
		outPtr := uint32(args[2])
		input := i.mem[inPtr : inPtr+inLen]

		output, code, err := i.module.runtime.execute(ctx, input)
		if err != nil {
			return nil, err
		}
		copy(i.mem[outPtr:], output)
		return []uint64{uint64(uint32(code)), uint64(len(output))}, nil

	default:
		return nil, fmt.Errorf("function %q not exported", name)
	}
}

func (i *stubInstance) Read(offset, length uint32) ([]byte, error) {
	out := make([]byte, length)
	copy(out, i.mem[offset:offset+length])
	return out, nil
}

func (i *stubInstance) Write(offset uint32, data []byte) error {
	i.grow(offset + uint32(len(data)))
	copy(i.mem[offset:], data)
	return nil
}

func (i *stubInstance) Close(ctx context.Context) error { return nil }

func (i *stubInstance) grow(size uint32) {
	for uint32(len(i.mem)) < size {
		i.mem = append(i.mem, make([]byte, size-uint32(len(i.mem)))...)
	}
}

func echoOutput(ctx context.Context, input []byte) ([]byte, int32, error) {
	out, _ := json.Marshal(Output{Success: true, Data: json.RawMessage(`{"score":0.8}`)})
	return out, resultOK, nil
}

func newTestManager(t *testing.T, cfg ManagerConfig, runtime *stubRuntime) *Manager {
	t.Helper()
	if runtime.metadata.Name == "" {
		runtime.metadata = Metadata{Name: "faithfulness", Version: "1.0.0", Type: TypeEvaluator}
	}
	if runtime.execute == nil {
		runtime.execute = echoOutput
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.Limits.MaxExecutionTimeMs == 0 {
		cfg.Limits = DefaultLimits()
	}
	return newManager(cfg, runtime, nil, logger.NewNop())
}

func TestLoadPlugin(t *testing.T) {
	m := newTestManager(t, ManagerConfig{}, &stubRuntime{})

	pluginID, err := m.Load(context.Background(), "faithfulness", []byte("wasm"))
	require.NoError(t, err)
	assert.Contains(t, pluginID, "faithfulness_")

	info, ok := m.Get(pluginID)
	require.True(t, ok)
	assert.Equal(t, StatusReady, info.Status)
	assert.Equal(t, TypeEvaluator, info.Metadata.Type)
	assert.Equal(t, "1.0.0", info.Metadata.Version)
	assert.Equal(t, 1, m.Count())
}

func TestLoadRespectsConcurrentLimit(t *testing.T) {
	m := newTestManager(t, ManagerConfig{MaxConcurrent: 1}, &stubRuntime{})

	_, err := m.Load(context.Background(), "first", []byte("wasm"))
	require.NoError(t, err)

	_, err = m.Load(context.Background(), "second", []byte("wasm"))
	assert.ErrorIs(t, err, ErrPluginLimit)
	assert.Equal(t, 1, m.Count())
}

func TestExecutePlugin(t *testing.T) {
	m := newTestManager(t, ManagerConfig{}, &stubRuntime{})
	pluginID, err := m.Load(context.Background(), "faithfulness", []byte("wasm"))
	require.NoError(t, err)

	output, err := m.Execute(context.Background(), pluginID, Input{
		Operation: "evaluate",
		Data:      json.RawMessage(`{"response":"hello"}`),
	})
	require.NoError(t, err)
	assert.True(t, output.Success)
	assert.JSONEq(t, `{"score":0.8}`, string(output.Data))
	assert.GreaterOrEqual(t, output.Metadata.ExecutionTimeMs, int64(0))

	info, _ := m.Get(pluginID)
	assert.Equal(t, StatusReady, info.Status)
	assert.Equal(t, int64(1), info.ExecutionCount)
	assert.NotNil(t, info.LastExecuted)
	assert.Equal(t, int64(0), info.ErrorCount)
}

func TestExecuteUnknownPlugin(t *testing.T) {
	m := newTestManager(t, ManagerConfig{}, &stubRuntime{})
	_, err := m.Execute(context.Background(), "ghost", Input{})
	assert.ErrorIs(t, err, ErrPluginNotFound)
}

func TestExecuteGuestErrorCode(t *testing.T) {
	runtime := &stubRuntime{
		execute: func(ctx context.Context, input []byte) ([]byte, int32, error) {
			return nil, 3, nil
		},
	}
	m := newTestManager(t, ManagerConfig{}, runtime)
	pluginID, err := m.Load(context.Background(), "broken", []byte("wasm"))
	require.NoError(t, err)

	_, err = m.Execute(context.Background(), pluginID, Input{})
	assert.ErrorIs(t, err, ErrExecution)

	info, _ := m.Get(pluginID)
	assert.Equal(t, StatusError, info.Status)
	assert.Equal(t, int64(1), info.ErrorCount)
}

func TestExecuteTimeout(t *testing.T) {
	runtime := &stubRuntime{
		execute: func(ctx context.Context, input []byte) ([]byte, int32, error) {
			select {
			case <-time.After(200 * time.Millisecond):
				return echoOutput(ctx, input)
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			}
		},
	}
	m := newTestManager(t, ManagerConfig{
		Limits: ResourceLimits{MaxMemoryBytes: 1 << 20, MaxExecutionTimeMs: 50},
	}, runtime)

	pluginID, err := m.Load(context.Background(), "slow", []byte("wasm"))
	require.NoError(t, err)

	_, err = m.Execute(context.Background(), pluginID, Input{})
	assert.ErrorIs(t, err, ErrPluginTimeout)

	info, _ := m.Get(pluginID)
	assert.Equal(t, StatusError, info.Status)
	assert.Equal(t, int64(1), info.ErrorCount)

	// The error state persists until reload.
	listed := m.List()
	require.Len(t, listed, 1)
	assert.Equal(t, StatusError, listed[0].Status)
}

func TestExecuteUndecodableOutput(t *testing.T) {
	runtime := &stubRuntime{
		execute: func(ctx context.Context, input []byte) ([]byte, int32, error) {
			return []byte("not json"), resultOK, nil
		},
	}
	m := newTestManager(t, ManagerConfig{}, runtime)
	pluginID, err := m.Load(context.Background(), "garbled", []byte("wasm"))
	require.NoError(t, err)

	_, err = m.Execute(context.Background(), pluginID, Input{})
	assert.ErrorIs(t, err, ErrExecution)
}

func TestUnloadPlugin(t *testing.T) {
	m := newTestManager(t, ManagerConfig{}, &stubRuntime{})
	pluginID, err := m.Load(context.Background(), "faithfulness", []byte("wasm"))
	require.NoError(t, err)

	require.NoError(t, m.Unload(context.Background(), pluginID))
	assert.Equal(t, 0, m.Count())

	assert.ErrorIs(t, m.Unload(context.Background(), pluginID), ErrPluginNotFound)
}

func TestExecuteInputRoundTrip(t *testing.T) {
	var seen Input
	runtime := &stubRuntime{
		execute: func(ctx context.Context, input []byte) ([]byte, int32, error) {
			if err := json.Unmarshal(input, &seen); err != nil {
				return nil, 1, nil
			}
			return echoOutput(ctx, input)
		},
	}
	m := newTestManager(t, ManagerConfig{}, runtime)
	pluginID, err := m.Load(context.Background(), "echo", []byte("wasm"))
	require.NoError(t, err)

	_, err = m.Execute(context.Background(), pluginID, Input{
		Operation: "evaluate",
		Data:      json.RawMessage(`{"prompt":"p","response":"r"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "evaluate", seen.Operation)
	assert.JSONEq(t, `{"prompt":"p","response":"r"}`, string(seen.Data))
}
