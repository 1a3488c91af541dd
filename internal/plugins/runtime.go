package plugins

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// guestRuntime compiles wasm modules. Abstracted so the manager can be
// exercised without a real toolchain-built module.
type guestRuntime interface {
	Compile(ctx context.Context, wasm []byte) (guestModule, error)
	Close(ctx context.Context) error
}

// guestModule is a compiled module; instances are minted per invocation.
type guestModule interface {
	Instantiate(ctx context.Context) (guestInstance, error)
	Close(ctx context.Context) error
}

// guestInstance is one sandboxed instance with its own linear memory.
type guestInstance interface {
	Call(ctx context.Context, name string, args ...uint64) ([]uint64, error)
	Read(offset, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	Close(ctx context.Context) error
}

// RuntimeConfig tunes the wasm engine.
type RuntimeConfig struct {
	Limits       ResourceLimits
	CacheDir     string
	Capabilities []Capability
}

func (c RuntimeConfig) hasCapability(cap Capability) bool {
	for _, granted := range c.Capabilities {
		if granted == cap {
			return true
		}
	}
	return false
}

const wasmPageSize = 64 * 1024

// wasmRuntime is the wazero-backed engine. Memory growth past the configured
// cap is refused by the engine; wall-clock timeouts abort the instance via
// context cancellation. Compiled modules are cached on disk when a cache
// directory is configured.
type wasmRuntime struct {
	runtime wazero.Runtime
	config  RuntimeConfig
}

func newWasmRuntime(ctx context.Context, cfg RuntimeConfig) (*wasmRuntime, error) {
	if cfg.Limits.MaxMemoryBytes <= 0 {
		cfg.Limits = DefaultLimits()
	}

	pages := cfg.Limits.MaxMemoryBytes / wasmPageSize
	if pages < 1 {
		pages = 1
	}

	runtimeCfg := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithMemoryLimitPages(uint32(pages))

	if cfg.CacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(cfg.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open compilation cache: %w", err)
		}
		runtimeCfg = runtimeCfg.WithCompilationCache(cache)
	}

	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	// WASI is only linked when a capability needs it; a plugin without the
	// grant has no way to reach the host filesystem or clock.
	if cfg.hasCapability(CapFilesystem) || cfg.hasCapability(CapSystemTime) {
		wasi_snapshot_preview1.MustInstantiate(ctx, r)
	}

	return &wasmRuntime{runtime: r, config: cfg}, nil
}

func (r *wasmRuntime) Compile(ctx context.Context, wasm []byte) (guestModule, error) {
	compiled, err := r.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("failed to compile wasm module: %w", err)
	}
	return &wasmModule{runtime: r, compiled: compiled}, nil
}

func (r *wasmRuntime) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}

type wasmModule struct {
	runtime  *wasmRuntime
	compiled wazero.CompiledModule
}

func (m *wasmModule) Instantiate(ctx context.Context) (guestInstance, error) {
	modCfg := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions("_initialize")

	// Real clocks are opt-in; the default is wazero's deterministic fake
	// time, so an ungranted plugin cannot observe the host clock.
	if m.runtime.config.hasCapability(CapSystemTime) {
		modCfg = modCfg.WithSysWalltime().WithSysNanotime()
	}

	mod, err := m.runtime.runtime.InstantiateModule(ctx, m.compiled, modCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate wasm module: %w", err)
	}
	return &wasmInstance{module: mod}, nil
}

func (m *wasmModule) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

type wasmInstance struct {
	module api.Module
}

func (i *wasmInstance) Call(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	fn := i.module.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("function %q not exported", name)
	}
	return fn.Call(ctx, args...)
}

func (i *wasmInstance) Read(offset, length uint32) ([]byte, error) {
	data, ok := i.module.Memory().Read(offset, length)
	if !ok {
		return nil, fmt.Errorf("memory read out of bounds: offset=%d len=%d", offset, length)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (i *wasmInstance) Write(offset uint32, data []byte) error {
	if !i.module.Memory().Write(offset, data) {
		return fmt.Errorf("memory write out of bounds: offset=%d len=%d", offset, len(data))
	}
	return nil
}

func (i *wasmInstance) Close(ctx context.Context) error {
	return i.module.Close(ctx)
}
