package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

var (
	// ErrInstrumentFailed is returned when an instrument exits with a non-zero code.
	ErrInstrumentFailed = errors.New("instrument failed")
	// ErrBadInput is wrapped alongside ErrInstrumentFailed when an instrument
	// exits with ExitBadInput.
	ErrBadInput = errors.New("bad input")
)

// ExitBadInput is the exit code instruments use to reject their parameters.
const ExitBadInput = 2

// RequestPayload is written as JSON to an instrument's stdin.
type RequestPayload struct {
	Params map[string]string `json:"params"`
}

// ModuleCache compiles WASM instruments once and instantiates them per run.
type ModuleCache struct {
	cache map[string]wazero.CompiledModule
	mu    sync.RWMutex
	rt    wazero.Runtime
}

// NewModuleCache creates a runtime with WASI available to every instrument.
func NewModuleCache(ctx context.Context) *ModuleCache {
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	wasi_snapshot_preview1.MustInstantiate(ctx, rt)

	return &ModuleCache{
		cache: make(map[string]wazero.CompiledModule),
		rt:    rt,
	}
}

// GetCompiledModule returns a cached compiled module or loads it if not present.
func (mc *ModuleCache) GetCompiledModule(ctx context.Context, wasmFile string) (wazero.CompiledModule, error) {
	mc.mu.RLock()
	compiledModule, found := mc.cache[wasmFile]
	mc.mu.RUnlock()
	if found {
		return compiledModule, nil
	}

	wasmBytes, err := os.ReadFile(wasmFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read WASM file: %w", err)
	}
	compiledModule, err = mc.rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to compile module %s: %w", wasmFile, err)
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	if existing, found := mc.cache[wasmFile]; found {
		// Lost a race with another request compiling the same file.
		compiledModule.Close(ctx)
		return existing, nil
	}
	mc.cache[wasmFile] = compiledModule
	return compiledModule, nil
}

// Invalidate drops a compiled module so the next run recompiles it from disk.
func (mc *ModuleCache) Invalidate(ctx context.Context, wasmFile string) bool {
	mc.mu.Lock()
	compiledModule, found := mc.cache[wasmFile]
	delete(mc.cache, wasmFile)
	mc.mu.Unlock()

	if found {
		compiledModule.Close(ctx)
	}
	return found
}

// Cached reports whether wasmFile has a compiled module in the cache.
func (mc *ModuleCache) Cached(wasmFile string) bool {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	_, found := mc.cache[wasmFile]
	return found
}

// Run instantiates the route's instrument, feeds it payload on stdin and
// copies its stdout to output.
func (mc *ModuleCache) Run(ctx context.Context, route Route, payload RequestPayload, output io.Writer) error {
	compiledModule, err := mc.GetCompiledModule(ctx, route.WasmFile)
	if err != nil {
		return err
	}

	input, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	stderr := &bytes.Buffer{}
	moduleConfig := wazero.NewModuleConfig().
		WithName("").
		WithArgs(filepath.Base(route.WasmFile)).
		WithStdin(bytes.NewReader(input)).
		WithStdout(output).
		WithStderr(stderr)

	if route.Filesystem.Mount != "" && route.Filesystem.Path != "" {
		fsConfig := wazero.NewFSConfig().WithDirMount(route.Filesystem.Path, route.Filesystem.Mount)
		moduleConfig = moduleConfig.WithFSConfig(fsConfig)
	}

	// Instantiation runs _start. A clean proc_exit(0) yields a nil module.
	mod, err := mc.rt.InstantiateModule(ctx, compiledModule, moduleConfig)
	if err != nil {
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.ExitCode() == 0 {
				return nil
			}
			if ctx.Err() != nil {
				return fmt.Errorf("instrument %s: %w", route.WasmFile, ctx.Err())
			}
			msg := strings.TrimSpace(stderr.String())
			if exitErr.ExitCode() == ExitBadInput {
				return fmt.Errorf("%w: %w: %s", ErrInstrumentFailed, ErrBadInput, msg)
			}
			return fmt.Errorf("%w: %s exited with code %d: %s", ErrInstrumentFailed, route.WasmFile, exitErr.ExitCode(), msg)
		}
		return fmt.Errorf("failed to instantiate module: %w", err)
	}
	if mod != nil {
		return mod.Close(ctx)
	}
	return nil
}

// Close releases all cached compiled modules and the runtime.
func (mc *ModuleCache) Close(ctx context.Context) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for wasmFile, compiledModule := range mc.cache {
		compiledModule.Close(ctx)
		delete(mc.cache, wasmFile)
	}
	return mc.rt.Close(ctx)
}
