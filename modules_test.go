package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// Hand-assembled WASI modules, so the tests need no wasm toolchain.
const (
	// _start returns immediately.
	wasmEmpty = "\x00\x61\x73\x6d\x01\x00\x00\x00\x01\x04\x01\x60\x00\x00\x03\x02\x01\x00\x07\x0a\x01\x06\x5f\x73\x74\x61\x72\x74\x00\x00\x0a\x04\x01\x02\x00\x0b"

	// _start writes "hello\n" to fd 1 through fd_write.
	wasmHello = "\x00\x61\x73\x6d\x01\x00\x00\x00\x01\x0c\x02\x60\x04\x7f\x7f\x7f\x7f\x01\x7f\x60\x00\x00\x02\x23\x01\x16\x77\x61\x73\x69\x5f\x73\x6e\x61\x70\x73\x68\x6f\x74\x5f\x70\x72\x65\x76\x69\x65\x77\x31\x08\x66\x64\x5f\x77\x72\x69\x74\x65\x00\x00\x03\x02\x01\x01\x05\x03\x01\x00\x01\x07\x13\x02\x06\x5f\x73\x74\x61\x72\x74\x00\x01\x06\x6d\x65\x6d\x6f\x72\x79\x02\x00\x0a\x0f\x01\x0d\x00\x41\x01\x41\x00\x41\x01\x41\x08\x10\x00\x1a\x0b\x0b\x1c\x01\x00\x41\x00\x0b\x16\x10\x00\x00\x00\x06\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x68\x65\x6c\x6c\x6f\x0a"

	// _start calls proc_exit(3).
	wasmExit3 = "\x00\x61\x73\x6d\x01\x00\x00\x00\x01\x08\x02\x60\x01\x7f\x00\x60\x00\x00\x02\x24\x01\x16\x77\x61\x73\x69\x5f\x73\x6e\x61\x70\x73\x68\x6f\x74\x5f\x70\x72\x65\x76\x69\x65\x77\x31\x09\x70\x72\x6f\x63\x5f\x65\x78\x69\x74\x00\x00\x03\x02\x01\x01\x07\x0a\x01\x06\x5f\x73\x74\x61\x72\x74\x00\x01\x0a\x08\x01\x06\x00\x41\x03\x10\x00\x0b"

	// _start calls proc_exit(2).
	wasmExit2 = "\x00\x61\x73\x6d\x01\x00\x00\x00\x01\x08\x02\x60\x01\x7f\x00\x60\x00\x00\x02\x24\x01\x16\x77\x61\x73\x69\x5f\x73\x6e\x61\x70\x73\x68\x6f\x74\x5f\x70\x72\x65\x76\x69\x65\x77\x31\x09\x70\x72\x6f\x63\x5f\x65\x78\x69\x74\x00\x00\x03\x02\x01\x01\x07\x0a\x01\x06\x5f\x73\x74\x61\x72\x74\x00\x01\x0a\x08\x01\x06\x00\x41\x02\x10\x00\x0b"
)

func writeWasm(t *testing.T, dir, name, module string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(module), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func newTestModuleCache(t *testing.T) *ModuleCache {
	t.Helper()
	ctx := context.Background()
	mc := NewModuleCache(ctx)
	t.Cleanup(func() { mc.Close(ctx) })
	return mc
}

func TestModuleCacheRun(t *testing.T) {
	dir := t.TempDir()
	mc := newTestModuleCache(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		module string
		want   string
	}{
		{"empty", wasmEmpty, ""},
		{"hello", wasmHello, "hello\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route := Route{Path: "/" + tt.name, WasmFile: writeWasm(t, dir, tt.name+".wasm", tt.module)}
			output := &bytes.Buffer{}
			if err := mc.Run(ctx, route, RequestPayload{Params: map[string]string{"n": "1"}}, output); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := output.String(); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
			if !mc.Cached(route.WasmFile) {
				t.Error("module not cached after run")
			}
		})
	}
}

func TestModuleCacheRunConcurrent(t *testing.T) {
	mc := newTestModuleCache(t)
	route := Route{Path: "/hello", WasmFile: writeWasm(t, t.TempDir(), "hello.wasm", wasmHello)}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			output := &bytes.Buffer{}
			if err := mc.Run(context.Background(), route, RequestPayload{}, output); err != nil {
				errs <- err
				return
			}
			if output.String() != "hello\n" {
				errs <- errors.New("unexpected output " + output.String())
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestModuleCacheRunErrors(t *testing.T) {
	dir := t.TempDir()
	mc := newTestModuleCache(t)
	ctx := context.Background()

	err := mc.Run(ctx, Route{WasmFile: writeWasm(t, dir, "exit.wasm", wasmExit3)}, RequestPayload{}, &bytes.Buffer{})
	if !errors.Is(err, ErrInstrumentFailed) {
		t.Fatalf("exit 3: error = %v, want ErrInstrumentFailed", err)
	}
	if errors.Is(err, ErrBadInput) {
		t.Errorf("exit 3: error %v reported as bad input", err)
	}
	if !strings.Contains(err.Error(), "code 3") {
		t.Errorf("exit 3: error %q does not mention the exit code", err)
	}

	err = mc.Run(ctx, Route{WasmFile: writeWasm(t, dir, "badinput.wasm", wasmExit2)}, RequestPayload{}, &bytes.Buffer{})
	if !errors.Is(err, ErrInstrumentFailed) || !errors.Is(err, ErrBadInput) {
		t.Errorf("exit 2: error = %v, want ErrInstrumentFailed and ErrBadInput", err)
	}

	err = mc.Run(ctx, Route{WasmFile: filepath.Join(dir, "missing.wasm")}, RequestPayload{}, &bytes.Buffer{})
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: error = %v", err)
	}

	broken := writeWasm(t, dir, "broken.wasm", "not a wasm module")
	if err := mc.Run(ctx, Route{WasmFile: broken}, RequestPayload{}, &bytes.Buffer{}); err == nil {
		t.Error("broken module: expected an error")
	}
	if mc.Cached(broken) {
		t.Error("broken module was cached")
	}
}

func TestModuleCacheInvalidate(t *testing.T) {
	dir := t.TempDir()
	mc := newTestModuleCache(t)
	ctx := context.Background()
	path := writeWasm(t, dir, "mod.wasm", wasmEmpty)

	first, err := mc.GetCompiledModule(ctx, path)
	if err != nil {
		t.Fatalf("GetCompiledModule: %v", err)
	}
	again, err := mc.GetCompiledModule(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if first != again {
		t.Error("second lookup recompiled the module")
	}

	if !mc.Invalidate(ctx, path) {
		t.Error("Invalidate reported nothing cached")
	}
	if mc.Invalidate(ctx, path) {
		t.Error("second Invalidate reported a cached module")
	}

	writeWasm(t, dir, "mod.wasm", wasmHello)
	output := &bytes.Buffer{}
	if err := mc.Run(ctx, Route{WasmFile: path}, RequestPayload{}, output); err != nil {
		t.Fatal(err)
	}
	if output.String() != "hello\n" {
		t.Errorf("output after invalidate = %q, want the rewritten module's", output.String())
	}
}
