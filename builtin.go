package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"simonwaldherr.de/go/fibo/fibonacci"
)

var (
	// ErrUnknownBuiltin is returned for routes naming a builtin that is not registered.
	ErrUnknownBuiltin = errors.New("unknown builtin")
	// ErrMissingParam is returned when a builtin is called without a required parameter.
	ErrMissingParam = errors.New("missing parameter")
	errNoRuntime    = errors.New("no WASM runtime configured")
)

// Runner executes the instrument behind a route.
type Runner interface {
	Run(ctx context.Context, route Route, payload RequestPayload, output io.Writer) error
}

// Builtin is an instrument compiled into the server.
type Builtin func(ctx context.Context, payload RequestPayload, output io.Writer) error

// Builtins maps builtin names to their implementation.
type Builtins map[string]Builtin

// DefaultBuiltins returns the builtins shipped with the server.
func DefaultBuiltins() Builtins {
	return Builtins{
		"fibonacci": fibonacciBuiltin,
	}
}

func fibonacciBuiltin(ctx context.Context, payload RequestPayload, output io.Writer) error {
	raw, ok := payload.Params["n"]
	if !ok {
		return fmt.Errorf("%w 'n', usage: /fibonacci?n=10", ErrMissingParam)
	}
	n, err := fibonacci.ParseIndex(raw)
	if err != nil {
		return err
	}
	if err := fibonacci.CheckRange(n); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err = fmt.Fprintln(output, fibonacci.Describe(n, fibonacci.Fibonacci(n)))
	return err
}

// Instruments dispatches routes to builtins or to the WASM module cache.
type Instruments struct {
	modules  *ModuleCache
	builtins Builtins
}

// NewInstruments returns a Runner. modules may be nil when only builtins are served.
func NewInstruments(modules *ModuleCache, builtins Builtins) *Instruments {
	return &Instruments{modules: modules, builtins: builtins}
}

// Run implements Runner.
func (in *Instruments) Run(ctx context.Context, route Route, payload RequestPayload, output io.Writer) error {
	if route.Builtin != "" {
		builtin, ok := in.builtins[route.Builtin]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownBuiltin, route.Builtin)
		}
		return builtin(ctx, payload, output)
	}
	if in.modules == nil {
		return errNoRuntime
	}
	return in.modules.Run(ctx, route, payload, output)
}
