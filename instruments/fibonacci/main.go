// Command fibonacci is a WASI instrument. It reads a JSON payload from
// stdin and prints the Fibonacci term for params.n.
//
//	GOOS=wasip1 GOARCH=wasm go build -o fibonacci.wasm ./instruments/fibonacci
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"simonwaldherr.de/go/fibo/fibonacci"
)

// exitBadInput tells the host the request parameters were rejected.
const exitBadInput = 2

var errBadInput = errors.New("bad input")

type Payload struct {
	Params map[string]string `json:"params"`
}

func main() {
	if err := run(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errBadInput) {
			os.Exit(exitBadInput)
		}
		os.Exit(1)
	}
}

func run(in io.Reader, out io.Writer) error {
	var payload Payload
	if err := json.NewDecoder(in).Decode(&payload); err != nil {
		return fmt.Errorf("error decoding payload: %w", err)
	}

	raw, ok := payload.Params["n"]
	if !ok {
		return fmt.Errorf("%w: missing parameter 'n', usage: /fibonacci?n=10", errBadInput)
	}
	n, err := fibonacci.ParseIndex(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", errBadInput, err)
	}
	if err := fibonacci.CheckRange(n); err != nil {
		return fmt.Errorf("%w: %w", errBadInput, err)
	}

	_, err = fmt.Fprintln(out, fibonacci.Describe(n, fibonacci.Fibonacci(n)))
	return err
}
