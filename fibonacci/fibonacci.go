// Package fibonacci computes terms of the Fibonacci sequence and formats
// them the way the fibonacci command and instrument print them.
package fibonacci

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxIndex is the largest n for which Fibonacci(n) fits in a uint64.
const MaxIndex = 93

// Prompt is shown before reading n from a terminal.
const Prompt = "Ingrese un número: "

var (
	// ErrInvalidIndex is returned by ParseIndex when the input is not an integer.
	ErrInvalidIndex = errors.New("invalid index")
	// ErrIndexOutOfRange is returned by CheckRange for n past MaxIndex.
	ErrIndexOutOfRange = errors.New("index out of range")
)

// Fibonacci returns the n-th Fibonacci number, with Fibonacci(0) = 0 and
// Fibonacci(1) = 1. A negative n returns 0. Results past MaxIndex wrap.
func Fibonacci(n int) uint64 {
	var prev, curr uint64 = 0, 1
	for i := 0; i < n; i++ {
		prev, curr = curr, prev+curr
	}
	return prev
}

// Describe formats the result line for the n-th term.
func Describe(n int, result uint64) string {
	return fmt.Sprintf("El número %d en la secuencia de Fibonacci es: %d", n, result)
}

// ParseIndex parses a base-10 integer, ignoring surrounding whitespace.
func ParseIndex(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidIndex, err)
	}
	return n, nil
}

// CheckRange reports whether Fibonacci(n) is exact. Negative n is accepted.
func CheckRange(n int) error {
	if n > MaxIndex {
		return fmt.Errorf("%w: %d exceeds %d", ErrIndexOutOfRange, n, MaxIndex)
	}
	return nil
}
