// Command fibonacci reads an index from standard input and prints the
// matching term of the Fibonacci sequence.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"simonwaldherr.de/go/fibo/fibonacci"
)

func main() {
	if err := run(os.Stdin, os.Stdout); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(in io.Reader, out io.Writer) error {
	if _, err := io.WriteString(out, fibonacci.Prompt); err != nil {
		return err
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to read input: %w", err)
	}

	n, err := fibonacci.ParseIndex(line)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, fibonacci.Describe(n, fibonacci.Fibonacci(n)))
	return err
}
