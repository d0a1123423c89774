package main

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// stdTerminal adapts golang.org/x/term's raw-mode functions to
// presenter.RawTerminal, for the one real tty the process ever puts into
// raw mode: the operator's controlling terminal on stdin.
type stdTerminal struct {
	fd int
}

func newStdTerminal() *stdTerminal {
	return &stdTerminal{fd: int(os.Stdin.Fd())}
}

// Enter puts stdin into raw mode, or returns an error when stdin isn't a
// terminal (e.g. the process is run under a non-interactive supervisor).
func (t *stdTerminal) Enter() (func(), error) {
	if !term.IsTerminal(t.fd) {
		return nil, fmt.Errorf("stdin is not a terminal")
	}
	old, err := term.MakeRaw(t.fd)
	if err != nil {
		return nil, fmt.Errorf("enter raw mode: %w", err)
	}
	return func() { _ = term.Restore(t.fd, old) }, nil
}
