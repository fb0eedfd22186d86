// Package pty runs a single child process attached to a pseudo-terminal and
// turns its I/O into output and exit callbacks.
package pty

import (
	"unicode/utf8"

	"github.com/0MATRIX0/agent-connect/internal/model"
)

const (
	// DefaultCols and DefaultRows are the initial terminal size.
	DefaultCols = 120
	DefaultRows = 30

	// DefaultReadBufferSize is the buffer size for reading pty output.
	DefaultReadBufferSize = 4096

	// Term is exported to every child as TERM.
	Term = "xterm-256color"
)

// StartOptions contains options for starting a pty process.
type StartOptions struct {
	// Command is the executable to run, resolved through PATH.
	Command string

	// Args are the arguments to pass to the command.
	Args []string

	// Dir is the working directory. It must be an existing directory.
	Dir string

	// Env is appended to the current process environment.
	Env []string

	Cols int
	Rows int
}

// Callbacks receive the process events.
//
// OnOutput is called from the read loop for every chunk, in order. It must
// not block for long, since the child stalls once the pty buffer fills.
// OnExit is called exactly once, after the last OnOutput.
type Callbacks struct {
	OnOutput func(data []byte)
	OnExit   func(status model.ExitStatus)
}

// ParseCommand splits a command line into command and arguments.
// This handles basic quoting (single and double quotes).
func ParseCommand(cmd string) []string {
	var parts []string
	var current []rune
	inQuote := false
	quoteChar := rune(0)
	started := false

	for _, r := range cmd {
		switch {
		case r == '"' || r == '\'':
			started = true
			if inQuote {
				if r == quoteChar {
					inQuote = false
					quoteChar = 0
				} else {
					current = append(current, r)
				}
			} else {
				inQuote = true
				quoteChar = r
			}
		case r == ' ' || r == '\t':
			if inQuote {
				current = append(current, r)
			} else if started {
				parts = append(parts, string(current))
				current = nil
				started = false
			}
		default:
			started = true
			current = append(current, r)
		}
	}

	if started {
		parts = append(parts, string(current))
	}

	return parts
}

// splitIncompleteUTF8 separates a trailing partial UTF-8 sequence from b so
// it can be prepended to the next read. Invalid bytes are passed through.
func splitIncompleteUTF8(b []byte) (complete, rest []byte) {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return b, nil
		}
		return b[:i], b[i:]
	}
	return b, nil
}
