// Package check runs an external contract checker over stored bytecode.
//
// The checker itself is opaque: it receives one contract's bytecode and
// address and answers with a set of named boolean flags (for example
// "suicidal", "prodigal", "greedy") plus optional timing side-data. This
// package only drives it and tallies the answers.
package check

import (
	"context"
	"time"
)

// Checker inspects one contract. Implementations may be slow and are called
// synchronously, one contract at a time.
type Checker interface {
	Check(ctx context.Context, bytecode []byte, address string) (Report, error)
}

// Report is a checker's verdict on one contract.
type Report struct {
	Flags   map[string]bool
	Timings map[string]time.Duration
}

// Flagged returns the names of the flags that are set.
func (r Report) Flagged() []string {
	var names []string
	for name, set := range r.Flags {
		if set {
			names = append(names, name)
		}
	}
	return names
}

// Func adapts a function to a Checker.
type Func func(ctx context.Context, bytecode []byte, address string) (Report, error)

func (f Func) Check(ctx context.Context, bytecode []byte, address string) (Report, error) {
	return f(ctx, bytecode, address)
}
