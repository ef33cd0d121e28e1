// Package progress carries status messages from the sync engine to whoever is
// watching: a log, a terminal, or a status display.
package progress

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Notifier receives progress messages. Notify must not panic and must return
// quickly; it is called once per processed record.
type Notifier interface {
	Notify(msg string)
}

// Func adapts a function to a Notifier.
type Func func(msg string)

func (f Func) Notify(msg string) { f(msg) }

// Nop discards all messages.
var Nop Notifier = Func(func(string) {})

// OrNop returns n, or Nop when n is nil.
func OrNop(n Notifier) Notifier {
	if n == nil {
		return Nop
	}
	return n
}

// Log forwards messages to slog at debug level.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(msg string) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("progress", "msg", msg)
}

// Writer prints each message on its own line. Safe for concurrent use.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter returns a Notifier that writes to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (p *Writer) Notify(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, msg)
}

// Latest keeps only the most recent message, for a status display that polls.
type Latest struct {
	mu  sync.Mutex
	msg string
}

func (l *Latest) Notify(msg string) {
	l.mu.Lock()
	l.msg = msg
	l.mu.Unlock()
}

// Message returns the last message received.
func (l *Latest) Message() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.msg
}

// Tee forwards every message to each non-nil notifier in order.
func Tee(ns ...Notifier) Notifier {
	var out []Notifier
	for _, n := range ns {
		if n != nil {
			out = append(out, n)
		}
	}
	return Func(func(msg string) {
		for _, n := range out {
			n.Notify(msg)
		}
	})
}
