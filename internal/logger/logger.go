// Package logger writes prefixed diagnostic lines for fhirsync.
// Info, warning and error lines are always written. Debug lines and
// section headers only appear when verbose mode is enabled.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Logger writes to a single output. The zero value is not usable; use New.
type Logger struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
}

// New returns a Logger writing to w. A nil w means os.Stderr.
func New(w io.Writer, verbose bool) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{out: w, verbose: verbose}
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return New(io.Discard, false)
}

// IsVerbose returns true if debug output is enabled.
func (l *Logger) IsVerbose() bool {
	return l.verbose
}

// Debug prints a message if verbose mode is enabled.
func (l *Logger) Debug(format string, args ...any) {
	if l.verbose {
		l.printf("[DEBUG] ", format, args...)
	}
}

// Section prints a section header if verbose mode is enabled.
func (l *Logger) Section(name string) {
	if !l.verbose {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "\n=== %s ===\n", name)
}

// Info prints an [INFO] line.
func (l *Logger) Info(format string, args ...any) {
	l.printf("[INFO] ", format, args...)
}

// Warn prints a [WARN] line.
func (l *Logger) Warn(format string, args ...any) {
	l.printf("[WARN] ", format, args...)
}

// Error prints an [ERROR] line.
func (l *Logger) Error(format string, args ...any) {
	l.printf("[ERROR] ", format, args...)
}

func (l *Logger) printf(prefix, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, prefix+format+"\n", args...)
}
