// Package logging provides the small leveled logger threaded through the
// inverter by construction. There is no package-level logger: every
// component that needs to log receives one explicitly, so the core never
// depends on process-wide mutable state (see spec design note on global
// loggers).
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logger is a minimal leveled wrapper around the standard library logger.
type Logger struct {
	std     *log.Logger
	verbose bool
}

// New builds a Logger that writes to w. If w is nil, os.Stderr is used.
func New(w io.Writer, verbose bool) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{std: log.New(w, "", log.LstdFlags), verbose: verbose}
}

// Discard returns a Logger that drops everything, useful in tests.
func Discard() *Logger {
	return &Logger{std: log.New(io.Discard, "", 0)}
}

func (l *Logger) Infof(format string, args ...any) {
	if l == nil {
		return
	}
	l.std.Printf("INFO "+format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	if l == nil {
		return
	}
	l.std.Printf("WARN "+format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	if l == nil {
		return
	}
	l.std.Printf("ERROR "+format, args...)
}

// Debugf only prints when the logger was constructed with verbose=true.
func (l *Logger) Debugf(format string, args ...any) {
	if l == nil || !l.verbose {
		return
	}
	l.std.Printf("DEBUG "+format, args...)
}

// Fatalf logs and terminates the process. Reserved for configuration
// errors detected in main, never called from inside the core.
func Fatalf(l *Logger, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if l != nil {
		l.std.Printf("FATAL %s", msg)
	}
	os.Exit(1)
}
