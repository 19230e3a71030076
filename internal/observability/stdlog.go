package observability

import (
	"fmt"
	"log"
	"sort"
	"strings"
)

// StdLogger adapts the standard library logger to the Logger interface.
// Daemons construct one around their process logger so library components
// share a single output stream.
type StdLogger struct {
	logger *log.Logger
	debug  bool
}

// NewStdLogger wraps the provided log.Logger. A nil logger falls back to the
// standard library default. Debug output is suppressed unless enabled.
func NewStdLogger(logger *log.Logger, debug bool) *StdLogger {
	if logger == nil {
		logger = log.Default()
	}
	return &StdLogger{logger: logger, debug: debug}
}

// Debug emits a debug-level entry when debug logging is enabled.
func (l *StdLogger) Debug(msg string, fields ...Field) {
	if l == nil || !l.debug {
		return
	}
	l.emit("DEBUG", msg, fields)
}

// Info emits an informational entry.
func (l *StdLogger) Info(msg string, fields ...Field) {
	if l == nil {
		return
	}
	l.emit("INFO", msg, fields)
}

// Error emits an error entry.
func (l *StdLogger) Error(msg string, fields ...Field) {
	if l == nil {
		return
	}
	l.emit("ERROR", msg, fields)
}

func (l *StdLogger) emit(level, msg string, fields []Field) {
	if len(fields) == 0 {
		l.logger.Printf("%s %s", level, msg)
		return
	}
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%v", key, field.Value))
	}
	sort.Strings(parts)
	l.logger.Printf("%s %s %s", level, msg, strings.Join(parts, " "))
}
