package auth

import (
	"fmt"
	"log/slog"
	"strings"
)

// SlogLogger adapts a *slog.Logger to the Logger interface.
// Calls with printf verbs are formatted, everything else is passed
// through as slog attributes.
type SlogLogger struct {
	l *slog.Logger
}

func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{l: l}
}

func (s *SlogLogger) Debug(format string, args ...any) {
	msg, attrs := splitArgs(format, args)
	s.l.Debug(msg, attrs...)
}

func (s *SlogLogger) Info(format string, args ...any) {
	msg, attrs := splitArgs(format, args)
	s.l.Info(msg, attrs...)
}

func (s *SlogLogger) Warn(format string, args ...any) {
	msg, attrs := splitArgs(format, args)
	s.l.Warn(msg, attrs...)
}

func (s *SlogLogger) Error(format string, args ...any) {
	msg, attrs := splitArgs(format, args)
	s.l.Error(msg, attrs...)
}

// With returns a logger that always includes the given attributes.
func (s *SlogLogger) With(args ...any) *SlogLogger {
	return &SlogLogger{l: s.l.With(args...)}
}

func splitArgs(format string, args []any) (string, []any) {
	if len(args) > 0 && strings.Contains(format, "%") {
		return fmt.Sprintf(format, args...), nil
	}
	return format, args
}
