package runner

import "log/slog"

// Logger is the minimal logging surface the runner needs. Adapt the
// application logger with NewSlogLogger.
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	Debug(msg string, keysAndValues ...any)
}

type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps a slog.Logger as a runner Logger.
func NewSlogLogger(l *slog.Logger) Logger {
	return slogLogger{l: l}
}

func (s slogLogger) Info(msg string, keysAndValues ...any)  { s.l.Info(msg, keysAndValues...) }
func (s slogLogger) Error(msg string, keysAndValues ...any) { s.l.Error(msg, keysAndValues...) }
func (s slogLogger) Debug(msg string, keysAndValues ...any) { s.l.Debug(msg, keysAndValues...) }

type noopLogger struct{}

// NewNoopLogger returns a logger that discards everything.
func NewNoopLogger() Logger {
	return noopLogger{}
}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Debug(string, ...any) {}
