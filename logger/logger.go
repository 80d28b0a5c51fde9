// Package logger defines the minimal structured logging surface the engine
// emits through, with phuslu-style, slog and no-op backends.
package logger

// Logger accepts a message plus alternating key/value pairs.
type Logger interface {
	Error(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Debug(msg string, keyvals ...any)
}

// TraceIDFunc generates a correlation/trace ID string for each audit event.
// It must be cheap and safe for concurrent calls.
type TraceIDFunc func() string
