package authkit

import "github.com/oarkflow/authkit/logger"

// Logger is re-exported so callers configuring the engine do not need to
// import the logger package directly.
type Logger = logger.Logger

// WithLogger installs a Logger on the Engine via EngineOption
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		e.logger = l
		return nil
	}
}

// WithTraceIDFunc installs a custom trace ID generator on the engine.
func WithTraceIDFunc(f logger.TraceIDFunc) EngineOption {
	return func(e *Engine) error {
		e.traceIDFunc = f
		return nil
	}
}
