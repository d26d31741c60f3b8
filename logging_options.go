package permit

import "github.com/oarkflow/permit/logger"

// Logger is re-exported so callers need not import the logger package for
// the common case.
type Logger = logger.Logger

// WithLogger installs a Logger on the Engine. A nil logger discards output.
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		if l == nil {
			l = logger.NewNullLogger()
		}
		e.logger = l
		return nil
	}
}

// WithTraceIDFunc installs a custom trace ID generator on the engine.
func WithTraceIDFunc(f logger.TraceIDFunc) EngineOption {
	return func(e *Engine) error {
		if f != nil {
			e.traceIDFunc = f
		}
		return nil
	}
}
