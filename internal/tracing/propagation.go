package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext adds the tracing fields found in ctx to baseLogger.
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	logCtx := baseLogger.With()

	if tc.TraceID != "" {
		logCtx = logCtx.Str("trace_id", tc.TraceID)
	}
	if tc.RunID != "" {
		logCtx = logCtx.Str("run_id", tc.RunID)
	}
	if tc.SessionKey != "" {
		logCtx = logCtx.Str("session_key", tc.SessionKey)
	}
	if tc.ChatID != "" {
		logCtx = logCtx.Str("chat_id", tc.ChatID)
	}

	return logCtx.Logger()
}

// Detach returns a background context carrying the tracing values of ctx.
// Work that must outlive ctx (progress delivery, history writes) uses it.
func Detach(ctx context.Context) context.Context {
	return NewContext(context.Background(), FromContext(ctx))
}
