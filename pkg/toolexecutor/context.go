package toolexecutor

import "context"

type execContextKey struct{}

// ContextWithExecContext attaches the execution context to a context.Context for tool handlers.
func ContextWithExecContext(ctx context.Context, execCtx *ExecutionContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if execCtx == nil {
		return ctx
	}
	return context.WithValue(ctx, execContextKey{}, execCtx)
}

// ExecContextFromContext extracts the execution context from a context.Context.
func ExecContextFromContext(ctx context.Context) *ExecutionContext {
	if ctx == nil {
		return nil
	}
	if execCtx, ok := ctx.Value(execContextKey{}).(*ExecutionContext); ok {
		return execCtx
	}
	return nil
}

// SessionKeyFromContext returns the session the running tool serves, or "".
func SessionKeyFromContext(ctx context.Context) string {
	if execCtx := ExecContextFromContext(ctx); execCtx != nil {
		return execCtx.SessionKey
	}
	return ""
}
