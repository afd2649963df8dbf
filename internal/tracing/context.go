package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for the agent run ID
	RunIDKey ContextKey = "run_id"
	// SessionKeyKey is the context key for session key
	SessionKeyKey ContextKey = "session_key"
	// ChatIDKey is the context key for the transport chat ID
	ChatIDKey ContextKey = "chat_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID    string
	RunID      string
	SessionKey string
	ChatID     string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

func WithSessionKey(ctx context.Context, sessionKey string) context.Context {
	return context.WithValue(ctx, SessionKeyKey, sessionKey)
}

func WithChatID(ctx context.Context, chatID string) context.Context {
	return context.WithValue(ctx, ChatIDKey, chatID)
}

func value(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string { return value(ctx, TraceIDKey) }

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string { return value(ctx, RunIDKey) }

// GetSessionKey retrieves the session key from the context
func GetSessionKey(ctx context.Context) string { return value(ctx, SessionKeyKey) }

// GetChatID retrieves the chat ID from the context
func GetChatID(ctx context.Context) string { return value(ctx, ChatIDKey) }

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:    GetTraceID(ctx),
		RunID:      GetRunID(ctx),
		SessionKey: GetSessionKey(ctx),
		ChatID:     GetChatID(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.RunID != "" {
		ctx = WithRunID(ctx, tc.RunID)
	}
	if tc.SessionKey != "" {
		ctx = WithSessionKey(ctx, tc.SessionKey)
	}
	if tc.ChatID != "" {
		ctx = WithChatID(ctx, tc.ChatID)
	}
	return ctx
}

// NewRequestContext creates a context for one incoming chat message with a
// fresh trace ID.
func NewRequestContext(ctx context.Context, sessionKey, chatID string) context.Context {
	ctx = WithTraceID(ctx, NewTraceID())
	ctx = WithSessionKey(ctx, sessionKey)
	if chatID != "" {
		ctx = WithChatID(ctx, chatID)
	}
	return ctx
}

// NewAgentRunContext creates a context for an agent run with a new run ID
func NewAgentRunContext(ctx context.Context) context.Context {
	return WithRunID(ctx, NewRunID())
}
