// Package session persists conversation history as one JSONL file per session.
//
// Only user prompts and final assistant answers are stored; intermediate
// tool traffic of a run stays in memory. Load always returns a history that
// starts with a user message, so a truncated window never opens mid-exchange.
//
// Invariants:
// - Session keys are validated and path-safe.
// - Writes for the same session are serialized.
// - Append/load/delete operations are observable via tracing and metrics.
//
// Usage:
//
//	mgr, _ := session.New("/var/lib/freeagent/sessions")
//	_ = mgr.Append(ctx, "tg-42", provider.Message{Role: provider.RoleUser, Content: "hello"})
//	history, _ := mgr.Load(ctx, "tg-42", 20)
package session
