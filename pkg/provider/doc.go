// Package provider talks to the LLM backends.
//
// An Adapter translates the normalized conversation (Message, ToolCall,
// ToolSchema) into one backend's wire protocol and classifies every failure
// into one of four kinds: RateLimited, AuthInvalid, Transient or Malformed.
// Four adapters are shipped: claude (Anthropic Messages API), gemini
// (generateContent), groq and mistral (OpenAI-compatible chat completions).
//
// The Pool owns the configured providers and their API keys. Dispatch tries
// the preferred provider first and the rest in priority order, rotating keys
// round-robin with a process-wide cursor per provider.
//
// Invariants:
//   - A provider with zero keys is never part of the pool.
//   - Every key of a provider is attempted before falling back to the next one.
//   - The cursor lock only guards the cursor; no network call runs under it.
//   - The same status and body always classify to the same Kind.
//
// Usage:
//
//	pool, err := provider.NewPool(entries, provider.DefaultPoolOptions())
//	resp, err := pool.Dispatch(ctx, conversation, schemas, "groq")
//	if errors.Is(err, provider.ErrPoolExhausted) {
//		// every key of every provider failed
//	}
package provider
