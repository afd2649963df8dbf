// Package agent drives one user turn through the model and the tool registry.
//
// A run alternates between asking the provider pool for a response and
// executing the tool calls it contains, until the model answers in plain
// text or the turn limit is reached.
//
// Invariants:
// - Every tool message answers a call of the assistant message right before it,
//   in the order the calls were issued.
// - No more than MaxTurns provider calls are made per run.
// - Tool failures are fed back to the model; only pool exhaustion aborts a run.
// - Cancellation is observed between turns. An in-flight call completes and
//   its result is discarded.
// - Progress callbacks never block the loop.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{
//		Pool:     pool,
//		Tools:    registry,
//		History:  sessions,
//		Prompt:   agent.NewPromptBuilder(base, lib.Content, st),
//		MaxTurns: 10,
//	})
//	result, err := runner.Run(ctx, agent.RunParams{SessionKey: "tg-42", Prompt: "hi"})
package agent
