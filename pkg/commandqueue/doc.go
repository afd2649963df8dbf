// Package commandqueue serializes work per chat session.
//
// Each session gets a lane; a lane runs one task at a time in FIFO order
// while different lanes run concurrently. Lanes exist only while they hold
// work.
//
// Invariants:
// - Tasks in the same lane never overlap.
// - ResetLane rejects queued tasks and cancels the running one's context.
// - Queue activity is observable through metrics and spans.
//
// Usage:
//
//	queue := commandqueue.New(commandqueue.Options{MaxPending: 5})
//	defer queue.Close()
//	result, err := queue.EnqueueWithContext(ctx, "tg-42", func(ctx context.Context) (interface{}, error) {
//		return runner.Run(ctx, params)
//	}, nil)
package commandqueue
