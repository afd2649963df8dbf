package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/freeagent/internal/observability"
	"github.com/harun/freeagent/internal/tracing"
)

var (
	// ErrLaneCleared rejects tasks that were still queued when the lane was cleared.
	ErrLaneCleared = errors.New("lane cleared")
	// ErrLaneReset rejects queued tasks of a lane that was reset.
	ErrLaneReset = errors.New("lane reset")
	// ErrLaneFull is returned when a lane already holds MaxPending queued tasks.
	ErrLaneFull = errors.New("lane full")
	// ErrQueueClosed is returned by Enqueue after Close.
	ErrQueueClosed = errors.New("command queue closed")
)

// Task represents an asynchronous operation to be executed
type Task func(ctx context.Context) (interface{}, error)

// TaskOptions provides configuration for task execution
type TaskOptions struct {
	// WarnAfter fires OnWait once if the task is still queued after this long.
	WarnAfter time.Duration
	OnWait    func(wait time.Duration, queuePos int)
}

// Options configures a CommandQueue.
type Options struct {
	// MaxPending caps queued (not running) tasks per lane. Zero means unbounded.
	MaxPending int
}

// LaneStats is a snapshot of one lane.
type LaneStats struct {
	Queued  int  `json:"queued"`
	Running bool `json:"running"`
}

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	options    TaskOptions
	result     chan taskResult
	done       chan struct{} // closed once the caller has the result
}

type taskResult struct {
	value interface{}
	err   error
}

// laneState holds one session's pending work. A lane runs one task at a time.
type laneState struct {
	queue   []*taskRecord
	running *taskRecord
	cancel  context.CancelFunc
}

// CommandQueue serializes tasks per lane (one lane per chat session) while
// running different lanes concurrently. Idle lanes are dropped.
type CommandQueue struct {
	mu         sync.Mutex
	lanes      map[string]*laneState
	taskIDSeq  int
	maxPending int
	closed     bool
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

// New creates a new CommandQueue
func New(opts Options) *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())

	return &CommandQueue{
		lanes:      make(map[string]*laneState),
		maxPending: opts.MaxPending,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Enqueue adds a task to the specified lane
func (cq *CommandQueue) Enqueue(lane string, task Task, options *TaskOptions) (interface{}, error) {
	return cq.EnqueueWithContext(context.Background(), lane, task, options)
}

// EnqueueWithContext adds a task to the lane and blocks until it finished or
// was rejected. A task whose context is done before it starts is skipped.
func (cq *CommandQueue) EnqueueWithContext(ctx context.Context, lane string, task Task, options *TaskOptions) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"freeagent.commandqueue",
		"commandqueue.enqueue",
		attribute.String("lane", lane),
	)
	defer span.End()

	if tracing.GetSessionKey(ctx) == "" {
		ctx = tracing.WithSessionKey(ctx, lane)
	}
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}

	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil, ErrQueueClosed
	}

	ls, exists := cq.lanes[lane]
	if !exists {
		ls = &laneState{}
		cq.lanes[lane] = ls
	}
	if cq.maxPending > 0 && len(ls.queue) >= cq.maxPending {
		cq.mu.Unlock()
		span.SetStatus(codes.Error, ErrLaneFull.Error())
		return nil, fmt.Errorf("failed to enqueue in %s: %w", lane, ErrLaneFull)
	}

	cq.taskIDSeq++
	record := &taskRecord{
		id:         fmt.Sprintf("%s-%d", lane, cq.taskIDSeq),
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		options:    opts,
		result:     make(chan taskResult, 1),
		done:       make(chan struct{}),
	}
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	cq.startNextLocked(lane, ls)
	if ls.running == nil && len(ls.queue) == 0 {
		delete(cq.lanes, lane)
	}
	cq.mu.Unlock()

	logger.Debug().
		Str("lane", lane).
		Str("taskId", record.id).
		Int("queueSize", queueSize).
		Msg("Task enqueued")

	observability.RecordQueueEnqueue(lane, queueSize)

	if opts.WarnAfter > 0 && opts.OnWait != nil {
		go cq.startWarnTimer(record, lane)
	}

	result := <-record.result
	close(record.done)
	if result.err != nil {
		span.RecordError(result.err)
		span.SetStatus(codes.Error, result.err.Error())
	}
	return result.value, result.err
}

// startNextLocked starts the head of the lane if nothing runs. cq.mu must be held.
func (cq *CommandQueue) startNextLocked(lane string, ls *laneState) {
	for ls.running == nil && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]

		if err := record.ctx.Err(); err != nil {
			record.result <- taskResult{err: err}
			continue
		}

		runCtx, cancel := context.WithCancel(record.ctx)
		stop := context.AfterFunc(cq.ctx, cancel)

		ls.running = record
		ls.cancel = func() {
			stop()
			cancel()
		}

		cq.wg.Add(1)
		go cq.executeTask(lane, ls, record, runCtx)
	}
}

// executeTask executes a single task
func (cq *CommandQueue) executeTask(lane string, ls *laneState, record *taskRecord, runCtx context.Context) {
	defer cq.wg.Done()

	runCtx, span := tracing.StartSpan(
		runCtx,
		"freeagent.commandqueue",
		"commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(runCtx, log.Logger)

	logger.Debug().Str("lane", lane).Str("taskId", record.id).Msg("Task started")

	startTime := time.Now()
	value, err := cq.run(record.task, runCtx)
	duration := time.Since(startTime)

	cq.mu.Lock()
	if ls.cancel != nil {
		ls.cancel()
	}
	ls.running = nil
	ls.cancel = nil
	queueSize := len(ls.queue)
	cq.startNextLocked(lane, ls)
	if ls.running == nil && len(ls.queue) == 0 && cq.lanes[lane] == ls {
		delete(cq.lanes, lane)
	}
	cq.mu.Unlock()

	record.result <- taskResult{value: value, err: err}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}

	observability.RecordQueueCompletion(lane, duration, err == nil, queueSize)
}

func (cq *CommandQueue) run(task Task, ctx context.Context) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// startWarnTimer starts a timer to warn about long wait times
func (cq *CommandQueue) startWarnTimer(record *taskRecord, lane string) {
	timer := time.NewTimer(record.options.WarnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
		queuePos := -1
		cq.mu.Lock()
		if ls, ok := cq.lanes[lane]; ok {
			for i, r := range ls.queue {
				if r.id == record.id {
					queuePos = i
					break
				}
			}
		}
		cq.mu.Unlock()

		if queuePos >= 0 {
			wait := time.Since(record.enqueuedAt)
			log.Warn().
				Str("lane", lane).
				Str("taskId", record.id).
				Dur("wait", wait).
				Int("queuePos", queuePos).
				Msg("Task waiting longer than expected")
			record.options.OnWait(wait, queuePos)
		}
	case <-record.done:
	case <-cq.ctx.Done():
	}
}

// GetQueueSize returns the number of queued tasks for a lane
func (cq *CommandQueue) GetQueueSize(lane string) int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if ls, ok := cq.lanes[lane]; ok {
		return len(ls.queue)
	}
	return 0
}

// IsRunning reports whether a task of the lane is executing.
func (cq *CommandQueue) IsRunning(lane string) bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, ok := cq.lanes[lane]
	return ok && ls.running != nil
}

// GetStats returns statistics for all active lanes
func (cq *CommandQueue) GetStats() map[string]LaneStats {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	stats := make(map[string]LaneStats, len(cq.lanes))
	for lane, ls := range cq.lanes {
		stats[lane] = LaneStats{Queued: len(ls.queue), Running: ls.running != nil}
	}
	return stats
}

// rejectQueuedLocked fails all queued tasks of a lane with err. cq.mu must be held.
func rejectQueuedLocked(ls *laneState, err error) int {
	count := len(ls.queue)
	for _, record := range ls.queue {
		record.result <- taskResult{err: err}
	}
	ls.queue = nil
	return count
}

// ClearLane removes all queued tasks from a lane. The running task is left alone.
func (cq *CommandQueue) ClearLane(lane string) int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, ok := cq.lanes[lane]
	if !ok {
		return 0
	}
	count := rejectQueuedLocked(ls, ErrLaneCleared)

	log.Info().Str("lane", lane).Int("cleared", count).Msg("Lane cleared")
	observability.SetQueueSize(lane, 0)
	return count
}

// ResetLane rejects queued tasks and cancels the running task's context.
// It reports whether a task was running.
func (cq *CommandQueue) ResetLane(lane string) bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, ok := cq.lanes[lane]
	if !ok {
		return false
	}
	count := rejectQueuedLocked(ls, ErrLaneReset)
	wasRunning := ls.running != nil
	if ls.cancel != nil {
		ls.cancel()
	}

	log.Info().Str("lane", lane).Int("rejected", count).Bool("cancelled_running", wasRunning).Msg("Lane reset")
	observability.SetQueueSize(lane, 0)
	return wasRunning
}

// WaitForActive waits for all active tasks to complete with timeout
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		cq.mu.Lock()
		drained := len(cq.lanes) == 0
		cq.mu.Unlock()

		if drained {
			log.Info().Msg("All active tasks completed")
			return true
		}

		if time.Now().After(deadline) {
			log.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}

		<-ticker.C
	}
}

// Close cancels running tasks, rejects queued ones and waits for workers.
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	cq.closed = true
	for _, ls := range cq.lanes {
		rejectQueuedLocked(ls, ErrQueueClosed)
	}
	cq.mu.Unlock()

	cq.cancel()
	cq.wg.Wait()
	return nil
}
