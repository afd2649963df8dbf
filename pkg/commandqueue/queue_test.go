package commandqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandQueue_BasicEnqueue(t *testing.T) {
	cq := New(Options{})
	defer cq.Close()

	executed := false
	task := func(ctx context.Context) (interface{}, error) {
		executed = true
		return "result", nil
	}

	result, err := cq.Enqueue("test", task, nil)

	assert.NoError(t, err)
	assert.Equal(t, "result", result)
	assert.True(t, executed)
	assert.Empty(t, cq.GetStats(), "idle lanes are dropped")
}

func TestCommandQueue_TaskError(t *testing.T) {
	cq := New(Options{})
	defer cq.Close()

	expectedErr := errors.New("task failed")
	result, err := cq.Enqueue("test", func(ctx context.Context) (interface{}, error) {
		return nil, expectedErr
	}, nil)

	assert.Equal(t, expectedErr, err)
	assert.Nil(t, result)
}

func TestCommandQueue_TaskPanic(t *testing.T) {
	cq := New(Options{})
	defer cq.Close()

	_, err := cq.Enqueue("test", func(ctx context.Context) (interface{}, error) {
		panic("boom")
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	result, err := cq.Enqueue("test", func(ctx context.Context) (interface{}, error) { return 1, nil }, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result)
}

func TestCommandQueue_SerialExecution(t *testing.T) {
	cq := New(Options{})
	defer cq.Close()

	var active, maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cq.Enqueue("serial", func(ctx context.Context) (interface{}, error) {
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil, nil
			}, nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
}

func TestCommandQueue_ConcurrentLanes(t *testing.T) {
	cq := New(Options{})
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan string, 2)

	var wg sync.WaitGroup
	for _, lane := range []string{"tg-1", "tg-2"} {
		lane := lane
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cq.Enqueue(lane, func(ctx context.Context) (interface{}, error) {
				started <- lane
				<-release
				return nil, nil
			}, nil)
		}()
	}

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("lanes did not run concurrently")
		}
	}
	close(release)
	wg.Wait()
}

func TestCommandQueue_ResetLane(t *testing.T) {
	cq := New(Options{})
	defer cq.Close()

	started := make(chan struct{})
	firstErr := make(chan error, 1)
	go func() {
		_, err := cq.Enqueue("tg-1", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}, nil)
		firstErr <- err
	}()
	<-started

	secondErr := make(chan error, 1)
	go func() {
		_, err := cq.Enqueue("tg-1", func(ctx context.Context) (interface{}, error) { return nil, nil }, nil)
		secondErr <- err
	}()
	require.Eventually(t, func() bool { return cq.GetQueueSize("tg-1") == 1 }, time.Second, 5*time.Millisecond)

	assert.True(t, cq.ResetLane("tg-1"))
	assert.ErrorIs(t, <-secondErr, ErrLaneReset)
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	assert.False(t, cq.ResetLane("tg-1"))
}

func TestCommandQueue_ClearLane(t *testing.T) {
	cq := New(Options{})
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue("tg-1", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started

	queuedErr := make(chan error, 1)
	go func() {
		_, err := cq.Enqueue("tg-1", func(ctx context.Context) (interface{}, error) { return nil, nil }, nil)
		queuedErr <- err
	}()
	require.Eventually(t, func() bool { return cq.GetQueueSize("tg-1") == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, cq.ClearLane("tg-1"))
	assert.ErrorIs(t, <-queuedErr, ErrLaneCleared)
	assert.True(t, cq.IsRunning("tg-1"))

	close(release)
	assert.True(t, cq.WaitForActive(time.Second))
}

func TestCommandQueue_MaxPending(t *testing.T) {
	cq := New(Options{MaxPending: 1})
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue("tg-1", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started

	go func() {
		_, _ = cq.Enqueue("tg-1", func(ctx context.Context) (interface{}, error) { return nil, nil }, nil)
	}()
	require.Eventually(t, func() bool { return cq.GetQueueSize("tg-1") == 1 }, time.Second, 5*time.Millisecond)

	_, err := cq.Enqueue("tg-1", func(ctx context.Context) (interface{}, error) { return nil, nil }, nil)
	assert.ErrorIs(t, err, ErrLaneFull)

	close(release)
	assert.True(t, cq.WaitForActive(time.Second))
}

func TestCommandQueue_CancelledBeforeStart(t *testing.T) {
	cq := New(Options{})
	defer cq.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	_, err := cq.EnqueueWithContext(ctx, "tg-1", func(ctx context.Context) (interface{}, error) {
		ran = true
		return nil, nil
	}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
	assert.True(t, cq.WaitForActive(100*time.Millisecond))
}

func TestCommandQueue_OnWait(t *testing.T) {
	cq := New(Options{})
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue("tg-1", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started

	warned := make(chan int, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = cq.Enqueue("tg-1", func(ctx context.Context) (interface{}, error) { return nil, nil }, &TaskOptions{
			WarnAfter: 10 * time.Millisecond,
			OnWait:    func(wait time.Duration, queuePos int) { warned <- queuePos },
		})
	}()

	select {
	case pos := <-warned:
		assert.Equal(t, 0, pos)
	case <-time.After(time.Second):
		t.Fatal("OnWait not called")
	}

	close(release)
	<-done
}

func TestCommandQueue_Close(t *testing.T) {
	cq := New(Options{})
	require.NoError(t, cq.Close())

	_, err := cq.Enqueue("tg-1", func(ctx context.Context) (interface{}, error) { return nil, nil }, nil)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestCommandQueue_WarnTimerStopsWithTask(t *testing.T) {
	cq := New(Options{})
	defer cq.Close()

	record := &taskRecord{
		id:         "tg-1-1",
		enqueuedAt: time.Now(),
		options: TaskOptions{
			WarnAfter: time.Hour,
			OnWait:    func(time.Duration, int) { t.Error("OnWait called for a finished task") },
		},
		done: make(chan struct{}),
	}
	close(record.done)

	returned := make(chan struct{})
	go func() {
		cq.startWarnTimer(record, "tg-1")
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("warn timer outlived its task")
	}
}
