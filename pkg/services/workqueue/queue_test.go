package workqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestTask(name string, requiresLLM bool, fn func(ctx context.Context) error) *FuncTask {
	return NewFuncTask(name, requiresLLM, fn)
}

func waitFor(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestQueue_EnqueueAndComplete(t *testing.T) {
	q := New(zap.NewNop())

	var executed atomic.Bool
	if err := q.Enqueue(newTestTask("test-task", false, func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, q)

	if !executed.Load() {
		t.Error("task was not executed")
	}
	p := q.Progress()
	if p.Completed != 1 || p.Total != 1 {
		t.Errorf("expected 1/1 completed, got %+v", p)
	}
	if len(q.GetTasks()) != 0 {
		t.Error("finished tasks should be dropped from the active list")
	}
}

func TestQueue_WaitOnEmptyQueue(t *testing.T) {
	q := New(zap.NewNop())
	waitFor(t, q)
}

func TestQueue_TaskFailureIsRecorded(t *testing.T) {
	var finished TaskSnapshot
	q := New(zap.NewNop(), WithOnFinish(func(s TaskSnapshot, _ time.Duration) { finished = s }))

	_ = q.Enqueue(newTestTask("failing-task", false, func(ctx context.Context) error {
		return errors.New("boom")
	}))
	waitFor(t, q)

	if q.Progress().Failed != 1 {
		t.Errorf("expected 1 failed, got %+v", q.Progress())
	}
	if finished.Status != TaskStatusFailed || finished.Error != "boom" {
		t.Errorf("unexpected finish snapshot: %+v", finished)
	}
}

func TestQueue_PanicBecomesFailure(t *testing.T) {
	q := New(zap.NewNop())

	_ = q.Enqueue(newTestTask("panicky", false, func(ctx context.Context) error {
		panic("unexpected nil")
	}))
	_ = q.Enqueue(newTestTask("after", false, func(ctx context.Context) error { return nil }))
	waitFor(t, q)

	p := q.Progress()
	if p.Failed != 1 || p.Completed != 1 {
		t.Errorf("expected one failure and one completion, got %+v", p)
	}
}

func TestQueue_BoundedConcurrency(t *testing.T) {
	q := New(zap.NewNop(), WithStrategy(NewBoundedStrategy(2, 1)))

	var running, maxSeen int32
	var mu sync.Mutex
	for i := 0; i < 6; i++ {
		_ = q.Enqueue(newTestTask("data-task", false, func(ctx context.Context) error {
			current := atomic.AddInt32(&running, 1)
			mu.Lock()
			if current > maxSeen {
				maxSeen = current
			}
			mu.Unlock()
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		}))
	}
	waitFor(t, q)

	if maxSeen != 2 {
		t.Errorf("expected at most 2 concurrent tasks, saw %d", maxSeen)
	}
}

func TestQueue_LLMTasksLimitedSeparately(t *testing.T) {
	q := New(zap.NewNop(), WithStrategy(NewBoundedStrategy(4, 1)))

	var llmRunning, llmMax int32
	for i := 0; i < 3; i++ {
		_ = q.Enqueue(newTestTask("report", true, func(ctx context.Context) error {
			n := atomic.AddInt32(&llmRunning, 1)
			for {
				old := atomic.LoadInt32(&llmMax)
				if n <= old || atomic.CompareAndSwapInt32(&llmMax, old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&llmRunning, -1)
			return nil
		}))
	}

	dataRan := make(chan struct{})
	_ = q.Enqueue(newTestTask("import", false, func(ctx context.Context) error {
		close(dataRan)
		return nil
	}))

	select {
	case <-dataRan:
	case <-time.After(time.Second):
		t.Fatal("data task should not wait behind LLM tasks")
	}
	waitFor(t, q)

	if llmMax != 1 {
		t.Errorf("expected 1 concurrent LLM task, saw %d", llmMax)
	}
}

func TestQueue_TaskTimeout(t *testing.T) {
	q := New(zap.NewNop(), WithTaskTimeout(20*time.Millisecond))

	var gotErr error
	_ = q.Enqueue(newTestTask("slow", false, func(ctx context.Context) error {
		<-ctx.Done()
		gotErr = ctx.Err()
		return gotErr
	}))
	waitFor(t, q)

	if !errors.Is(gotErr, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", gotErr)
	}
	if q.Progress().Failed != 1 {
		t.Errorf("timed out task should count as failed, got %+v", q.Progress())
	}
}

func TestQueue_Shutdown(t *testing.T) {
	q := New(zap.NewNop())

	started := make(chan struct{})
	var sawCancel atomic.Bool
	_ = q.Enqueue(newTestTask("long", false, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		sawCancel.Store(true)
		return ctx.Err()
	}))
	var pendingRan atomic.Bool
	_ = q.Enqueue(newTestTask("pending", false, func(ctx context.Context) error {
		pendingRan.Store(true)
		return nil
	}))

	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if !sawCancel.Load() {
		t.Error("running task should observe cancellation")
	}
	if pendingRan.Load() {
		t.Error("pending task should not start after shutdown")
	}
	if p := q.Progress(); p.Cancelled != 2 {
		t.Errorf("expected 2 cancelled, got %+v", p)
	}
	if err := q.Enqueue(newTestTask("late", false, func(ctx context.Context) error { return nil })); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}
}

func TestQueue_ShutdownAbandonsPendingTasks(t *testing.T) {
	q := New(zap.NewNop(), WithStrategy(NewBoundedStrategy(1, 1)))

	started := make(chan struct{})
	_ = q.Enqueue(newTestTask("running", false, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}).WithOnAbandon(func() { t.Error("started task must not be abandoned") }))

	var abandoned atomic.Int32
	for range 2 {
		_ = q.Enqueue(newTestTask("queued", false, func(ctx context.Context) error {
			t.Error("queued task should never run")
			return nil
		}).WithOnAbandon(func() { abandoned.Add(1) }))
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if n := abandoned.Load(); n != 2 {
		t.Errorf("expected 2 abandon hooks, got %d", n)
	}

	// A second shutdown must not fire the hooks again.
	if err := q.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	if n := abandoned.Load(); n != 2 {
		t.Errorf("hooks ran again: %d", n)
	}
}

func TestQueue_ShutdownTimesOut(t *testing.T) {
	q := New(zap.NewNop())

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	_ = q.Enqueue(newTestTask("stubborn", false, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestBoundedStrategy_Limits(t *testing.T) {
	s := NewBoundedStrategy(0, 5)
	if !s.CanStart(true) {
		t.Fatal("first task should start")
	}
	s.OnStart(true)
	if s.CanStart(false) {
		t.Error("limit of one should block a second task")
	}
	s.OnComplete(true)
	if !s.CanStart(false) {
		t.Error("slot should be free after completion")
	}
}
