package workqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrQueueClosed is returned by Enqueue after Shutdown has been called.
var ErrQueueClosed = errors.New("work queue is shut down")

// Queue runs background tasks with bounded concurrency. Each task gets a
// context derived from the queue's root context with a per-task timeout, so
// work outlives the request that enqueued it but not the process.
type Queue struct {
	mu     sync.Mutex
	tasks  []*TaskState
	closed bool

	strategy    ConcurrencyStrategy
	taskTimeout time.Duration

	// done is closed whenever no task is pending or running
	done chan struct{}
	wg   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	totals   Progress
	onFinish func(TaskSnapshot, time.Duration)

	logger *zap.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithStrategy sets the concurrency strategy.
func WithStrategy(strategy ConcurrencyStrategy) QueueOption {
	return func(q *Queue) {
		if strategy != nil {
			q.strategy = strategy
		}
	}
}

// WithTaskTimeout bounds every task's execution time. Zero disables the bound.
func WithTaskTimeout(d time.Duration) QueueOption {
	return func(q *Queue) {
		q.taskTimeout = d
	}
}

// WithOnFinish registers a callback invoked when each task reaches a terminal
// state, before Wait observes it. It runs outside the queue lock.
func WithOnFinish(fn func(snapshot TaskSnapshot, duration time.Duration)) QueueOption {
	return func(q *Queue) {
		q.onFinish = fn
	}
}

// New creates a new work queue with the given options. Without options it runs
// one task at a time with no timeout.
func New(logger *zap.Logger, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		tasks:    make([]*TaskState, 0),
		strategy: NewBoundedStrategy(1, 1),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.Named("workqueue"),
	}
	close(q.done)

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Enqueue adds a task and starts it as soon as the strategy allows.
func (q *Queue) Enqueue(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.logger.Warn("queue shut down, rejecting task",
			zap.String("task_id", task.ID()),
			zap.String("task_name", task.Name()))
		return ErrQueueClosed
	}

	q.resetDoneLocked()

	state := NewTaskState(task)
	q.tasks = append(q.tasks, state)
	q.totals.Total++

	q.logger.Debug("task enqueued",
		zap.String("task_id", task.ID()),
		zap.String("task_name", task.Name()),
		zap.Bool("requires_llm", task.RequiresLLM()))

	q.tryStartTasksLocked()
	return nil
}

// tryStartTasksLocked starts pending tasks in FIFO order while the strategy allows.
// Must be called with lock held.
func (q *Queue) tryStartTasksLocked() {
	if q.closed {
		return
	}

	for _, ts := range q.tasks {
		if ts.GetStatus() != TaskStatusPending {
			continue
		}

		requiresLLM := ts.Task.RequiresLLM()
		if !q.strategy.CanStart(requiresLLM) {
			continue
		}

		q.strategy.OnStart(requiresLLM)
		ts.SetStatus(TaskStatusRunning)

		q.logger.Info("starting task",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))

		q.wg.Add(1)
		go q.runTask(ts)
	}
}

func (q *Queue) runTask(ts *TaskState) {
	defer q.wg.Done()

	ctx := q.ctx
	if q.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.taskTimeout)
		defer cancel()
	}

	q.finish(ts, q.execute(ctx, ts))
}

// execute runs the task, converting a panic into an error.
func (q *Queue) execute(ctx context.Context, ts *TaskState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return ts.Task.Execute(ctx)
}

// finish records the outcome, drops the task from the active list and starts
// whatever can run next.
func (q *Queue) finish(ts *TaskState, err error) {
	var status TaskStatus
	switch {
	case err == nil:
		status = TaskStatusCompleted
		q.logger.Info("task completed",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Duration("duration", ts.Duration()))
	case errors.Is(err, context.Canceled) && q.ctx.Err() != nil:
		status = TaskStatusCancelled
		q.logger.Info("task cancelled",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))
	default:
		status = TaskStatusFailed
		ts.SetError(err)
		q.logger.Error("task failed",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Error(err))
	}
	ts.SetStatus(status)

	if q.onFinish != nil {
		q.onFinish(ts.Snapshot(), ts.Duration())
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.strategy.OnComplete(ts.Task.RequiresLLM())
	switch status {
	case TaskStatusCompleted:
		q.totals.Completed++
	case TaskStatusCancelled:
		q.totals.Cancelled++
	default:
		q.totals.Failed++
	}

	q.removeLocked(ts)
	if len(q.tasks) == 0 {
		q.closeDoneLocked()
		return
	}
	q.tryStartTasksLocked()
}

// removeLocked drops ts from the active task list.
// Must be called with lock held.
func (q *Queue) removeLocked(ts *TaskState) {
	for i, t := range q.tasks {
		if t == ts {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return
		}
	}
}

// closeDoneLocked safely closes the done channel.
// Must be called with lock held.
func (q *Queue) closeDoneLocked() {
	select {
	case <-q.done:
	default:
		close(q.done)
	}
}

// resetDoneLocked recreates the done channel if it was closed.
// Must be called with lock held.
func (q *Queue) resetDoneLocked() {
	select {
	case <-q.done:
		q.done = make(chan struct{})
	default:
	}
}

// GetTasks returns a snapshot of pending and running tasks.
func (q *Queue) GetTasks() []TaskSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snapshots := make([]TaskSnapshot, len(q.tasks))
	for i, ts := range q.tasks {
		snapshots[i] = ts.Snapshot()
	}
	return snapshots
}

// Wait blocks until no task is pending or running, or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	done := q.done
	q.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting tasks, cancels pending and running ones and waits
// for running tasks to return or ctx to expire.
func (q *Queue) Shutdown(ctx context.Context) error {
	var abandoned []Abandoner
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.logger.Info("shutting down work queue", zap.Int("active_tasks", len(q.tasks)))
		q.cancel()

		remaining := q.tasks[:0]
		for _, ts := range q.tasks {
			if ts.GetStatus() == TaskStatusPending {
				ts.SetStatus(TaskStatusCancelled)
				q.totals.Cancelled++
				if a, ok := ts.Task.(Abandoner); ok {
					abandoned = append(abandoned, a)
				}
				continue
			}
			remaining = append(remaining, ts)
		}
		q.tasks = remaining
		if len(q.tasks) == 0 {
			q.closeDoneLocked()
		}
	}
	q.mu.Unlock()

	// Hooks run outside the lock since they usually write to the database.
	for _, a := range abandoned {
		a.Abandon()
	}

	finished := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("work queue shutdown: %w", ctx.Err())
	}
}

// Progress returns lifetime totals plus the current pending and running counts.
func (q *Queue) Progress() Progress {
	q.mu.Lock()
	defer q.mu.Unlock()

	p := q.totals
	for _, ts := range q.tasks {
		switch ts.GetStatus() {
		case TaskStatusPending:
			p.Pending++
		case TaskStatusRunning:
			p.Running++
		}
	}
	return p
}

// Progress holds queue statistics.
type Progress struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}
