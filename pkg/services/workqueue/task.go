package workqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

func (s TaskStatus) terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Task is a unit of background work such as an import or a risk run.
type Task interface {
	ID() string
	// Name labels the task in logs and metrics.
	Name() string
	// RequiresLLM marks tasks that call a text-generation endpoint; they
	// also count against the strategy's LLM limit.
	RequiresLLM() bool
	// Execute runs the task. ctx ends on queue shutdown or task timeout.
	Execute(ctx context.Context) error
}

// TaskState tracks one enqueued task. Guarded by mu; the queue updates it
// from worker goroutines while GetTasks reads it.
type TaskState struct {
	Task       Task
	EnqueuedAt time.Time

	mu          sync.RWMutex
	status      TaskStatus
	startedAt   time.Time
	completedAt time.Time
	err         error
}

func NewTaskState(task Task) *TaskState {
	return &TaskState{Task: task, EnqueuedAt: time.Now(), status: TaskStatusPending}
}

func (ts *TaskState) GetStatus() TaskStatus {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.status
}

// SetStatus moves the task to status and stamps the start or end time.
func (ts *TaskState) SetStatus(status TaskStatus) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.status = status
	switch {
	case status == TaskStatusRunning:
		ts.startedAt = time.Now()
	case status.terminal():
		ts.completedAt = time.Now()
	}
}

func (ts *TaskState) SetError(err error) {
	ts.mu.Lock()
	ts.err = err
	ts.mu.Unlock()
}

// Duration is time spent running so far, or zero if the task never started.
func (ts *TaskState) Duration() time.Duration {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if ts.startedAt.IsZero() {
		return 0
	}
	if ts.completedAt.IsZero() {
		return time.Since(ts.startedAt)
	}
	return ts.completedAt.Sub(ts.startedAt)
}

func (ts *TaskState) Snapshot() TaskSnapshot {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	snap := TaskSnapshot{
		ID:          ts.Task.ID(),
		Name:        ts.Task.Name(),
		RequiresLLM: ts.Task.RequiresLLM(),
		Status:      ts.status,
		EnqueuedAt:  ts.EnqueuedAt,
	}
	if !ts.startedAt.IsZero() {
		started := ts.startedAt
		snap.StartedAt = &started
	}
	if !ts.completedAt.IsZero() {
		completed := ts.completedAt
		snap.CompletedAt = &completed
	}
	if ts.err != nil {
		snap.Error = ts.err.Error()
	}
	return snap
}

// TaskSnapshot is a copy of task state safe to hand outside the queue.
type TaskSnapshot struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	RequiresLLM bool       `json:"requires_llm"`
	Status      TaskStatus `json:"status"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Abandoner is implemented by tasks that need to record a terminal state
// when the queue drops them before they ever start.
type Abandoner interface {
	Abandon()
}

// FuncTask runs a closure as a Task.
type FuncTask struct {
	id          string
	name        string
	requiresLLM bool
	fn          func(ctx context.Context) error
	onAbandon   func()
}

func NewFuncTask(name string, requiresLLM bool, fn func(ctx context.Context) error) *FuncTask {
	return &FuncTask{id: uuid.NewString(), name: name, requiresLLM: requiresLLM, fn: fn}
}

func (t *FuncTask) ID() string                        { return t.id }
func (t *FuncTask) Name() string                      { return t.name }
func (t *FuncTask) RequiresLLM() bool                 { return t.requiresLLM }
func (t *FuncTask) Execute(ctx context.Context) error { return t.fn(ctx) }

// WithOnAbandon sets fn to run if the queue shuts down before the task starts.
func (t *FuncTask) WithOnAbandon(fn func()) *FuncTask {
	t.onAbandon = fn
	return t
}

func (t *FuncTask) Abandon() {
	if t.onAbandon != nil {
		t.onAbandon()
	}
}
