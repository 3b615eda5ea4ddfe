package workqueue

import "sync"

// ConcurrencyStrategy controls how tasks are allowed to start concurrently.
// The strategy is responsible for tracking running tasks and determining
// if a new task can start based on the current state.
type ConcurrencyStrategy interface {
	// CanStart returns true if a task of the given kind can start now.
	CanStart(requiresLLM bool) bool
	// OnStart is called when a task starts.
	OnStart(requiresLLM bool)
	// OnComplete is called when a task finishes, whatever its outcome.
	OnComplete(requiresLLM bool)
}

// BoundedStrategy allows up to maxConcurrent tasks in total, of which at most
// maxLLM may be text-generation tasks.
type BoundedStrategy struct {
	mu            sync.Mutex
	maxConcurrent int
	maxLLM        int
	running       int
	llmRunning    int
}

// NewBoundedStrategy creates a strategy with the given limits.
// Limits below one are raised to one; maxLLM is capped at maxConcurrent.
func NewBoundedStrategy(maxConcurrent, maxLLM int) *BoundedStrategy {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if maxLLM < 1 {
		maxLLM = 1
	}
	if maxLLM > maxConcurrent {
		maxLLM = maxConcurrent
	}
	return &BoundedStrategy{
		maxConcurrent: maxConcurrent,
		maxLLM:        maxLLM,
	}
}

func (s *BoundedStrategy) CanStart(requiresLLM bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running >= s.maxConcurrent {
		return false
	}
	return !requiresLLM || s.llmRunning < s.maxLLM
}

func (s *BoundedStrategy) OnStart(requiresLLM bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running++
	if requiresLLM {
		s.llmRunning++
	}
}

func (s *BoundedStrategy) OnComplete(requiresLLM bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running > 0 {
		s.running--
	}
	if requiresLLM && s.llmRunning > 0 {
		s.llmRunning--
	}
}
