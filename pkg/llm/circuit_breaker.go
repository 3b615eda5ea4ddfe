package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	// CircuitHalfOpen lets a single probe through after ResetAfter.
	CircuitHalfOpen
)

var circuitStateNames = [...]string{"closed", "open", "half-open"}

func (s CircuitState) String() string {
	if s < 0 || int(s) >= len(circuitStateNames) {
		return "unknown"
	}
	return circuitStateNames[s]
}

type CircuitBreakerConfig struct {
	// Threshold consecutive failures trip the circuit.
	Threshold int
	// ResetAfter is how long an open circuit waits before probing.
	ResetAfter time.Duration
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{Threshold: 3, ResetAfter: time.Minute}
}

// CircuitBreaker stops calling a provider that keeps failing, so assisted
// mapping falls back to the heuristic at once instead of waiting out its timeout.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu          sync.Mutex
	state       CircuitState
	failures    int
	lastFailure time.Time
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 1
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Allow reports whether a call may proceed. An open circuit whose reset
// window has passed turns half-open and admits exactly one probe.
func (cb *CircuitBreaker) Allow() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true, nil
	case CircuitHalfOpen:
		return false, errors.New("circuit breaker half-open: probe in flight")
	}

	since := cb.now().Sub(cb.lastFailure)
	if since > cb.cfg.ResetAfter {
		cb.state = CircuitHalfOpen
		return true, nil
	}
	return false, fmt.Errorf("circuit breaker open: %d consecutive failures, last %v ago",
		cb.failures, since.Round(time.Second))
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	cb.failures = 0
	cb.state = CircuitClosed
	cb.mu.Unlock()
}

// RecordFailure counts a failure. A failed probe reopens the circuit at once.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()
	if cb.state == CircuitHalfOpen || cb.failures >= cb.cfg.Threshold {
		cb.state = CircuitOpen
	}
}

// release returns a half-open probe slot without judging the provider.
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	if cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
	}
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// GuardedClient puts a CircuitBreaker in front of an LLMClient. Rejected
// calls fail with ErrorTypeCircuit without touching the network. Calls the
// caller cancelled are not held against the provider.
type GuardedClient struct {
	inner   LLMClient
	breaker *CircuitBreaker
}

func NewGuardedClient(inner LLMClient, cfg CircuitBreakerConfig) *GuardedClient {
	return &GuardedClient{inner: inner, breaker: NewCircuitBreaker(cfg)}
}

func (g *GuardedClient) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error) {
	if ok, err := g.breaker.Allow(); !ok {
		return nil, NewErrorWithContext(ErrorTypeCircuit, "provider temporarily disabled", true, err,
			g.inner.GetModel(), g.inner.GetEndpoint(), 0)
	}

	result, err := g.inner.GenerateResponse(ctx, prompt, systemMessage, temperature)
	switch {
	case err == nil:
		g.breaker.RecordSuccess()
	case errors.Is(ctx.Err(), context.Canceled):
		g.breaker.release()
	default:
		g.breaker.RecordFailure()
	}
	return result, err
}

func (g *GuardedClient) GetModel() string    { return g.inner.GetModel() }
func (g *GuardedClient) GetEndpoint() string { return g.inner.GetEndpoint() }

// Breaker exposes the breaker for health reporting.
func (g *GuardedClient) Breaker() *CircuitBreaker {
	return g.breaker
}
