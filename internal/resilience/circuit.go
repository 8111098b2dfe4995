// Package resilience provides the circuit breaker, retry loop and error
// classification shared by the browser and the submission engine.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	// CircuitClosed lets calls through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the reset timeout elapses.
	CircuitOpen
	// CircuitHalfOpen lets a probe call through.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected by an open circuit.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// Name identifies the breaker in logs and status output.
	Name string

	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before a probe is
	// allowed. Default: 30s.
	ResetTimeout time.Duration

	// ShouldTrip decides whether an error counts as a failure. Nil counts
	// every non-nil error.
	ShouldTrip func(err error) bool

	// OnStateChange is called after a transition, outside the breaker lock.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns the defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// BreakerStatus is a point-in-time view of a breaker.
type BreakerStatus struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Opens               int       `json:"opens"`
	LastFailure         time.Time `json:"last_failure,omitzero"`
}

// CircuitBreaker guards a single dependency.
type CircuitBreaker struct {
	cfg   CircuitBreakerConfig
	mu    sync.Mutex
	state CircuitState

	consecutiveFailures int
	opens               int
	lastFailure         time.Time

	nowFunc func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		cfg:     cfg,
		state:   CircuitClosed,
		nowFunc: time.Now,
	}
}

// Execute runs fn unless the circuit is open, in which case it returns
// ErrCircuitOpen without calling fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

// State returns the current state. An open circuit whose reset timeout has
// elapsed reports half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.nowFunc().Sub(cb.lastFailure) >= cb.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset closes the circuit, e.g. after the guarded dependency was replaced.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = CircuitClosed
	cb.consecutiveFailures = 0
	cb.mu.Unlock()

	if from != CircuitClosed {
		cb.notify(from, CircuitClosed)
	}
}

// Status returns a snapshot for health output.
func (cb *CircuitBreaker) Status() BreakerStatus {
	state := cb.State()
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerStatus{
		Name:                cb.cfg.Name,
		State:               state.String(),
		ConsecutiveFailures: cb.consecutiveFailures,
		Opens:               cb.opens,
		LastFailure:         cb.lastFailure,
	}
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	if cb.state != CircuitOpen {
		cb.mu.Unlock()
		return nil
	}
	if cb.nowFunc().Sub(cb.lastFailure) < cb.cfg.ResetTimeout {
		cb.mu.Unlock()
		return ErrCircuitOpen
	}
	cb.state = CircuitHalfOpen
	cb.mu.Unlock()

	cb.notify(CircuitOpen, CircuitHalfOpen)
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	trip := cb.cfg.ShouldTrip
	if trip == nil {
		trip = func(e error) bool { return e != nil }
	}
	failed := err != nil && trip(err)

	cb.mu.Lock()
	from := cb.state
	if !failed {
		cb.consecutiveFailures = 0
		cb.state = CircuitClosed
	} else {
		cb.consecutiveFailures++
		cb.lastFailure = cb.nowFunc()
		// A failed probe reopens immediately.
		if cb.state == CircuitHalfOpen || cb.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.state = CircuitOpen
		}
		if from != CircuitOpen && cb.state == CircuitOpen {
			cb.opens++
		}
	}
	to := cb.state
	cb.mu.Unlock()

	if from != to {
		cb.notify(from, to)
	}
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}
