package orchestration

import (
	"errors"
	"sync"
	"time"

	"github.com/aixgo-dev/sentichat/pkg/observability"
)

// ErrCircuitOpen is returned without calling the downstream service while
// its breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker. The values match
// the sentichat_circuit_state gauge.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitHalfOpen
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitHalfOpen:
		return "half-open"
	case CircuitOpen:
		return "open"
	}
	return "unknown"
}

// CircuitBreaker stops calling a failing downstream service for a cooldown
// period. After the cooldown a single trial call is let through; its outcome
// closes or reopens the circuit.
type CircuitBreaker struct {
	target       string
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time

	mu              sync.Mutex
	failures        int
	lastFailureTime time.Time
	state           CircuitState
	probing         bool
}

// NewCircuitBreaker creates a closed breaker for target that opens after
// maxFailures consecutive failures.
func NewCircuitBreaker(target string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	cb := &CircuitBreaker{
		target:       target,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
		state:        CircuitClosed,
	}
	observability.SetCircuitState(target, int(CircuitClosed))
	return cb
}

// Execute runs fn unless the circuit is open. The lock is not held while fn
// runs.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.done(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.now().Sub(cb.lastFailureTime) >= cb.resetTimeout {
		cb.setState(CircuitHalfOpen)
	}

	switch cb.state {
	case CircuitOpen:
		return false
	case CircuitHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
	}
	return true
}

func (cb *CircuitBreaker) done(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	wasTrial := cb.state == CircuitHalfOpen
	cb.probing = false

	if err != nil {
		cb.failures++
		cb.lastFailureTime = cb.now()
		if wasTrial || cb.failures >= cb.maxFailures {
			cb.setState(CircuitOpen)
		}
		return
	}

	cb.failures = 0
	cb.setState(CircuitClosed)
}

func (cb *CircuitBreaker) setState(s CircuitState) {
	if cb.state == s {
		return
	}
	cb.state = s
	observability.SetCircuitState(cb.target, int(s))
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset manually closes the circuit breaker
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.probing = false
	cb.setState(CircuitClosed)
}
