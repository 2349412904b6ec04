// Package resilience provides a circuit breaker used by sinks
// (telemetry logger, state writer) that must degrade gracefully on
// repeated write failures rather than blocking the Event Hub forever,
// per spec §7.
package resilience

import (
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is healthy; writes pass through.
	StateClosed State = iota
	// StateOpen means the circuit is tripped; writes are rejected.
	StateOpen
	// StateHalfOpen means the circuit is testing recovery.
	StateHalfOpen
)

// String returns a string representation of the circuit state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures a CircuitBreaker.
type Config struct {
	// FailureThreshold is consecutive failures before tripping open.
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before
	// Allow lets trial requests through again (half-open).
	RecoveryTimeout time.Duration
}

// CircuitBreaker guards a sink that can fail (disk full, socket
// closed) so a burst of failures degrades to "stop trying for a while"
// instead of retrying forever on every write.
type CircuitBreaker struct {
	mu     sync.Mutex
	config Config

	state        State
	failureCount int
	lastOpenTime time.Time

	successCount int
	failureTotal int
}

// New creates a CircuitBreaker, applying defaults for any zero fields.
func New(config Config) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = 30 * time.Second
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow reports whether a write should be attempted. In the open
// state, once RecoveryTimeout has elapsed since tripping, Allow
// transitions to half-open and returns true. In the half-open state
// every call returns true until RecordSuccess or RecordFailure settles
// the state.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.lastOpenTime) >= cb.config.RecoveryTimeout {
			cb.state = StateHalfOpen
			return true
		}
		return false
	default: // StateHalfOpen
		return true
	}
}

// RecordSuccess reports a successful write. In half-open state this
// closes the circuit and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successCount++
	cb.failureCount = 0
	cb.state = StateClosed
}

// RecordFailure reports a failed write. In closed state this trips the
// circuit once FailureThreshold consecutive failures accrue; in
// half-open state a single failure re-opens it.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureTotal++

	if cb.state == StateHalfOpen {
		cb.trip()
		return
	}

	cb.failureCount++
	if cb.failureCount >= cb.config.FailureThreshold {
		cb.trip()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.lastOpenTime = time.Now()
}

// Stats reports cumulative circuit breaker counters.
type Stats struct {
	State        State
	SuccessCount int
	FailureTotal int
	FailureCount int
}

// Stats returns the current counters.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		State:        cb.state,
		SuccessCount: cb.successCount,
		FailureTotal: cb.failureTotal,
		FailureCount: cb.failureCount,
	}
}
