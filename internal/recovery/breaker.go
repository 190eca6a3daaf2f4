package recovery

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation, actions run
	CircuitOpen                         // Too many failures, actions escalate without running
	CircuitHalfOpen                     // Probing, one action runs to test recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when an action type's circuit is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker stops running an action type that keeps failing.
// One breaker exists per action type.
type CircuitBreaker struct {
	mu sync.Mutex

	name             string
	state            CircuitState
	failureCount     int
	lastFailureTime  time.Time
	failureThreshold int
	openTimeout      time.Duration
	logger           *zap.Logger
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(name string, failureThreshold int, openTimeout time.Duration, logger *zap.Logger) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		name:             name,
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		openTimeout:      openTimeout,
		logger:           logger,
	}
}

// Allow returns ErrCircuitOpen while the circuit is open and the open
// timeout has not elapsed. After the timeout one trial call is let through.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) > cb.openTimeout {
			cb.transitionLocked(CircuitHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	case CircuitHalfOpen:
		// a trial call is already running
		return ErrCircuitOpen
	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess closes the circuit and resets the failure count
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	if cb.state != CircuitClosed {
		cb.transitionLocked(CircuitClosed)
	}
}

// RecordFailure counts a failure, opening the circuit at the threshold.
// A failed trial call reopens it immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()
	cb.failureCount++

	switch cb.state {
	case CircuitClosed:
		if cb.failureCount >= cb.failureThreshold {
			cb.transitionLocked(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transitionLocked(CircuitOpen)
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reconfigure changes the thresholds without resetting state
func (cb *CircuitBreaker) Reconfigure(failureThreshold int, openTimeout time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if failureThreshold > 0 {
		cb.failureThreshold = failureThreshold
	}
	cb.openTimeout = openTimeout
}

// transitionLocked changes state. Caller must hold cb.mu.
func (cb *CircuitBreaker) transitionLocked(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.logger.Info("circuit breaker state transition",
		zap.String("action_type", cb.name),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Int("failures", cb.failureCount))
}
