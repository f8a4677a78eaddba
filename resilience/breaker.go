package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrCircuitOpen is returned while the breaker refuses calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the state of a CircuitBreaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	Name         string
	Threshold    int           // consecutive failures before opening
	ResetTimeout time.Duration // time open before a trial call is allowed
	Logger       *logrus.Logger
	// OnStateChange is called outside the lock after every transition.
	OnStateChange func(name string, from, to State)
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// CircuitBreaker counts consecutive failures against a shared upstream and
// refuses calls once they reach the threshold.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	state        State
	failureCount int
	lastFailure  time.Time
	threshold    int
	resetTimeout time.Duration
	trialing     bool
	logger       *logrus.Logger
	onChange     func(name string, from, to State)
	now          func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.Threshold < 1 {
		cfg.Threshold = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Name == "" {
		cfg.Name = "maps"
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		state:        StateClosed,
		threshold:    cfg.Threshold,
		resetTimeout: cfg.ResetTimeout,
		logger:       cfg.Logger,
		onChange:     cfg.OnStateChange,
		now:          cfg.Clock,
	}
}

// IsOpen reports whether calls are currently refused. An open breaker whose
// reset timeout has elapsed moves to half-open and reports false.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	from, to, changed := cb.advanceLocked()
	open := cb.state == StateOpen
	cb.mu.Unlock()
	cb.notify(from, to, changed)
	return open
}

// State returns the current state, applying the reset timeout.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	from, to, changed := cb.advanceLocked()
	state := cb.state
	cb.mu.Unlock()
	cb.notify(from, to, changed)
	return state
}

// Stats returns state, consecutive failures and the last failure time.
func (cb *CircuitBreaker) Stats() (State, int, time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state, cb.failureCount, cb.lastFailure
}

// RecordFailure counts one failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	from := cb.state
	cb.failureCount++
	cb.lastFailure = cb.now()
	cb.trialing = false
	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.threshold {
			cb.state = StateOpen
		}
	case StateHalfOpen:
		cb.state = StateOpen
	}
	to := cb.state
	cb.mu.Unlock()
	cb.notify(from, to, from != to)
}

// RecordSuccess counts one successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	from := cb.state
	cb.trialing = false
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen, StateOpen:
		cb.state = StateClosed
		cb.failureCount = 0
	}
	to := cb.state
	cb.mu.Unlock()
	cb.notify(from, to, from != to)
}

// Execute runs fn unless the breaker is open and records the outcome. In
// half-open only one trial call runs at a time. Caller cancellation is not
// counted as a failure.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	from, to, changed := cb.advanceLocked()
	switch {
	case cb.state == StateOpen:
		failures, last := cb.failureCount, cb.lastFailure
		cb.mu.Unlock()
		cb.notify(from, to, changed)
		return fmt.Errorf("%w: %s (failed %d times, last failure %s)", ErrCircuitOpen, cb.name, failures, last.Format(time.RFC3339))
	case cb.state == StateHalfOpen && cb.trialing:
		cb.mu.Unlock()
		cb.notify(from, to, changed)
		return fmt.Errorf("%w: %s (trial call in flight)", ErrCircuitOpen, cb.name)
	case cb.state == StateHalfOpen:
		cb.trialing = true
	}
	cb.mu.Unlock()
	cb.notify(from, to, changed)

	err := fn()
	switch {
	case err == nil:
		cb.RecordSuccess()
	case errors.Is(err, context.Canceled):
		cb.mu.Lock()
		cb.trialing = false
		cb.mu.Unlock()
	default:
		cb.RecordFailure()
	}
	return err
}

func (cb *CircuitBreaker) advanceLocked() (State, State, bool) {
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) >= cb.resetTimeout {
		cb.state = StateHalfOpen
		cb.trialing = false
		return StateOpen, StateHalfOpen, true
	}
	return cb.state, cb.state, false
}

func (cb *CircuitBreaker) notify(from, to State, changed bool) {
	if !changed {
		return
	}
	if cb.logger != nil {
		cb.logger.WithFields(logrus.Fields{
			"breaker": cb.name,
			"from":    from.String(),
			"to":      to.String(),
		}).Warn("Circuit breaker state changed")
	}
	if cb.onChange != nil {
		cb.onChange(cb.name, from, to)
	}
}
