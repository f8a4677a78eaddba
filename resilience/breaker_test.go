package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int, reset time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	return NewCircuitBreaker(BreakerConfig{Threshold: threshold, ResetTimeout: reset, Clock: clock.Now}), clock
}

func TestBreakerOpensExactlyAtThreshold(t *testing.T) {
	for threshold := 1; threshold <= 6; threshold++ {
		cb, _ := newTestBreaker(threshold, time.Minute)
		for i := 1; i <= threshold; i++ {
			cb.RecordFailure()
			assert.Equal(t, i == threshold, cb.IsOpen(), "threshold %d after %d failures", threshold, i)
		}
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()

	_, failures, _ := cb.Stats()
	assert.Equal(t, 0, failures)

	cb.RecordFailure()
	cb.RecordFailure()
	assert.False(t, cb.IsOpen())
	cb.RecordFailure()
	assert.True(t, cb.IsOpen())
}

func TestBreakerHalfOpensAfterResetTimeout(t *testing.T) {
	cb, clock := newTestBreaker(2, 30*time.Second)
	cb.RecordFailure()
	cb.RecordFailure()
	require.True(t, cb.IsOpen())

	clock.Advance(29 * time.Second)
	assert.True(t, cb.IsOpen())

	clock.Advance(time.Second)
	assert.False(t, cb.IsOpen())
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestBreakerHalfOpenTrial(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Second)
	cb.RecordFailure()
	clock.Advance(time.Second)

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())

	cb.RecordFailure()
	clock.Advance(time.Second)
	err := cb.Execute(func() error { return errors.New("net::ERR_TIMED_OUT") })
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
	assert.True(t, cb.IsOpen())
}

func TestBreakerHalfOpenAllowsSingleTrial(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Second)
	cb.RecordFailure()
	clock.Advance(time.Second)

	inTrial := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(inTrial)
			<-release
			return nil
		})
	}()
	<-inTrial

	err := cb.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecuteShortCircuitsWhileOpen(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Hour)
	cb.RecordFailure()

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerReportsTransitions(t *testing.T) {
	var transitions []string
	clock := &fakeClock{now: time.Now()}
	cb := NewCircuitBreaker(BreakerConfig{
		Name:         "maps",
		Threshold:    1,
		ResetTimeout: time.Second,
		Clock:        clock.Now,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+">"+to.String())
		},
	})
	cb.RecordFailure()
	clock.Advance(time.Second)
	cb.IsOpen()
	cb.RecordSuccess()

	assert.Equal(t, []string{
		"maps:closed>open",
		"maps:open>half-open",
		"maps:half-open>closed",
	}, transitions)
}
