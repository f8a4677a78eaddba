package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(retries int) RetryOptions {
	return RetryOptions{
		MaxRetries:   retries,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestClassify(t *testing.T) {
	_, parseErr := url.Parse("http://[::1")
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"timeout", errors.New("net::ERR_TIMED_OUT"), Retryable},
		{"deadline", fmt.Errorf("navigate: %w", context.DeadlineExceeded), Retryable},
		{"reset", errors.New("page load error net::ERR_CONNECTION_RESET"), Retryable},
		{"transient navigation", errors.New("navigation failed: frame detached"), Retryable},
		{"unclassified network", errors.New("net::ERR_SOMETHING_NEW"), Retryable},
		{"certificate", errors.New("page load error net::ERR_CERT_AUTHORITY_INVALID"), NonRetryable},
		{"ssl", errors.New("net::ERR_SSL_PROTOCOL_ERROR"), NonRetryable},
		{"tls handshake timeout", errors.New("tls: handshake timeout"), NonRetryable},
		{"malformed url", parseErr, NonRetryable},
		{"invalid url", errors.New("Cannot navigate to invalid URL"), NonRetryable},
		{"canceled", context.Canceled, NonRetryable},
		{"circuit open", fmt.Errorf("%w: maps", ErrCircuitOpen), NonRetryable},
		{"plain logic error", errors.New("selector returned nothing"), NonRetryable},
		{"nil", nil, NonRetryable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestWithRetryRetriesTransientFailures(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), fastRetry(3), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("net::ERR_CONNECTION_RESET")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryStopsAfterMaxRetries(t *testing.T) {
	errReset := errors.New("net::ERR_CONNECTION_RESET")
	attempts := 0
	err := WithRetry(context.Background(), fastRetry(2), func(context.Context) error {
		attempts++
		return fmt.Errorf("navigate: %w", errReset)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errReset)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryFailsFastOnNonRetryable(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), fastRetry(5), func(context.Context) error {
		attempts++
		return errors.New("net::ERR_CERT_DATE_INVALID")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestWithRetryCustomClassifier(t *testing.T) {
	attempts := 0
	opts := fastRetry(2)
	opts.Retryable = func(error) bool { return false }
	err := WithRetry(context.Background(), opts, func(context.Context) error {
		attempts++
		return errors.New("net::ERR_TIMED_OUT")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestBackoffDelayWithinJitterBounds(t *testing.T) {
	opts := RetryOptions{InitialDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second, Multiplier: 2}
	rnd := rand.New(rand.NewSource(42))
	for attempt := 0; attempt < 12; attempt++ {
		base := math.Min(float64(opts.InitialDelay)*math.Pow(opts.Multiplier, float64(attempt)), float64(opts.MaxDelay))
		for i := 0; i < 50; i++ {
			d := float64(BackoffDelay(opts, attempt, rnd))
			assert.GreaterOrEqual(t, d, 0.75*base-1, "attempt %d", attempt)
			assert.LessOrEqual(t, d, 1.25*base+1, "attempt %d", attempt)
		}
	}
}

func TestBackoffDelayCapsAtMax(t *testing.T) {
	opts := RetryOptions{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 10}
	d := BackoffDelay(opts, 50, rand.New(rand.NewSource(1)))
	assert.LessOrEqual(t, d, time.Duration(1.25*float64(3*time.Second)))
}

func TestWithRetrySchedulesBackoffDelays(t *testing.T) {
	opts := RetryOptions{
		MaxRetries:   4,
		InitialDelay: time.Millisecond,
		MaxDelay:     3 * time.Millisecond,
		Multiplier:   2,
	}
	var attempts []int
	var delays []time.Duration
	opts.OnBackoff = func(attempt int, d time.Duration) {
		attempts = append(attempts, attempt)
		delays = append(delays, d)
	}

	calls := 0
	err := WithRetry(context.Background(), opts, func(context.Context) error {
		calls++
		return errors.New("net::ERR_TIMED_OUT")
	})
	require.Error(t, err)
	assert.Equal(t, 5, calls)
	require.Equal(t, []int{0, 1, 2, 3}, attempts)

	for i, d := range delays {
		base := math.Min(float64(opts.InitialDelay)*math.Pow(opts.Multiplier, float64(i)), float64(opts.MaxDelay))
		assert.GreaterOrEqual(t, float64(d), 0.75*base-1, "retry %d", i)
		assert.LessOrEqual(t, float64(d), 1.25*base+1, "retry %d", i)
	}
}
