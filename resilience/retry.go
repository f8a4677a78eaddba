package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sirupsen/logrus"
)

// JitterFactor is the symmetric fraction applied to every backoff delay.
const JitterFactor = 0.25

// Class is the retry classification of an error.
type Class int

const (
	// NonRetryable errors fail fast.
	NonRetryable Class = iota
	// Retryable errors are retried with backoff.
	Retryable
)

func (c Class) String() string {
	if c == Retryable {
		return "retryable"
	}
	return "non_retryable"
}

// deny-list wins over the allow-list.
var nonRetryableMarkers = []string{
	"err_cert_",
	"err_ssl",
	"ssl_protocol",
	"certificate",
	"x509",
	"tls: ",
	"err_invalid_url",
	"invalid url",
	"malformed",
	"unsupported protocol scheme",
	"missing protocol scheme",
}

var retryableMarkers = []string{
	"timeout",
	"timed out",
	"err_timed_out",
	"err_connection_reset",
	"econnreset",
	"connection reset",
	"err_connection_closed",
	"err_connection_refused",
	"err_connection_aborted",
	"err_empty_response",
	"err_network_changed",
	"err_internet_disconnected",
	"err_name_not_resolved",
	"err_proxy_connection_failed",
	"err_tunnel_connection_failed",
	"err_aborted",
	"navigation failed",
	"navigation timeout",
	"net::err_http2",
	"target closed",
	"session closed",
}

var networkMarkers = []string{
	"net::",
	"network",
	"connection",
	"socket",
	"dns",
	"eof",
	"proxy",
}

// Classify decides whether err is worth retrying.
func Classify(err error) Class {
	if err == nil {
		return NonRetryable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCircuitOpen) {
		return NonRetryable
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Op == "parse" {
		return NonRetryable
	}
	msg := strings.ToLower(err.Error())
	for _, m := range nonRetryableMarkers {
		if strings.Contains(msg, m) {
			return NonRetryable
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}
	for _, m := range retryableMarkers {
		if strings.Contains(msg, m) {
			return Retryable
		}
	}
	for _, m := range networkMarkers {
		if strings.Contains(msg, m) {
			return Retryable
		}
	}
	return NonRetryable
}

// IsRetryable is Classify(err) == Retryable.
func IsRetryable(err error) bool {
	return Classify(err) == Retryable
}

// RetryOptions configures WithRetry.
type RetryOptions struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Retryable overrides Classify when set.
	Retryable func(error) bool
	// OnBackoff, when set, sees every delay scheduled before a retry.
	OnBackoff func(attempt int, delay time.Duration)
	Logger    *logrus.Logger
	// Name labels log entries.
	Name string
}

// DefaultRetryOptions returns sensible defaults
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	}
}

func normalizeRetryOptions(opts RetryOptions) RetryOptions {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = time.Millisecond
	}
	if opts.MaxDelay < opts.InitialDelay {
		opts.MaxDelay = opts.InitialDelay
	}
	if opts.Multiplier < 1 {
		opts.Multiplier = 1
	}
	if opts.Retryable == nil {
		opts.Retryable = IsRetryable
	}
	return opts
}

// WithRetry runs op, retrying retryable failures with exponential backoff
// and jitter. The last error is returned once retries are exhausted; it
// remains reachable through errors.Is/As.
func WithRetry(ctx context.Context, opts RetryOptions, op func(ctx context.Context) error) error {
	opts = normalizeRetryOptions(opts)

	builder := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return err != nil && opts.Retryable(err)
		}).
		WithMaxRetries(opts.MaxRetries).
		WithDelayFunc(func(exec failsafe.ExecutionAttempt[any]) time.Duration {
			attempt := max(exec.Retries(), 0)
			d := BackoffDelay(opts, attempt, nil)
			if opts.OnBackoff != nil {
				opts.OnBackoff(attempt, d)
			}
			return d
		})
	if opts.Logger != nil {
		builder = builder.OnRetry(func(e failsafe.ExecutionEvent[any]) {
			opts.Logger.WithFields(logrus.Fields{
				"op":      opts.Name,
				"attempt": e.Attempts(),
				"error":   e.LastError(),
			}).Warn("Retrying after transient failure")
		})
	}

	_, err := failsafe.With[any](builder.Build()).WithContext(ctx).Get(func() (any, error) {
		return nil, op(ctx)
	})
	return err
}

// BackoffDelay computes the delay before retry number attempt (zero based):
// min(initial*multiplier^attempt, max) scaled by a factor in [0.75, 1.25].
func BackoffDelay(opts RetryOptions, attempt int, rnd *rand.Rand) time.Duration {
	opts = normalizeRetryOptions(opts)
	base := float64(opts.InitialDelay) * math.Pow(opts.Multiplier, float64(attempt))
	if base > float64(opts.MaxDelay) || math.IsInf(base, 1) {
		base = float64(opts.MaxDelay)
	}
	var r float64
	if rnd != nil {
		r = rnd.Float64()
	} else {
		r = rand.Float64()
	}
	jitter := (r*2 - 1) * JitterFactor
	return time.Duration(base * (1 + jitter))
}
