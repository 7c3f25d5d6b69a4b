// Package retry wraps fallible calls to external services with
// bounded, policy-driven retries and exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// StatusError carries the HTTP status of a failed upstream call so the
// retry classifier and the rate limiter can act on it. RetryAfter is
// populated from a Retry-After header when the server sent one.
type StatusError struct {
	Code       int
	RetryAfter time.Duration
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("upstream returned status %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("upstream returned status %d", e.Code)
}

// ExhaustedError is returned when every attempt failed. It unwraps to
// the last observed error.
type ExhaustedError struct {
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts over %s; %v", e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Attempt describes one attempt for the observability hook.
type Attempt struct {
	Number    int
	Delay     time.Duration
	Err       error
	Retryable bool
}

// Policy controls how Do behaves. The zero value is not usable;
// start from DefaultPolicy.
type Policy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64

	// Retryable decides whether an error is worth another attempt.
	// Nil means DefaultRetryable.
	Retryable func(error) bool

	// OnAttempt is called once per failed attempt, before any backoff
	// sleep. Nil is fine.
	OnAttempt func(Attempt)
}

// DefaultPolicy matches the budgets we use against both upstream APIs.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   4,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2,
	}
}

// DefaultRetryable retries network timeouts, connection resets and
// HTTP 408/429/5xx. Everything else fails immediately.
func DefaultRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == 408 || se.Code == 429 || se.Code >= 500
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	return false
}

// Do runs op until it succeeds, a non-retryable error occurs, the
// context is cancelled, or MaxAttempts is reached. Each call is
// independent; no state survives between calls.
func Do(ctx context.Context, policy Policy, op func(context.Context) error) error {
	if policy.MaxAttempts < 1 {
		return fmt.Errorf("retry policy needs at least one attempt, got %d", policy.MaxAttempts)
	}

	retryable := policy.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}

	start := time.Now()
	delay := policy.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry aborted; %w", err)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		canRetry := retryable(lastErr) && attempt < policy.MaxAttempts
		if policy.OnAttempt != nil {
			policy.OnAttempt(Attempt{
				Number:    attempt,
				Delay:     delay,
				Err:       lastErr,
				Retryable: canRetry,
			})
		}

		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxAttempts {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("retry aborted; %w", ctx.Err())
		}

		delay = time.Duration(float64(delay) * policy.BackoffFactor)
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	return &ExhaustedError{
		Attempts: policy.MaxAttempts,
		Elapsed:  time.Since(start),
		Err:      lastErr,
	}
}
