package payments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/stripe/stripe-go/v78"
)

const (
	// DefaultCallTimeout bounds a single gateway attempt.
	DefaultCallTimeout = 10 * time.Second
	defaultRetryDelay  = 200 * time.Millisecond
)

// HTTPStatusError reports a non-success HTTP response from a gateway API.
type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("payments: %s returned http %d: %s", e.Operation, e.StatusCode, e.Body)
}

// RetryPolicy bounds gateway calls.
type RetryPolicy struct {
	Timeout    time.Duration
	MaxRetries int
	Delay      time.Duration
}

// DefaultRetryPolicy allows one retry after a short pause.
func DefaultRetryPolicy(timeout time.Duration) RetryPolicy {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return RetryPolicy{Timeout: timeout, MaxRetries: 1, Delay: defaultRetryDelay}
}

// CallWithRetry runs fn with a per-attempt timeout. Only transient failures are retried and never
// more than once, whatever the policy asks for.
func CallWithRetry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	retries := policy.MaxRetries
	if retries > 1 {
		retries = 1
	}
	if retries < 0 {
		retries = 0
	}
	var (
		result T
		err    error
	)
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 && policy.Delay > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(policy.Delay):
			}
		}
		result, err = callOnce(ctx, policy.Timeout, fn)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil || !IsTransient(err) {
			return result, err
		}
	}
	return result, err
}

func callOnce[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

// IsTransient reports whether err is a timeout, a dropped connection or a 5xx response.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode >= 500
	}
	return false
}
