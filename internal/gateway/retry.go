package gateway

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

const (
	retryAttempts  = 3
	retryBaseDelay = 1200 * time.Millisecond
)

// retryPolicy bounds a call to retryAttempts tries with a linearly increasing
// delay. OnTransient fires before each re-attempt caused by a transient error
// and is where endpoint rotation hooks in.
type retryPolicy struct {
	Attempts    int
	BaseDelay   time.Duration
	OnTransient func(attempt int, err error)
}

// retryDo runs fn until it succeeds or the attempts are exhausted, returning
// the last observed error. Non-transient errors are retried without rotating.
func retryDo(ctx context.Context, p retryPolicy, fn func() error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if isTransient(err) && p.OnTransient != nil {
			p.OnTransient(attempt, err)
		}
		if attempt == p.Attempts {
			break
		}

		wait := p.BaseDelay * time.Duration(attempt)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

// isTransient classifies errors that are likely to resolve on retry or
// endpoint change: rate limiting, timeouts, temporary unavailability.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range []string{
		"429",
		"too many requests",
		"rate limit",
		"503",
		"service unavailable",
		"timeout",
		"timed out",
		"deadline exceeded",
		"connection refused",
		"connection reset",
		"temporarily unavailable",
	} {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
