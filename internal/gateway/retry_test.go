package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetryDo_BoundedAttemptsAndLastError(t *testing.T) {
	lastErr := errors.New("rate limit exceeded (attempt 3)")
	calls := 0
	err := retryDo(context.Background(), retryPolicy{Attempts: 3, BaseDelay: time.Millisecond}, func() error {
		calls++
		if calls == 3 {
			return lastErr
		}
		return fmt.Errorf("rate limit exceeded (attempt %d)", calls)
	})

	if calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}
	if !errors.Is(err, lastErr) {
		t.Fatalf("expected last observed error, got %v", err)
	}
}

func TestRetryDo_SucceedsMidway(t *testing.T) {
	calls := 0
	err := retryDo(context.Background(), retryPolicy{Attempts: 3, BaseDelay: time.Millisecond}, func() error {
		calls++
		if calls < 2 {
			return errors.New("request timed out")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestRetryDo_RotatesOnlyOnTransient(t *testing.T) {
	rotations := 0
	policy := retryPolicy{
		Attempts:    3,
		BaseDelay:   time.Millisecond,
		OnTransient: func(int, error) { rotations++ },
	}

	err := retryDo(context.Background(), policy, func() error {
		return errors.New("invalid argument: malformed transaction")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if rotations != 0 {
		t.Fatalf("non-transient error must not rotate, got %d rotations", rotations)
	}

	rotations = 0
	err = retryDo(context.Background(), policy, func() error {
		return errors.New("429 too many requests")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if rotations != 3 {
		t.Fatalf("expected one rotation per transient attempt, got %d", rotations)
	}
}

func TestRetryDo_ExhaustedPoolAdvancesCursor(t *testing.T) {
	pool, err := NewPool([]string{"http://a", "http://b", "http://c"})
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}

	policy := retryPolicy{
		Attempts:    3,
		BaseDelay:   time.Millisecond,
		OnTransient: func(int, error) { pool.Rotate() },
	}
	err = retryDo(context.Background(), policy, func() error {
		return errors.New("503 service unavailable")
	})
	if err == nil {
		t.Fatal("expected final error after exhausting retries")
	}
	// three rotations over a three-endpoint pool wrap back to the start
	if pool.Index() != 0 {
		t.Fatalf("expected cursor wrapped to 0, got %d", pool.Index())
	}
}

func TestRetryDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retryDo(ctx, retryPolicy{Attempts: 3, BaseDelay: time.Millisecond}, func() error {
		t.Fatal("fn must not run with a cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err       error
		transient bool
	}{
		{nil, false},
		{errors.New("429 Too Many Requests"), true},
		{errors.New("rate limit exceeded"), true},
		{errors.New("503 Service Unavailable"), true},
		{errors.New("i/o timeout"), true},
		{errors.New("context deadline exceeded"), true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("read: connection reset by peer"), true},
		{errors.New("invalid argument"), false},
		{errors.New("nonce too low"), false},
		{errors.New("insufficient funds for gas * price + value"), false},
	}
	for _, tc := range cases {
		if got := isTransient(tc.err); got != tc.transient {
			t.Errorf("isTransient(%v) = %v, expected %v", tc.err, got, tc.transient)
		}
	}
}
