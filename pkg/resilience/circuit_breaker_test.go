package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 2,
		OpenTimeout:      200 * time.Millisecond,
	})

	fail := func(context.Context) error { return errors.New("boom") }

	if err := cb.Execute(context.Background(), fail); err == nil {
		t.Fatalf("expected first failure")
	}
	if err := cb.Execute(context.Background(), fail); err == nil {
		t.Fatalf("expected second failure")
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("expected circuit open, got %s", cb.State())
	}
	if err := cb.Execute(context.Background(), fail); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestCircuitBreakerHalfOpenClosesOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenTimeout:      100 * time.Millisecond,
	})

	_ = cb.Execute(context.Background(), func(context.Context) error {
		return errors.New("boom")
	})
	time.Sleep(120 * time.Millisecond)

	if err := cb.Execute(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("expected success in half-open, got %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("expected circuit closed, got %s", cb.State())
	}
}

func TestCircuitBreakerOpenErrorCarriesRetryAfter(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "node-a:8081",
		FailureThreshold: 1,
		OpenTimeout:      200 * time.Millisecond,
	})

	_ = cb.Execute(context.Background(), func(context.Context) error {
		return errors.New("boom")
	})

	err := cb.Execute(context.Background(), func(context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	var openErr *CircuitOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected CircuitOpenError, got %T", err)
	}
	if openErr.RetryAfter <= 0 {
		t.Fatalf("expected positive retry_after, got %s", openErr.RetryAfter)
	}
	if openErr.Name != "node-a:8081" {
		t.Fatalf("expected name node-a:8081, got %s", openErr.Name)
	}
}

func TestCircuitBreakerIgnoresNonFailures(t *testing.T) {
	notFound := errors.New("not found")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, notFound) },
	})

	for i := 0; i < 3; i++ {
		if err := cb.Execute(context.Background(), func(context.Context) error { return notFound }); !errors.Is(err, notFound) {
			t.Fatalf("expected not found passthrough, got %v", err)
		}
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("expected circuit closed, got %s", cb.State())
	}
}

func TestBreakerSetIsolatesPeers(t *testing.T) {
	set := NewBreakerSet(CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: time.Second})

	_ = set.Execute(context.Background(), "a:7000", func(context.Context) error { return errors.New("boom") })
	if err := set.Execute(context.Background(), "b:7000", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("expected b to be unaffected, got %v", err)
	}

	states := set.States()
	if states["a:7000"] != CircuitOpen || states["b:7000"] != CircuitClosed {
		t.Fatalf("unexpected states: %v", states)
	}

	var openErr *CircuitOpenError
	err := set.Execute(context.Background(), "a:7000", func(context.Context) error { return nil })
	if !errors.As(err, &openErr) || openErr.Name != "a:7000" {
		t.Fatalf("expected open error named a:7000, got %v", err)
	}

	set.Forget("a:7000")
	if err := set.Execute(context.Background(), "a:7000", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("expected fresh breaker after Forget, got %v", err)
	}
}

func TestCircuitBreakerDefaultClassifierIgnoresRequestErrors(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "b", FailureThreshold: 1})

	for _, code := range []codes.Code{codes.NotFound, codes.FailedPrecondition, codes.InvalidArgument} {
		_ = cb.Execute(context.Background(), func(context.Context) error { return status.Error(code, "x") })
	}
	_ = cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	if cb.State() != CircuitClosed {
		t.Fatalf("expected circuit closed, got %s", cb.State())
	}

	_ = cb.Execute(context.Background(), func(context.Context) error { return status.Error(codes.Unavailable, "down") })
	if cb.State() != CircuitOpen {
		t.Fatalf("expected circuit open after unavailable, got %s", cb.State())
	}
}

func TestCircuitBreakerDiscardsOutcomeFromEarlierState(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "b",
		FailureThreshold: 1,
		OpenTimeout:      50 * time.Millisecond,
	})

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- cb.Execute(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return errors.New("late timeout")
		})
	}()
	<-started

	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })
	time.Sleep(60 * time.Millisecond)
	if err := cb.Execute(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("expected trial call to pass, got %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("expected circuit closed after trial call, got %s", cb.State())
	}

	close(release)
	<-done
	if cb.State() != CircuitClosed {
		t.Fatalf("a call admitted before the trip must not reopen the circuit, got %s", cb.State())
	}
}

func TestCircuitBreakerStats(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "b",
		FailureThreshold: 2,
		OpenTimeout:      time.Second,
	})

	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })
	st := cb.Stats()
	if st.State != CircuitClosed || st.Failures != 1 || st.Trips != 0 {
		t.Fatalf("unexpected stats after one failure: %+v", st)
	}

	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("refused") })
	st = cb.Stats()
	if st.State != CircuitOpen || st.Trips != 1 || st.LastError != "refused" {
		t.Fatalf("unexpected stats after trip: %+v", st)
	}
	if st.RetryAfter <= 0 || st.RetryAfter > time.Second {
		t.Fatalf("expected retry_after within open timeout, got %s", st.RetryAfter)
	}
}
