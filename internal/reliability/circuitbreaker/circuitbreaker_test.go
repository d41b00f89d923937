package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

func TestBreakerTripsAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(2, 1, 20*time.Millisecond)
	fail := errors.New("db down")

	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return fail }, nil); !errors.Is(err, fail) {
			t.Fatalf("expected passthrough error, got %v", err)
		}
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.GetState())
	}
	if err := cb.Execute(func() error { return nil }, nil); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if err := cb.Execute(func() error { return nil }, nil); err != nil {
		t.Fatalf("expected half-open probe to pass, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed after successful probe, got %s", cb.GetState())
	}
}

func TestBreakerIgnoresUncountedErrors(t *testing.T) {
	cb := NewCircuitBreaker(1, 1, time.Minute)
	userErr := errors.New("bad request")
	_ = cb.Execute(func() error { return userErr }, func(err error) bool { return !errors.Is(err, userErr) })
	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.GetState())
	}
}
