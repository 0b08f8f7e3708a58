package publish

import (
	"errors"
	"testing"
	"time"
)

func TestBreaker_StartsClosed(t *testing.T) {
	b := newBreaker(3, 100*time.Millisecond)
	if b.currentState() != BreakerClosed {
		t.Errorf("expected closed, got %v", b.currentState())
	}
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	b := newBreaker(3, 100*time.Millisecond)
	errFail := errors.New("fail")

	for i := 0; i < 3; i++ {
		if err := b.execute(func() error { return errFail }); err != errFail {
			t.Fatalf("expected errFail, got %v", err)
		}
	}

	if b.currentState() != BreakerOpen {
		t.Errorf("expected open after 3 failures, got %v", b.currentState())
	}

	// Writes are rejected immediately while open
	if err := b.execute(func() error { return nil }); err != ErrBreakerOpen {
		t.Errorf("expected ErrBreakerOpen, got %v", err)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b := newBreaker(2, 50*time.Millisecond)

	errFail := errors.New("fail")
	for i := 0; i < 2; i++ {
		b.execute(func() error { return errFail })
	}
	if b.currentState() != BreakerOpen {
		t.Fatal("expected open")
	}

	time.Sleep(60 * time.Millisecond)

	if err := b.execute(func() error { return nil }); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if b.currentState() != BreakerClosed {
		t.Errorf("expected closed after successful probe, got %v", b.currentState())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := newBreaker(2, 50*time.Millisecond)
	errFail := errors.New("fail")

	for i := 0; i < 2; i++ {
		b.execute(func() error { return errFail })
	}

	time.Sleep(60 * time.Millisecond)
	b.execute(func() error { return errFail })

	if b.currentState() != BreakerOpen {
		t.Errorf("expected open after failed probe, got %v", b.currentState())
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := newBreaker(3, 100*time.Millisecond)
	errFail := errors.New("fail")

	b.execute(func() error { return errFail })
	b.execute(func() error { return errFail })
	b.execute(func() error { return nil }) // resets counter

	b.execute(func() error { return errFail })
	b.execute(func() error { return errFail })

	if b.currentState() != BreakerClosed {
		t.Errorf("expected closed (counter should have reset), got %v", b.currentState())
	}
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	var transitions []BreakerState
	b := newBreaker(1, 50*time.Millisecond)
	b.onStateChange = func(from, to BreakerState) {
		transitions = append(transitions, to)
	}

	b.execute(func() error { return errors.New("fail") })

	if len(transitions) != 1 || transitions[0] != BreakerOpen {
		t.Errorf("expected [open], got %v", transitions)
	}

	time.Sleep(60 * time.Millisecond)
	b.execute(func() error { return nil })

	if len(transitions) != 3 {
		t.Fatalf("expected 3 transitions, got %d: %v", len(transitions), transitions)
	}
	if transitions[1] != BreakerHalfOpen || transitions[2] != BreakerClosed {
		t.Errorf("expected [open, half-open, closed], got %v", transitions)
	}
}
