package pstate

import (
	"context"
	"errors"
	"testing"
)

func TestRecoverOnceTransitionsToReady(t *testing.T) {
	l := newLifecycle("t-0", NewLogger(nil))
	called := 0
	err := l.recoverOnce(context.Background(), func(ctx context.Context) error {
		called++
		return nil
	})
	if err != nil {
		t.Fatalf("recoverOnce: %v", err)
	}
	if called != 1 {
		t.Fatalf("fn called %d times, want 1", called)
	}
	if l.get() != StateReady {
		t.Fatalf("state = %v, want READY", l.get())
	}

	// Second call is an immediate no-op success, fn not invoked again.
	if err := l.recoverOnce(context.Background(), func(ctx context.Context) error {
		called++
		return nil
	}); err != nil {
		t.Fatalf("second recoverOnce: %v", err)
	}
	if called != 1 {
		t.Fatalf("fn invoked again on already-READY manager")
	}
}

func TestRecoverOnceFailureIsTerminal(t *testing.T) {
	l := newLifecycle("t-0", NewLogger(nil))
	boom := errors.New("boom")

	err := l.recoverOnce(context.Background(), func(ctx context.Context) error { return boom })
	if err == nil {
		t.Fatalf("expected error")
	}
	if l.get() != StateRecoverError {
		t.Fatalf("state = %v, want RECOVER_ERROR", l.get())
	}

	// Subsequent calls fail immediately without re-running fn.
	called := false
	err = l.recoverOnce(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatalf("expected recovery to remain terminal")
	}
	if called {
		t.Fatalf("fn invoked again on terminal RECOVER_ERROR manager")
	}
	if !errors.Is(err, ErrRecoveryFailed) {
		t.Fatalf("expected error to unwrap to ErrRecoveryFailed, got %v", err)
	}
}

func TestRequireReadyRejectsNonReadyStates(t *testing.T) {
	l := newLifecycle("t-0", NewLogger(nil))
	if err := l.requireReady(); err == nil {
		t.Fatalf("expected error while in INIT")
	}
}
