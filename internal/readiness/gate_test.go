package readiness

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestAwaitRunsActionsExactlyOnce(t *testing.T) {
	gate := NewGate(time.Millisecond, nil)

	//1.- The first condition is ready immediately, the second only on pass 3.
	var passes atomic.Int32
	var firstInits, secondInits atomic.Int32

	conditions := []Condition{
		{
			Name:  "account-info",
			Ready: func() bool { return true },
			Init:  func() error { firstInits.Add(1); return nil },
		},
		{
			Name: "inventory",
			// Each evaluation of this predicate marks another pass; it turns
			// true on the third sweep.
			Ready: func() bool { return passes.Add(1) >= 3 },
			Init:  func() error { secondInits.Add(1); return nil },
		},
	}

	if err := gate.Await(context.Background(), conditions); err != nil {
		t.Fatalf("Await returned error: %v", err)
	}

	//2.- The fast condition's action fired on pass 1 and never again, even
	// though passes 2 and 3 re-swept the condition list.
	if got := firstInits.Load(); got != 1 {
		t.Fatalf("expected first action to run once, ran %d times", got)
	}
	if got := secondInits.Load(); got != 1 {
		t.Fatalf("expected second action to run once, ran %d times", got)
	}
	if got := passes.Load(); got != 3 {
		t.Fatalf("expected completion on pass 3, saw %d predicate sweeps", got)
	}
}

func TestAwaitRetriesFailedAction(t *testing.T) {
	gate := NewGate(time.Millisecond, nil)

	var attempts atomic.Int32
	var otherInits atomic.Int32
	conditions := []Condition{
		{
			Name:  "flaky",
			Ready: func() bool { return true },
			Init: func() error {
				if attempts.Add(1) < 3 {
					return errors.New("host call failed")
				}
				return nil
			},
		},
		{
			Name:  "steady",
			Ready: func() bool { return true },
			Init:  func() error { otherInits.Add(1); return nil },
		},
	}

	if err := gate.Await(context.Background(), conditions); err != nil {
		t.Fatalf("Await returned error: %v", err)
	}

	//1.- The failing action was retried until it succeeded.
	if got := attempts.Load(); got != 3 {
		t.Fatalf("expected 3 action attempts, got %d", got)
	}
	//2.- The sibling condition was not blocked and its action ran only once.
	if got := otherInits.Load(); got != 1 {
		t.Fatalf("expected sibling action to run once, ran %d times", got)
	}
}

func TestAwaitRecoversPanickingAction(t *testing.T) {
	gate := NewGate(time.Millisecond, nil)

	var attempts atomic.Int32
	conditions := []Condition{{
		Name:  "explosive",
		Ready: func() bool { return true },
		Init: func() error {
			if attempts.Add(1) == 1 {
				panic("host object disappeared")
			}
			return nil
		},
	}}

	if err := gate.Await(context.Background(), conditions); err != nil {
		t.Fatalf("Await returned error: %v", err)
	}
	if got := attempts.Load(); got != 2 {
		t.Fatalf("expected panic then retry, got %d attempts", got)
	}
}

func TestAwaitCancellable(t *testing.T) {
	gate := NewGate(time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())

	conditions := []Condition{{
		Name:  "never",
		Ready: func() bool { return false },
	}}

	done := make(chan error, 1)
	go func() { done <- gate.Await(ctx, conditions) }()

	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected cancellation error")
		}
	case <-time.After(time.Second):
		t.Fatal("Await did not observe cancellation")
	}
}

func TestResetForcesActionsToRunAgain(t *testing.T) {
	gate := NewGate(time.Millisecond, nil)

	var inits atomic.Int32
	conditions := []Condition{{
		Name:  "account-info",
		Ready: func() bool { return true },
		Init:  func() error { inits.Add(1); return nil },
	}}

	if err := gate.Await(context.Background(), conditions); err != nil {
		t.Fatalf("first Await: %v", err)
	}
	//1.- A second Await without Reset is an idempotent no-op.
	if err := gate.Await(context.Background(), conditions); err != nil {
		t.Fatalf("second Await: %v", err)
	}
	if got := inits.Load(); got != 1 {
		t.Fatalf("expected one action run before reset, got %d", got)
	}

	//2.- After Reset the session starts over and the action runs once more.
	gate.Reset()
	if err := gate.Await(context.Background(), conditions); err != nil {
		t.Fatalf("Await after reset: %v", err)
	}
	if got := inits.Load(); got != 2 {
		t.Fatalf("expected action to run again after reset, got %d", got)
	}
}
