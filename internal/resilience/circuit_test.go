package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func failingCall(_ context.Context) error {
	return errors.New("upstream failure")
}

func succeedingCall(_ context.Context) error {
	return nil
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})
	ctx := context.Background()

	for range 3 {
		_ = cb.Execute(ctx, failingCall)
	}

	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("expected open circuit, got %v", got)
	}

	var called bool
	err := cb.Execute(ctx, func(_ context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("open circuit must not invoke the call")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})
	ctx := context.Background()

	_ = cb.Execute(ctx, failingCall)
	_ = cb.Execute(ctx, failingCall)
	_ = cb.Execute(ctx, succeedingCall)
	_ = cb.Execute(ctx, failingCall)
	_ = cb.Execute(ctx, failingCall)

	if got := cb.State(); got != CircuitClosed {
		t.Errorf("expected closed circuit after interleaved success, got %v", got)
	}
	failures, _ := cb.Counters()
	if failures != 2 {
		t.Errorf("expected 2 consecutive failures, got %d", failures)
	}
}

func TestCircuitBreaker_SuccessfulProbeCloses(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     10 * time.Second,
	})
	cb.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	_ = cb.Execute(ctx, failingCall)
	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("expected open circuit, got %v", got)
	}

	now = now.Add(11 * time.Second)
	if got := cb.State(); got != CircuitHalfOpen {
		t.Fatalf("expected half-open circuit after reset timeout, got %v", got)
	}

	if err := cb.Execute(ctx, succeedingCall); err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if got := cb.State(); got != CircuitClosed {
		t.Errorf("expected closed circuit after successful probe, got %v", got)
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     10 * time.Second,
	})
	cb.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	_ = cb.Execute(ctx, failingCall)
	now = now.Add(11 * time.Second)

	_ = cb.Execute(ctx, failingCall)
	if got := cb.State(); got != CircuitOpen {
		t.Errorf("expected reopened circuit after failed probe, got %v", got)
	}
}

func TestCircuitBreaker_ShouldTripFilter(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ShouldTrip: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
	})
	ctx := context.Background()

	for range 5 {
		_ = cb.Execute(ctx, func(_ context.Context) error {
			return context.Canceled
		})
	}

	if got := cb.State(); got != CircuitClosed {
		t.Errorf("filtered errors must not open the circuit, got %v", got)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	type change struct{ from, to CircuitState }
	var changes []change
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		OnStateChange: func(from, to CircuitState) {
			changes = append(changes, change{from, to})
		},
	})

	_ = cb.Execute(context.Background(), failingCall)

	if len(changes) != 1 || changes[0].from != CircuitClosed || changes[0].to != CircuitOpen {
		t.Errorf("expected closed->open transition, got %v", changes)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	_ = cb.Execute(context.Background(), failingCall)

	cb.Reset()

	if got := cb.State(); got != CircuitClosed {
		t.Errorf("expected closed circuit after reset, got %v", got)
	}
	failures, _ := cb.Counters()
	if failures != 0 {
		t.Errorf("expected reset failure count, got %d", failures)
	}
}

func TestExecuteVal_PassesValueThrough(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	val, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (int, error) {
		return 7, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 7 {
		t.Errorf("expected 7, got %d", val)
	}
}

func TestExecuteVal_OpenCircuitReturnsZero(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	_ = cb.Execute(context.Background(), failingCall)

	val, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (string, error) {
		return "should not run", nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if val != "" {
		t.Errorf("expected zero value, got %q", val)
	}
}

func TestCircuitState_String(t *testing.T) {
	cases := map[CircuitState]string{
		CircuitClosed:   "closed",
		CircuitOpen:     "open",
		CircuitHalfOpen: "half-open",
		CircuitState(9): "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("state %d: expected %q, got %q", state, want, got)
		}
	}
}
