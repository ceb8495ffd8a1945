package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func fail() error    { return errBoom }
func succeed() error { return nil }

func TestCircuitBreaker_OpensAfterFailureThreshold(t *testing.T) {
	cb := New(Config{FailureThreshold: 3, SuccessThreshold: 1, OpenTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		if err := cb.Execute(fail); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: expected underlying error, got %v", i, err)
		}
	}

	if got := cb.State(); got != StateOpen {
		t.Fatalf("expected open after %d failures, got %s", 3, got)
	}

	// Open breaker rejects without invoking the function.
	invoked := false
	err := cb.Execute(func() error {
		invoked = true
		return nil
	})
	if err == nil {
		t.Fatal("expected rejection while open")
	}
	if invoked {
		t.Fatal("function must not run while breaker is open")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{FailureThreshold: 3, SuccessThreshold: 1, OpenTimeout: time.Minute})

	cb.Execute(fail)
	cb.Execute(fail)
	cb.Execute(succeed)
	cb.Execute(fail)
	cb.Execute(fail)

	if got := cb.State(); got != StateClosed {
		t.Fatalf("expected closed, got %s", got)
	}
}

func TestCircuitBreaker_HalfOpenProbeAndRecovery(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: 10 * time.Millisecond})

	cb.Execute(fail)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("expected open, got %s", got)
	}

	time.Sleep(20 * time.Millisecond)
	if got := cb.State(); got != StateHalfOpen {
		t.Fatalf("expected half-open after timeout, got %s", got)
	}

	// One success is not enough with SuccessThreshold 2.
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("probe call failed: %v", err)
	}
	if got := cb.State(); got != StateHalfOpen {
		t.Fatalf("expected still half-open, got %s", got)
	}

	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("probe call failed: %v", err)
	}
	if got := cb.State(); got != StateClosed {
		t.Fatalf("expected closed after recovery, got %s", got)
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: 10 * time.Millisecond})

	cb.Execute(fail)
	time.Sleep(20 * time.Millisecond)

	if err := cb.Execute(fail); !errors.Is(err, errBoom) {
		t.Fatalf("expected probe to run and fail, got %v", err)
	}
	if got := cb.State(); got != StateOpen {
		t.Fatalf("expected reopened, got %s", got)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Minute})

	var transitions []string
	cb.OnStateChange(func(from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	cb.Execute(fail)

	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Fatalf("unexpected transitions: %v", transitions)
	}
}
