package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, Multiplier: 1.0}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastPolicy(3), "op", func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got != 42 || calls != 1 {
		t.Errorf("Do() = %d after %d calls, want 42 after 1", got, calls)
	}
}

func TestDo_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastPolicy(3), "op", func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("Do() = %q after %d calls, want \"ok\" after 3", got, calls)
	}
}

func TestDo_ExhaustionReturnsLastErrorUnchanged(t *testing.T) {
	last := errors.New("final failure")
	calls := 0
	_, err := Do(context.Background(), fastPolicy(3), "op", func(ctx context.Context) (int, error) {
		calls++
		if calls == 3 {
			return 0, last
		}
		return 0, errors.New("earlier failure")
	})
	if !errors.Is(err, last) {
		t.Errorf("Do() error = %v, want the last error unchanged", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	fatal := errors.New("validation")
	policy := fastPolicy(5)
	policy.Retryable = func(err error) bool { return !errors.Is(err, fatal) }

	calls := 0
	_, err := Do(context.Background(), policy, "op", func(ctx context.Context) (int, error) {
		calls++
		return 0, fatal
	})
	if !errors.Is(err, fatal) {
		t.Errorf("Do() error = %v, want %v", err, fatal)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (non-retryable must not retry)", calls)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Minute, Multiplier: 2.0}

	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, policy, "op", func(ctx context.Context) (int, error) {
			return 0, errors.New("transient")
		})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Do() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Do() did not return after context cancellation")
	}
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, Multiplier: 2.0}
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := p.delay(tt.retry); got != tt.want {
			t.Errorf("delay(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"default is valid", DefaultPolicy(), false},
		{"zero attempts", Policy{MaxAttempts: 0, Multiplier: 2}, true},
		{"negative delay", Policy{MaxAttempts: 1, BaseDelay: -1, Multiplier: 2}, true},
		{"multiplier below one", Policy{MaxAttempts: 1, Multiplier: 0.5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
