package circuit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/s3gallery/s3gallery/pkg/errors"
)

var errNetwork = errors.NewError(errors.ErrCodeNetworkError, "connection reset")

func failing(context.Context) error { return errNetwork }

func succeeding(context.Context) error { return nil }

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		state State
		want  string
	}{
		{"Closed state", StateClosed, "CLOSED"},
		{"Open state", StateOpen, "OPEN"},
		{"Half-open state", StateHalfOpen, "HALF_OPEN"},
		{"Unknown state", State(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewBreaker_Defaults(t *testing.T) {
	t.Parallel()

	b := NewBreaker("source.get", Config{})

	if b.Name() != "source.get" {
		t.Errorf("Name() = %q, want %q", b.Name(), "source.get")
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want %v", b.State(), StateClosed)
	}
	if b.config.ConsecutiveFailures != 5 {
		t.Errorf("default ConsecutiveFailures = %d, want 5", b.config.ConsecutiveFailures)
	}
	if b.config.MaxRequests != 1 {
		t.Errorf("default MaxRequests = %d, want 1", b.config.MaxRequests)
	}
	if b.config.Timeout != 30*time.Second {
		t.Errorf("default Timeout = %v, want %v", b.config.Timeout, 30*time.Second)
	}
}

func TestIsStoreHealthy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"not found", errors.NewError(errors.ErrCodeObjectNotFound, "missing"), true},
		{"wrapped not found", errors.Wrap(errors.ErrCodeFetchFailed, "fetch", errors.NewError(errors.ErrCodeObjectNotFound, "missing")), true},
		{"access denied", errors.NewError(errors.ErrCodeAccessDenied, "denied"), true},
		{"caller canceled", fmt.Errorf("get: %w", context.Canceled), true},
		{"network", errNetwork, false},
		{"throttled", errors.NewError(errors.ErrCodeSlowDown, "slow down"), false},
		{"plain", fmt.Errorf("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsStoreHealthy(tt.err); got != tt.want {
				t.Errorf("IsStoreHealthy(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestBreaker_CountsOutcomes(t *testing.T) {
	t.Parallel()

	b := NewBreaker("test", Config{ConsecutiveFailures: 10})
	ctx := context.Background()

	if err := b.Execute(ctx, succeeding); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if err := b.Execute(ctx, failing); err != errNetwork {
		t.Errorf("Execute() error = %v, want the call's own error", err)
	}

	counts := b.Counts()
	if counts.Requests != 2 || counts.TotalSuccesses != 1 || counts.TotalFailures != 1 {
		t.Errorf("counts = %+v", counts)
	}
	if counts.ConsecutiveFailures != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1", counts.ConsecutiveFailures)
	}
}

func TestBreaker_TripsAndRejects(t *testing.T) {
	t.Parallel()

	b := NewBreaker("test", Config{ConsecutiveFailures: 3, Timeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failing)
	}
	if b.State() != StateOpen {
		t.Fatalf("state after failures = %v, want %v", b.State(), StateOpen)
	}

	called := false
	err := b.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if called {
		t.Error("function should not be called while the breaker is open")
	}
	if !errors.HasCode(err, errors.ErrCodeCircuitOpen) {
		t.Errorf("Execute() error = %v, want CIRCUIT_OPEN", err)
	}
}

func TestBreaker_HealthyErrorsDoNotTrip(t *testing.T) {
	t.Parallel()

	b := NewBreaker("test", Config{ConsecutiveFailures: 2})
	notFound := errors.NewError(errors.ErrCodeObjectNotFound, "missing")

	for i := 0; i < 5; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return notFound })
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want %v", b.State(), StateClosed)
	}
}

func TestBreaker_SuccessResetsStreak(t *testing.T) {
	t.Parallel()

	b := NewBreaker("test", Config{ConsecutiveFailures: 3})
	ctx := context.Background()

	_ = b.Execute(ctx, failing)
	_ = b.Execute(ctx, failing)
	_ = b.Execute(ctx, succeeding)
	_ = b.Execute(ctx, failing)
	_ = b.Execute(ctx, failing)

	if b.State() != StateClosed {
		t.Errorf("state = %v, want %v", b.State(), StateClosed)
	}
}

func TestBreaker_StateTransitions(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var changes []string

	b := NewBreaker("test", Config{
		ConsecutiveFailures: 1,
		Timeout:             50 * time.Millisecond,
		OnStateChange: func(name string, from State, to State) {
			mu.Lock()
			defer mu.Unlock()
			changes = append(changes, from.String()+"->"+to.String())
		},
	})
	ctx := context.Background()

	_ = b.Execute(ctx, failing)
	time.Sleep(100 * time.Millisecond)

	if b.State() != StateHalfOpen {
		t.Fatalf("state after timeout = %v, want %v", b.State(), StateHalfOpen)
	}
	if err := b.Execute(ctx, succeeding); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state after trial call = %v, want %v", b.State(), StateClosed)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}
	if fmt.Sprint(changes) != fmt.Sprint(want) {
		t.Errorf("state changes = %v, want %v", changes, want)
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	b := NewBreaker("test", Config{ConsecutiveFailures: 1, Timeout: 50 * time.Millisecond})
	ctx := context.Background()

	_ = b.Execute(ctx, failing)
	time.Sleep(100 * time.Millisecond)
	_ = b.Execute(ctx, failing)

	if b.State() != StateOpen {
		t.Errorf("state = %v, want %v", b.State(), StateOpen)
	}
}

func TestBreaker_HalfOpenLimitsTrialCalls(t *testing.T) {
	t.Parallel()

	b := NewBreaker("test", Config{ConsecutiveFailures: 1, MaxRequests: 1, Timeout: 50 * time.Millisecond})
	ctx := context.Background()

	_ = b.Execute(ctx, failing)
	time.Sleep(100 * time.Millisecond)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := b.Execute(ctx, succeeding)
	close(release)
	<-done

	if !errors.HasCode(err, errors.ErrCodeCircuitOpen) {
		t.Errorf("second trial call error = %v, want CIRCUIT_OPEN", err)
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()

	b := NewBreaker("test", Config{ConsecutiveFailures: 1, Timeout: time.Minute})
	_ = b.Execute(context.Background(), failing)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want %v", b.State(), StateOpen)
	}

	b.Reset()

	if b.State() != StateClosed {
		t.Errorf("state after reset = %v, want %v", b.State(), StateClosed)
	}
	if b.Counts().Requests != 0 {
		t.Errorf("counts not cleared: %+v", b.Counts())
	}
}

func TestBreaker_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	b := NewBreaker("test", Config{ConsecutiveFailures: 1000})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = b.Execute(ctx, succeeding)
			} else {
				_ = b.Execute(ctx, failing)
			}
		}(i)
	}
	wg.Wait()

	counts := b.Counts()
	if counts.Requests != 50 || counts.TotalSuccesses+counts.TotalFailures != 50 {
		t.Errorf("counts = %+v, want 50 requests", counts)
	}
}
