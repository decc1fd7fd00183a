package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errTestError = errors.New("test error")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewWithClock(cfg, clock.Now), clock
}

func testConfig() Config {
	return Config{
		FailureThreshold:    2,
		SuccessThreshold:    2,
		Timeout:             time.Second,
		MaxRequestsHalfOpen: 3,
	}
}

func succeed(context.Context) error { return nil }
func fail(context.Context) error    { return errTestError }

func openBreaker(t *testing.T, cb *CircuitBreaker) {
	t.Helper()
	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected state Open, got: %v", cb.GetState())
	}
}

func TestCircuitBreaker_ClosedState(t *testing.T) {
	cb, _ := newTestBreaker(DefaultConfig())

	if err := cb.Execute(context.Background(), succeed); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	err := cb.Execute(context.Background(), fail)
	if !errors.Is(err, errTestError) {
		t.Errorf("Expected the function's error, got: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state Closed, got: %v", cb.GetState())
	}
	if stats := cb.GetStats(); stats.FailureCount != 1 || stats.SuccessCount != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestCircuitBreaker_OpenRejectsWithoutCalling(t *testing.T) {
	cb, _ := newTestBreaker(testConfig())
	openBreaker(t, cb)

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Expected ErrOpen, got: %v", err)
	}
	if called {
		t.Error("Function must not run while open")
	}
}

func TestCircuitBreaker_HalfOpenCloses(t *testing.T) {
	cb, clock := newTestBreaker(testConfig())
	openBreaker(t, cb)

	clock.Advance(time.Second)

	if err := cb.Execute(context.Background(), succeed); err != nil {
		t.Fatalf("Expected probe to pass, got: %v", err)
	}
	if cb.GetState() != StateHalfOpen {
		t.Errorf("Expected state HalfOpen, got: %v", cb.GetState())
	}
	if err := cb.Execute(context.Background(), succeed); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state Closed, got: %v", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(testConfig())
	openBreaker(t, cb)

	clock.Advance(time.Second)
	_ = cb.Execute(context.Background(), fail)

	if cb.GetState() != StateOpen {
		t.Errorf("Expected state Open, got: %v", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenLimit(t *testing.T) {
	cfg := testConfig()
	cfg.SuccessThreshold = 5
	cfg.MaxRequestsHalfOpen = 2
	cb, clock := newTestBreaker(cfg)
	openBreaker(t, cb)
	clock.Advance(time.Second)

	for i := 0; i < 2; i++ {
		if err := cb.Execute(context.Background(), succeed); err != nil {
			t.Errorf("Probe %d should be allowed, got: %v", i+1, err)
		}
	}
	if err := cb.Execute(context.Background(), succeed); !errors.Is(err, ErrOpen) {
		t.Errorf("Expected ErrOpen once probes are used up, got: %v", err)
	}
}

func TestCircuitBreaker_CancelledContextIsNotAFailure(t *testing.T) {
	cb, _ := newTestBreaker(testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	err := cb.Execute(ctx, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
	if stats := cb.GetStats(); stats.FailureCount != 0 {
		t.Errorf("Expected no recorded failure, got: %d", stats.FailureCount)
	}
}

func TestExecuteWithResult(t *testing.T) {
	cb, _ := newTestBreaker(testConfig())

	got, err := ExecuteWithResult(context.Background(), cb, func(context.Context) (float64, error) {
		return 4.2, nil
	})
	if err != nil || got != 4.2 {
		t.Errorf("ExecuteWithResult() = %v, %v", got, err)
	}

	openBreaker(t, cb)
	got, err = ExecuteWithResult(context.Background(), cb, func(context.Context) (float64, error) {
		return 1, nil
	})
	if !errors.Is(err, ErrOpen) || got != 0 {
		t.Errorf("Expected zero value and ErrOpen, got: %v, %v", got, err)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	cb, clock := newTestBreaker(testConfig())

	var changes [][2]State
	cb.OnStateChange(func(from, to State) {
		changes = append(changes, [2]State{from, to})
	})

	openBreaker(t, cb)
	clock.Advance(time.Second)
	_ = cb.Execute(context.Background(), succeed)
	_ = cb.Execute(context.Background(), succeed)

	want := [][2]State{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(changes) != len(want) {
		t.Fatalf("Expected %d transitions, got: %v", len(want), changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("Transition %d = %v, want %v", i, changes[i], want[i])
		}
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(testConfig())
	openBreaker(t, cb)

	cb.Reset()

	if cb.GetState() != StateClosed {
		t.Errorf("Expected state Closed after reset, got: %v", cb.GetState())
	}
	if stats := cb.GetStats(); stats.FailureCount != 0 {
		t.Errorf("Expected failure count 0 after reset, got: %d", stats.FailureCount)
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := New(DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = cb.Execute(context.Background(), succeed)
			}
		}()
	}
	wg.Wait()

	if stats := cb.GetStats(); stats.SuccessCount != 100 || stats.State != StateClosed {
		t.Errorf("Unexpected stats after concurrent access: %+v", stats)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if tt.state.String() != tt.expected {
			t.Errorf("Expected %s, got: %s", tt.expected, tt.state.String())
		}
	}
}
