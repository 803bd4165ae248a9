// Copyright (C) 2025 AstraGuard AI
// Tests for the graceful-shutdown coordinator.

package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestTrackRequestStart_WhileAccepting(t *testing.T) {
	c := NewCoordinator(time.Second, nil)

	if err := c.TrackRequestStart(); err != nil {
		t.Fatalf("TrackRequestStart failed while accepting: %v", err)
	}
	if got := c.InFlight(); got != 1 {
		t.Errorf("InFlight = %d, want 1", got)
	}

	c.TrackRequestEnd()
	if got := c.InFlight(); got != 0 {
		t.Errorf("InFlight after end = %d, want 0", got)
	}
}

func TestTrackRequestStart_RejectedAfterDrain(t *testing.T) {
	c := NewCoordinator(time.Second, nil)
	c.DrainRequests(context.Background(), 50*time.Millisecond)

	err := c.TrackRequestStart()
	if !errors.Is(err, ErrNotAccepting) {
		t.Fatalf("TrackRequestStart after drain = %v, want ErrNotAccepting", err)
	}
	if c.Accepting() {
		t.Error("Accepting() = true after drain began")
	}
	if got := c.InFlight(); got != 0 {
		t.Errorf("rejected request must not be tracked, InFlight = %d", got)
	}
}

func TestTrackRequestEnd_FlooredAtZero(t *testing.T) {
	c := NewCoordinator(time.Second, nil)
	c.TrackRequestEnd()
	c.TrackRequestEnd()
	if got := c.InFlight(); got != 0 {
		t.Errorf("InFlight = %d, want 0", got)
	}
}

func TestDrainRequests_ReturnsWhenEmpty(t *testing.T) {
	c := NewCoordinator(time.Second, nil)

	start := time.Now()
	c.DrainRequests(context.Background(), 5*time.Second)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("drain of empty coordinator took %v", elapsed)
	}
}

func TestDrainRequests_TimeoutWithStuckRequest(t *testing.T) {
	c := NewCoordinator(30*time.Second, nil)
	if err := c.TrackRequestStart(); err != nil {
		t.Fatalf("TrackRequestStart: %v", err)
	}
	// The request never ends: the drain must honor its timeout, not the count.

	start := time.Now()
	c.DrainRequests(context.Background(), time.Second)
	elapsed := time.Since(start)

	if elapsed < 900*time.Millisecond || elapsed > 1500*time.Millisecond {
		t.Errorf("drain returned after %v, want ~1s", elapsed)
	}
	if got := c.InFlight(); got != 1 {
		t.Errorf("InFlight after forced drain = %d, want 1", got)
	}
}

func TestDrainRequests_CompletesWhenRequestsFinish(t *testing.T) {
	c := NewCoordinator(30*time.Second, nil)
	for i := 0; i < 3; i++ {
		if err := c.TrackRequestStart(); err != nil {
			t.Fatalf("TrackRequestStart: %v", err)
		}
	}

	go func() {
		time.Sleep(150 * time.Millisecond)
		c.TrackRequestEnd()
		c.TrackRequestEnd()
		c.TrackRequestEnd()
	}()

	start := time.Now()
	c.DrainRequests(context.Background(), 5*time.Second)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("drain took %v after requests finished", elapsed)
	}
	if got := c.InFlight(); got != 0 {
		t.Errorf("InFlight = %d, want 0", got)
	}
}

func TestExecuteCleanup_LIFOOrder(t *testing.T) {
	c := NewCoordinator(time.Second, nil)

	var order []string
	var mu sync.Mutex
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}

	c.RegisterCleanup("A", record("A"))
	c.RegisterCleanup("B", record("B"))
	c.RegisterCleanup("C", record("C"))

	c.ExecuteCleanup(context.Background())

	want := []string{"C", "B", "A"}
	if len(order) != len(want) {
		t.Fatalf("cleanup ran %d tasks, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("cleanup order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestExecuteCleanup_FailureDoesNotStopOthers(t *testing.T) {
	c := NewCoordinator(time.Second, nil)

	counts := map[string]int{}
	var mu sync.Mutex
	bump := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		counts[name]++
	}

	c.RegisterCleanup("A", func(context.Context) error { bump("A"); return nil })
	c.RegisterCleanup("B", func(context.Context) error { bump("B"); return errors.New("boom") })
	c.RegisterCleanup("C", func(context.Context) error { bump("C"); return nil })

	c.ExecuteCleanup(context.Background())

	for _, name := range []string{"A", "B", "C"} {
		if counts[name] != 1 {
			t.Errorf("task %s ran %d times, want exactly 1", name, counts[name])
		}
	}
}

func TestExecuteCleanup_PanicContained(t *testing.T) {
	c := NewCoordinator(time.Second, nil)

	ran := false
	c.RegisterCleanup("first", func(context.Context) error { ran = true; return nil })
	c.RegisterCleanup("panics", func(context.Context) error { panic("cleanup exploded") })

	c.ExecuteCleanup(context.Background())

	if !ran {
		t.Error("task registered before the panicking one did not run")
	}
}

func TestTriggerShutdown_BroadcastAndIdempotent(t *testing.T) {
	c := NewCoordinator(time.Second, nil)

	var wg sync.WaitGroup
	woke := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-c.ShutdownCh()
			woke <- struct{}{}
		}()
	}

	c.TriggerShutdown()
	c.TriggerShutdown() // repeated trigger must not panic

	wg.Wait()
	if len(woke) != 3 {
		t.Errorf("%d waiters woke, want 3", len(woke))
	}
}

func TestWait_CancelledContext(t *testing.T) {
	c := NewCoordinator(time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait = %v, want context.Canceled", err)
	}
}

func TestTimeoutFromEnv(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"unset", "", DefaultTimeout},
		{"valid", "10", 10 * time.Second},
		{"invalid", "abc", DefaultTimeout},
		{"negative", "-5", DefaultTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value == "" {
				t.Setenv("SHUTDOWN_TIMEOUT", "")
			} else {
				t.Setenv("SHUTDOWN_TIMEOUT", tt.value)
			}
			if got := TimeoutFromEnv(nil); got != tt.want {
				t.Errorf("TimeoutFromEnv = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegisterSignalHandlers_Idempotent(t *testing.T) {
	c := NewCoordinator(time.Second, nil)
	c.RegisterSignalHandlers()
	c.RegisterSignalHandlers() // second call must be a no-op
}
