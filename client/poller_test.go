package client

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/trezcool/shule/core/messaging"
)

func TestPoller_Run(t *testing.T) {
	t.Run("refreshes immediately on start", func(t *testing.T) {
		var calls int32
		refresh := func(ctx context.Context) ([]messaging.Message, error) {
			atomic.AddInt32(&calls, 1)
			return []messaging.Message{viewMsg("m1", "bob", "alice", 0)}, nil
		}

		v := NewView("alice")
		p := NewPoller(v, refresh, time.Hour /* no ticks during the test */, nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- p.Run(ctx) }()

		waitFor(t, func() bool { return atomic.LoadInt32(&calls) == 1 })
		if len(v.Messages()) != 1 {
			t.Error("initial refresh not applied to the view")
		}

		cancel()
		if err := <-done; err != context.Canceled {
			t.Errorf("Run() = %v; want context.Canceled", err)
		}
	})

	t.Run("refreshes on every tick while visible", func(t *testing.T) {
		var calls int32
		refresh := func(ctx context.Context) ([]messaging.Message, error) {
			atomic.AddInt32(&calls, 1)
			return nil, nil
		}

		p := NewPoller(NewView("alice"), refresh, 10*time.Millisecond, nil)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go p.Run(ctx)

		waitFor(t, func() bool { return atomic.LoadInt32(&calls) >= 3 })
	})

	t.Run("skips refreshes while hidden and resumes on foreground", func(t *testing.T) {
		var calls int32
		refresh := func(ctx context.Context) ([]messaging.Message, error) {
			atomic.AddInt32(&calls, 1)
			return nil, nil
		}

		p := NewPoller(NewView("alice"), refresh, 10*time.Millisecond, nil)
		p.SetVisible(false)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go p.Run(ctx)

		time.Sleep(50 * time.Millisecond)
		if n := atomic.LoadInt32(&calls); n != 0 {
			t.Fatalf("refreshed %d times while hidden; want 0", n)
		}

		// back to the foreground: an immediate refresh, then ticks again
		p.SetVisible(true)
		waitFor(t, func() bool { return atomic.LoadInt32(&calls) >= 1 })
	})

	t.Run("a failed refresh keeps the previous snapshot", func(t *testing.T) {
		var fail int32
		refresh := func(ctx context.Context) ([]messaging.Message, error) {
			if atomic.LoadInt32(&fail) == 1 {
				return nil, context.DeadlineExceeded
			}
			return []messaging.Message{viewMsg("m1", "bob", "alice", 0)}, nil
		}

		v := NewView("alice")
		p := NewPoller(v, refresh, 10*time.Millisecond, nil)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go p.Run(ctx)

		waitFor(t, func() bool { return len(v.Messages()) == 1 })

		atomic.StoreInt32(&fail, 1)
		time.Sleep(50 * time.Millisecond)
		if len(v.Messages()) != 1 {
			t.Error("failed refresh must not clear the view")
		}
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
