package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegisterDaily(t *testing.T) {
	s := New(context.Background())

	if err := s.RegisterDaily("0 30 2 * * *", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("RegisterDaily returned error for valid expression: %v", err)
	}
	if err := s.RegisterDaily("not a cron line", func(context.Context) error { return nil }); err == nil {
		t.Fatal("RegisterDaily accepted an invalid expression")
	}
}

func TestStartStop(t *testing.T) {
	s := New(context.Background())
	if err := s.RegisterDaily("0 0 3 * * *", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("RegisterDaily: %v", err)
	}

	s.Start()
	s.Stop() // must not hang with no task running
}

func TestCancelledContextSkipsRuns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(ctx)

	var ran atomic.Bool
	if err := s.RegisterDaily("* * * * * *", func(context.Context) error {
		ran.Store(true)
		return nil
	}); err != nil {
		t.Fatalf("RegisterDaily: %v", err)
	}

	// Cancel before starting, then wait past a tick; the per-second
	// schedule fires but the task must bail out.
	cancel()
	s.Start()
	defer s.Stop()
	time.Sleep(1200 * time.Millisecond)

	if ran.Load() {
		t.Error("task ran under a cancelled scheduler context")
	}
}
