package calls

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestTimerScheduler_RunsAndCancels(t *testing.T) {
	s := NewTimerScheduler()
	defer s.Stop()

	done := make(chan struct{})
	s.Schedule("a", 10*time.Millisecond, func() { close(done) })

	var cancelledRan atomic.Bool
	s.Schedule("b", 20*time.Millisecond, func() { cancelledRan.Store(true) })
	if !s.Cancel("b") {
		t.Fatalf("expected pending task to be cancelled")
	}
	if s.Cancel("b") {
		t.Fatalf("expected second cancel to be a no-op")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("scheduled task did not run")
	}
	time.Sleep(40 * time.Millisecond)
	if cancelledRan.Load() {
		t.Fatalf("cancelled task ran")
	}
	if s.Pending() != 0 {
		t.Fatalf("expected no pending tasks, got %d", s.Pending())
	}
}

func TestTimerScheduler_RescheduleReplaces(t *testing.T) {
	s := NewTimerScheduler()
	defer s.Stop()

	var runs atomic.Int32
	s.Schedule("a", 10*time.Millisecond, func() { runs.Add(1) })
	s.Schedule("a", 20*time.Millisecond, func() { runs.Add(10) })
	time.Sleep(80 * time.Millisecond)
	if got := runs.Load(); got != 10 {
		t.Fatalf("expected only the replacement to run, got %d", got)
	}
}

func TestTimerScheduler_StopDropsEverything(t *testing.T) {
	s := NewTimerScheduler()
	var ran atomic.Bool
	s.Schedule("a", 10*time.Millisecond, func() { ran.Store(true) })
	s.Stop()
	s.Schedule("b", time.Millisecond, func() { ran.Store(true) })
	time.Sleep(40 * time.Millisecond)
	if ran.Load() {
		t.Fatalf("expected no task to run after Stop")
	}
}

func TestSweeper_FinishesStaleCalls(t *testing.T) {
	repo := NewMemoryRepo()
	now := t0.Add(10 * time.Minute)
	sink := NewSink(repo, discardLogger(), SinkOptions{Now: func() time.Time { return now }})
	seedCall(t, repo, "stale", StrategyNativeTelephony, CallStatusRinging, t0)
	seedCall(t, repo, "fresh", StrategyNativeTelephony, CallStatusRinging, now.Add(-time.Minute))
	seedCall(t, repo, "done", StrategyNativeTelephony, CallStatusCompleted, t0)

	sw := NewSweeper(repo, sink, discardLogger(), SweeperOptions{
		StaleAfter: 5 * time.Minute,
		Now:        func() time.Time { return now },
	})
	n, err := sw.Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept call, got %d", n)
	}

	c, _ := repo.Get(context.Background(), "stale")
	if c.Status != CallStatusError || c.Result == nil || c.Result.ErrorKind != ErrorKindTimeout {
		t.Fatalf("expected timeout error, got %+v", c)
	}
	if c, _ := repo.Get(context.Background(), "fresh"); c.Status != CallStatusRinging {
		t.Fatalf("expected fresh call untouched, got %s", c.Status)
	}
}

func TestSweeper_DisabledWithoutStaleAfter(t *testing.T) {
	sw := NewSweeper(NewMemoryRepo(), nil, discardLogger(), SweeperOptions{})
	if err := sw.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sw.Stop()
	if n, err := sw.Sweep(context.Background()); n != 0 || err != nil {
		t.Fatalf("expected disabled sweeper to do nothing")
	}
}

func TestSweeper_RejectsBadSchedule(t *testing.T) {
	sw := NewSweeper(NewMemoryRepo(), nil, discardLogger(), SweeperOptions{Schedule: "not a cron", StaleAfter: time.Minute})
	if err := sw.Start(); err == nil {
		t.Fatalf("expected schedule parse error")
	}
}
