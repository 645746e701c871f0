package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"feedwatch/internal/engine"
	logx "feedwatch/pkg/logx"
)

type runnerFunc func(ctx context.Context) engine.CycleResult

func (f runnerFunc) RunCycle(ctx context.Context) engine.CycleResult { return f(ctx) }

func TestInitialCycleRunsAfterDelay(t *testing.T) {
	t.Parallel()
	ran := make(chan time.Time, 1)
	r := runnerFunc(func(context.Context) engine.CycleResult {
		ran <- time.Now()
		return engine.CycleResult{Outcome: engine.OutcomeNoChange}
	})
	s, err := New(Config{InitialDelay: 30 * time.Millisecond, Schedule: "1h"}, r, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	start := time.Now()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	select {
	case at := <-ran:
		if at.Sub(start) < 30*time.Millisecond {
			t.Fatalf("initial cycle ran after %v", at.Sub(start))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("initial cycle did not run")
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}
}

func TestStopBeforeInitialDelayRunsNothing(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	r := runnerFunc(func(context.Context) engine.CycleResult {
		calls.Add(1)
		return engine.CycleResult{}
	})
	s, err := New(Config{InitialDelay: time.Hour}, r, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestStopWaitsForInFlightCycle(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	var finished atomic.Bool
	r := runnerFunc(func(ctx context.Context) engine.CycleResult {
		close(started)
		<-ctx.Done()
		// Simulates the detached save that completes after cancellation.
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
		return engine.CycleResult{Outcome: engine.OutcomeDispatched}
	})
	s, err := New(Config{Schedule: "1h"}, r, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !finished.Load() {
		t.Fatal("Stop returned before the in-flight cycle finished")
	}
}

func TestRunNowSkipsWhileBusy(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	r := runnerFunc(func(context.Context) engine.CycleResult {
		started <- struct{}{}
		<-release
		return engine.CycleResult{Outcome: engine.OutcomeNoChange}
	})
	s, err := New(Config{}, r, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan bool, 1)
	go func() {
		_, ran := s.RunNow(context.Background())
		done <- ran
	}()
	<-started
	if _, ran := s.RunNow(context.Background()); ran {
		t.Fatal("overlapping cycle was started")
	}
	close(release)
	if !<-done {
		t.Fatal("first RunNow did not run")
	}
}

func TestScheduledTriggersRun(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	r := runnerFunc(func(context.Context) engine.CycleResult {
		calls.Add(1)
		return engine.CycleResult{Outcome: engine.OutcomeNoChange}
	})
	s, err := New(Config{Schedule: "1s"}, r, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	_ = s.Stop(context.Background())
	if calls.Load() < 2 {
		t.Fatalf("calls = %d, want initial + scheduled", calls.Load())
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	r := runnerFunc(func(context.Context) engine.CycleResult { return engine.CycleResult{} })
	if _, err := New(Config{Schedule: "61 * * * *"}, r, logx.Nop()); err == nil {
		t.Fatal("expected cron parse error")
	}
	if _, err := New(Config{Schedule: "soon"}, r, logx.Nop()); err == nil {
		t.Fatal("expected schedule error")
	}
	s, err := New(Config{Timezone: "Europe/Moscow"}, r, logx.Nop())
	if err != nil || s.cfg.Schedule != DefaultSchedule {
		t.Fatalf("defaults: %+v, %v", s, err)
	}
}
