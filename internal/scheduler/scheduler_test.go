package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/cold-storage-monitor/internal/monitor"
)

type scriptedRunner struct {
	mu       sync.Mutex
	starts   []time.Time
	ctxErrs  []error
	duration time.Duration
	fail     func(n int) error
	panicOn  int
	calls    atomic.Int32
	started  chan struct{}
}

func (r *scriptedRunner) RunCycle(ctx context.Context, observe func(monitor.Stage)) (monitor.CycleResult, error) {
	n := int(r.calls.Add(1))
	r.mu.Lock()
	r.starts = append(r.starts, time.Now())
	r.mu.Unlock()
	if r.started != nil {
		select {
		case r.started <- struct{}{}:
		default:
		}
	}

	observe(monitor.StageAcquiring)
	if r.panicOn == n {
		panic("sensor driver exploded")
	}
	time.Sleep(r.duration)
	observe(monitor.StageAnalyzing)
	observe(monitor.StageDispatching)

	r.mu.Lock()
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	r.mu.Unlock()

	if r.fail != nil {
		if err := r.fail(n); err != nil {
			return monitor.CycleResult{ID: "c"}, err
		}
	}
	return monitor.CycleResult{ID: "c"}, nil
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
	t.Fatal("condition not met before deadline")
}

func TestScheduler_RunsImmediatelyAndRepeats(t *testing.T) {
	r := &scriptedRunner{}
	s := New(r, nil, Config{Interval: 10 * time.Millisecond}, zap.NewNop())

	if _, ok := s.LastTick(); ok {
		t.Error("LastTick set before start")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	waitFor(t, func() bool { return r.calls.Load() >= 3 })
	if !s.Running() {
		t.Error("expected Running() while loop is active")
	}
	if _, ok := s.LastTick(); !ok {
		t.Error("LastTick not recorded")
	}
}

func TestScheduler_KeepsLoopingAfterFailuresAndPanics(t *testing.T) {
	r := &scriptedRunner{
		panicOn: 2,
		fail: func(n int) error {
			if n%2 == 1 {
				return errors.New("sensor unavailable")
			}
			return nil
		},
	}
	s := New(r, nil, Config{Interval: 5 * time.Millisecond}, zap.NewNop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	waitFor(t, func() bool { return r.calls.Load() >= 5 })
	waitFor(t, func() bool { return s.State() == monitor.StageIdle })
}

func TestScheduler_FixedDelayBetweenCycles(t *testing.T) {
	r := &scriptedRunner{duration: 30 * time.Millisecond}
	interval := 20 * time.Millisecond
	s := New(r, nil, Config{Interval: interval}, zap.NewNop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return r.calls.Load() >= 3 })
	s.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 1; i < len(r.starts); i++ {
		if gap := r.starts[i].Sub(r.starts[i-1]); gap < r.duration+interval {
			t.Errorf("cycle %d started %v after the previous one, want >= %v", i, gap, r.duration+interval)
		}
	}
}

func TestScheduler_StopWaitsForInFlightCycle(t *testing.T) {
	r := &scriptedRunner{duration: 50 * time.Millisecond, started: make(chan struct{}, 1)}
	s := New(r, nil, Config{Interval: time.Hour}, zap.NewNop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-r.started

	s.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ctxErrs) != 1 {
		t.Fatalf("cycle did not complete before Stop returned")
	}
	if r.ctxErrs[0] != nil {
		t.Errorf("in-flight cycle saw cancellation: %v", r.ctxErrs[0])
	}
	if s.Running() {
		t.Error("Running() after Stop")
	}
	if s.State() != monitor.StageIdle {
		t.Errorf("state after stop = %s", s.State())
	}
}

func TestScheduler_ParentContextCancelStopsLoop(t *testing.T) {
	r := &scriptedRunner{}
	s := New(r, nil, Config{Interval: time.Hour}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return r.calls.Load() == 1 })
	cancel()
	waitFor(t, func() bool { return !s.Running() })
	s.Stop()
}

func TestScheduler_StartTwice(t *testing.T) {
	s := New(&scriptedRunner{}, nil, Config{Interval: time.Hour}, zap.NewNop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	if err := s.Start(context.Background()); !errors.Is(err, errAlreadyStarted) {
		t.Errorf("second Start = %v", err)
	}
}

type recordingPruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
}

func (p *recordingPruner) Prune(_ context.Context, before time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, before)
	return 2, nil
}

func (p *recordingPruner) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cutoffs)
}

func TestScheduler_RetentionJob(t *testing.T) {
	p := &recordingPruner{}
	fixed := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	s := New(nil, p, Config{Retention: 90 * 24 * time.Hour, PruneInterval: time.Hour}, zap.NewNop())
	s.now = func() time.Time { return fixed }

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	waitFor(t, func() bool { return p.count() >= 1 })
	p.mu.Lock()
	defer p.mu.Unlock()
	if want := fixed.Add(-90 * 24 * time.Hour); !p.cutoffs[0].Equal(want) {
		t.Errorf("cutoff = %v, want %v", p.cutoffs[0], want)
	}
}

func TestScheduler_RetentionDisabled(t *testing.T) {
	p := &recordingPruner{}
	s := New(nil, p, Config{Retention: 0}, zap.NewNop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	s.Stop()
	if p.count() != 0 {
		t.Error("prune ran with retention disabled")
	}
}
