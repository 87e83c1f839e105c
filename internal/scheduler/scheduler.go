package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/i474232898/cold-storage-monitor/internal/monitor"
)

// DefaultInterval is the pause between the end of one cycle and the start
// of the next.
const DefaultInterval = 300 * time.Second

var errAlreadyStarted = errors.New("scheduler already started")

// CycleRunner runs one monitoring cycle; *monitor.Service satisfies it.
type CycleRunner interface {
	RunCycle(ctx context.Context, observe func(monitor.Stage)) (monitor.CycleResult, error)
}

// Pruner deletes history older than a cutoff; every store.HistoryStore
// satisfies it.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Config controls the cycle loop and the retention job. A nil runner or a
// zero Retention disables the corresponding part.
type Config struct {
	Interval      time.Duration
	Retention     time.Duration
	PruneInterval time.Duration
}

// Scheduler drives the perpetual monitoring loop and history maintenance.
type Scheduler struct {
	runner CycleRunner
	pruner Pruner
	cfg    Config
	logger *zap.Logger
	cron   *gocron.Scheduler
	now    func() time.Time

	state    atomic.Value // monitor.Stage
	lastTick atomic.Int64 // unix nanos, 0 = never

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. Either runner or pruner may be nil.
func New(runner CycleRunner, pruner Pruner, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = time.Hour
	}
	s := &Scheduler{
		runner: runner,
		pruner: pruner,
		cfg:    cfg,
		logger: logger,
		cron:   gocron.NewScheduler(time.UTC),
		now:    time.Now,
	}
	s.state.Store(monitor.StageIdle)
	return s
}

// Start runs the first cycle immediately in the background, then one cycle
// per Interval measured from the end of the previous one, until Stop or ctx
// cancellation. It also schedules the retention job.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return errAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.runner != nil {
		s.wg.Add(1)
		go s.loop()
		s.logger.Info("monitoring loop started", zap.Duration("interval", s.cfg.Interval))
	}

	if s.pruner != nil && s.cfg.Retention > 0 {
		_, err := s.cron.Every(s.cfg.PruneInterval).SingletonMode().Do(s.prune)
		if err != nil {
			s.cancel()
			s.wg.Wait()
			return err
		}
		s.cron.StartAsync()
		s.logger.Info("retention job scheduled",
			zap.Duration("retention", s.cfg.Retention),
			zap.Duration("every", s.cfg.PruneInterval),
		)
	}
	return nil
}

// Stop cancels future cycles and waits for the one in progress, if any, to
// finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.cron.Stop()
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx != nil && s.ctx.Err() == nil
}

// State returns the stage of the current cycle, or idle between cycles.
func (s *Scheduler) State() monitor.Stage {
	return s.state.Load().(monitor.Stage)
}

// LastTick returns the start time of the most recent cycle.
func (s *Scheduler) LastTick() (time.Time, bool) {
	ns := s.lastTick.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns).UTC(), true
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	for {
		s.runOnce()

		timer := time.NewTimer(s.cfg.Interval)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			s.logger.Info("monitoring loop stopped")
			return
		case <-timer.C:
		}
	}
}

// runOnce executes one cycle. The cycle's context ignores cancellation so a
// shutdown never leaves a reading half-processed.
func (s *Scheduler) runOnce() {
	defer s.state.Store(monitor.StageIdle)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("monitoring cycle panicked", zap.Any("panic", r))
		}
	}()

	s.lastTick.Store(s.now().UnixNano())
	ctx := context.WithoutCancel(s.ctx)

	res, err := s.runner.RunCycle(ctx, func(st monitor.Stage) { s.state.Store(st) })
	if err != nil {
		s.logger.Warn("monitoring cycle failed",
			zap.String("cycle_id", res.ID),
			zap.Error(err),
		)
	}
}

func (s *Scheduler) prune() {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), time.Minute)
	defer cancel()

	cutoff := s.now().Add(-s.cfg.Retention)
	n, err := s.pruner.Prune(ctx, cutoff)
	if err != nil {
		s.logger.Warn("history prune failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("history pruned", zap.Int64("rows", n), zap.Time("before", cutoff))
	}
}
