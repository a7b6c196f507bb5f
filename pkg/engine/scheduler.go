package engine

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jwyoon/stockmatch/pkg/util"
)

// SchedulerState is the scheduler's two-state machine.
type SchedulerState int32

const (
	// Idle: between ticks.
	Idle SchedulerState = iota
	// Running: one full pass in progress.
	Running
)

func (s SchedulerState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// Scheduler invokes one full matching pass on a fixed interval. Passes
// are sequential and never overlap: a tick that would fire while the
// previous pass is still running is skipped outright, not queued.
// Shutdown happens only while Idle; an in-flight pass always finishes.
type Scheduler struct {
	matcher   *Matcher
	interval  time.Duration
	opTimeout time.Duration
	clock     util.Clock
	log       *zap.SugaredLogger

	state        atomic.Int32
	skippedTicks atomic.Int64
}

// NewScheduler builds a scheduler around a matcher.
func NewScheduler(matcher *Matcher, interval, opTimeout time.Duration, clock util.Clock, log *zap.SugaredLogger) *Scheduler {
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Scheduler{
		matcher:   matcher,
		interval:  interval,
		opTimeout: opTimeout,
		clock:     clock,
		log:       log,
	}
}

// State returns the current scheduler state.
func (s *Scheduler) State() SchedulerState {
	return SchedulerState(s.state.Load())
}

// SkippedTicks returns how many ticks were dropped to overrunning
// passes since start.
func (s *Scheduler) SkippedTicks() int64 {
	return s.skippedTicks.Load()
}

// Run ticks until ctx is cancelled. Cancellation is observed only
// between passes, so the state on exit is always a completed pass
// boundary; the durable store needs no replay log to resume.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Infow("scheduler_started",
		"pass_interval_ms", s.interval.Milliseconds(),
		"op_timeout_ms", s.opTimeout.Milliseconds())

	for {
		select {
		case <-ctx.Done():
			s.log.Infow("scheduler_stopped", "skipped_ticks", s.SkippedTicks())
			return nil
		case <-s.clock.After(s.interval):
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	s.state.Store(int32(Running))
	defer s.state.Store(int32(Idle))

	// The pass context is detached from the run context: an in-flight
	// pass must finish even during shutdown. The op timeout bounds it
	// against an unresponsive store instead.
	passCtx := context.Background()
	var cancel context.CancelFunc = func() {}
	if s.opTimeout > 0 {
		passCtx, cancel = context.WithTimeout(passCtx, s.opTimeout)
	}
	defer cancel()

	report, err := s.matcher.RunPass(passCtx)
	if err != nil {
		s.log.Errorw("pass_failed", "err", err, "elapsed_ms", report.Elapsed.Milliseconds())
	} else {
		s.log.Infow("pass_complete",
			"buys", report.Buys,
			"filled", report.Filled(),
			"failed", report.Failed(),
			"elapsed_ms", report.Elapsed.Milliseconds())
	}

	// With one sequential worker, an overrunning pass consumes the
	// ticks that would have fired meanwhile. Count them as skipped.
	if s.interval > 0 && report.Elapsed > s.interval {
		missed := int64(report.Elapsed / s.interval)
		s.skippedTicks.Add(missed)
		s.log.Warnw("ticks_skipped", "missed", missed, "elapsed_ms", report.Elapsed.Milliseconds())
	}
}

// RunOnce executes a single pass synchronously, for tests and manual
// invocation.
func (s *Scheduler) RunOnce(ctx context.Context) (PassReport, error) {
	s.state.Store(int32(Running))
	defer s.state.Store(int32(Idle))
	return s.matcher.RunPass(ctx)
}
