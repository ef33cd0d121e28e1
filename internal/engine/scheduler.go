package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/contractsync/internal/metrics"
	"github.com/roach88/contractsync/internal/progress"
	"github.com/roach88/contractsync/internal/source"
	"github.com/roach88/contractsync/internal/store"
)

// State is the scheduler lifecycle state.
type State int32

const (
	StateRunning State = iota
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// StopReason says why a scheduler run ended.
type StopReason string

const (
	StopMaxRounds  StopReason = "max_rounds"
	StopSizeCap    StopReason = "size_cap"
	StopNoProgress StopReason = "no_progress"
	StopCancelled  StopReason = "cancelled"
	StopError      StopReason = "error"
)

// ErrStopped is returned by Run on a scheduler that already ran.
var ErrStopped = errors.New("scheduler stopped")

// RoundResult is what a round reports back to the scheduler.
type RoundResult struct {
	Inserted int
	// Full reports that the sink reached its size budget.
	Full bool
	// More reports that the round stopped with work left, so it counts as
	// progress even when nothing was stored.
	More bool
}

// Round performs one sync call.
type Round func(ctx context.Context) (RoundResult, error)

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	// Interval is the wait between rounds.
	Interval time.Duration

	// MaxRounds stops after this many rounds. Zero means no limit.
	MaxRounds int64

	RunIDs   RunIDGenerator
	Notifier progress.Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Scheduler repeats a round until max rounds, a full sink, a round without
// progress, or cancellation.
//
// Thread-safety model:
//   - Run(): must be called from exactly one goroutine, once
//   - Stop(), State(), Rounds(): safe from any goroutine
//
// Cancellation (ctx or Stop) is observed only between rounds and during
// the interval wait. A round in flight is never interrupted.
type Scheduler struct {
	round    Round
	opts     SchedulerOptions
	clock    *Clock
	state    atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once
	ran      atomic.Bool
}

// NewScheduler creates a scheduler in the RUNNING state.
func NewScheduler(round Round, opts SchedulerOptions) *Scheduler {
	if opts.RunIDs == nil {
		opts.RunIDs = UUIDv7Generator{}
	}
	return &Scheduler{
		round: round,
		opts:  opts,
		clock: NewClock(),
		stop:  make(chan struct{}),
	}
}

// State returns the current state.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Rounds returns the number of rounds started so far.
func (s *Scheduler) Rounds() int64 { return s.clock.Current() }

// Stop requests a stop. It returns immediately; Run returns after the round
// in flight, if any, completes.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Scheduler) cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-s.stop:
		return true
	default:
		return false
	}
}

// Run drives rounds until a stop condition holds. The error is non-nil only
// for StopError.
func (s *Scheduler) Run(ctx context.Context) (StopReason, error) {
	if !s.ran.CompareAndSwap(false, true) {
		return StopError, ErrStopped
	}
	defer s.state.Store(int32(StateStopped))

	runID := s.opts.RunIDs.Generate()
	log := loggerOr(s.opts.Logger).With("run_id", runID)
	notify := progress.OrNop(s.opts.Notifier)
	log.Info("scheduler started", "interval", s.opts.Interval, "max_rounds", s.opts.MaxRounds)

	reason, err := s.loop(ctx, log, notify)

	log.Info("scheduler stopped", "reason", reason, "rounds", s.Rounds())
	notify.Notify(fmt.Sprintf("stopped after %d rounds: %s", s.Rounds(), reason))
	return reason, err
}

func (s *Scheduler) loop(ctx context.Context, log *slog.Logger, notify progress.Notifier) (StopReason, error) {
	for {
		if s.cancelled(ctx) {
			return StopCancelled, nil
		}

		n := s.clock.Next()
		notify.Notify(fmt.Sprintf("round %d started", n))
		res, err := s.round(context.WithoutCancel(ctx))
		if err != nil {
			s.opts.Metrics.ObserveRound("error", time.Now())
			log.Error("round failed", "round", n, "error", err)
			return StopError, fmt.Errorf("round %d: %w", n, err)
		}
		outcome := "progress"
		if res.Inserted == 0 {
			outcome = "idle"
		}
		s.opts.Metrics.ObserveRound(outcome, time.Now())
		log.Info("round finished", "round", n, "inserted", res.Inserted, "full", res.Full)
		notify.Notify(fmt.Sprintf("round %d finished: %d stored", n, res.Inserted))

		switch {
		case s.opts.MaxRounds > 0 && n >= s.opts.MaxRounds:
			return StopMaxRounds, nil
		case res.Full:
			return StopSizeCap, nil
		case res.Inserted == 0 && !res.More:
			return StopNoProgress, nil
		}

		if !s.wait(ctx) {
			return StopCancelled, nil
		}
	}
}

// wait sleeps for the interval and reports false if cancelled first.
func (s *Scheduler) wait(ctx context.Context) bool {
	t := time.NewTimer(s.opts.Interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.stop:
		return false
	case <-t.C:
		return true
	}
}

// ForwardRound adapts Update to a scheduler round. The sink counts as full
// only under a Cutoff policy.
func ForwardRound(src source.Source, sink store.Sink, opts UpdateOptions) Round {
	return func(ctx context.Context) (RoundResult, error) {
		res, err := Update(ctx, src, sink, opts)
		if err != nil {
			return RoundResult{}, err
		}
		full := res.Merge.Full
		if res.NoOp && effectivePolicy(sink, opts.Policy).Eviction == store.Cutoff {
			size, err := sink.Size(ctx)
			if err != nil {
				return RoundResult{}, storeError("size", nil, err)
			}
			full = size >= res.Meta.SizeLimit
		}
		return RoundResult{Inserted: res.Merge.Inserted, Full: full}, nil
	}
}

// DescendRound adapts Descend to a scheduler round. With opts.MaxWindows set,
// each round walks at most that many windows, so a stop request is seen
// between them.
func DescendRound(src source.Source, sink store.Sink, opts DescendOptions) Round {
	return func(ctx context.Context) (RoundResult, error) {
		res, err := Descend(ctx, src, sink, opts)
		if err != nil {
			return RoundResult{}, err
		}
		return RoundResult{
			Inserted: res.Inserted,
			Full:     res.Stop == DescendSizeCap,
			More:     res.Stop == DescendMaxWindows,
		}, nil
	}
}

func effectivePolicy(sink store.Sink, override *store.Policy) store.Policy {
	if override != nil {
		return *override
	}
	return sink.Policy()
}
