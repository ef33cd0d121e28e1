package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/contractsync/internal/testutil"
)

func constantRound(res RoundResult) Round {
	return func(context.Context) (RoundResult, error) { return res, nil }
}

func newTestScheduler(round Round, opts SchedulerOptions) *Scheduler {
	if opts.RunIDs == nil {
		opts.RunIDs = testutil.NewFixedRunID("")
	}
	return NewScheduler(round, opts)
}

func TestScheduler_MaxRounds(t *testing.T) {
	s := newTestScheduler(constantRound(RoundResult{Inserted: 1}), SchedulerOptions{MaxRounds: 3})
	assert.Equal(t, StateRunning, s.State())

	reason, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopMaxRounds, reason)
	assert.Equal(t, int64(3), s.Rounds())
	assert.Equal(t, StateStopped, s.State())
}

func TestScheduler_NoProgress(t *testing.T) {
	calls := 0
	round := func(context.Context) (RoundResult, error) {
		calls++
		if calls < 3 {
			return RoundResult{Inserted: 2}, nil
		}
		return RoundResult{}, nil
	}
	s := newTestScheduler(round, SchedulerOptions{})

	reason, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopNoProgress, reason)
	assert.Equal(t, 3, calls)
}

func TestScheduler_SizeCap(t *testing.T) {
	s := newTestScheduler(constantRound(RoundResult{Inserted: 5, Full: true}), SchedulerOptions{})

	reason, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopSizeCap, reason)
	assert.Equal(t, int64(1), s.Rounds())
}

func TestScheduler_RoundError(t *testing.T) {
	boom := errors.New("boom")
	round := func(context.Context) (RoundResult, error) { return RoundResult{}, boom }
	s := newTestScheduler(round, SchedulerOptions{})

	reason, err := s.Run(context.Background())
	assert.Equal(t, StopError, reason)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateStopped, s.State())
}

func TestScheduler_StopInterruptsWait(t *testing.T) {
	started := make(chan struct{}, 1)
	round := func(context.Context) (RoundResult, error) {
		started <- struct{}{}
		return RoundResult{Inserted: 1}, nil
	}
	s := newTestScheduler(round, SchedulerOptions{Interval: time.Hour})

	done := make(chan StopReason, 1)
	go func() {
		reason, _ := s.Run(context.Background())
		done <- reason
	}()

	<-started
	s.Stop()

	select {
	case reason := <-done:
		assert.Equal(t, StopCancelled, reason)
		assert.Equal(t, int64(1), s.Rounds())
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not interrupt the interval wait")
	}
	assert.Equal(t, StateStopped, s.State())
}

func TestScheduler_CancelDoesNotPreemptRound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	entered := make(chan struct{})
	release := make(chan struct{})
	var roundCtxErr error

	round := func(rctx context.Context) (RoundResult, error) {
		close(entered)
		<-release
		roundCtxErr = rctx.Err()
		return RoundResult{Inserted: 1}, nil
	}
	s := newTestScheduler(round, SchedulerOptions{Interval: time.Hour})

	done := make(chan StopReason, 1)
	go func() {
		reason, _ := s.Run(ctx)
		done <- reason
	}()

	<-entered
	cancel()
	close(release)

	select {
	case reason := <-done:
		assert.Equal(t, StopCancelled, reason)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
	assert.NoError(t, roundCtxErr, "round context must not be cancelled mid-round")
	assert.Equal(t, int64(1), s.Rounds())
}

func TestScheduler_CancelledBeforeFirstRound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	round := func(context.Context) (RoundResult, error) {
		calls++
		return RoundResult{Inserted: 1}, nil
	}

	reason, err := newTestScheduler(round, SchedulerOptions{}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StopCancelled, reason)
	assert.Zero(t, calls)
}

func TestScheduler_RoundWithWorkLeftIsProgress(t *testing.T) {
	results := []RoundResult{{More: true}, {More: true}, {}}
	calls := 0
	round := func(context.Context) (RoundResult, error) {
		res := results[calls]
		calls++
		return res, nil
	}

	s := newTestScheduler(round, SchedulerOptions{Interval: time.Millisecond})
	reason, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopNoProgress, reason)
	assert.Equal(t, int64(3), s.Rounds())
}

func TestScheduler_DescendRoundStopsBetweenWindows(t *testing.T) {
	sink := openSQLite(t)
	src := testutil.NewMemorySource(testutil.Contracts(1, 9, 4)...)
	ctx, cancel := context.WithCancel(context.Background())

	descend := DescendRound(src, sink, DescendOptions{PageRows: 2, MaxWindows: 1})
	round := func(ctx context.Context) (RoundResult, error) {
		res, err := descend(ctx)
		cancel()
		return res, err
	}

	reason, err := newTestScheduler(round, SchedulerOptions{Interval: time.Hour}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StopCancelled, reason)
	assert.Equal(t, []string{"[8,9]"}, src.Fetches())
}

func TestScheduler_RunOnce(t *testing.T) {
	s := newTestScheduler(constantRound(RoundResult{}), SchedulerOptions{})
	_, err := s.Run(context.Background())
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestScheduler_ForwardRoundFollowsSource(t *testing.T) {
	sink := openLog(t)
	src := testutil.NewMemorySource(testutil.Contracts(1, 3, 4)...)
	rec := &testutil.Recorder{}

	calls := 0
	forward := ForwardRound(src, sink, UpdateOptions{})
	round := func(ctx context.Context) (RoundResult, error) {
		calls++
		res, err := forward(ctx)
		// Upstream grows once, after the bootstrap round.
		if calls == 1 {
			src.Add(testutil.Contracts(4, 6, 4)...)
		}
		return res, err
	}

	s := newTestScheduler(round, SchedulerOptions{Interval: time.Millisecond, Notifier: rec})
	reason, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StopNoProgress, reason)
	assert.Equal(t, int64(3), s.Rounds())
	assert.Equal(t, []uint64{3, 4, 5, 6}, storedBlocks(t, sink))
	assert.Contains(t, rec.Messages(), "round 2 finished: 3 stored")
}

func TestScheduler_ForwardRoundReportsFullSink(t *testing.T) {
	sink := openSQLite(t)
	ctx := context.Background()
	base, err := sink.Size(ctx)
	require.NoError(t, err)

	src := testutil.NewMemorySource(testutil.Contracts(1, 4, 3000)...)
	s := newTestScheduler(ForwardRound(src, sink, UpdateOptions{
		SizeLimit: ptr(base + 4096),
		Start:     ptr(uint64(1)),
		End:       ptr(uint64(4)),
	}), SchedulerOptions{})

	reason, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StopSizeCap, reason)
}

func TestScheduler_DescendRound(t *testing.T) {
	sink := openSQLite(t)
	src := testutil.NewMemorySource(testutil.Contracts(1, 6, 4)...)

	s := newTestScheduler(DescendRound(src, sink, DescendOptions{PageRows: 4}), SchedulerOptions{})
	reason, err := s.Run(context.Background())
	require.NoError(t, err)

	// Round 1 descends to genesis; round 2 finds nothing left.
	assert.Equal(t, StopNoProgress, reason)
	assert.Equal(t, int64(2), s.Rounds())
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6}, storedBlocks(t, sink))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "RUNNING", StateRunning.String())
	assert.Equal(t, "STOPPED", StateStopped.String())
}
