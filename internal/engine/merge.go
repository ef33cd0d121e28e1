package engine

import (
	"context"
	"fmt"

	"github.com/roach88/contractsync/internal/record"
	"github.com/roach88/contractsync/internal/store"
)

// MergeOptions configures one bounded merge.
type MergeOptions struct {
	// Limit is the size budget in bytes.
	Limit int64

	Policy store.Policy

	// OnInsert is called for every record that changed the sink.
	OnInsert func(record.Record)

	// OnSkip is called for every record the conflict policy left out.
	OnSkip func(record.Record)

	// OnEvict is called for every record trimmed from the sink.
	OnEvict func(record.Record)
}

// MergeResult describes a committed merge.
type MergeResult struct {
	Inserted int
	Skipped  int // already present under the conflict policy
	Evicted  int

	// Halted is set when Cutoff left records of the batch unwritten.
	Halted bool
	// Full is set when a Cutoff sink has reached its budget.
	Full bool

	// Size and bounds of the sink after the merge.
	Size   int64
	Oldest uint64
	Newest uint64
	Empty  bool
}

// Merge writes recs into sink under opts.Limit and commits.
//
// Every record is validated before the sink is acquired, so a bad batch
// leaves the sink untouched. Under TrimTail the tail of the sink (its lowest
// blocks) is evicted while the sink is over budget and holds more than one
// record.
// Under Cutoff the size is checked before the first insert and after each
// one, and insertion stops once size >= limit.
func Merge(ctx context.Context, sink store.Sink, recs []record.Record, opts MergeOptions) (MergeResult, error) {
	var res MergeResult
	for i, r := range recs {
		if err := r.Validate(); err != nil {
			return res, fmt.Errorf("merge: record %d: %w", i, err)
		}
	}

	b, err := sink.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("merge: begin: %w", err)
	}
	defer b.Rollback()

	switch opts.Policy.Eviction {
	case store.Cutoff:
		err = insertUntilFull(ctx, b, recs, opts, &res)
	default:
		err = insertThenTrim(ctx, b, recs, opts, &res)
	}
	if err != nil {
		return res, err
	}

	if res.Size, err = b.Size(ctx); err != nil {
		return res, fmt.Errorf("merge: size: %w", err)
	}
	oldest, newest, ok, err := b.Bounds(ctx)
	if err != nil {
		return res, fmt.Errorf("merge: bounds: %w", err)
	}
	res.Oldest, res.Newest, res.Empty = oldest, newest, !ok

	if err := b.Commit(ctx); err != nil {
		return res, fmt.Errorf("merge: commit: %w", err)
	}
	return res, nil
}

func insertUntilFull(ctx context.Context, b store.Batch, recs []record.Record, opts MergeOptions, res *MergeResult) error {
	size, err := b.Size(ctx)
	if err != nil {
		return fmt.Errorf("merge: size: %w", err)
	}
	for _, r := range recs {
		if size >= opts.Limit {
			res.Full, res.Halted = true, true
			return nil
		}
		if err := insert(ctx, b, r, opts, res); err != nil {
			return err
		}
		if size, err = b.Size(ctx); err != nil {
			return fmt.Errorf("merge: size: %w", err)
		}
	}
	res.Full = size >= opts.Limit
	return nil
}

func insertThenTrim(ctx context.Context, b store.Batch, recs []record.Record, opts MergeOptions, res *MergeResult) error {
	for _, r := range recs {
		if err := insert(ctx, b, r, opts, res); err != nil {
			return err
		}
	}

	for {
		size, err := b.Size(ctx)
		if err != nil {
			return fmt.Errorf("merge: size: %w", err)
		}
		n, err := b.Len(ctx)
		if err != nil {
			return fmt.Errorf("merge: len: %w", err)
		}
		if size <= opts.Limit || n <= 1 {
			return nil
		}
		r, err := b.EvictOldest(ctx)
		if err != nil {
			return fmt.Errorf("merge: evict: %w", err)
		}
		res.Evicted++
		if opts.OnEvict != nil {
			opts.OnEvict(r)
		}
	}
}

func insert(ctx context.Context, b store.Batch, r record.Record, opts MergeOptions, res *MergeResult) error {
	ok, err := b.Insert(ctx, r, opts.Policy.Conflict)
	if err != nil {
		return fmt.Errorf("merge: insert %s: %w", r.Address, err)
	}
	if !ok {
		res.Skipped++
		if opts.OnSkip != nil {
			opts.OnSkip(r)
		}
		return nil
	}
	res.Inserted++
	if opts.OnInsert != nil {
		opts.OnInsert(r)
	}
	return nil
}
