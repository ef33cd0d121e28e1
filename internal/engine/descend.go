package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/contractsync/internal/metrics"
	"github.com/roach88/contractsync/internal/progress"
	"github.com/roach88/contractsync/internal/record"
	"github.com/roach88/contractsync/internal/source"
	"github.com/roach88/contractsync/internal/store"
	"github.com/roach88/contractsync/internal/syncmeta"
)

// DefaultPageRows is the number of blocks per descending window.
const DefaultPageRows uint64 = 2000

// descendPolicy is insert-if-absent with a hard cutoff: descent never
// overwrites and never trims.
var descendPolicy = store.Policy{Eviction: store.Cutoff, Conflict: store.KeepFirst}

// DescendOptions configures a backward descent.
type DescendOptions struct {
	// PageRows is the window width in blocks. Zero uses DefaultPageRows.
	PageRows uint64

	// SizeLimit replaces the persisted budget.
	SizeLimit *int64

	// From is the first block to descend from when no descent has been
	// recorded yet. Nil uses the source's latest block.
	From *uint64

	// MaxWindows stops after this many windows. Zero means no limit.
	MaxWindows int

	Notifier progress.Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// DescendStop says why a descent ended.
type DescendStop string

const (
	DescendSizeCap    DescendStop = "size_cap"
	DescendGenesis    DescendStop = "genesis"
	DescendMaxWindows DescendStop = "max_windows"
	DescendCancelled  DescendStop = "cancelled"
)

// DescendResult describes a descent.
type DescendResult struct {
	Windows  int
	Fetched  int
	Inserted int
	Skipped  int
	Stop     DescendStop
	Meta     syncmeta.Metadata
}

// Descend fills sink walking backward from the lowest block reached so far.
//
// The first descent starts at opts.From or the latest block and records it
// as highest_block. After every completed window lowest_block is persisted,
// so a later call resumes one block below it. A window cut short by the size
// budget does not move lowest_block. Cancellation is checked between windows.
func Descend(ctx context.Context, src source.Source, sink store.Sink, opts DescendOptions) (DescendResult, error) {
	log := loggerOr(opts.Logger)
	notify := progress.OrNop(opts.Notifier)
	page := opts.PageRows
	if page == 0 {
		page = DefaultPageRows
	}

	var res DescendResult
	meta, err := sink.LoadMetadata(ctx)
	if err != nil {
		return res, storeError("load metadata", nil, err)
	}
	if opts.SizeLimit != nil {
		meta.SizeLimit = *opts.SizeLimit
	}
	res.Meta = meta

	var high uint64
	switch {
	case meta.LowestBlock != nil && *meta.LowestBlock == 0:
		res.Stop = DescendGenesis
		notify.Notify("descent already reached block 0")
		return res, saveIfChanged(ctx, sink, meta, opts.SizeLimit != nil)
	case meta.LowestBlock != nil:
		high = *meta.LowestBlock - 1
	case opts.From != nil:
		high = *opts.From
	default:
		if high, err = src.LatestBlock(ctx); err != nil {
			return res, sourceError("latest block", nil, err)
		}
	}
	if meta.HighestBlock == nil {
		meta.HighestBlock = syncmeta.Block(high)
	}

	// A window in flight runs to completion even if ctx is cancelled.
	work := context.WithoutCancel(ctx)
	for {
		if ctx.Err() != nil {
			res.Stop = DescendCancelled
			break
		}
		size, err := sink.Size(work)
		if err != nil {
			return res, storeError("size", nil, err)
		}
		if size >= meta.SizeLimit {
			res.Stop = DescendSizeCap
			break
		}

		w := syncmeta.Range{Start: 0, End: high}
		if high >= page-1 {
			w.Start = high - (page - 1)
		}

		notify.Notify(fmt.Sprintf("descending %s", w))
		recs, err := fetch(work, src, w, opts.Metrics)
		if err != nil {
			return res, err
		}
		merged, err := Merge(work, sink, recs, MergeOptions{
			Limit:  meta.SizeLimit,
			Policy: descendPolicy,
			OnInsert: func(rec record.Record) {
				notify.Notify(fmt.Sprintf("stored %s (block %d)", rec.Address, rec.Block))
			},
			OnSkip: func(rec record.Record) {
				notify.Notify(fmt.Sprintf("skipped %s (block %d): already stored", rec.Address, rec.Block))
			},
		})
		if err != nil {
			return res, storeError("merge", &w, err)
		}
		opts.Metrics.ObserveMerge(merged.Inserted, merged.Skipped, merged.Evicted, merged.Size)

		res.Windows++
		res.Fetched += len(recs)
		res.Inserted += merged.Inserted
		res.Skipped += merged.Skipped

		meta.Observe(merged.Oldest, merged.Newest, !merged.Empty)
		if !merged.Halted {
			meta.LowestBlock = syncmeta.Block(w.Start)
		}
		if err := sink.SaveMetadata(work, meta); err != nil {
			return res, storeError("save metadata", &w, err)
		}
		res.Meta = meta
		oldest, newest, covered := meta.Covered()
		opts.Metrics.ObserveCovered(oldest, newest, covered)

		log.Info("descend window",
			"start", w.Start,
			"end", w.End,
			"fetched", len(recs),
			"inserted", merged.Inserted,
			"halted", merged.Halted,
			"size", merged.Size,
		)

		switch {
		case merged.Full:
			res.Stop = DescendSizeCap
		case w.Start == 0:
			res.Stop = DescendGenesis
		case opts.MaxWindows > 0 && res.Windows >= opts.MaxWindows:
			res.Stop = DescendMaxWindows
		}
		if res.Stop != "" {
			break
		}
		high = w.Start - 1
	}

	if res.Windows == 0 && res.Stop != DescendCancelled {
		if err := saveIfChanged(work, sink, meta, true); err != nil {
			return res, err
		}
		res.Meta = meta
	}
	notify.Notify(fmt.Sprintf("descent stopped (%s): %d windows, %d stored", res.Stop, res.Windows, res.Inserted))
	if res.Stop == DescendCancelled {
		return res, ctx.Err()
	}
	return res, nil
}

func saveIfChanged(ctx context.Context, sink store.Sink, meta syncmeta.Metadata, changed bool) error {
	if !changed {
		return nil
	}
	if err := sink.SaveMetadata(ctx, meta); err != nil {
		return storeError("save metadata", nil, err)
	}
	return nil
}
