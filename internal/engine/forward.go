package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/contractsync/internal/metrics"
	"github.com/roach88/contractsync/internal/progress"
	"github.com/roach88/contractsync/internal/record"
	"github.com/roach88/contractsync/internal/source"
	"github.com/roach88/contractsync/internal/store"
	"github.com/roach88/contractsync/internal/syncmeta"
)

// UpdateOptions configures a forward update. Nil fields keep their default.
type UpdateOptions struct {
	// SizeLimit replaces the persisted budget.
	SizeLimit *int64

	// Start and End bound the window. Both nil continues from the covered
	// range; one set selects that single block.
	Start *uint64
	End   *uint64

	// Policy overrides the sink's default policy.
	Policy *store.Policy

	Notifier progress.Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// UpdateResult describes a forward update.
type UpdateResult struct {
	// Range is the effective window after overlap removal.
	Range syncmeta.Range
	// NoOp is set when the window was already covered and nothing was fetched.
	NoOp bool

	Fetched int
	Merge   MergeResult
	Meta    syncmeta.Metadata
}

// Update fetches the next uncovered window from src and merges it into sink.
//
// Repeating an Update with the same arguments after it succeeded is a no-op:
// the window resolves to the covered range and shrinks to nothing. A changed
// SizeLimit is persisted even then.
func Update(ctx context.Context, src source.Source, sink store.Sink, opts UpdateOptions) (UpdateResult, error) {
	log := loggerOr(opts.Logger)
	notify := progress.OrNop(opts.Notifier)

	var res UpdateResult
	meta, err := sink.LoadMetadata(ctx)
	if err != nil {
		return res, storeError("load metadata", nil, err)
	}
	limitChanged := false
	if opts.SizeLimit != nil && *opts.SizeLimit != meta.SizeLimit {
		meta.SizeLimit = *opts.SizeLimit
		limitChanged = true
	}
	res.Meta = meta

	r, err := syncmeta.Resolve(ctx, meta, src.LatestBlock, opts.Start, opts.End)
	if err != nil {
		return res, sourceError("resolve window", nil, err)
	}
	requested := r
	r, ok := syncmeta.Shrink(meta, r)
	res.Range = r
	if !ok {
		res.NoOp = true
		log.Debug("window already covered", "requested", requested.String(), "meta", meta.String())
		notify.Notify(fmt.Sprintf("nothing to fetch: %s already covered", requested))
		if limitChanged {
			if err := sink.SaveMetadata(ctx, meta); err != nil {
				return res, storeError("save metadata", &r, err)
			}
		}
		return res, nil
	}

	notify.Notify(fmt.Sprintf("fetching %s from %s", r, source.Describe(src)))
	recs, err := fetch(ctx, src, r, opts.Metrics)
	if err != nil {
		return res, err
	}
	res.Fetched = len(recs)

	merged, err := Merge(ctx, sink, recs, MergeOptions{
		Limit:  meta.SizeLimit,
		Policy: effectivePolicy(sink, opts.Policy),
		OnInsert: func(rec record.Record) {
			notify.Notify(fmt.Sprintf("stored %s (block %d)", rec.Address, rec.Block))
		},
		OnSkip: func(rec record.Record) {
			notify.Notify(fmt.Sprintf("skipped %s (block %d): already stored", rec.Address, rec.Block))
		},
		OnEvict: func(rec record.Record) {
			notify.Notify(fmt.Sprintf("evicted %s (block %d)", rec.Address, rec.Block))
		},
	})
	if err != nil {
		return res, storeError("merge", &r, err)
	}
	res.Merge = merged
	opts.Metrics.ObserveMerge(merged.Inserted, merged.Skipped, merged.Evicted, merged.Size)

	meta.Observe(merged.Oldest, merged.Newest, !merged.Empty)
	if err := sink.SaveMetadata(ctx, meta); err != nil {
		return res, storeError("save metadata", &r, err)
	}
	res.Meta = meta
	oldest, newest, covered := meta.Covered()
	opts.Metrics.ObserveCovered(oldest, newest, covered)

	log.Info("update",
		"start", r.Start,
		"end", r.End,
		"fetched", res.Fetched,
		"inserted", merged.Inserted,
		"evicted", merged.Evicted,
		"halted", merged.Halted,
		"size", merged.Size,
		"meta", meta.String(),
	)
	return res, nil
}

// fetch reads one window and validates it as a whole.
func fetch(ctx context.Context, src source.Source, r syncmeta.Range, m *metrics.Metrics) ([]record.Record, error) {
	began := time.Now()
	recs, err := src.Fetch(ctx, r.Start, r.End)
	m.ObserveFetch(time.Since(began), len(recs), err)
	if err != nil {
		return nil, sourceError("fetch", &r, err)
	}
	if err := record.ValidateRange(recs, r.Start, r.End); err != nil {
		return nil, newSyncError(ErrCodeDataIntegrity, "validate", &r, err)
	}
	return recs, nil
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
