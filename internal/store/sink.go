package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/contractsync/internal/record"
	"github.com/roach88/contractsync/internal/syncmeta"
)

// ErrTruncated signals that a record failed to re-parse after a log rewrite.
// It indicates a bug in eviction and must never be swallowed.
var ErrTruncated = errors.New("log truncated")

// ErrEvictionUnsupported is returned by sinks that never trim retroactively.
var ErrEvictionUnsupported = errors.New("eviction not supported by this sink")

// Eviction selects what a merge does once the size budget is exceeded.
type Eviction int

const (
	// TrimTail drops the oldest records until the store fits the budget.
	TrimTail Eviction = iota
	// Cutoff stops inserting the moment the budget is crossed.
	Cutoff
)

func (e Eviction) String() string {
	switch e {
	case TrimTail:
		return "trim-tail"
	case Cutoff:
		return "cutoff"
	default:
		return fmt.Sprintf("eviction(%d)", int(e))
	}
}

// Conflict selects what happens when an address is already stored.
type Conflict int

const (
	// KeepFirst keeps the stored record; later observations are dropped.
	KeepFirst Conflict = iota
	// KeepLatest replaces the stored record with the later observation.
	KeepLatest
)

func (c Conflict) String() string {
	switch c {
	case KeepFirst:
		return "first"
	case KeepLatest:
		return "latest"
	default:
		return fmt.Sprintf("conflict(%d)", int(c))
	}
}

// ParseConflict parses "first" or "latest".
func ParseConflict(s string) (Conflict, error) {
	switch s {
	case "first":
		return KeepFirst, nil
	case "latest":
		return KeepLatest, nil
	default:
		return 0, fmt.Errorf("unknown conflict policy %q (want first|latest)", s)
	}
}

// Policy is a sink's default merge behavior.
type Policy struct {
	Eviction Eviction
	Conflict Conflict
}

// Sink is a bounded persistent record store.
type Sink interface {
	// Begin acquires the sink for one merge.
	Begin(ctx context.Context) (Batch, error)

	// LoadMetadata returns the persisted metadata, or defaults for a new store.
	LoadMetadata(ctx context.Context) (syncmeta.Metadata, error)

	// SaveMetadata replaces the persisted metadata.
	SaveMetadata(ctx context.Context, m syncmeta.Metadata) error

	// Size returns the current serialized size in bytes.
	Size(ctx context.Context) (int64, error)

	// Policy returns the sink's default eviction and conflict policy.
	Policy() Policy

	// Head returns up to n records ordered by block ascending. A negative n
	// returns every record.
	Head(ctx context.Context, n int) ([]record.Record, error)

	// Each calls fn for every stored record until fn returns an error.
	Each(ctx context.Context, fn func(record.Record) error) error

	Close() error
}

// Batch is an exclusive handle on a sink for the duration of one merge.
type Batch interface {
	// Insert adds r under the given conflict policy and reports whether the
	// store changed.
	Insert(ctx context.Context, r record.Record, c Conflict) (bool, error)

	// Size returns the serialized size including uncommitted changes.
	Size(ctx context.Context) (int64, error)

	// Len returns the number of records including uncommitted changes.
	Len(ctx context.Context) (int, error)

	// EvictOldest removes and returns the record trimmed first: the lowest
	// block, least recently added among equals.
	EvictOldest(ctx context.Context) (record.Record, error)

	// Bounds returns the lowest and highest stored block.
	Bounds(ctx context.Context) (oldest, newest uint64, ok bool, err error)

	Commit(ctx context.Context) error

	// Rollback discards uncommitted changes and releases the sink.
	Rollback() error
}

// Marker is implemented by sinks that can flag records as checked.
type Marker interface {
	MarkChecked(ctx context.Context, address string) error

	// CountUnchecked returns the number of records not yet marked.
	CountUnchecked(ctx context.Context) (int, error)

	// Unchecked returns up to n unmarked records ordered by block.
	Unchecked(ctx context.Context, n int) ([]record.Record, error)
}

type options struct {
	conflict     *Conflict
	defaultLimit int64
	metaPath     string
}

// Option configures a sink.
type Option func(*options)

// WithConflict overrides the sink's default conflict policy.
func WithConflict(c Conflict) Option {
	return func(o *options) { o.conflict = &c }
}

// WithDefaultLimit sets the size budget used before any metadata exists.
func WithDefaultLimit(bytes int64) Option {
	return func(o *options) { o.defaultLimit = bytes }
}

// WithMetadataPath sets where LogSink keeps its metadata document.
func WithMetadataPath(path string) Option {
	return func(o *options) { o.metaPath = path }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
