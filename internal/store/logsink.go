package store

import (
	"bufio"
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"github.com/roach88/contractsync/internal/record"
	"github.com/roach88/contractsync/internal/syncmeta"
)

// DefaultLogLimit is the budget of a new log sink: 8 MiB.
const DefaultLogLimit int64 = 8 << 20

// LogSink is an evicting newline-delimited JSON log, most recent block first.
type LogSink struct {
	path   string
	meta   syncmeta.FileStore
	policy Policy

	mu sync.Mutex // held by the open batch
}

// OpenLog opens (or prepares) a log at path. The metadata document defaults
// to metadata.json in the same directory.
func OpenLog(path string, opts ...Option) (*LogSink, error) {
	o := buildOptions(opts)
	if o.defaultLimit == 0 {
		o.defaultLimit = DefaultLogLimit
	}
	if o.metaPath == "" {
		o.metaPath = filepath.Join(filepath.Dir(path), "metadata.json")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}

	policy := Policy{Eviction: TrimTail, Conflict: KeepLatest}
	if o.conflict != nil {
		policy.Conflict = *o.conflict
	}
	return &LogSink{
		path:   path,
		meta:   syncmeta.FileStore{Path: o.metaPath, DefaultLimit: o.defaultLimit},
		policy: policy,
	}, nil
}

// Path returns the log file path.
func (s *LogSink) Path() string { return s.path }

func (s *LogSink) Policy() Policy { return s.policy }

func (s *LogSink) Close() error { return nil }

func (s *LogSink) LoadMetadata(context.Context) (syncmeta.Metadata, error) {
	return s.meta.Load()
}

func (s *LogSink) SaveMetadata(_ context.Context, m syncmeta.Metadata) error {
	return s.meta.Save(m)
}

func (s *LogSink) Size(context.Context) (int64, error) {
	info, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("log size: %w", err)
	}
	return info.Size(), nil
}

func (s *LogSink) Head(ctx context.Context, n int) ([]record.Record, error) {
	var recs []record.Record
	if err := s.Each(ctx, func(r record.Record) error {
		recs = append(recs, r)
		return nil
	}); err != nil {
		return nil, err
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Block < recs[j].Block })
	if n >= 0 && len(recs) > n {
		recs = recs[:n]
	}
	if recs == nil {
		recs = []record.Record{}
	}
	return recs, nil
}

func (s *LogSink) Each(ctx context.Context, fn func(record.Record) error) error {
	entries, err := readLog(s.path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e.rec); err != nil {
			return err
		}
	}
	return nil
}

// Begin loads the current log into memory and locks the sink.
func (s *LogSink) Begin(context.Context) (Batch, error) {
	s.mu.Lock()
	entries, err := readLog(s.path)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	// Logs written in another order are normalized on the next commit.
	slices.SortStableFunc(entries, func(x, y logEntry) int { return cmp.Compare(y.rec.Block, x.rec.Block) })
	b := &logBatch{sink: s, entries: entries, index: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		b.index[e.rec.Address] = struct{}{}
		b.size += int64(len(e.line))
	}
	return b, nil
}

type logEntry struct {
	rec  record.Record
	line []byte
}

// logBatch keeps the log ordered by block, highest first. A record goes ahead
// of every entry at its block or below, so among equal blocks the most
// recently added comes first and the tail is always the oldest record.
type logBatch struct {
	sink    *LogSink
	entries []logEntry
	index   map[string]struct{}
	size    int64
	done    bool
}

func (b *logBatch) Insert(_ context.Context, r record.Record, c Conflict) (bool, error) {
	if b.done {
		return false, errors.New("log batch: insert after release")
	}
	if err := r.Validate(); err != nil {
		return false, err
	}
	line, err := record.MarshalLine(r)
	if err != nil {
		return false, err
	}

	if _, ok := b.index[r.Address]; ok {
		if c == KeepFirst {
			return false, nil
		}
		i := b.find(r.Address)
		if bytes.Equal(b.entries[i].line, line) {
			// Identical observation: keep its position.
			return false, nil
		}
		b.removeAt(i)
	}

	i := slices.IndexFunc(b.entries, func(e logEntry) bool { return e.rec.Block <= r.Block })
	if i < 0 {
		i = len(b.entries)
	}
	b.entries = slices.Insert(b.entries, i, logEntry{rec: r, line: line})
	b.index[r.Address] = struct{}{}
	b.size += int64(len(line))
	return true, nil
}

func (b *logBatch) find(address string) int {
	return slices.IndexFunc(b.entries, func(e logEntry) bool { return e.rec.Address == address })
}

func (b *logBatch) removeAt(i int) logEntry {
	e := b.entries[i]
	b.entries = slices.Delete(b.entries, i, i+1)
	delete(b.index, e.rec.Address)
	b.size -= int64(len(e.line))
	return e
}

func (b *logBatch) Size(context.Context) (int64, error) { return b.size, nil }

func (b *logBatch) Len(context.Context) (int, error) { return len(b.entries), nil }

// EvictOldest drops the tail: the lowest block, least recently added first.
func (b *logBatch) EvictOldest(context.Context) (record.Record, error) {
	if len(b.entries) == 0 {
		return record.Record{}, errors.New("log batch: evict from empty log")
	}
	return b.removeAt(len(b.entries) - 1).rec, nil
}

func (b *logBatch) Bounds(context.Context) (uint64, uint64, bool, error) {
	if len(b.entries) == 0 {
		return 0, 0, false, nil
	}
	return b.entries[len(b.entries)-1].rec.Block, b.entries[0].rec.Block, true, nil
}

// Commit rewrites the whole file and re-parses every line from disk.
func (b *logBatch) Commit(context.Context) error {
	if b.done {
		return errors.New("log batch: commit after release")
	}
	defer b.release()

	var buf bytes.Buffer
	buf.Grow(int(b.size))
	for _, e := range b.entries {
		buf.Write(e.line)
	}
	if err := syncmeta.WriteFileAtomic(b.sink.path, buf.Bytes()); err != nil {
		return fmt.Errorf("commit log: %w", err)
	}

	written, err := readLog(b.sink.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	if len(written) != len(b.entries) {
		return fmt.Errorf("%w: wrote %d records, read back %d", ErrTruncated, len(b.entries), len(written))
	}
	for i, e := range written {
		if e.rec.Bytecode == nil {
			return fmt.Errorf("%w: line %d (%s) has null bytecode", ErrTruncated, i+1, e.rec.Address)
		}
	}
	return nil
}

func (b *logBatch) Rollback() error {
	if !b.done {
		b.release()
	}
	return nil
}

func (b *logBatch) release() {
	b.done = true
	b.sink.mu.Unlock()
}

// readLog parses every line of the log. A missing file is an empty log.
func readLog(path string) ([]logEntry, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer f.Close()

	var entries []logEntry
	r := bufio.NewReader(f)
	for n := 1; ; n++ {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			if line[len(line)-1] != '\n' {
				return nil, fmt.Errorf("read log %s: line %d: missing newline", path, n)
			}
			rec, perr := record.ParseLine(line)
			if perr != nil {
				return nil, fmt.Errorf("read log %s: line %d: %w", path, n, perr)
			}
			entries = append(entries, logEntry{rec: rec, line: line})
		}
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read log %s: %w", path, err)
		}
	}
}
