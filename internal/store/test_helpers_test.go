package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/roach88/contractsync/internal/record"
)

// createTestSQLite creates a new relational sink in a temp directory.
func createTestSQLite(t *testing.T, opts ...Option) *SQLiteSink {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestLog creates a new log sink in a temp directory.
func createTestLog(t *testing.T, opts ...Option) *LogSink {
	t.Helper()
	s, err := OpenLog(filepath.Join(t.TempDir(), "contracts.jsonl"), opts...)
	if err != nil {
		t.Fatalf("OpenLog() failed: %v", err)
	}
	return s
}

// rec creates a record with a bytecode of n repeated bytes.
func rec(address string, block uint64, n int) record.Record {
	return record.Record{
		Address:  address,
		Bytecode: []byte(strings.Repeat("\xab", n)),
		Block:    block,
	}
}

// insertAll inserts recs in one committed batch.
func insertAll(t *testing.T, s Sink, c Conflict, recs ...record.Record) int {
	t.Helper()
	ctx := context.Background()
	b, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	defer b.Rollback()

	inserted := 0
	for _, r := range recs {
		ok, err := b.Insert(ctx, r, c)
		if err != nil {
			t.Fatalf("Insert(%s) failed: %v", r.Address, err)
		}
		if ok {
			inserted++
		}
	}
	if err := b.Commit(ctx); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	return inserted
}

func addresses(recs []record.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Address
	}
	return out
}
