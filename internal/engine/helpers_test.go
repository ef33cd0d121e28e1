package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/contractsync/internal/record"
	"github.com/roach88/contractsync/internal/store"
)

func openLog(t *testing.T, opts ...store.Option) *store.LogSink {
	t.Helper()
	s, err := store.OpenLog(filepath.Join(t.TempDir(), "contracts.jsonl"), opts...)
	require.NoError(t, err)
	return s
}

func openSQLite(t *testing.T, opts ...store.Option) *store.SQLiteSink {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "contracts.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

// storedBlocks returns the blocks held by sink in block order.
func storedBlocks(t *testing.T, sink store.Sink) []uint64 {
	t.Helper()
	recs, err := sink.Head(context.Background(), -1)
	require.NoError(t, err)
	out := []uint64{}
	for _, r := range recs {
		out = append(out, r.Block)
	}
	return out
}

// fileOrder returns the addresses of a log sink in file order.
func fileOrder(t *testing.T, sink *store.LogSink) []string {
	t.Helper()
	var out []string
	require.NoError(t, sink.Each(context.Background(), func(r record.Record) error {
		out = append(out, r.Address)
		return nil
	}))
	return out
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func lineSize(t *testing.T, r record.Record) int64 {
	t.Helper()
	n, err := record.Size(r)
	require.NoError(t, err)
	return n
}
