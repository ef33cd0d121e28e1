package engine

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/contractsync/internal/record"
	"github.com/roach88/contractsync/internal/store"
	"github.com/roach88/contractsync/internal/testutil"
)

func TestMerge_TrimTailKeepsMostRecent(t *testing.T) {
	sink := openLog(t)
	ctx := context.Background()
	recs := testutil.Contracts(1, 5, 8)
	one := lineSize(t, recs[0])

	// First merge: blocks 1..3. Second merge: 4..5, budget for three lines.
	_, err := Merge(ctx, sink, recs[:3], MergeOptions{Limit: 10 * one, Policy: sink.Policy()})
	require.NoError(t, err)

	var evicted []uint64
	res, err := Merge(ctx, sink, recs[3:], MergeOptions{
		Limit:   3 * one,
		Policy:  sink.Policy(),
		OnEvict: func(r record.Record) { evicted = append(evicted, r.Block) },
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 2, res.Evicted)
	assert.Equal(t, []uint64{1, 2}, evicted, "lowest blocks go first")
	assert.Equal(t, 3*one, res.Size)
	assert.Equal(t, uint64(3), res.Oldest)
	assert.Equal(t, uint64(5), res.Newest)
	assert.False(t, res.Halted)

	// Most recent block first.
	assert.Equal(t, []string{recs[4].Address, recs[3].Address, recs[2].Address}, fileOrder(t, sink))

	size, err := sink.Size(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, size, 3*one)
}

func TestMerge_TrimTailSizeBound(t *testing.T) {
	sink := openLog(t)
	ctx := context.Background()
	one := lineSize(t, testutil.Contract(1, 16))

	for i := uint64(0); i < 5; i++ {
		_, err := Merge(ctx, sink, testutil.Contracts(i*4+1, i*4+4, 16), MergeOptions{
			Limit:  5*one + one/2,
			Policy: sink.Policy(),
		})
		require.NoError(t, err)

		size, err := sink.Size(ctx)
		require.NoError(t, err)
		assert.LessOrEqual(t, size, 5*one+one/2)
	}
	// The five highest blocks survive.
	assert.Equal(t, []uint64{16, 17, 18, 19, 20}, storedBlocks(t, sink))
}

func TestMerge_OversizeRecordRetainedAlone(t *testing.T) {
	sink := openLog(t)
	ctx := context.Background()

	_, err := Merge(ctx, sink, testutil.Contracts(1, 2, 4), MergeOptions{Limit: 1 << 20, Policy: sink.Policy()})
	require.NoError(t, err)

	big := testutil.Contract(3, 4096)
	res, err := Merge(ctx, sink, []record.Record{big}, MergeOptions{Limit: 100, Policy: sink.Policy()})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Evicted)
	assert.Equal(t, []uint64{3}, storedBlocks(t, sink))
	assert.Equal(t, lineSize(t, big), res.Size)
}

func TestMerge_ValidationFailureLeavesSinkUntouched(t *testing.T) {
	sink := openLog(t)
	ctx := context.Background()
	_, err := Merge(ctx, sink, testutil.Contracts(1, 2, 4), MergeOptions{Limit: 1 << 20, Policy: sink.Policy()})
	require.NoError(t, err)
	before := readFile(t, sink.Path())

	bad := testutil.Contracts(3, 5, 4)
	bad[2].Bytecode = nil
	_, err = Merge(ctx, sink, bad, MergeOptions{Limit: 1 << 20, Policy: sink.Policy()})
	require.Error(t, err)
	assert.ErrorIs(t, err, record.ErrIntegrity)

	assert.Equal(t, before, readFile(t, sink.Path()))

	// The sink was released.
	_, err = Merge(ctx, sink, nil, MergeOptions{Limit: 1 << 20, Policy: sink.Policy()})
	assert.NoError(t, err)
}

func TestMerge_CutoffHaltsScenarioB(t *testing.T) {
	sink := openSQLite(t)
	ctx := context.Background()

	base, err := sink.Size(ctx)
	require.NoError(t, err)

	// Each row carries ~6KB of hex text: four rows cannot fit in one page
	// of headroom.
	res, err := Merge(ctx, sink, testutil.Contracts(1, 4, 3000), MergeOptions{
		Limit:  base + 4096,
		Policy: sink.Policy(),
	})
	require.NoError(t, err)

	assert.True(t, res.Halted)
	assert.True(t, res.Full)
	assert.Zero(t, res.Evicted)

	n, err := sink.Count(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
	assert.Less(t, n, 4)
	assert.Equal(t, n, res.Inserted)
}

func TestMerge_CutoffFullBeforeFirstInsert(t *testing.T) {
	sink := openSQLite(t)
	ctx := context.Background()

	res, err := Merge(ctx, sink, testutil.Contracts(1, 2, 8), MergeOptions{Limit: 1, Policy: sink.Policy()})
	require.NoError(t, err)

	assert.Zero(t, res.Inserted)
	assert.True(t, res.Halted)
	assert.True(t, res.Empty)
	assert.Empty(t, storedBlocks(t, sink))
}

func TestMerge_KeepFirstSkipsKnownAddress(t *testing.T) {
	sink := openSQLite(t)
	ctx := context.Background()
	policy := store.Policy{Eviction: store.Cutoff, Conflict: store.KeepFirst}

	_, err := Merge(ctx, sink, []record.Record{testutil.Contract(5, 4)}, MergeOptions{Limit: 1 << 30, Policy: policy})
	require.NoError(t, err)

	later := testutil.Contract(5, 4)
	later.Block = 9
	res, err := Merge(ctx, sink, []record.Record{later}, MergeOptions{Limit: 1 << 30, Policy: policy})
	require.NoError(t, err)

	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []uint64{5}, storedBlocks(t, sink))
}

func TestMerge_CommitFailureIsTruncation(t *testing.T) {
	sink := openLog(t)
	ctx := context.Background()
	require.NoError(t, os.WriteFile(sink.Path(),
		[]byte(`{"address":"0x1","bytecode":null,"block":1}`+"\n"), 0o644))

	_, err := Merge(ctx, sink, testutil.Contracts(2, 2, 1), MergeOptions{Limit: 1 << 20, Policy: sink.Policy()})
	require.Error(t, err)
	assert.True(t, IsTruncationError(err))
}
