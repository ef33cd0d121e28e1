package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySource_FetchWindow(t *testing.T) {
	src := NewMemorySource(Contracts(1, 5, 2)...)
	ctx := context.Background()

	latest, err := src.LatestBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), latest)

	recs, err := src.Fetch(ctx, 2, 3)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(2), recs[0].Block)
	assert.Equal(t, uint64(3), recs[1].Block)
	assert.Equal(t, []string{"[2,3]"}, src.Fetches())
}

func TestMemorySource_Grows(t *testing.T) {
	src := NewMemorySource(Contract(1, 1))
	src.Add(Contract(9, 1))

	latest, err := src.LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(9), latest)
}

func TestContract_Deterministic(t *testing.T) {
	assert.Equal(t, Contract(7, 3), Contract(7, 3))
	assert.Len(t, Contract(7, 3).Address, 42)
	assert.NotEqual(t, Contract(7, 3).Address, Contract(8, 3).Address)
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Notify("a")
	r.Notify("b")
	assert.Equal(t, []string{"a", "b"}, r.Messages())
}

func TestFixedRunID(t *testing.T) {
	assert.Equal(t, "test-run", NewFixedRunID("").Generate())
	g := NewFixedRunID("run-1")
	assert.Equal(t, g.Generate(), g.Generate())
}
