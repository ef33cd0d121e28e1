package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/contractsync/internal/record"
)

// MemorySource is an in-memory source.Source. Records can be added while a
// sync is running, which models an upstream that keeps growing.
//
// Thread-safety: all methods are safe for concurrent use.
type MemorySource struct {
	mu      sync.Mutex
	records []record.Record
	latest  uint64

	// FetchErr, when set, is returned by every Fetch.
	FetchErr error
	// LatestErr, when set, is returned by every LatestBlock.
	LatestErr error

	fetches []string
}

// NewMemorySource returns a source holding recs.
func NewMemorySource(recs ...record.Record) *MemorySource {
	s := &MemorySource{}
	s.Add(recs...)
	return s
}

// Add appends records and raises the latest block to cover them.
func (s *MemorySource) Add(recs ...record.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		s.records = append(s.records, r)
		if r.Block > s.latest {
			s.latest = r.Block
		}
	}
}

// SetLatest overrides the latest block.
func (s *MemorySource) SetLatest(n uint64) {
	s.mu.Lock()
	s.latest = n
	s.mu.Unlock()
}

func (s *MemorySource) String() string { return "memory" }

func (s *MemorySource) LatestBlock(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LatestErr != nil {
		return 0, s.LatestErr
	}
	return s.latest, nil
}

// Fetch returns the records in [start, end], ordered by block.
func (s *MemorySource) Fetch(_ context.Context, start, end uint64) ([]record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches = append(s.fetches, fmt.Sprintf("[%d,%d]", start, end))
	if s.FetchErr != nil {
		return nil, s.FetchErr
	}

	var out []record.Record
	for _, r := range s.records {
		if r.Block >= start && r.Block <= end {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Block < out[j].Block })
	return out, nil
}

// Fetches returns the windows requested so far, e.g. "[2,3]".
func (s *MemorySource) Fetches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.fetches...)
}

// Contract returns a record at block with a deterministic address and
// size bytes of bytecode.
func Contract(block uint64, size int) record.Record {
	return record.Record{
		Address:  fmt.Sprintf("0x%040x", block),
		Bytecode: []byte(strings.Repeat("\x60", size)),
		Block:    block,
	}
}

// Contracts returns one Contract per block in [from, to].
func Contracts(from, to uint64, size int) []record.Record {
	var out []record.Record
	for b := from; b <= to; b++ {
		out = append(out, Contract(b, size))
	}
	return out
}
