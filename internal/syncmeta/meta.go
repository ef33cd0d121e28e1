package syncmeta

import "fmt"

// Metadata is the persisted sync state of one store.
type Metadata struct {
	OldestBlock *uint64 `json:"oldest_block"`
	NewestBlock *uint64 `json:"newest_block"`
	SizeLimit   int64   `json:"size_limit"`

	// Descending-mode watermarks.
	LowestBlock  *uint64 `json:"lowest_block,omitempty"`
	HighestBlock *uint64 `json:"highest_block,omitempty"`
}

// New returns empty metadata with the given size budget.
func New(sizeLimit int64) Metadata {
	return Metadata{SizeLimit: sizeLimit}
}

// Covered reports the covered extent. ok is false for an empty store.
func (m Metadata) Covered() (oldest, newest uint64, ok bool) {
	if m.OldestBlock == nil || m.NewestBlock == nil {
		return 0, 0, false
	}
	return *m.OldestBlock, *m.NewestBlock, true
}

// Observe replaces the covered extent with the bounds of the store contents.
// An empty store clears it.
func (m *Metadata) Observe(oldest, newest uint64, nonEmpty bool) {
	if !nonEmpty {
		m.OldestBlock, m.NewestBlock = nil, nil
		return
	}
	m.OldestBlock, m.NewestBlock = Block(oldest), Block(newest)
}

// Check verifies oldest <= newest when the extent is set.
func (m Metadata) Check() error {
	if (m.OldestBlock == nil) != (m.NewestBlock == nil) {
		return fmt.Errorf("metadata: only one of oldest_block/newest_block is set")
	}
	if oldest, newest, ok := m.Covered(); ok && oldest > newest {
		return fmt.Errorf("metadata: oldest_block %d > newest_block %d", oldest, newest)
	}
	if m.SizeLimit < 0 {
		return fmt.Errorf("metadata: negative size_limit %d", m.SizeLimit)
	}
	return nil
}

func (m Metadata) String() string {
	oldest, newest, ok := m.Covered()
	if !ok {
		return fmt.Sprintf("empty (limit %d bytes)", m.SizeLimit)
	}
	return fmt.Sprintf("[%d,%d] (limit %d bytes)", oldest, newest, m.SizeLimit)
}

// Block returns a pointer to n.
func Block(n uint64) *uint64 {
	return &n
}
