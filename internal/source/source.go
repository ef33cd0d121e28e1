package source

import (
	"context"
	"fmt"

	"github.com/roach88/contractsync/internal/record"
)

// Source is a block-indexed record provider.
//
// Fetch returns every record with start <= Block <= end, in any order.
// Repeated calls for the same window return the same set.
type Source interface {
	LatestBlock(ctx context.Context) (uint64, error)
	Fetch(ctx context.Context, start, end uint64) ([]record.Record, error)
}

// Describe names a source for logs.
func Describe(s Source) string {
	if str, ok := s.(fmt.Stringer); ok {
		return str.String()
	}
	return fmt.Sprintf("%T", s)
}
