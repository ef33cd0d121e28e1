package syncmeta

import (
	"context"
	"fmt"
)

// Range is an inclusive block window.
type Range struct {
	Start uint64
	End   uint64
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d]", r.Start, r.End)
}

// Len returns the number of blocks in the window.
func (r Range) Len() uint64 {
	return r.End - r.Start + 1
}

// Resolve turns optional bounds into a concrete window.
//
// With both bounds omitted it continues one block past the newest covered
// block up to the source's latest block, or bootstraps with the single latest
// block when nothing is covered yet. With only one bound given, the window is
// that single block.
func Resolve(ctx context.Context, m Metadata, latest func(context.Context) (uint64, error), start, end *uint64) (Range, error) {
	switch {
	case start == nil && end == nil:
		head, err := latest(ctx)
		if err != nil {
			return Range{}, fmt.Errorf("resolve range: latest block: %w", err)
		}
		if _, newest, ok := m.Covered(); ok {
			return Range{Start: newest + 1, End: head}, nil
		}
		return Range{Start: head, End: head}, nil
	case start == nil:
		return Range{Start: *end, End: *end}, nil
	case end == nil:
		return Range{Start: *start, End: *start}, nil
	default:
		return Range{Start: *start, End: *end}, nil
	}
}

// Shrink removes the part of r already covered by m.
//
// If the lower end of r is covered, start moves past newest. Otherwise, if the
// upper end is covered, end moves below oldest. A window that strictly
// contains the covered extent advances start past newest. ok is false when
// nothing remains to fetch.
func Shrink(m Metadata, r Range) (Range, bool) {
	if r.Start > r.End {
		return r, false
	}
	oldest, newest, covered := m.Covered()
	if !covered {
		return r, true
	}

	switch {
	case r.Start >= oldest && r.Start <= newest:
		r.Start = newest + 1
	case r.End >= oldest && r.End <= newest:
		if oldest == 0 {
			return r, false
		}
		r.End = oldest - 1
	case r.Start < oldest && r.End > newest:
		r.Start = newest + 1
	}

	if r.Start > r.End {
		return r, false
	}
	return r, true
}
