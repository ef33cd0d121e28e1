package check

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/roach88/contractsync/internal/progress"
	"github.com/roach88/contractsync/internal/record"
	"github.com/roach88/contractsync/internal/store"
)

// errLimit ends a scan early once the limit is reached.
var errLimit = errors.New("scan limit reached")

// ScanOptions configures ScanStore.
type ScanOptions struct {
	// Limit caps the number of contracts checked. Zero means no limit.
	Limit int

	// Mark flags each checked contract in sinks that support it.
	Mark bool

	Notifier progress.Notifier
	Logger   *slog.Logger
}

// Summary tallies a scan.
type Summary struct {
	Total   int            `json:"total"`
	Scanned int            `json:"scanned"`
	Flagged map[string]int `json:"flagged"`
}

type counter interface {
	Count(ctx context.Context) (int, error)
}

// markPage is how many unchecked contracts are read per query in a marking
// scan.
const markPage = 100

// ScanStore runs checker over every record in sink, ordered by block.
// A checker error aborts the scan and is returned with the partial summary.
//
// With opts.Mark only contracts no earlier scan has marked are visited, and
// each one is marked as soon as it is checked, so an aborted scan resumes
// where it stopped.
func ScanStore(ctx context.Context, sink store.Sink, checker Checker, opts ScanOptions) (Summary, error) {
	s := &scan{
		checker:  checker,
		opts:     opts,
		notifier: progress.OrNop(opts.Notifier),
		logger:   opts.Logger,
		sum:      Summary{Flagged: make(map[string]int)},
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	if opts.Mark {
		m, ok := sink.(store.Marker)
		if !ok {
			return s.sum, fmt.Errorf("sink %T cannot mark checked contracts", sink)
		}
		return s.sum, s.unchecked(ctx, m)
	}

	total, err := countRecords(ctx, sink)
	if err != nil {
		return s.sum, err
	}
	s.sum.Total = total
	err = sink.Each(ctx, func(r record.Record) error {
		if s.full() {
			return errLimit
		}
		return s.visit(ctx, r)
	})
	if err != nil && !errors.Is(err, errLimit) {
		return s.sum, fmt.Errorf("scan store: %w", err)
	}
	return s.sum, nil
}

type scan struct {
	checker  Checker
	opts     ScanOptions
	notifier progress.Notifier
	logger   *slog.Logger
	sum      Summary
}

func (s *scan) full() bool {
	return s.opts.Limit > 0 && s.sum.Scanned >= s.opts.Limit
}

// unchecked pages through unmarked contracts. Pages are read before any
// mark is written; the store allows a single connection.
func (s *scan) unchecked(ctx context.Context, m store.Marker) error {
	total, err := m.CountUnchecked(ctx)
	if err != nil {
		return err
	}
	s.sum.Total = total

	seen := make(map[string]struct{})
	for !s.full() {
		recs, err := m.Unchecked(ctx, markPage)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return nil
		}
		for _, r := range recs {
			if s.full() {
				return nil
			}
			if _, ok := seen[r.Address]; ok {
				return fmt.Errorf("scan store: %s still unchecked after marking", r.Address)
			}
			seen[r.Address] = struct{}{}
			if err := s.visit(ctx, r); err != nil {
				return fmt.Errorf("scan store: %w", err)
			}
			if err := m.MarkChecked(ctx, r.Address); err != nil {
				return err
			}
		}
	}
	return nil
}

// visit checks one record and tallies its flags.
func (s *scan) visit(ctx context.Context, r record.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	report, err := s.checker.Check(ctx, r.Bytecode, r.Address)
	if err != nil {
		return err
	}
	s.sum.Scanned++
	for name, set := range report.Flags {
		if _, ok := s.sum.Flagged[name]; !ok {
			s.sum.Flagged[name] = 0
		}
		if set {
			s.sum.Flagged[name]++
		}
	}
	if flagged := report.Flagged(); len(flagged) > 0 {
		sort.Strings(flagged)
		s.logger.Info("contract flagged", "address", r.Address, "block", r.Block, "flags", flagged)
	}
	s.notifier.Notify(s.sum.line())
	return nil
}

func countRecords(ctx context.Context, sink store.Sink) (int, error) {
	if c, ok := sink.(counter); ok {
		return c.Count(ctx)
	}
	n := 0
	err := sink.Each(ctx, func(record.Record) error {
		n++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Names returns the flag names seen so far, sorted.
func (s Summary) Names() []string {
	names := make([]string, 0, len(s.Flagged))
	for name := range s.Flagged {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// line renders the progress message, e.g. "2/5 scanned greedy:0 suicidal:1 left:3".
func (s Summary) line() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d/%d scanned", s.Scanned, s.Total)
	for _, name := range s.Names() {
		fmt.Fprintf(&b, " %s:%d", name, s.Flagged[name])
	}
	fmt.Fprintf(&b, " left:%d", max(s.Total-s.Scanned, 0))
	return b.String()
}
