package cli

import (
	"io"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/text/message"

	"github.com/roach88/contractsync/internal/config"
	"github.com/roach88/contractsync/internal/engine"
	"github.com/roach88/contractsync/internal/source"
	"github.com/roach88/contractsync/internal/syncmeta"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Start       uint64
	End         uint64
	SizeLimitMB float64
}

// SyncResult is the outcome of one forward update.
type SyncResult struct {
	Source    string            `json:"source"`
	Store     string            `json:"store"`
	Start     uint64            `json:"start"`
	End       uint64            `json:"end"`
	NoOp      bool              `json:"no_op"`
	Fetched   int               `json:"fetched"`
	Inserted  int               `json:"inserted"`
	Skipped   int               `json:"skipped"`
	Evicted   int               `json:"evicted"`
	Halted    bool              `json:"halted"`
	SizeBytes int64             `json:"size_bytes"`
	Metadata  syncmeta.Metadata `json:"metadata"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch the next uncovered block window",
		Long: `Run one forward update: resolve the block window, drop the part the
store already covers, fetch the rest from the source and merge it under the
store's size limit.

Without --start/--end the window runs from just past the newest stored block
to the source's latest block. Running sync twice in a row is a no-op.

Examples:
  contractsync sync --config contractsync.yaml
  contractsync sync --start 17000000 --end 17000100
  contractsync sync --size-limit-mb 16 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().Uint64Var(&opts.Start, "start", 0, "first block of the window")
	cmd.Flags().Uint64Var(&opts.End, "end", 0, "last block of the window")
	cmd.Flags().Float64Var(&opts.SizeLimitMB, "size-limit-mb", 0, "change the store's size limit (MB)")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	sink, err := openSink(cfg)
	if err != nil {
		return err
	}
	defer closeSink(sink)
	opts.echoStore(cmd, cfg, sink)

	src, closeSrc, err := openSource(ctx, cfg)
	defer closeSrc()
	if err != nil {
		return err
	}

	uo := engine.UpdateOptions{Notifier: opts.notifier(cmd)}
	if cmd.Flags().Changed("start") {
		uo.Start = ptr(opts.Start)
	}
	if cmd.Flags().Changed("end") {
		uo.End = ptr(opts.End)
	}
	if cmd.Flags().Changed("size-limit-mb") {
		if opts.SizeLimitMB <= 0 {
			return NewExitError(ExitCommandError, "--size-limit-mb must be positive")
		}
		uo.SizeLimit = ptr(config.SizeLimitBytes(opts.SizeLimitMB))
	}

	slog.Info("sync starting", "source", source.Describe(src), "store", cfg.Store.Path)
	res, err := engine.Update(ctx, src, sink, uo)
	if err != nil {
		f := opts.formatter(cmd)
		if opts.Format == "json" {
			_ = f.Error(ErrorCode(err), err.Error(), nil)
		}
		return WrapExitError(ExitFailure, "sync failed", err)
	}

	size, err := sink.Size(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read store size", err)
	}

	return opts.formatter(cmd).Success(SyncResult{
		Source:    source.Describe(src),
		Store:     cfg.Store.Path,
		Start:     res.Range.Start,
		End:       res.Range.End,
		NoOp:      res.NoOp,
		Fetched:   res.Fetched,
		Inserted:  res.Merge.Inserted,
		Skipped:   res.Merge.Skipped,
		Evicted:   res.Merge.Evicted,
		Halted:    res.Merge.Halted,
		SizeBytes: size,
		Metadata:  res.Meta,
	})
}

func (r SyncResult) renderText(w io.Writer, p *message.Printer) {
	if r.NoOp {
		p.Fprintf(w, "Already up to date\n")
	} else {
		p.Fprintf(w, "Synced blocks %s-%s from %s\n", blk(r.Start), blk(r.End), r.Source)
		p.Fprintf(w, "  fetched %d, stored %d, skipped %d, evicted %d\n", r.Fetched, r.Inserted, r.Skipped, r.Evicted)
		if r.Halted {
			p.Fprintf(w, "  size limit reached; window not fully stored\n")
		}
	}
	renderCoverage(w, p, r.Metadata, r.SizeBytes)
}

// renderCoverage prints the covered range and size budget.
func renderCoverage(w io.Writer, p *message.Printer, m syncmeta.Metadata, size int64) {
	if oldest, newest, ok := m.Covered(); ok {
		p.Fprintf(w, "  covered: blocks %s-%s\n", blk(oldest), blk(newest))
	} else {
		p.Fprintf(w, "  covered: nothing yet\n")
	}
	p.Fprintf(w, "  size: %d / %d bytes\n", size, m.SizeLimit)
}

// blk prints a block number without digit grouping.
func blk(n uint64) string { return strconv.FormatUint(n, 10) }
