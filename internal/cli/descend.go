package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/text/message"

	"github.com/roach88/contractsync/internal/config"
	"github.com/roach88/contractsync/internal/engine"
	"github.com/roach88/contractsync/internal/source"
	"github.com/roach88/contractsync/internal/syncmeta"
)

// DescendOptions holds flags for the descend command.
type DescendOptions struct {
	*RootOptions
	PageRows    uint64
	SizeLimitMB float64
	From        uint64
	MaxWindows  int
}

// DescendResult is the outcome of one backward descent.
type DescendResult struct {
	Source    string            `json:"source"`
	Store     string            `json:"store"`
	Stop      string            `json:"stop"`
	Windows   int               `json:"windows"`
	Fetched   int               `json:"fetched"`
	Inserted  int               `json:"inserted"`
	Skipped   int               `json:"skipped"`
	SizeBytes int64             `json:"size_bytes"`
	Metadata  syncmeta.Metadata `json:"metadata"`
}

// NewDescendCommand creates the descend command.
func NewDescendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DescendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "descend",
		Short: "Fill the store walking backward from the newest block",
		Long: `Fetch fixed-size block windows from the newest block downward until
the store reaches its size limit or block 0.

Progress is saved after every window, so an interrupted descent resumes just
below the lowest block already reached. Ctrl-C stops after the window in
flight. Already-stored addresses are never overwritten.

Examples:
  contractsync descend --config contractsync.yaml
  contractsync descend --page-rows 500 --max-windows 10
  contractsync descend --from 19000000 --size-limit-mb 100`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDescend(opts, cmd)
		},
	}

	cmd.Flags().Uint64Var(&opts.PageRows, "page-rows", 0, "blocks per window (default from config, 2000)")
	cmd.Flags().Float64Var(&opts.SizeLimitMB, "size-limit-mb", 0, "change the store's size limit (MB)")
	cmd.Flags().Uint64Var(&opts.From, "from", 0, "block to start the first descent at (default: latest)")
	cmd.Flags().IntVar(&opts.MaxWindows, "max-windows", 0, "stop after this many windows (0 = no limit)")

	return cmd
}

func runDescend(opts *DescendOptions, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	do, err := descendOptions(cmd, opts.PageRows, opts.SizeLimitMB, cfg)
	if err != nil {
		return err
	}
	do.Notifier = opts.notifier(cmd)
	if cmd.Flags().Changed("from") {
		do.From = ptr(opts.From)
	}
	do.MaxWindows = opts.MaxWindows

	slog.Info("descend starting", "source", source.Describe(src), "store", cfg.Store.Path, "page_rows", do.PageRows)
	res, err := engine.Descend(ctx, src, sink, do)
	if err != nil && !errors.Is(err, context.Canceled) {
		if opts.Format == "json" {
			_ = opts.formatter(cmd).Error(ErrorCode(err), err.Error(), nil)
		}
		return WrapExitError(ExitFailure, "descend failed", err)
	}

	size, err := sink.Size(context.WithoutCancel(ctx))
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read store size", err)
	}

	return opts.formatter(cmd).Success(DescendResult{
		Source:    source.Describe(src),
		Store:     cfg.Store.Path,
		Stop:      string(res.Stop),
		Windows:   res.Windows,
		Fetched:   res.Fetched,
		Inserted:  res.Inserted,
		Skipped:   res.Skipped,
		SizeBytes: size,
		Metadata:  res.Meta,
	})
}

// descendOptions merges the page size and size limit flags over the config.
func descendOptions(cmd *cobra.Command, pageRows uint64, sizeLimitMB float64, cfg config.Config) (engine.DescendOptions, error) {
	do := engine.DescendOptions{PageRows: uint64(cfg.Sync.PageRows)}
	if cmd.Flags().Changed("page-rows") {
		if pageRows == 0 {
			return do, NewExitError(ExitCommandError, "--page-rows must be positive")
		}
		do.PageRows = pageRows
	}
	if cmd.Flags().Changed("size-limit-mb") {
		if sizeLimitMB <= 0 {
			return do, NewExitError(ExitCommandError, "--size-limit-mb must be positive")
		}
		do.SizeLimit = ptr(config.SizeLimitBytes(sizeLimitMB))
	}
	return do, nil
}

func (r DescendResult) renderText(w io.Writer, p *message.Printer) {
	p.Fprintf(w, "Descent from %s stopped: %s\n", r.Source, r.Stop)
	p.Fprintf(w, "  windows %d, fetched %d, stored %d, skipped %d\n", r.Windows, r.Fetched, r.Inserted, r.Skipped)
	if r.Metadata.LowestBlock != nil {
		p.Fprintf(w, "  lowest block reached: %s\n", blk(*r.Metadata.LowestBlock))
	}
	renderCoverage(w, p, r.Metadata, r.SizeBytes)
}
