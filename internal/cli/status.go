package cli

import (
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/text/message"

	"github.com/roach88/contractsync/internal/record"
	"github.com/roach88/contractsync/internal/syncmeta"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
}

// StatusResult describes a store without touching any source.
type StatusResult struct {
	Kind      string            `json:"kind"`
	Path      string            `json:"path"`
	Eviction  string            `json:"eviction"`
	Conflict  string            `json:"conflict"`
	Records   int               `json:"records"`
	SizeBytes int64             `json:"size_bytes"`
	Metadata  syncmeta.Metadata `json:"metadata"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show store coverage and size",
		Long: `Show what the configured store holds: record count, size against its
limit, the covered block range and descent watermarks.

Status only reads. It is safe to run while a watch is in progress, though
the numbers may lag the writer by one round.

Examples:
  contractsync status --config contractsync.yaml
  contractsync status --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}
	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
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

	meta, err := sink.LoadMetadata(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load metadata", err)
	}
	size, err := sink.Size(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read store size", err)
	}
	count := 0
	if err := sink.Each(ctx, func(record.Record) error {
		count++
		return nil
	}); err != nil {
		return WrapExitError(ExitFailure, "failed to read store", err)
	}

	policy := sink.Policy()
	return opts.formatter(cmd).Success(StatusResult{
		Kind:      cfg.Store.Kind,
		Path:      cfg.Store.Path,
		Eviction:  policy.Eviction.String(),
		Conflict:  policy.Conflict.String(),
		Records:   count,
		SizeBytes: size,
		Metadata:  meta,
	})
}

func (r StatusResult) renderText(w io.Writer, p *message.Printer) {
	p.Fprintf(w, "Store: %s (%s)\n", r.Path, r.Kind)
	p.Fprintf(w, "  policy: %s, %s-write-wins\n", r.Eviction, r.Conflict)
	p.Fprintf(w, "  records: %d\n", r.Records)
	renderCoverage(w, p, r.Metadata, r.SizeBytes)
	if r.Metadata.HighestBlock != nil {
		p.Fprintf(w, "  descent started at: %s\n", blk(*r.Metadata.HighestBlock))
	}
	if r.Metadata.LowestBlock != nil {
		p.Fprintf(w, "  descent reached: %s\n", blk(*r.Metadata.LowestBlock))
	}
}
