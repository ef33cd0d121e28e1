package cli

import (
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/text/message"

	"github.com/roach88/contractsync/internal/record"
)

const snippetLen = 20

// HeadOptions holds flags for the head command.
type HeadOptions struct {
	*RootOptions
	Count int
}

// HeadEntry is one stored contract.
type HeadEntry struct {
	Address  string `json:"address"`
	Block    uint64 `json:"block"`
	Bytecode string `json:"bytecode"`
	Size     int    `json:"size"`
}

// HeadResult lists the lowest-block contracts in the store.
type HeadResult struct {
	Entries []HeadEntry `json:"entries"`
}

// NewHeadCommand creates the head command.
func NewHeadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HeadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "head",
		Short: "Show the first stored contracts by block",
		Long: `Print the first N contracts in the store, ordered by block number.

Text output abbreviates bytecode; JSON output carries it in full.

Examples:
  contractsync head
  contractsync head --count 20 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHead(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "n", 5, "number of contracts to show")

	return cmd
}

func runHead(opts *HeadOptions, cmd *cobra.Command) error {
	if opts.Count < 0 {
		return NewExitError(ExitCommandError, "--count must not be negative")
	}
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

	recs, err := sink.Head(ctx, opts.Count)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read store", err)
	}

	res := HeadResult{Entries: make([]HeadEntry, 0, len(recs))}
	for _, r := range recs {
		res.Entries = append(res.Entries, HeadEntry{
			Address:  r.Address,
			Block:    r.Block,
			Bytecode: record.EncodeBytecode(r.Bytecode),
			Size:     len(r.Bytecode),
		})
	}
	return opts.formatter(cmd).Success(res)
}

func (r HeadResult) renderText(w io.Writer, p *message.Printer) {
	if len(r.Entries) == 0 {
		p.Fprintf(w, "(store is empty)\n")
		return
	}
	for _, e := range r.Entries {
		snippet := e.Bytecode
		if len(snippet) > snippetLen {
			snippet = snippet[:snippetLen] + "..."
		}
		p.Fprintf(w, "%10s  %s  %s\n", blk(e.Block), e.Address, snippet)
	}
}
