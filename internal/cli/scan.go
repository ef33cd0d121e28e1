package cli

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/message"

	"github.com/roach88/contractsync/internal/check"
	"github.com/roach88/contractsync/internal/syncmeta"
)

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	*RootOptions
	Checker string
	Limit   int
	Mark    bool
	Report  string

	// Check allows overriding the checker (for testing). If nil, --checker
	// is run as an external command.
	Check check.Checker
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	return newScanCommand(&ScanOptions{RootOptions: rootOpts})
}

func newScanCommand(opts *ScanOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a contract checker over the store",
		Long: `Run an external checker over every stored contract, lowest block first,
and tally the flags it reports.

The checker is started once per contract with the address as its last
argument and the hex bytecode on stdin. It must print a JSON object of
boolean flags, optionally with "*_time" durations in seconds:

  {"suicidal": false, "prodigal": true, "greedy": false, "suicide_time": 0.8}

With --mark, contracts marked by an earlier scan are skipped and each one is
marked as soon as it is checked, so repeated scans work through the store.

Examples:
  contractsync scan --checker "python3 maian_check.py"
  contractsync scan --checker ./check.sh --limit 100 --mark
  contractsync scan --checker ./check.sh --report reports/scan.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Checker, "checker", "", "checker command line (required)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "check at most this many contracts (0 = all)")
	cmd.Flags().BoolVar(&opts.Mark, "mark", false, "visit only unmarked contracts and mark each one checked (sqlite only)")
	cmd.Flags().StringVar(&opts.Report, "report", "", "also write the summary as JSON to this file")

	return cmd
}

func runScan(opts *ScanOptions, cmd *cobra.Command) error {
	checker := opts.Check
	if checker == nil {
		fields := strings.Fields(opts.Checker)
		if len(fields) == 0 {
			return NewExitError(ExitCommandError, "--checker is required")
		}
		checker = check.CommandChecker{Path: fields[0], Args: fields[1:]}
	}
	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, "--limit must not be negative")
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

	sum, err := check.ScanStore(ctx, sink, checker, check.ScanOptions{
		Limit:    opts.Limit,
		Mark:     opts.Mark,
		Notifier: opts.notifier(cmd),
	})
	if err != nil {
		return WrapExitError(ExitFailure, "scan failed", err)
	}

	if opts.Report != "" {
		data, err := json.MarshalIndent(sum, "", "  ")
		if err != nil {
			return WrapExitError(ExitFailure, "failed to encode report", err)
		}
		if err := syncmeta.WriteFileAtomic(opts.Report, append(data, '\n')); err != nil {
			return WrapExitError(ExitCommandError, "failed to write report", err)
		}
	}

	return opts.formatter(cmd).Success(scanResult(sum))
}

// scanResult renders a check.Summary.
type scanResult check.Summary

func (r scanResult) renderText(w io.Writer, p *message.Printer) {
	sum := check.Summary(r)
	p.Fprintf(w, "Scanned %d of %d contracts\n", sum.Scanned, sum.Total)
	for _, name := range sum.Names() {
		p.Fprintf(w, "  %s: %d\n", name, sum.Flagged[name])
	}
}
