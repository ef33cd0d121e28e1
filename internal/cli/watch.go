package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/text/message"

	"github.com/roach88/contractsync/internal/config"
	"github.com/roach88/contractsync/internal/engine"
	"github.com/roach88/contractsync/internal/metrics"
	"github.com/roach88/contractsync/internal/progress"
	"github.com/roach88/contractsync/internal/source"
	"github.com/roach88/contractsync/internal/store"
	"github.com/roach88/contractsync/internal/syncmeta"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Mode        string
	Interval    time.Duration
	MaxRounds   int64
	MetricsAddr string
	PageRows    uint64
	Windows     int
	SizeLimitMB float64

	// RunIDs allows overriding the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.RunIDGenerator

	// listening, when set, receives the metrics listener address.
	listening func(addr string)
}

// WatchResult is the outcome of a scheduler run.
type WatchResult struct {
	RunID     string            `json:"run_id"`
	Mode      string            `json:"mode"`
	Source    string            `json:"source"`
	Stop      string            `json:"stop"`
	Rounds    int64             `json:"rounds"`
	SizeBytes int64             `json:"size_bytes"`
	Metadata  syncmeta.Metadata `json:"metadata"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return newWatchCommand(&WatchOptions{RootOptions: rootOpts})
}

func newWatchCommand(opts *WatchOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep syncing until the store is full or stops growing",
		Long: `Repeat sync (or descend) rounds with a wait between them.

The scheduler stops when --max-rounds is reached, when the store hits its
size limit, when a round stores nothing, or on Ctrl-C / SIGTERM. A round in
flight is always allowed to finish; in descend mode a round walks at most
--round-windows windows.

With --metrics-addr, Prometheus metrics are served on /metrics, a liveness
check on /healthz and the latest progress message on /progress.

Examples:
  contractsync watch --config contractsync.yaml
  contractsync watch --mode descend --interval 30s --max-rounds 100
  contractsync watch --metrics-addr :9100`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", "", "forward|descend (default from config)")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "wait between rounds (default from config, 5s)")
	cmd.Flags().Int64Var(&opts.MaxRounds, "max-rounds", 0, "stop after this many rounds (0 = no limit)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
	cmd.Flags().Uint64Var(&opts.PageRows, "page-rows", 0, "blocks per descend window (default from config, 2000)")
	cmd.Flags().IntVar(&opts.Windows, "round-windows", 0, "descend windows per round (default from config, 10; 0 = no limit)")
	cmd.Flags().Float64Var(&opts.SizeLimitMB, "size-limit-mb", 0, "change the store's size limit (MB)")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	applyWatchFlags(cmd, opts, &cfg)
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid watch settings", err)
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

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	latest := &progress.Latest{}
	notifier := progress.Tee(opts.notifier(cmd), latest)

	if cfg.Metrics.Addr != "" {
		shutdown, err := serveMetrics(cfg.Metrics.Addr, reg, latest, opts.listening)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to start metrics server", err)
		}
		defer shutdown()
	}

	round, err := watchRound(cmd, opts, cfg, src, sink, m, notifier)
	if err != nil {
		return err
	}

	gen := opts.RunIDs
	if gen == nil {
		gen = engine.UUIDv7Generator{}
	}
	runID := gen.Generate()

	sched := engine.NewScheduler(round, engine.SchedulerOptions{
		Interval:  cfg.Sync.Interval,
		MaxRounds: cfg.Sync.MaxRounds,
		RunIDs:    engine.NewFixedGenerator(runID),
		Notifier:  notifier,
		Metrics:   m,
	})

	slog.Info("watch starting", "run_id", runID, "mode", cfg.Sync.Mode, "source", source.Describe(src), "store", cfg.Store.Path)
	reason, runErr := sched.Run(ctx)

	work := context.WithoutCancel(ctx)
	meta, err := sink.LoadMetadata(work)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load metadata", err)
	}
	size, err := sink.Size(work)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read store size", err)
	}

	if runErr != nil {
		if opts.Format == "json" {
			_ = opts.formatter(cmd).Error(ErrorCode(runErr), runErr.Error(), map[string]any{
				"run_id": runID,
				"rounds": sched.Rounds(),
			})
		}
		return WrapExitError(ExitFailure, fmt.Sprintf("watch stopped after %d rounds", sched.Rounds()), runErr)
	}

	return opts.formatter(cmd).Success(WatchResult{
		RunID:     runID,
		Mode:      cfg.Sync.Mode,
		Source:    source.Describe(src),
		Stop:      string(reason),
		Rounds:    sched.Rounds(),
		SizeBytes: size,
		Metadata:  meta,
	})
}

// applyWatchFlags overrides config values with explicitly set flags.
func applyWatchFlags(cmd *cobra.Command, opts *WatchOptions, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("mode") {
		cfg.Sync.Mode = opts.Mode
	}
	if flags.Changed("interval") {
		cfg.Sync.Interval = opts.Interval
	}
	if flags.Changed("max-rounds") {
		cfg.Sync.MaxRounds = opts.MaxRounds
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = opts.MetricsAddr
	}
	if flags.Changed("round-windows") {
		cfg.Sync.RoundWindows = opts.Windows
	}
}

func watchRound(cmd *cobra.Command, opts *WatchOptions, cfg config.Config, src source.Source, sink store.Sink, m *metrics.Metrics, n progress.Notifier) (engine.Round, error) {
	switch cfg.Sync.Mode {
	case config.ModeDescend:
		do, err := descendOptions(cmd, opts.PageRows, opts.SizeLimitMB, cfg)
		if err != nil {
			return nil, err
		}
		do.Notifier, do.Metrics = n, m
		do.MaxWindows = cfg.Sync.RoundWindows
		return engine.DescendRound(src, sink, do), nil
	default:
		uo := engine.UpdateOptions{Notifier: n, Metrics: m}
		if cmd.Flags().Changed("size-limit-mb") {
			if opts.SizeLimitMB <= 0 {
				return nil, NewExitError(ExitCommandError, "--size-limit-mb must be positive")
			}
			uo.SizeLimit = ptr(config.SizeLimitBytes(opts.SizeLimitMB))
		}
		return engine.ForwardRound(src, sink, uo), nil
	}
}

// serveMetrics starts the metrics server and returns a function that shuts
// it down.
func serveMetrics(addr string, g prometheus.Gatherer, latest *progress.Latest, listening func(string)) (func(), error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	mux.HandleFunc("/healthz", handleHealthz)
	mux.HandleFunc("/progress", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintln(w, latest.Message())
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if listening != nil {
		listening(ln.Addr().String())
	}

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	slog.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown", "error", err)
		}
	}, nil
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (r WatchResult) renderText(w io.Writer, p *message.Printer) {
	p.Fprintf(w, "Watch %s (%s) stopped after %d rounds: %s\n", r.RunID, r.Mode, r.Rounds, r.Stop)
	renderCoverage(w, p, r.Metadata, r.SizeBytes)
}
