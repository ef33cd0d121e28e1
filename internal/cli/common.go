package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/contractsync/internal/config"
	"github.com/roach88/contractsync/internal/progress"
	"github.com/roach88/contractsync/internal/source"
	"github.com/roach88/contractsync/internal/store"
)

// configureLogging installs a text handler on stderr; --verbose lowers the
// level to debug.
func configureLogging(cmd *cobra.Command, opts *RootOptions) {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// notifier prints progress to stderr with --verbose and logs it otherwise.
func (o *RootOptions) notifier(cmd *cobra.Command) progress.Notifier {
	if o.Verbose {
		return progress.NewWriter(cmd.ErrOrStderr())
	}
	return progress.Log{}
}

func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

func openSink(cfg config.Config) (store.Sink, error) {
	slog.Debug("opening store", "kind", cfg.Store.Kind, "path", cfg.Store.Path)
	sink, err := cfg.OpenSink()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return sink, nil
}

func openSource(ctx context.Context, cfg config.Config) (source.Source, func(), error) {
	src, closeFn, err := cfg.OpenSource(ctx)
	if err != nil {
		return nil, closeFn, WrapExitError(ExitCommandError, "failed to open source", err)
	}
	slog.Debug("source ready", "source", source.Describe(src))
	return src, closeFn, nil
}

// echoStore prints the store and its policy with --verbose.
func (o *RootOptions) echoStore(cmd *cobra.Command, cfg config.Config, sink store.Sink) {
	p := sink.Policy()
	o.formatter(cmd).VerboseLog("store: %s %s (%s, %s-write-wins)", cfg.Store.Kind, cfg.Store.Path, p.Eviction, p.Conflict)
}

func closeSink(sink store.Sink) {
	if err := sink.Close(); err != nil {
		slog.Error("error closing store", "error", err)
	}
}

// commandContext returns the command's context, or Background when run
// outside Execute (tests).
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func ptr[T any](v T) *T { return &v }
