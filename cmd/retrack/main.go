// Command retrack is the entrypoint for the incremental re-encode tracker.
// It wires the state store, the flac transform/classifier pair, and the
// scan/run/clean/watch passes behind a cobra CLI, with SIGINT mapped to
// cooperative cancellation.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kasetta/retrack/internal/clean"
	"github.com/kasetta/retrack/internal/config"
	"github.com/kasetta/retrack/internal/display"
	"github.com/kasetta/retrack/internal/flac"
	"github.com/kasetta/retrack/internal/logging"
	"github.com/kasetta/retrack/internal/scan"
	"github.com/kasetta/retrack/internal/schedule"
	"github.com/kasetta/retrack/internal/store"
	"github.com/kasetta/retrack/internal/watch"
)

// version and commit are set at build time via -ldflags (e.g. Makefile).
var (
	version = "1.0.0-dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "retrack: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "retrack",
		Short:         "Track files and re-encode only the stale ones",
		Long:          "retrack indexes files under a tree, remembers which ones still need\nre-encoding, and drives the flac encoder over exactly that set.",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			viper.SetEnvPrefix("RETRACK")
			viper.AutomaticEnv()
			return viper.BindPFlags(cmd.Root().PersistentFlags())
		},
	}

	defaults := config.DefaultConfig()
	pf := root.PersistentFlags()
	pf.String("db", "", "State database path (default: per-user data dir)")
	pf.IntP("jobs", "j", defaults.Jobs, "Worker parallelism")
	pf.StringSlice("ext", defaults.Extensions, "Tracked file extensions")
	pf.StringArray("flac-arg", defaults.EncoderArgs, "Argument passed to the flac encoder (repeatable)")
	pf.String("ref-vendor", defaults.RefVendor, "libFLAC version a file must conform to")
	pf.StringP("log", "l", "", "Append logs to file")
	pf.BoolP("verbose", "v", false, "Verbose output")

	root.AddCommand(newScanCmd(), newRunCmd(), newCleanCmd(), newPendingCmd(), newWatchCmd(), newCheckCmd())
	return root
}

// loadConfig merges defaults, environment (RETRACK_*), and flags.
func loadConfig() (config.Config, error) {
	cfg := config.DefaultConfig()
	cfg.DBPath = viper.GetString("db")
	cfg.Jobs = viper.GetInt("jobs")
	cfg.Extensions = viper.GetStringSlice("ext")
	cfg.EncoderArgs = viper.GetStringSlice("flac-arg")
	cfg.RefVendor = viper.GetString("ref-vendor")
	cfg.LogFile = viper.GetString("log")
	cfg.Verbose = viper.GetBool("verbose")

	if cfg.DBPath == "" {
		path, err := config.DefaultDBPath()
		if err != nil {
			return cfg, err
		}
		cfg.DBPath = path
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// setup builds the shared resources every subcommand needs. The returned
// cleanup closes the store and the log sink.
func setup() (config.Config, *logrus.Logger, *store.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return cfg, nil, nil, nil, err
	}
	log, closeLog, err := logging.New(logging.Options{Verbose: cfg.Verbose, LogFile: cfg.LogFile})
	if err != nil {
		return cfg, nil, nil, nil, err
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		closeLog()
		return cfg, nil, nil, nil, fmt.Errorf("open state db %s: %w", cfg.DBPath, err)
	}
	cleanup := func() {
		st.Close()
		closeLog()
	}
	return cfg, log, st, cleanup, nil
}

// progressLogger reports per-file completion at debug level; failures are
// already logged by the passes themselves.
func progressLogger(log *logrus.Logger) func(path string, err error) {
	return func(path string, err error) {
		if err == nil {
			log.WithField("path", path).Debug("done")
		}
	}
}

func newScanner(cfg config.Config, log *logrus.Logger, st *store.Store) *scan.Scanner {
	return &scan.Scanner{
		Store:    st,
		Classify: flac.Conforms(cfg.RefVendor),
		Select:   cfg.Selector(),
		Log:      log,
		Limit:    cfg.Jobs,
		Progress: progressLogger(log),
	}
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <root>",
		Short: "Index a tree and refresh the pending set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, st, cleanup, err := setup()
			if err != nil {
				return err
			}
			defer cleanup()
			if err := flac.CheckDeps(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rep, err := newScanner(cfg, log, st).Scan(ctx, args[0])
			if err != nil {
				return err
			}
			for _, fe := range rep.Errors {
				log.Warnf("  %v", fe)
			}
			if rep.Cancelled {
				log.Warn("Scan interrupted")
			}
			log.Infof("Scanned %d files: %d new, %d changed, %d unchanged, %d errors",
				rep.Scanned, rep.Inserted, rep.Updated, rep.Unchanged, len(rep.Errors))
			return reportPending(cmd, st)
		},
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Re-encode every pending file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, st, cleanup, err := setup()
			if err != nil {
				return err
			}
			defer cleanup()
			if err := flac.CheckDeps(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			enc := &flac.Encoder{Args: cfg.EncoderArgs}
			pool := &schedule.Pool{
				Store:     st,
				Transform: enc.Transform,
				Workers:   cfg.Jobs,
				Log:       log,
				Progress:  progressLogger(log),
			}
			rep, err := pool.Run(ctx)
			if err != nil {
				return err
			}
			for _, fe := range rep.Errors {
				log.Warnf("  %v", fe)
			}
			if rep.Cancelled {
				log.Warnf("Run interrupted: %d files left pending", rep.StillPending)
			}
			log.Infof("Done: %d re-encoded, %d failed, %d vanished", rep.Succeeded, rep.Failed, rep.SkippedMissing)
			if rep.Succeeded > 0 {
				log.Infof("Space: %s", display.FormatSavings(rep.BytesIn, rep.BytesOut))
			}
			return nil
		},
	}
}

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Dedupe the store, drop rows for deleted files, compact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, st, cleanup, err := setup()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c := &clean.Cleaner{Store: st, Workers: cfg.Jobs, Log: log, Progress: progressLogger(log)}
			rep, err := c.Run(ctx)
			if err != nil {
				return err
			}
			for _, fe := range rep.Errors {
				log.Warnf("  %v", fe)
			}
			if rep.Cancelled {
				log.Warn("Clean interrupted")
			}
			log.Infof("Clean: %d duplicates collapsed, %d rows removed, %d kept",
				rep.Deduped, rep.Removed, rep.Kept)
			return nil
		},
	}
}

func newPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Print the number of files waiting to be re-encoded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, st, cleanup, err := setup()
			if err != nil {
				return err
			}
			defer cleanup()
			return reportPending(cmd, st)
		},
	}
}

func reportPending(cmd *cobra.Command, st *store.Store) error {
	n, err := st.PendingCount(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Files to re-encode:\t%d\n", n)
	return nil
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <root>",
		Short: "Scan once, then keep the pending set fresh from file events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, st, cleanup, err := setup()
			if err != nil {
				return err
			}
			defer cleanup()
			if err := flac.CheckDeps(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w := &watch.Watcher{
				Scanner:  newScanner(cfg, log, st),
				Store:    st,
				Log:      log,
				Debounce: cfg.Debounce,
			}
			return w.Run(ctx, args[0])
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the flac toolchain is available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, closeLog, err := logging.New(logging.Options{Verbose: cfg.Verbose, LogFile: cfg.LogFile})
			if err != nil {
				return err
			}
			defer closeLog()
			flac.RunCheck(log)
			return nil
		},
	}
}
