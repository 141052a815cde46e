package cli

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/highmark/internal/engine"
	"github.com/roach88/highmark/internal/watch"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	SyncOptions
	Debounce time.Duration
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{SyncOptions: SyncOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync whenever Apple Books changes its databases",
		Long: `Run a sync now, then again each time the library or annotation database
changes. Bursts of writes are debounced into one sync.

Press Ctrl-C to stop.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	addSourceFlags(cmd, &opts.Output, &opts.LibraryDB, &opts.AnnotationDB)
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only sync books whose title or author contains this keyword")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", watch.DefaultDebounce, "quiet period before syncing after a change")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	s, err := loadSettings(opts.RootOptions, cmd, true, opts.apply)
	if err != nil {
		return formatter.Fail(ErrCodeConfig, "invalid configuration", err)
	}
	defer s.Close()

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			s.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	syncAndReport := func(ctx context.Context) error {
		rep, err := syncOnce(ctx, s, &opts.SyncOptions)
		if err != nil {
			if engine.CodeOf(err) == engine.ErrCodeLockHeld {
				s.logger.Warn("another sync holds the lock, will retry on next change")
				return nil
			}
			return err
		}
		if formatter.Format == "json" {
			return formatter.Success(rep)
		}
		return formatter.Success(formatSummary(rep))
	}

	if err := syncAndReport(ctx); err != nil {
		return reportRunError(formatter, err)
	}

	w := &watch.Watcher{
		Dirs:     watchDirs(s.cfg.LibraryDB, s.cfg.AnnotationDB),
		Debounce: opts.Debounce,
		Match:    watch.SQLiteFiles,
		Logger:   s.logger,
	}
	if err := w.Run(ctx, syncAndReport); err != nil {
		return formatter.Fail(ErrCodeSource, "watch databases", err)
	}

	s.logger.Info("watch stopped gracefully")
	return nil
}

// watchDirs returns the distinct parent directories of the databases.
func watchDirs(paths ...string) []string {
	seen := make(map[string]bool)
	var dirs []string
	for _, p := range paths {
		dir := filepath.Dir(p)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return dirs
}
