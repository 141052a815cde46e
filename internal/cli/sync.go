package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/highmark/internal/config"
	"github.com/roach88/highmark/internal/engine"
	"github.com/roach88/highmark/internal/process"
	"github.com/roach88/highmark/internal/source"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Output       string
	LibraryDB    string
	AnnotationDB string
	Filter       string
	DryRun       bool

	// Env allows pinning pid, clock and tokens (for testing).
	// If nil, the running process is used.
	Env *process.Env
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Publish changed books into the output tree",
		Long: `Run one incremental sync.

Books whose annotations, kind or output path changed are rebuilt in a
staging directory and published atomically. Books deleted from the library
are removed, unless --filter limits the run.

Example:
  highmark sync --output ~/notes/books
  highmark sync --filter herbert --dry-run`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	addSourceFlags(cmd, &opts.Output, &opts.LibraryDB, &opts.AnnotationDB)
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only sync books whose title or author contains this keyword")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "plan and count without writing anything")

	return cmd
}

func addSourceFlags(cmd *cobra.Command, output, library, annotation *string) {
	cmd.Flags().StringVarP(output, "output", "o", "", "output directory (overrides config)")
	cmd.Flags().StringVar(library, "library-db", "", "Apple Books library database (overrides config)")
	cmd.Flags().StringVar(annotation, "annotation-db", "", "Apple Books annotation database (overrides config)")
}

func (o *SyncOptions) apply(cfg *config.Config) {
	if o.Output != "" {
		cfg.Output = o.Output
	}
	if o.LibraryDB != "" {
		cfg.LibraryDB = o.LibraryDB
	}
	if o.AnnotationDB != "" {
		cfg.AnnotationDB = o.AnnotationDB
	}
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	s, err := loadSettings(opts.RootOptions, cmd, true, opts.apply)
	if err != nil {
		return formatter.Fail(ErrCodeConfig, "invalid configuration", err)
	}
	defer s.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rep, err := syncOnce(ctx, s, opts)
	if err != nil {
		return reportRunError(formatter, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(rep)
	}
	return formatter.Success(formatSummary(rep))
}

// syncOnce opens the databases, runs the engine and closes them again so
// Apple Books is never locked out between runs.
func syncOnce(ctx context.Context, s *settings, opts *SyncOptions) (*engine.Report, error) {
	s.logger.Debug("opening databases", "library", s.cfg.LibraryDB, "annotations", s.cfg.AnnotationDB)
	src, err := source.Open(s.cfg.LibraryDB, s.cfg.AnnotationDB)
	if err != nil {
		return nil, &sourceError{err: err}
	}
	defer func() {
		if closeErr := src.Close(); closeErr != nil {
			s.logger.Error("error closing databases", "error", closeErr)
		}
	}()

	eng := newEngine(s.cfg, src, s.logger, opts.Env)
	return eng.Run(ctx, engine.Options{
		OutputRoot: s.cfg.Output,
		DryRun:     opts.DryRun,
		Filter:     opts.Filter,
	})
}

type sourceError struct{ err error }

func (e *sourceError) Error() string { return "open databases: " + e.err.Error() }
func (e *sourceError) Unwrap() error { return e.err }

func reportRunError(formatter *OutputFormatter, err error) error {
	var se *sourceError
	if errors.As(err, &se) {
		return formatter.Fail(ErrCodeSource, "open databases", se.err)
	}
	code := string(engine.CodeOf(err))
	if code == "" {
		code = ErrCodeGeneric
	}
	return formatter.Fail(code, "sync failed", err)
}

// formatSummary renders a report for humans.
func formatSummary(rep *engine.Report) string {
	var b strings.Builder
	verb := "Synced"
	if rep.DryRun {
		verb = "Dry run: would sync"
	}
	fmt.Fprintf(&b, "%s %d book(s) into %s\n", verb, rep.Total, rep.OutputRoot)
	fmt.Fprintf(&b, "  built:    %d\n", rep.Succeeded)
	fmt.Fprintf(&b, "  skipped:  %d\n", rep.Skipped)
	fmt.Fprintf(&b, "  failed:   %d\n", rep.Failed)
	fmt.Fprintf(&b, "  removed:  %d\n", rep.Removed)
	fmt.Fprintf(&b, "  files:    %d", rep.GeneratedFiles)
	if len(rep.Failures) > 0 {
		b.WriteString("\nFailures:")
		for _, f := range rep.Failures {
			fmt.Fprintf(&b, "\n  - %s: %s", f.Title, f.Reason)
		}
	}
	return b.String()
}
