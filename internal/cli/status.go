package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/highmark/internal/config"
	"github.com/roach88/highmark/internal/lock"
	"github.com/roach88/highmark/internal/stage"
	"github.com/roach88/highmark/internal/state"
)

// StatusEntry is one published record.
type StatusEntry struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Kind     string `json:"kind"`
	Path     string `json:"path,omitempty"`
	AssetDir string `json:"asset_dir,omitempty"`
	Hash     string `json:"hash"`
}

// LockInfo describes the lock holder.
type LockInfo struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// StatusResult is the status command payload.
type StatusResult struct {
	OutputRoot string           `json:"output_root"`
	UpdatedAt  *time.Time       `json:"updated_at,omitempty"`
	Entries    []StatusEntry    `json:"entries"`
	Rejected   []state.Rejected `json:"rejected,omitempty"`
	Lock       *LockInfo        `json:"lock,omitempty"`
	Leftovers  []string         `json:"staging_leftovers,omitempty"`
}

// String renders the result for text output.
func (r StatusResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Output: %s\n", r.OutputRoot)
	if r.UpdatedAt != nil {
		fmt.Fprintf(&b, "Last sync: %s\n", r.UpdatedAt.Format(time.RFC3339))
	} else {
		b.WriteString("Last sync: never\n")
	}
	fmt.Fprintf(&b, "Books: %d\n", len(r.Entries))
	for _, e := range r.Entries {
		path := e.Path
		if path == "" {
			path = "(not published)"
		}
		fmt.Fprintf(&b, "  %-5s %s  %s\n", e.Kind, path, e.Title)
	}
	for _, rej := range r.Rejected {
		fmt.Fprintf(&b, "Invalid state entry %s: %s\n", rej.ID, rej.Reason)
	}
	if r.Lock != nil {
		fmt.Fprintf(&b, "Locked by pid %d since %s\n", r.Lock.PID, r.Lock.AcquiredAt.Format(time.RFC3339))
	}
	for _, dir := range r.Leftovers {
		fmt.Fprintf(&b, "Leftover staging directory: %s\n", dir)
	}
	return strings.TrimRight(b.String(), "\n")
}

type outputOnlyOptions struct {
	*RootOptions
	Output string
}

func (o *outputOnlyOptions) apply(cfg *config.Config) {
	if o.Output != "" {
		cfg.Output = o.Output
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &outputOnlyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show what the last sync published",
		Long: `Show the entries of the state file, rejected entries, the lock holder
and any staging directories left behind by an interrupted run.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output directory (overrides config)")
	return cmd
}

func runStatus(opts *outputOnlyOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	s, err := loadSettings(opts.RootOptions, cmd, false, opts.apply)
	if err != nil {
		return formatter.Fail(ErrCodeConfig, "invalid configuration", err)
	}
	defer s.Close()
	root := s.cfg.Output

	st, err := state.Load(nil, root)
	if err != nil {
		return formatter.Fail(ErrCodeState, "read state file", err)
	}

	result := StatusResult{OutputRoot: root, Entries: []StatusEntry{}, Rejected: st.Rejected}
	if !st.UpdatedAt.IsZero() {
		ts := st.UpdatedAt
		result.UpdatedAt = &ts
	}
	for _, id := range st.SortedIDs() {
		a := st.Assets[id]
		result.Entries = append(result.Entries, StatusEntry{
			ID:       a.ID,
			Title:    a.Title,
			Kind:     string(a.Kind),
			Path:     a.Path,
			AssetDir: a.AssetDir,
			Hash:     string(a.Hash),
		})
	}

	holder, err := lock.Inspect(nil, root)
	switch {
	case err == nil:
		result.Lock = &LockInfo{PID: holder.PID, AcquiredAt: holder.AcquiredAt}
	case !errors.Is(err, fs.ErrNotExist):
		s.logger.Warn("unreadable lock file", "path", lock.Path(root), "error", err)
	}

	if result.Leftovers, err = stage.Leftovers(nil, root); err != nil {
		s.logger.Warn("list staging leftovers", "error", err)
	}

	return formatter.Success(result)
}
