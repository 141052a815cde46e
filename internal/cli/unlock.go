package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/highmark/internal/lock"
)

// UnlockResult is the unlock command payload.
type UnlockResult struct {
	Removed bool      `json:"removed"`
	Path    string    `json:"path"`
	Holder  *LockInfo `json:"holder,omitempty"`
}

// String renders the result for text output.
func (r UnlockResult) String() string {
	if !r.Removed {
		return fmt.Sprintf("No lock at %s", r.Path)
	}
	if r.Holder != nil {
		return fmt.Sprintf("Removed lock %s (pid %d)", r.Path, r.Holder.PID)
	}
	return fmt.Sprintf("Removed lock %s", r.Path)
}

// NewUnlockCommand creates the unlock command.
func NewUnlockCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &outputOnlyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Remove a stale lock left by a crashed run",
		Long: `Remove the lock file of the output directory.

Only use this when no sync is running: the lock is what keeps two runs from
publishing into the same tree at once.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUnlock(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output directory (overrides config)")
	return cmd
}

func runUnlock(opts *outputOnlyOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	s, err := loadSettings(opts.RootOptions, cmd, false, opts.apply)
	if err != nil {
		return formatter.Fail(ErrCodeConfig, "invalid configuration", err)
	}
	defer s.Close()
	root := s.cfg.Output

	result := UnlockResult{Path: lock.Path(root)}
	if holder, err := lock.Inspect(nil, root); err == nil {
		result.Holder = &LockInfo{PID: holder.PID, AcquiredAt: holder.AcquiredAt}
	}

	removed, err := lock.ForceRemove(nil, root)
	if err != nil {
		return formatter.Fail(ErrCodeGeneric, "remove lock", err)
	}
	result.Removed = removed
	if removed {
		s.logger.Info("lock removed", "path", result.Path)
	}
	return formatter.Success(result)
}
