package publish

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/roach88/highmark/internal/fsutil"
)

// SwapState is a step of the directory swap state machine.
//
//	Staged -> Swapping -> Published
//	                   -> RolledBack      (target restored, or never moved)
//	                   -> Unrecoverable   (backup could not be restored)
type SwapState int

const (
	Staged SwapState = iota
	Swapping
	Published
	RolledBack
	Unrecoverable
)

func (s SwapState) String() string {
	switch s {
	case Staged:
		return "staged"
	case Swapping:
		return "swapping"
	case Published:
		return "published"
	case RolledBack:
		return "rolled-back"
	case Unrecoverable:
		return "unrecoverable"
	default:
		return "unknown"
	}
}

// UnrecoverableError means a failed swap could not put the previous target
// back. The output tree's integrity can no longer be guaranteed.
type UnrecoverableError struct {
	Target     string
	Backup     string
	Err        error
	RestoreErr error
}

func (e *UnrecoverableError) Error() string {
	return fmt.Sprintf("swap %s failed (%v) and restoring backup %s failed: %v", e.Target, e.Err, e.Backup, e.RestoreErr)
}

func (e *UnrecoverableError) Unwrap() error {
	return e.Err
}

// IsUnrecoverable reports whether err came from a swap whose rollback failed.
func IsUnrecoverable(err error) bool {
	var ue *UnrecoverableError
	return errors.As(err, &ue)
}

// Swap replaces Target with the Staged directory. Any existing target is
// renamed to Backup first and only deleted after the staged directory is in
// place.
type Swap struct {
	FS     fsutil.FS
	Staged string
	Target string
	Backup string

	State SwapState

	// CleanupErr is set when the swap published but the backup could not be
	// removed. The leftover backup is harmless to readers of Target.
	CleanupErr error

	movedTarget bool
}

// NewSwap prepares a swap. suffix makes the backup name unique.
func NewSwap(fsys fsutil.FS, staged, target, suffix string) *Swap {
	dir, base := filepath.Split(target)
	return &Swap{
		FS:     fsutil.Or(fsys),
		Staged: staged,
		Target: target,
		Backup: filepath.Join(dir, "."+base+".bak-"+suffix),
		State:  Staged,
	}
}

// Run performs the swap. On failure the previous target is restored and the
// staged directory discarded; an *UnrecoverableError is returned when restore
// itself fails.
func (s *Swap) Run() error {
	if s.State != Staged {
		return fmt.Errorf("swap %s: cannot run from state %s", s.Target, s.State)
	}
	s.State = Swapping

	if err := s.FS.MkdirAll(filepath.Dir(s.Target), 0o755); err != nil {
		return s.rollback(fmt.Errorf("create parent: %w", err))
	}

	exists, err := fsutil.Exists(s.FS, s.Target)
	if err != nil {
		return s.rollback(fmt.Errorf("stat target: %w", err))
	}
	if exists {
		if err := s.FS.Rename(s.Target, s.Backup); err != nil {
			return s.rollback(fmt.Errorf("backup target: %w", err))
		}
		s.movedTarget = true
	}

	if err := s.FS.Rename(s.Staged, s.Target); err != nil {
		return s.rollback(fmt.Errorf("move staged into place: %w", err))
	}

	s.State = Published
	if s.movedTarget {
		if err := s.FS.RemoveAll(s.Backup); err != nil {
			s.CleanupErr = fmt.Errorf("remove backup %s: %w", s.Backup, err)
		}
	}
	return nil
}

func (s *Swap) rollback(cause error) error {
	if s.movedTarget {
		// Anything at Target now came from the staged side.
		if err := s.FS.RemoveAll(s.Target); err != nil {
			s.State = Unrecoverable
			return &UnrecoverableError{Target: s.Target, Backup: s.Backup, Err: cause, RestoreErr: err}
		}
		if err := s.FS.Rename(s.Backup, s.Target); err != nil {
			s.State = Unrecoverable
			return &UnrecoverableError{Target: s.Target, Backup: s.Backup, Err: cause, RestoreErr: err}
		}
		s.movedTarget = false
	}
	_ = s.FS.RemoveAll(s.Staged)
	s.State = RolledBack
	return fmt.Errorf("swap %s: %w", s.Target, cause)
}
