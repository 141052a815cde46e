// Package lock keeps two runs from mutating the same output tree.
//
// The lock is a create-exclusive file in the output root holding the
// holder's pid and acquisition time. Contention fails immediately; there is
// no waiting or retrying, since concurrent writers are the failure being
// prevented.
package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/roach88/highmark/internal/fsutil"
	"github.com/roach88/highmark/internal/process"
)

// FileName is the lock file inside the output root.
const FileName = ".highmark.lock"

// ErrHeld is matched by errors.Is when another run holds the lock.
var ErrHeld = errors.New("output root is locked by another run")

// Holder is the content of a lock file.
type Holder struct {
	PID        int
	AcquiredAt time.Time
}

// HeldError reports lock contention with the current holder, if readable.
type HeldError struct {
	Path   string
	Holder *Holder
}

func (e *HeldError) Error() string {
	var b strings.Builder
	b.WriteString("another run is active")
	if e.Holder != nil {
		fmt.Fprintf(&b, " (pid %d since %s)", e.Holder.PID, e.Holder.AcquiredAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "; if no run is in progress, remove the stale lock with `highmark unlock` or delete %s", e.Path)
	return b.String()
}

// Is makes errors.Is(err, ErrHeld) match.
func (e *HeldError) Is(target error) bool {
	return target == ErrHeld
}

// Handle releases an acquired lock.
type Handle struct {
	fs   fsutil.FS
	path string
	once sync.Once
	err  error
}

// Path returns the lock file path.
func (h *Handle) Path() string {
	return h.path
}

// Release removes the lock file. Calling it more than once is a no-op that
// returns the first call's result.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		if err := fsutil.RemoveFile(h.fs, h.path); err != nil {
			h.err = fmt.Errorf("release lock: %w", err)
		}
	})
	return h.err
}

// Path returns the lock file path for an output root.
func Path(root string) string {
	return filepath.Join(root, FileName)
}

// Acquire takes the lock for root. The root directory must exist. A nil
// fsys means the real filesystem.
func Acquire(fsys fsutil.FS, root string, env process.Env) (*Handle, error) {
	fsys = fsutil.Or(fsys)
	path := Path(root)
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			held := &HeldError{Path: path}
			if h, readErr := Inspect(fsys, root); readErr == nil {
				held.Holder = h
			}
			return nil, held
		}
		return nil, fmt.Errorf("create lock: %w", err)
	}

	content := Format(Holder{PID: env.PID, AcquiredAt: env.Now()})
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		_ = fsys.Remove(path)
		return nil, fmt.Errorf("write lock: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = fsys.Remove(path)
		return nil, fmt.Errorf("close lock: %w", err)
	}
	return &Handle{fs: fsys, path: path}, nil
}

// Format renders lock file content: "pid\nISO-8601\n".
func Format(h Holder) string {
	return fmt.Sprintf("%d\n%s\n", h.PID, h.AcquiredAt.UTC().Format(time.RFC3339Nano))
}

// Parse reads lock file content.
func Parse(content string) (*Holder, error) {
	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("malformed lock file: want 2 lines, got %d", len(lines))
	}
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return nil, fmt.Errorf("malformed lock pid: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(lines[1]))
	if err != nil {
		return nil, fmt.Errorf("malformed lock time: %w", err)
	}
	return &Holder{PID: pid, AcquiredAt: at}, nil
}

// Inspect returns the current holder of root's lock. It returns an error
// matching fs.ErrNotExist when the root is unlocked.
func Inspect(fsys fsutil.FS, root string) (*Holder, error) {
	data, err := fsutil.Or(fsys).ReadFile(Path(root))
	if err != nil {
		return nil, err
	}
	return Parse(string(data))
}

// ForceRemove deletes root's lock file regardless of holder. It reports
// whether a lock file existed.
func ForceRemove(fsys fsutil.FS, root string) (bool, error) {
	err := fsutil.Or(fsys).Remove(Path(root))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("remove lock: %w", err)
}
