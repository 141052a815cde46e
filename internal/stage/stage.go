// Package stage owns a run's scratch directory and renders build items into
// it before they are published.
//
// The staging directory lives inside the output root so that publishing is a
// same-filesystem rename. It is named .highmark-staging-<ts>-<pid>-<token>
// and removed when the run ends.
package stage

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/roach88/highmark/internal/fsutil"
	"github.com/roach88/highmark/internal/process"
)

// Prefix starts every staging directory name.
const Prefix = ".highmark-staging-"

// Area is a run-exclusive staging directory.
type Area struct {
	Dir string
	fs  fsutil.FS
}

// Create makes a fresh staging directory under root.
func Create(fsys fsutil.FS, root string, env process.Env) (*Area, error) {
	fsys = fsutil.Or(fsys)
	dir := filepath.Join(root, Prefix+env.UniqueSuffix())
	exists, err := fsutil.Exists(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("stat staging dir: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("staging dir %s already exists", dir)
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Area{Dir: dir, fs: fsys}, nil
}

// RecordDir is the scratch directory of one record.
func (a *Area) RecordDir(id string) string {
	return filepath.Join(a.Dir, "r-"+url.PathEscape(id))
}

// AssetsDir is where a record's side assets are staged.
func (a *Area) AssetsDir(id string) string {
	return filepath.Join(a.RecordDir(id), "assets")
}

// Discard removes whatever a record left in the staging area.
func (a *Area) Discard(id string) error {
	return a.fs.RemoveAll(a.RecordDir(id))
}

// Remove deletes the whole staging directory.
func (a *Area) Remove() error {
	return a.fs.RemoveAll(a.Dir)
}

// Leftovers lists staging directories under root, for example from a run
// that was killed.
func Leftovers(fsys fsutil.FS, root string) ([]string, error) {
	entries, err := fsutil.Or(fsys).ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), Prefix) {
			out = append(out, filepath.Join(root, e.Name()))
		}
	}
	return out, nil
}
