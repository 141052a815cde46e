package testutil

import (
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/roach88/highmark/internal/fsutil"
)

// FaultFS wraps the real filesystem and fails selected operations.
//
// A rule matches when the operation name equals Op and the first path
// argument contains Match. Each rule fires Times times (0 = forever).
type FaultFS struct {
	fsutil.OS

	mu    sync.Mutex
	rules []*FaultRule
	calls []string
}

// FaultRule describes one injected failure.
type FaultRule struct {
	Op    string
	Match string
	Err   error
	Times int

	fired int
}

// NewFaultFS creates a FaultFS with the given rules.
func NewFaultFS(rules ...*FaultRule) *FaultFS {
	return &FaultFS{rules: rules}
}

// Calls returns the "op path" log of every operation seen.
func (f *FaultFS) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *FaultFS) check(op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+" "+path)
	for _, r := range f.rules {
		if r.Op != op || !strings.Contains(path, r.Match) {
			continue
		}
		if r.Times > 0 && r.fired >= r.Times {
			continue
		}
		r.fired++
		return r.Err
	}
	return nil
}

func (f *FaultFS) MkdirAll(path string, perm fs.FileMode) error {
	if err := f.check("mkdirall", path); err != nil {
		return err
	}
	return f.OS.MkdirAll(path, perm)
}

func (f *FaultFS) OpenFile(name string, flag int, perm fs.FileMode) (*os.File, error) {
	if err := f.check("openfile", name); err != nil {
		return nil, err
	}
	return f.OS.OpenFile(name, flag, perm)
}

func (f *FaultFS) ReadDir(name string) ([]fs.DirEntry, error) {
	if err := f.check("readdir", name); err != nil {
		return nil, err
	}
	return f.OS.ReadDir(name)
}

func (f *FaultFS) ReadFile(name string) ([]byte, error) {
	if err := f.check("readfile", name); err != nil {
		return nil, err
	}
	return f.OS.ReadFile(name)
}

func (f *FaultFS) Rename(oldpath, newpath string) error {
	if err := f.check("rename", oldpath+" -> "+newpath); err != nil {
		return err
	}
	return f.OS.Rename(oldpath, newpath)
}

func (f *FaultFS) Remove(path string) error {
	if err := f.check("remove", path); err != nil {
		return err
	}
	return f.OS.Remove(path)
}

func (f *FaultFS) RemoveAll(path string) error {
	if err := f.check("removeall", path); err != nil {
		return err
	}
	return f.OS.RemoveAll(path)
}
