// Package fsutil holds the filesystem seam shared by the state store, the
// publisher, the staging area and the lock manager, plus the temp-file-then-rename write that
// all of them rely on.
package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// FS is the subset of filesystem operations used on the output tree. Tests
// wrap OS to inject failures at specific steps.
type FS interface {
	MkdirAll(path string, perm fs.FileMode) error
	CreateTemp(dir, pattern string) (*os.File, error)
	OpenFile(name string, flag int, perm fs.FileMode) (*os.File, error)
	ReadDir(name string) ([]fs.DirEntry, error)
	Rename(oldpath, newpath string) error
	Remove(path string) error
	RemoveAll(path string) error
	Stat(path string) (fs.FileInfo, error)
	ReadFile(path string) ([]byte, error)
}

// OS implements FS on the real filesystem.
type OS struct{}

func (OS) MkdirAll(path string, perm fs.FileMode) error      { return os.MkdirAll(path, perm) }
func (OS) CreateTemp(dir, pattern string) (*os.File, error) { return os.CreateTemp(dir, pattern) }
func (OS) ReadDir(name string) ([]fs.DirEntry, error)       { return os.ReadDir(name) }
func (OS) OpenFile(name string, flag int, perm fs.FileMode) (*os.File, error) {
	return os.OpenFile(name, flag, perm)
}
func (OS) Rename(oldpath, newpath string) error             { return os.Rename(oldpath, newpath) }
func (OS) Remove(path string) error                         { return os.Remove(path) }
func (OS) RemoveAll(path string) error                      { return os.RemoveAll(path) }
func (OS) Stat(path string) (fs.FileInfo, error)            { return os.Stat(path) }
func (OS) ReadFile(path string) ([]byte, error)             { return os.ReadFile(path) }

// Or returns fsys, or OS when fsys is nil.
func Or(fsys FS) FS {
	if fsys == nil {
		return OS{}
	}
	return fsys
}

// WriteFileAtomic writes data to a uniquely named temp file in path's parent
// directory and renames it into place. Readers of path observe either the old
// content or the new content, never a partial write. The temp file is removed
// if any step fails.
func WriteFileAtomic(fsys FS, path string, data []byte, perm fs.FileMode) error {
	fsys = Or(fsys)
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := fsys.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = fsys.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := fsys.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}

// Exists reports whether path exists. Errors other than not-exist are
// returned so callers can decide how to treat an unreadable tree.
func Exists(fsys FS, path string) (bool, error) {
	_, err := Or(fsys).Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// RemoveFile deletes a file, treating an already missing file as success.
func RemoveFile(fsys FS, path string) error {
	err := Or(fsys).Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
