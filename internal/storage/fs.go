package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RenameFunc moves a file into place. os.Rename by default.
type RenameFunc func(oldpath, newpath string) error

// FSOption configures an FS.
type FSOption func(*FS)

// WithRename overrides the rename step of atomic writes.
func WithRename(fn RenameFunc) FSOption {
	return func(f *FS) {
		f.rename = fn
	}
}

// FS is a directory-rooted file store with atomic writes.
type FS struct {
	root   string // absolute path
	rename RenameFunc
}

// NewFS creates a new FS rooted at the given directory.
// The directory must already exist.
func NewFS(root string, opts ...FSOption) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	f := &FS{root: abs, rename: os.Rename}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Root returns the absolute root directory.
func (f *FS) Root() string {
	return f.root
}

// Abs resolves rel against the root, rejecting anything that escapes it.
func (f *FS) Abs(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	abs := filepath.Join(f.root, cleaned)
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: path escapes root: %s", rel)
	}
	return abs, nil
}

// Exists reports whether a regular file exists at path.
func (f *FS) Exists(path string) bool {
	abs, err := f.Abs(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && info.Mode().IsRegular()
}

// Read returns the raw bytes of a file.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.Abs(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// Write atomically writes content: tmp file → fsync → rename.
func (f *FS) Write(path string, content []byte) error {
	abs, err := f.Abs(path)
	if err != nil {
		return err
	}
	tmpName, err := f.stage(filepath.Dir(abs), content)
	if err != nil {
		return err
	}
	if err := f.rename(tmpName, abs); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("storage: rename: %w", err)
	}
	return nil
}

// WriteWithBackup atomically replaces path with content. When path already
// exists its previous bytes are preserved at backupPath, which only appears
// once the replacement has been committed. A failure at any step leaves the
// original file untouched and no backup behind.
func (f *FS) WriteWithBackup(path, backupPath string, content []byte) (backedUp bool, err error) {
	abs, err := f.Abs(path)
	if err != nil {
		return false, err
	}
	prev, err := os.ReadFile(abs)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("storage: read previous %s: %w", path, err)
	}
	hasPrev := err == nil

	var backupAbs, backupTmp string
	if hasPrev {
		backupAbs, err = f.Abs(backupPath)
		if err != nil {
			return false, err
		}
		backupTmp, err = f.stage(filepath.Dir(backupAbs), prev)
		if err != nil {
			return false, err
		}
	}
	discardBackup := func() {
		if backupTmp != "" {
			_ = os.Remove(backupTmp)
		}
	}

	tmpName, err := f.stage(filepath.Dir(abs), content)
	if err != nil {
		discardBackup()
		return false, err
	}
	if err := f.rename(tmpName, abs); err != nil {
		_ = os.Remove(tmpName)
		discardBackup()
		return false, fmt.Errorf("storage: rename: %w", err)
	}
	if !hasPrev {
		return false, nil
	}
	if err := os.Rename(backupTmp, backupAbs); err != nil {
		discardBackup()
		return false, fmt.Errorf("storage: commit backup: %w", err)
	}
	return true, nil
}

// stage writes content to a fresh temp file in dir and returns its name.
func (f *FS) stage(dir string, content []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".yoloprep-tmp-*")
	if err != nil {
		return "", fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return "", fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("storage: close temp: %w", err)
	}
	success = true
	return tmpName, nil
}
