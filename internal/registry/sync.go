package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/starford/yoloprep/internal/apperr"
	"github.com/starford/yoloprep/internal/storage"
	"github.com/starford/yoloprep/internal/yolo"
)

// DefaultPredefinedFile returns the per-user location of the plain-text
// class list.
func DefaultPredefinedFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "yoloprep", "predefined_classes.txt")
}

// SyncFromFile replaces the registry order with the order of the plain-text
// class file when the two differ, rebuilding metadata with provenance
// predefined_file, and persists. An empty or missing file changes nothing.
// This is destructive to the registry order by design of the mirror.
func (r *Registry) SyncFromFile(path string) (changed bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("registry: predefined class file not found", slog.String("path", path))
			return false, nil
		}
		return false, apperr.New(apperr.ErrPersistence, "sync from file", path, err)
	}

	var names []string
	seen := make(map[string]struct{})
	for _, n := range yolo.ParseClasses(data) {
		n = normalizeName(n)
		k := r.key(n)
		if _, dup := seen[k]; dup || n == "" {
			continue
		}
		seen[k] = struct{}{}
		names = append(names, n)
	}
	if len(names) == 0 {
		r.logger.Warn("registry: predefined class file is empty, ignoring", slog.String("path", path))
		return false, nil
	}
	if equal, _, _ := r.Validate(names); equal {
		return false, nil
	}

	prev := r.doc.clone()
	now := timestamp(r.now())
	meta := make(map[string]ClassMeta, len(names))
	for i, n := range names {
		m := ClassMeta{AddedAt: now}
		if j := indexIn(prev.Classes, n, r.key); j >= 0 {
			m = prev.ClassMetadata[prev.Classes[j]]
		}
		m.OriginalID = i
		m.Source = SourcePredefinedFile
		meta[n] = m
	}
	r.doc.Classes = names
	r.doc.ClassMetadata = meta

	if err := r.Save(); err != nil {
		r.doc = prev
		return false, err
	}

	if len(prev.Classes) > 0 {
		r.logger.Warn("registry: class order replaced from predefined file",
			slog.String("path", path),
			slog.Int("previous", len(prev.Classes)),
			slog.Int("current", len(names)))
	}
	return true, nil
}

// SyncToFile writes the ordered class list to the plain-text mirror.
func (r *Registry) SyncToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.New(apperr.ErrPersistence, "sync to file", path, err)
	}
	fs, err := storage.NewFS(dir)
	if err != nil {
		return apperr.New(apperr.ErrPersistence, "sync to file", path, err)
	}
	if err := fs.Write(filepath.Base(path), yolo.FormatClasses(r.doc.Classes)); err != nil {
		return apperr.New(apperr.ErrPersistence, "sync to file", path, fmt.Errorf("write: %w", err))
	}
	return nil
}

func indexIn(list []string, name string, key func(string) string) int {
	k := key(name)
	for i, n := range list {
		if key(n) == k {
			return i
		}
	}
	return -1
}
