// Package registry maintains the canonical, ordered list of class names.
// The position of a name in the list is its integer class ID, so every
// operation that changes positions invalidates label files written earlier.
package registry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/starford/yoloprep/internal/apperr"
	"github.com/starford/yoloprep/internal/storage"
)

// File layout inside the registry directory.
const (
	ConfigFile = "class_config.yaml"
	BackupDir  = "backups"
)

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithStore replaces the file store rooted at the registry directory.
func WithStore(s storage.Store) Option {
	return func(r *Registry) {
		r.store = s
	}
}

// Registry is the class registry. It is not safe for concurrent use.
type Registry struct {
	dir    string
	store  storage.Store
	doc    Document
	logger *slog.Logger
	now    func() time.Time
	fold   cases.Caser
}

// New creates a registry backed by dir without reading it. Call Load before use.
func New(dir string, opts ...Option) (*Registry, error) {
	r := &Registry{
		dir:    dir,
		logger: slog.Default(),
		now:    time.Now,
		fold:   cases.Fold(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.store == nil {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperr.New(apperr.ErrPersistence, "registry", dir, err)
		}
		fs, err := storage.NewFS(dir)
		if err != nil {
			return nil, apperr.New(apperr.ErrPersistence, "registry", dir, err)
		}
		r.store = fs
	}
	r.doc = newDocument(r.now())
	return r, nil
}

// Open creates a registry backed by dir and loads it.
func Open(dir string, opts ...Option) (*Registry, error) {
	r, err := New(dir, opts...)
	if err != nil {
		return nil, err
	}
	if err := r.Load(); err != nil {
		return nil, err
	}
	return r, nil
}

// Path returns the registry document path.
func (r *Registry) Path() string {
	return filepath.Join(r.dir, ConfigFile)
}

// Load reads the registry document. A missing document is created with
// defaults and persisted. A document that cannot be parsed or holds empty or
// duplicate class names fails with ErrRegistryCorrupt. Metadata that does
// not match the class list fails too under strict validation, and is
// repaired in memory otherwise.
func (r *Registry) Load() error {
	if !r.store.Exists(ConfigFile) {
		r.doc = newDocument(r.now())
		r.logger.Info("registry: creating default", slog.String("path", r.Path()))
		return r.Save()
	}

	data, err := r.store.Read(ConfigFile)
	if err != nil {
		return apperr.New(apperr.ErrPersistence, "registry load", r.Path(), err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return apperr.New(apperr.ErrRegistryCorrupt, "registry load", r.Path(), err)
	}
	if doc.Version == "" {
		return apperr.New(apperr.ErrRegistryCorrupt, "registry load", r.Path(), fmt.Errorf("missing version"))
	}
	if doc.Classes == nil {
		doc.Classes = []string{}
	}
	if doc.ClassMetadata == nil {
		doc.ClassMetadata = map[string]ClassMeta{}
	}

	if err := doc.checkNames(); err != nil {
		return apperr.New(apperr.ErrRegistryCorrupt, "registry load", r.Path(), err)
	}
	if err := doc.checkMetadata(); err != nil {
		if doc.Settings.ValidationStrict {
			return apperr.New(apperr.ErrRegistryCorrupt, "registry load", r.Path(), err)
		}
		for _, note := range doc.repairMetadata(r.now()) {
			r.logger.Warn("registry: repaired on load", slog.String("path", r.Path()), slog.String("change", note))
		}
	}

	r.doc = doc
	r.logger.Debug("registry: loaded", slog.String("path", r.Path()), slog.Int("classes", len(doc.Classes)))
	return nil
}

// Save persists the registry atomically. An existing document is kept under
// backups/ once the new one is in place. On failure the in-memory state and
// the files on disk are unchanged.
func (r *Registry) Save() error {
	now := r.now()
	next := r.doc.clone()
	next.UpdatedAt = timestamp(now)

	data, err := yaml.Marshal(next)
	if err != nil {
		return apperr.New(apperr.ErrPersistence, "registry save", r.Path(), err)
	}

	backup := filepath.Join(BackupDir, "class_config_"+now.UTC().Format("20060102T150405.000000000Z")+".yaml")
	backedUp, err := r.store.WriteWithBackup(ConfigFile, backup, data)
	if err != nil {
		return apperr.New(apperr.ErrPersistence, "registry save", r.Path(), err)
	}
	r.doc.UpdatedAt = next.UpdatedAt
	if backedUp {
		r.logger.Debug("registry: previous version backed up", slog.String("backup", filepath.Join(r.dir, backup)))
	}
	return nil
}

// Document returns a deep copy of the current document.
func (r *Registry) Document() Document {
	return r.doc.clone()
}

// Restore replaces the in-memory document with doc, typically a snapshot
// taken with Document before a failed save. It does not persist.
func (r *Registry) Restore(doc Document) error {
	if err := doc.check(); err != nil {
		return fmt.Errorf("registry: restore: %w", err)
	}
	r.doc = doc.clone()
	return nil
}

// Settings returns the registry settings.
func (r *Registry) Settings() Settings {
	return r.doc.Settings
}

// SetSettings replaces the registry settings. It does not persist.
func (r *Registry) SetSettings(s Settings) {
	r.doc.Settings = s
}

// Len returns the number of classes.
func (r *Registry) Len() int {
	return len(r.doc.Classes)
}

// Classes returns a snapshot of the ordered class list.
func (r *Registry) Classes() []string {
	return append([]string{}, r.doc.Classes...)
}

// NameToID returns a snapshot mapping each name to its index.
func (r *Registry) NameToID() map[string]int {
	out := make(map[string]int, len(r.doc.Classes))
	for i, name := range r.doc.Classes {
		out[name] = i
	}
	return out
}

// IDToName returns a snapshot mapping each index to its name.
func (r *Registry) IDToName() map[int]string {
	out := make(map[int]string, len(r.doc.Classes))
	for i, name := range r.doc.Classes {
		out[i] = name
	}
	return out
}

// ClassID returns the ID of name, honoring the case-sensitivity setting.
func (r *Registry) ClassID(name string) (int, bool) {
	i := r.indexOf(normalizeName(name))
	return i, i >= 0
}

// AddClass inserts name at position, or appends it when position is out of
// range (use -1 to append). With auto_sort enabled the name goes to its
// sorted position instead. It does not persist.
func (r *Registry) AddClass(name, description string, position int) error {
	_, err := r.addClass(name, description, position, SourceManual)
	return err
}

// AutoAdd appends name as an auto-added class and returns its ID. It always
// appends, even with auto_sort enabled, so IDs already handed out stay valid.
// It does not persist.
func (r *Registry) AutoAdd(name string) (int, error) {
	return r.addClass(name, "", -1, SourceAutoAdded)
}

// Seed appends every name not yet present, in order, tagging it with
// source. It returns the names actually added. It does not persist.
func (r *Registry) Seed(names []string, source string) []string {
	var added []string
	for _, n := range names {
		if _, err := r.addClass(n, "", -1, source); err == nil {
			added = append(added, normalizeName(n))
		}
	}
	return added
}

func (r *Registry) addClass(name, description string, position int, source string) (int, error) {
	n := normalizeName(name)
	if n == "" || strings.ContainsAny(n, "\r\n") {
		return -1, fmt.Errorf("registry: add %q: %w", name, apperr.ErrInvalidName)
	}
	if r.indexOf(n) >= 0 {
		return -1, fmt.Errorf("registry: add %q: %w", n, apperr.ErrAlreadyExists)
	}

	count := len(r.doc.Classes)
	switch {
	case r.doc.Settings.AutoSort && source != SourceAutoAdded:
		position = sort.SearchStrings(r.doc.Classes, n)
	case position < 0 || position > count:
		position = count
	}

	r.doc.Classes = append(r.doc.Classes, "")
	copy(r.doc.Classes[position+1:], r.doc.Classes[position:])
	r.doc.Classes[position] = n
	r.doc.ClassMetadata[n] = ClassMeta{
		Description: description,
		AddedAt:     timestamp(r.now()),
		OriginalID:  position,
		Source:      source,
	}

	if position < count {
		r.logger.Warn("registry: insertion shifted class ids",
			slog.String("class", n),
			slog.Int("position", position),
			slog.Int("shifted", count-position))
	}
	return position, nil
}

// RemoveClass deletes name and its metadata. Every label file that refers to
// an ID above the removed one becomes stale; no repair is attempted.
func (r *Registry) RemoveClass(name string) error {
	i := r.indexOf(normalizeName(name))
	if i < 0 {
		return fmt.Errorf("registry: remove %q: %w", name, apperr.ErrNotFound)
	}
	stored := r.doc.Classes[i]
	r.doc.Classes = append(r.doc.Classes[:i], r.doc.Classes[i+1:]...)
	delete(r.doc.ClassMetadata, stored)

	r.logger.Warn("registry: class removed, label files using later ids are now stale",
		slog.String("class", stored),
		slog.Int("id", i),
		slog.Int("affected_ids", len(r.doc.Classes)-i))
	return nil
}

// ReorderClasses replaces the order. newOrder must hold exactly the current
// names; otherwise a *apperr.ClassMismatchError lists the difference.
func (r *Registry) ReorderClasses(newOrder []string) error {
	normalized := make([]string, len(newOrder))
	for i, n := range newOrder {
		normalized[i] = normalizeName(n)
	}
	missing, extra := r.diff(normalized)
	if len(missing) > 0 || len(extra) > 0 {
		return &apperr.ClassMismatchError{Missing: missing, Extra: extra}
	}

	reordered := make([]string, len(normalized))
	for i, n := range normalized {
		reordered[i] = r.doc.Classes[r.indexOf(n)]
	}
	r.doc.Classes = reordered

	r.logger.Warn("registry: classes reordered, existing label files now map to different names",
		slog.Int("classes", len(reordered)))
	return nil
}

// Validate compares candidate with the registry. equal is true only when both
// lists hold the same names in the same order.
func (r *Registry) Validate(candidate []string) (equal bool, missing, extra []string) {
	normalized := make([]string, len(candidate))
	for i, n := range candidate {
		normalized[i] = normalizeName(n)
	}
	missing, extra = r.diff(normalized)
	if len(missing) > 0 || len(extra) > 0 || len(normalized) != len(r.doc.Classes) {
		return false, missing, extra
	}
	for i, n := range normalized {
		if r.key(n) != r.key(r.doc.Classes[i]) {
			return false, nil, nil
		}
	}
	return true, nil, nil
}

// diff returns registry names absent from candidate and candidate names
// absent from the registry. Repeated candidate names count as extra.
func (r *Registry) diff(candidate []string) (missing, extra []string) {
	have := make(map[string]bool, len(candidate))
	for _, n := range candidate {
		k := r.key(n)
		if have[k] || r.indexOf(n) < 0 {
			extra = append(extra, n)
			continue
		}
		have[k] = true
	}
	for _, n := range r.doc.Classes {
		if !have[r.key(n)] {
			missing = append(missing, n)
		}
	}
	return missing, extra
}

func (r *Registry) indexOf(name string) int {
	k := r.key(name)
	for i, n := range r.doc.Classes {
		if r.key(n) == k {
			return i
		}
	}
	return -1
}

func (r *Registry) key(name string) string {
	if r.doc.Settings.CaseSensitive {
		return name
	}
	return r.fold.String(name)
}

func normalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
