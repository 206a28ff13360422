package registry

import (
	"fmt"
	"time"
)

// SchemaVersion is written to every registry document.
const SchemaVersion = "1.0"

// Provenance tags for class metadata.
const (
	SourceManual         = "manual"
	SourceDataset        = "dataset_scan"
	SourceAutoAdded      = "auto_added"
	SourcePredefinedFile = "predefined_file"
)

// Settings controls registry behavior.
type Settings struct {
	AutoSort      bool `json:"auto_sort" yaml:"auto_sort"`
	CaseSensitive bool `json:"case_sensitive" yaml:"case_sensitive"`
	// AllowDuplicates is persisted for compatibility only; duplicate names are
	// never accepted.
	AllowDuplicates  bool `json:"allow_duplicates" yaml:"allow_duplicates"`
	ValidationStrict bool `json:"validation_strict" yaml:"validation_strict"`
}

// DefaultSettings returns the settings used for new registries.
func DefaultSettings() Settings {
	return Settings{
		AutoSort:         false,
		CaseSensitive:    true,
		AllowDuplicates:  false,
		ValidationStrict: true,
	}
}

// ClassMeta is per-class bookkeeping.
type ClassMeta struct {
	Description string `yaml:"description"`
	AddedAt     string `yaml:"added_at"`
	UsageCount  int    `yaml:"usage_count"`
	OriginalID  int    `yaml:"original_id"`
	Source      string `yaml:"source"`
}

// Document is the persisted form of the registry.
type Document struct {
	Version       string               `yaml:"version"`
	CreatedAt     string               `yaml:"created_at"`
	UpdatedAt     string               `yaml:"updated_at"`
	Description   string               `yaml:"description"`
	Classes       []string             `yaml:"classes"`
	ClassMetadata map[string]ClassMeta `yaml:"class_metadata"`
	Settings      Settings             `yaml:"settings"`
}

func newDocument(now time.Time) Document {
	ts := timestamp(now)
	return Document{
		Version:       SchemaVersion,
		CreatedAt:     ts,
		UpdatedAt:     ts,
		Description:   "Canonical class list; the index of a name is its class ID.",
		Classes:       []string{},
		ClassMetadata: map[string]ClassMeta{},
		Settings:      DefaultSettings(),
	}
}

// clone returns a deep copy.
func (d Document) clone() Document {
	out := d
	out.Classes = append([]string{}, d.Classes...)
	out.ClassMetadata = make(map[string]ClassMeta, len(d.ClassMetadata))
	for k, v := range d.ClassMetadata {
		out.ClassMetadata[k] = v
	}
	return out
}

// checkNames rejects empty and duplicate class names. A name's position is
// its class ID, so these are never repaired.
func (d Document) checkNames() error {
	seen := make(map[string]struct{}, len(d.Classes))
	for i, name := range d.Classes {
		if name == "" {
			return fmt.Errorf("class %d has an empty name", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate class %q", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// checkMetadata requires the metadata keys to equal the class set.
func (d Document) checkMetadata() error {
	known := make(map[string]struct{}, len(d.Classes))
	for _, name := range d.Classes {
		known[name] = struct{}{}
		if _, ok := d.ClassMetadata[name]; !ok {
			return fmt.Errorf("class %q has no metadata", name)
		}
	}
	for name := range d.ClassMetadata {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("metadata for unknown class %q", name)
		}
	}
	return nil
}

// check verifies every structural invariant.
func (d Document) check() error {
	if err := d.checkNames(); err != nil {
		return err
	}
	return d.checkMetadata()
}

// repairMetadata makes metadata match the class list without touching the
// class order. It reports what it changed.
func (d *Document) repairMetadata(now time.Time) []string {
	var notes []string
	if d.ClassMetadata == nil {
		d.ClassMetadata = map[string]ClassMeta{}
	}
	known := make(map[string]struct{}, len(d.Classes))
	for i, name := range d.Classes {
		known[name] = struct{}{}
		if _, ok := d.ClassMetadata[name]; !ok {
			d.ClassMetadata[name] = ClassMeta{AddedAt: timestamp(now), OriginalID: i, Source: SourceManual}
			notes = append(notes, fmt.Sprintf("created metadata for class %q", name))
		}
	}
	for name := range d.ClassMetadata {
		if _, ok := known[name]; !ok {
			delete(d.ClassMetadata, name)
			notes = append(notes, fmt.Sprintf("dropped metadata for unknown class %q", name))
		}
	}
	return notes
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
