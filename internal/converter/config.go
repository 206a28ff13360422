package converter

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/yoloprep/internal/history"
	"github.com/starford/yoloprep/internal/registry"
)

// Defaults for Config fields.
const (
	DefaultDatasetName    = "dataset"
	DefaultTrainRatio     = 0.8
	DefaultClassConfigDir = "configs"
)

// Config describes one source → dataset conversion.
type Config struct {
	SourceDir   string  `json:"source_dir" yaml:"source_dir"`
	TargetDir   string  `json:"target_dir" yaml:"target_dir"`
	DatasetName string  `json:"dataset_name" yaml:"dataset_name"`
	TrainRatio  float64 `json:"train_ratio" yaml:"train_ratio"`
	Seed        int64   `json:"seed" yaml:"seed"`

	// UseClassConfig resolves IDs through the persistent class registry.
	// When false a transient class list is derived from the annotations
	// and nothing is persisted.
	UseClassConfig bool `json:"use_class_config" yaml:"use_class_config"`
	// ClassConfigDir is where the registry lives when none is injected.
	ClassConfigDir string `json:"class_config_dir" yaml:"class_config_dir"`
	// AutoAddClasses lets the run append unknown class names to the registry.
	AutoAddClasses bool `json:"auto_add_classes" yaml:"auto_add_classes"`
}

// DefaultConfig returns a Config with the documented defaults for source and
// target.
func DefaultConfig(source, target string) Config {
	return Config{
		SourceDir:      source,
		TargetDir:      target,
		DatasetName:    DefaultDatasetName,
		TrainRatio:     DefaultTrainRatio,
		UseClassConfig: true,
		ClassConfigDir: DefaultClassConfigDir,
		AutoAddClasses: true,
	}
}

// Validate checks the fields that must be set before a run can start. The
// train ratio is checked by Convert so that it surfaces as a partition error.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.SourceDir, validation.Required),
		validation.Field(&c.TargetDir, validation.Required),
		validation.Field(&c.DatasetName, validation.Required, validation.By(plainName)),
	)
}

func plainName(v any) error {
	s, _ := v.(string)
	if s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return errors.New("must be a plain directory name")
	}
	return nil
}

// ProgressFunc receives progress after every converted pair.
type ProgressFunc func(current, total int, message string)

// RunOptions are the per-call switches of Convert.
type RunOptions struct {
	Progress       ProgressFunc `json:"-"`
	CleanExisting  bool         `json:"clean_existing"`
	BackupExisting bool         `json:"backup_existing"`
	ExcludeTrained bool         `json:"exclude_trained"`
	StrictMode     bool         `json:"strict_mode"`
	// ShouldCancel is polled between pairs.
	ShouldCancel func() bool `json:"-"`
}

// Option configures a Converter.
type Option func(*Converter)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Converter) {
		c.logger = l
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Converter) {
		c.now = now
	}
}

// WithRegistry injects the class registry instead of opening ClassConfigDir.
func WithRegistry(r *registry.Registry) Option {
	return func(c *Converter) {
		c.registry = r
	}
}

// WithHistory sets the ledger consulted when RunOptions.ExcludeTrained is set.
func WithHistory(h *history.Ledger) Option {
	return func(c *Converter) {
		c.history = h
	}
}
