package internal

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/yoloprep/internal/converter"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Log formats.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Registry RegistryConfig    `yaml:"registry"`
	History  HistoryConfig     `yaml:"history"`
	Catalog  CatalogConfig     `yaml:"catalog"`
	Convert  ConvertConfig     `yaml:"convert"`
	Auth     AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Registry.Validate(); err != nil {
		return err
	}
	if err := c.History.Validate(); err != nil {
		return err
	}
	if err := c.Catalog.Validate(); err != nil {
		return err
	}
	if err := c.Convert.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel  slog.Level `yaml:"log_level"`
	LogFormat string     `yaml:"log_format"`
	HTTP      HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.LogFormat == "" {
		c.LogFormat = LogFormatJSON
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.LogFormat, validation.In(LogFormatJSON, LogFormatText)),
	); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// NewLogger builds the process logger: JSON on stdout or text on stderr.
func (c *ApplicationConfig) NewLogger() *slog.Logger {
	return c.newLogger(os.Stdout, os.Stderr)
}

// NewStderrLogger builds a logger that never writes to stdout, for commands
// whose stdout carries results or a protocol stream.
func (c *ApplicationConfig) NewStderrLogger() *slog.Logger {
	return c.newLogger(os.Stderr, os.Stderr)
}

func (c *ApplicationConfig) newLogger(stdout, stderr io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == LogFormatText {
		return slog.New(slog.NewTextHandler(stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(stdout, opts))
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// RegistryConfig locates the class registry and its plain-text mirror.
type RegistryConfig struct {
	Dir string `yaml:"dir"`
	// PredefinedClasses is the plain-text class list used by sync; empty
	// means the per-user default.
	PredefinedClasses string `yaml:"predefined_classes"`
}

// Validate validates the registry configuration.
func (c *RegistryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
	)
}

// HistoryConfig locates the training history ledger.
type HistoryConfig struct {
	Path string `yaml:"path"`
	// BaseDir is the root that recorded image paths are made relative to.
	BaseDir string `yaml:"base_dir"`
}

// Validate validates the history configuration.
func (c *HistoryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// CatalogConfig holds the SQLite run catalog configuration.
type CatalogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Validate validates the catalog configuration.
func (c *CatalogConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.When(c.Enabled, validation.Required)),
	)
}

// ConvertConfig holds conversion defaults applied to every request.
type ConvertConfig struct {
	DatasetName    string  `yaml:"dataset_name"`
	TrainRatio     float64 `yaml:"train_ratio"`
	Seed           int64   `yaml:"seed"`
	UseClassConfig bool    `yaml:"use_class_config"`
	AutoAddClasses bool    `yaml:"auto_add_classes"`
}

// Validate validates the conversion defaults.
func (c *ConvertConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DatasetName, validation.Required),
		validation.Field(&c.TrainRatio, validation.Required, validation.Min(0.0).Exclusive(), validation.Max(1.0).Exclusive()),
	)
}

// Defaults returns the converter config seeded from these defaults.
// registryDir is used when the converter opens the registry itself.
func (c *ConvertConfig) Defaults(registryDir string) converter.Config {
	cfg := converter.DefaultConfig("", "")
	cfg.DatasetName = c.DatasetName
	cfg.TrainRatio = c.TrainRatio
	cfg.Seed = c.Seed
	cfg.UseClassConfig = c.UseClassConfig
	cfg.AutoAddClasses = c.AutoAddClasses
	cfg.ClassConfigDir = registryDir
	return cfg
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel:  slog.LevelInfo,
			LogFormat: LogFormatJSON,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Registry: RegistryConfig{
			Dir: converter.DefaultClassConfigDir,
		},
		History: HistoryConfig{
			Path:    "configs/training_history.json",
			BaseDir: ".",
		},
		Catalog: CatalogConfig{
			Enabled: true,
			Path:    "yoloprep.db",
		},
		Convert: ConvertConfig{
			DatasetName:    converter.DefaultDatasetName,
			TrainRatio:     converter.DefaultTrainRatio,
			UseClassConfig: true,
			AutoAddClasses: true,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
