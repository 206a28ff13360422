package internal

import (
	"fmt"
	"log/slog"

	"github.com/starford/yoloprep/internal/catalog"
	"github.com/starford/yoloprep/internal/history"
	"github.com/starford/yoloprep/internal/prepservice"
	"github.com/starford/yoloprep/internal/registry"
)

// Components are the long-lived objects shared by the CLI, the HTTP server
// and the MCP server.
type Components struct {
	Registry *registry.Registry
	History  *history.Ledger
	Catalog  *catalog.DB // nil when the catalog is disabled
	Service  *prepservice.Service
}

// OpenComponents loads the registry and the ledger, opens the catalog when
// enabled and builds the service. extra options are applied to the service
// after the configured ones.
func OpenComponents(cfg *Config, logger *slog.Logger, extra ...prepservice.Option) (*Components, error) {
	reg, err := registry.Open(cfg.Registry.Dir, registry.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("init registry: %w", err)
	}

	histOpts := []history.Option{history.WithLogger(logger)}
	if cfg.History.BaseDir != "" {
		histOpts = append(histOpts, history.WithBaseDir(cfg.History.BaseDir))
	}
	ledger, err := history.Open(cfg.History.Path, histOpts...)
	if err != nil {
		return nil, fmt.Errorf("init history: %w", err)
	}

	c := &Components{Registry: reg, History: ledger}

	opts := []prepservice.Option{
		prepservice.WithLogger(logger),
		prepservice.WithConvertDefaults(cfg.Convert.Defaults(cfg.Registry.Dir)),
	}
	if cfg.Registry.PredefinedClasses != "" {
		opts = append(opts, prepservice.WithPredefinedFile(cfg.Registry.PredefinedClasses))
	}
	if cfg.Catalog.Enabled {
		db, err := catalog.Open(cfg.Catalog.Path)
		if err != nil {
			return nil, fmt.Errorf("init catalog: %w", err)
		}
		c.Catalog = db
		opts = append(opts, prepservice.WithCatalog(db))
	}

	c.Service = prepservice.New(reg, ledger, append(opts, extra...)...)
	return c, nil
}

// Close releases the catalog connection.
func (c *Components) Close() error {
	if c.Catalog == nil {
		return nil
	}
	return c.Catalog.Close()
}
