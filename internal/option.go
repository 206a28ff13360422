package internal

import (
	"log/slog"
	"time"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config          *Config
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogger sets the logger. Without it Run builds one from the config.
func WithLogger(l *slog.Logger) Option {
	return func(a *application) {
		a.logger = l
	}
}

// WithShutdownTimeout bounds the graceful HTTP shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(a *application) {
		a.shutdownTimeout = d
	}
}
