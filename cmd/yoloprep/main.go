package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/yoloprep/internal"
	"github.com/starford/yoloprep/internal/mcpserver"
	"github.com/starford/yoloprep/internal/prepservice"
	pkgconfig "github.com/starford/yoloprep/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// withService opens the components for a one-shot command and closes them
// when fn returns. Logs go to stderr so stdout stays parseable.
func withService(cmd *cli.Command, fn func(svc *prepservice.Service) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := cfg.App.NewStderrLogger()
	slog.SetDefault(logger)

	comp, err := internal.OpenComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer comp.Close()
	return fn(comp.Service)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if port := cmd.Int("port"); port != 0 {
		cfg.App.HTTP.Port = int(port)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid port: %w", err)
		}
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(_ context.Context, cmd *cli.Command) error {
	return withService(cmd, func(svc *prepservice.Service) error {
		return mcpserver.New(svc, version).ServeStdio()
	})
}

func main() {
	cmd := &cli.Command{
		Name:    "yoloprep",
		Usage:   "Prepare YOLO training datasets from Pascal VOC annotations",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file (defaults apply when it does not exist)",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("YOLOPREP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			convertCommand(),
			classesCommand(),
			historyCommand(),
			runsCommand(),
			{
				Name:  "serve",
				Usage: "Run the HTTP API with the server-sent event stream",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Override app.http.port"},
				},
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools on stdin/stdout",
				Action: serveMCP,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		stop()
		os.Exit(1)
	}
}
