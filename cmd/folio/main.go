package main

import (
	"context"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
)

var version = "dev"

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "folio",
		Usage:   "Document-driven context assembly for AI collaboration over a Markdown workspace",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "workspace",
				Aliases: []string{"w"},
				Usage:   "Workspace root (default: nearest ancestor containing .folio)",
				Sources: cli.EnvVars("FOLIO_WORKSPACE"),
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "<workspace>/.folio/config.yaml",
				Sources:     cli.EnvVars("FOLIO_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Sources: cli.EnvVars("FOLIO_LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			initCommand(),
			contextCommand(),
			openCommand(),
			askCommand(),
			historyCommand(),
			definitionsCommand(),
			serveCommand(),
			mcpCommand(),
		},
	}
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
