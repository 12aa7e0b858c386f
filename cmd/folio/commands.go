package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/starford/folio/internal"
	"github.com/starford/folio/internal/assembler"
	"github.com/starford/folio/internal/checksum"
	"github.com/starford/folio/internal/history"
	"github.com/starford/folio/internal/storage"
	"github.com/starford/folio/internal/workspace"
	pkgconfig "github.com/starford/folio/pkg/config"
)

// loadConfig locates the workspace, reads its config file when present and
// applies command-line overrides.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	root := cmd.String("workspace")
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		if root, err = workspace.FindRoot(cwd); err != nil {
			return nil, fmt.Errorf("%w (run folio init first)", err)
		}
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	configPath := cmd.String("config")
	if configPath == "" {
		configPath = workspace.Layout{Root: root}.Abs(workspace.ConfigFile)
	}

	cfg := internal.NewDefaultConfig()
	if _, err := pkgconfig.LoadIfExists(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if !filepath.IsAbs(cfg.Workspace.Path) {
		cfg.Workspace.Path = filepath.Join(root, cfg.Workspace.Path)
	}
	if lvl := cmd.String("log-level"); lvl != "" {
		if err := cfg.App.LogLevel.UnmarshalText([]byte(lvl)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", lvl, err)
		}
	}
	return cfg, nil
}

// withComponents opens the workspace services for the duration of fn.
// Logs go to stderr so command output stays clean.
func withComponents(cmd *cli.Command, fn func(*internal.Components) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	c, err := internal.Open(cfg, internal.NewLogger(os.Stderr, cfg.App.LogLevel))
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func requireArg(cmd *cli.Command, i int, name string) (string, error) {
	v := strings.TrimSpace(cmd.Args().Get(i))
	if v == "" {
		return "", fmt.Errorf("missing argument <%s>", name)
	}
	return v, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:      "init",
		Usage:     "Create the .folio control directory and seed default definitions",
		ArgsUsage: "[name]",
		Action: func(_ context.Context, cmd *cli.Command) error {
			root := cmd.String("workspace")
			if root == "" {
				root = "."
			}
			if err := os.MkdirAll(root, 0o755); err != nil {
				return fmt.Errorf("create workspace dir: %w", err)
			}
			store, err := storage.NewFS(root)
			if err != nil {
				return err
			}
			created, err := workspace.Init(store, cmd.Args().First())
			if err != nil {
				return err
			}
			w := cmd.Root().Writer
			fmt.Fprintf(w, "initialized folio workspace in %s\n", store.Root())
			for _, p := range created {
				fmt.Fprintf(w, "  created %s\n", p)
			}
			return nil
		},
	}
}

func contextCommand() *cli.Command {
	return &cli.Command{
		Name:      "context",
		Usage:     "Assemble and print the context bundle for a document",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print the bundle as JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			p, err := requireArg(cmd, 0, "path")
			if err != nil {
				return err
			}
			return withComponents(cmd, func(c *internal.Components) error {
				b, err := c.Assembler.Build(ctx, p)
				if err != nil {
					return err
				}
				w := cmd.Root().Writer
				if cmd.Bool("json") {
					return printJSON(w, b)
				}
				if sys := b.SystemInstructions(); sys != "" {
					fmt.Fprintf(w, "# System instructions\n\n%s\n\n", sys)
				}
				_, err = io.WriteString(w, b.Render())
				return err
			})
		},
	}
}

func openCommand() *cli.Command {
	return &cli.Command{
		Name:      "open",
		Usage:     "Open a document by path or [[Target]] reference, creating it when missing",
		ArgsUsage: "<target>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "from", Usage: "Document the reference is resolved from"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			target, err := requireArg(cmd, 0, "target")
			if err != nil {
				return err
			}
			return withComponents(cmd, func(c *internal.Components) error {
				doc, err := c.Assembler.Open(ctx, cmd.String("from"), target)
				if err != nil {
					return err
				}
				verb := "opened"
				if doc.Created {
					verb = "created"
				}
				fmt.Fprintf(cmd.Root().Writer, "%s %s (%s)\n", verb, doc.Path, checksum.Short(doc.Checksum))
				return nil
			})
		},
	}
}

func askCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Run one conversation turn against a document and record it",
		ArgsUsage: "<path> <message...>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			p, err := requireArg(cmd, 0, "path")
			if err != nil {
				return err
			}
			message := strings.Join(cmd.Args().Tail(), " ")
			return withComponents(cmd, func(c *internal.Components) error {
				ex, err := c.Assembler.Ask(ctx, p, assembler.EchoCollaborator{}, message)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.Root().Writer, ex.Answer.Text)
				return nil
			})
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show or append conversation history of a document",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List documents with recorded history",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withComponents(cmd, func(c *internal.Components) error {
						docs, err := c.Assembler.Conversations(ctx)
						if err != nil {
							return err
						}
						w := cmd.Root().Writer
						for _, d := range docs {
							fmt.Fprintf(w, "%s\t%d\t%s\n", d.Path, d.Entries, d.LastAt.Format(time.RFC3339))
						}
						return nil
					})
				},
			},
			{
				Name:      "show",
				Usage:     "Print the most recent entries, oldest first",
				ArgsUsage: "<path>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: assembler.DefaultHistoryWindow, Usage: "Maximum entries"},
					&cli.BoolFlag{Name: "json", Usage: "Print entries as JSON"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					p, err := requireArg(cmd, 0, "path")
					if err != nil {
						return err
					}
					return withComponents(cmd, func(c *internal.Components) error {
						entries, err := c.Assembler.History(ctx, p, int(cmd.Int("limit")))
						if err != nil {
							return err
						}
						w := cmd.Root().Writer
						if cmd.Bool("json") {
							return printJSON(w, entries)
						}
						total, err := c.Assembler.HistoryCount(ctx, p)
						if err != nil {
							return err
						}
						fmt.Fprintf(w, "%d of %d entries\n", len(entries), total)
						for _, e := range entries {
							fmt.Fprintf(w, "%s %s: %s\n", e.Timestamp.Format(time.RFC3339), e.Role, e.Text)
						}
						return nil
					})
				},
			},
			{
				Name:      "append",
				Usage:     "Append one entry",
				ArgsUsage: "<path> <text...>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "role", Value: string(history.RoleUser), Usage: "user or assistant"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					p, err := requireArg(cmd, 0, "path")
					if err != nil {
						return err
					}
					text := strings.Join(cmd.Args().Tail(), " ")
					return withComponents(cmd, func(c *internal.Components) error {
						e, err := c.Assembler.Record(ctx, p, history.Role(cmd.String("role")), text)
						if err != nil {
							return err
						}
						fmt.Fprintf(cmd.Root().Writer, "appended %s #%d\n", e.Path, e.Seq)
						return nil
					})
				},
			},
		},
	}
}

func definitionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "definitions",
		Usage: "List loaded agents, doctypes and workflows",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withComponents(cmd, func(c *internal.Components) error {
				idx, warns, err := c.Assembler.Definitions(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.Root().Writer, idx.Catalog(warns))
			})
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP API",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Override the configured HTTP port"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if port := cmd.Int("port"); port != 0 {
				cfg.App.HTTP.Port = int(port)
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			if err := internal.Run(ctx, internal.WithConfig(cfg), internal.WithVersion(version)); err != nil {
				return fmt.Errorf("app run error: %w", err)
			}
			return nil
		},
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve MCP tools over stdio",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			err = internal.RunMCP(ctx, internal.WithConfig(cfg), internal.WithVersion(version))
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
