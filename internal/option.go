package internal

import (
	"io"
	"log/slog"

	"github.com/starford/folio/internal/assembler"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config  *Config
	logger  *slog.Logger
	collab  assembler.Collaborator
	version string
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogger sets the logger. Without it a JSON logger is built from the
// configured log level.
func WithLogger(logger *slog.Logger) Option {
	return func(a *application) {
		a.logger = logger
	}
}

// WithCollaborator sets the collaborator that answers ask requests.
// The default echoes the question back.
func WithCollaborator(c assembler.Collaborator) Option {
	return func(a *application) {
		a.collab = c
	}
}

// WithVersion sets the version reported by the MCP server.
func WithVersion(v string) Option {
	return func(a *application) {
		a.version = v
	}
}

func newApplication(logOut io.Writer, opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, errConfigRequired
	}
	if app.logger == nil {
		app.logger = NewLogger(logOut, app.config.App.LogLevel)
	}
	if app.collab == nil {
		app.collab = assembler.EchoCollaborator{}
	}
	if app.version == "" {
		app.version = "dev"
	}
	return app, nil
}
