package internal

import (
	"fmt"
	"log/slog"
	"path/filepath"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/folio/internal/assembler"
	"github.com/starford/folio/internal/workspace"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Workspace WorkspaceConfig   `yaml:"workspace"`
	History   HistoryConfig     `yaml:"history"`
	Context   ContextConfig     `yaml:"context"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Workspace.Validate(); err != nil {
		return err
	}
	if err := c.Context.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
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

// WorkspaceConfig holds the workspace root directory.
type WorkspaceConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the workspace configuration.
func (c *WorkspaceConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// HistoryConfig holds the history database location. An empty Path uses the
// reserved location inside the workspace.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// ResolvePath returns the history database file for the workspace at root.
func (c *HistoryConfig) ResolvePath(root string) string {
	if c.Path == "" {
		return workspace.Layout{Root: root}.HistoryDB()
	}
	if filepath.IsAbs(c.Path) {
		return c.Path
	}
	return filepath.Join(root, c.Path)
}

// ContextConfig tunes context assembly.
type ContextConfig struct {
	// MaxBytes caps the rendered context; -1 disables the cap.
	MaxBytes      int    `yaml:"max_bytes"`
	HistoryWindow int    `yaml:"history_window"`
	ExcerptChars  int    `yaml:"excerpt_chars"`
	DefaultAgent  string `yaml:"default_agent"`
}

// Validate validates the context configuration.
func (c *ContextConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxBytes, validation.Required, validation.Min(-1)),
		validation.Field(&c.HistoryWindow, validation.Required, validation.Min(1), validation.Max(1000)),
		validation.Field(&c.ExcerptChars, validation.Required, validation.Min(1)),
		validation.Field(&c.DefaultAgent, validation.Required),
	)
}

// AssemblerOptions maps the configuration onto assembler options.
func (c *ContextConfig) AssemblerOptions(logger *slog.Logger) assembler.Options {
	return assembler.Options{
		HistoryWindow: c.HistoryWindow,
		ExcerptChars:  c.ExcerptChars,
		MaxBytes:      c.MaxBytes,
		DefaultAgent:  c.DefaultAgent,
		Logger:        logger,
	}
}

// AuthConfig holds authentication configuration for the HTTP API.
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
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Workspace: WorkspaceConfig{
			Path: ".",
		},
		Context: ContextConfig{
			MaxBytes:      assembler.DefaultMaxBytes,
			HistoryWindow: assembler.DefaultHistoryWindow,
			ExcerptChars:  assembler.DefaultExcerptChars,
			DefaultAgent:  workspace.DefaultAgent,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
