// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/folio/internal/api"
	"github.com/starford/folio/internal/assembler"
	"github.com/starford/folio/internal/history"
	"github.com/starford/folio/internal/mcpserver"
	"github.com/starford/folio/internal/storage"
	"github.com/starford/folio/internal/workspace"
)

var errConfigRequired = errors.New("config is required")

// NewLogger returns the structured JSON logger used by every entry point.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Components are the services backing one workspace.
type Components struct {
	Store     *storage.FS
	History   *history.Store
	Assembler *assembler.Assembler
}

// Open wires the document store, history log and assembler for the
// workspace configured in cfg.
func Open(cfg *Config, logger *slog.Logger) (*Components, error) {
	store, err := storage.NewFS(cfg.Workspace.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if !(workspace.Layout{Root: store.Root()}).IsInitialized() {
		logger.Warn("workspace is not initialized; run folio init",
			slog.String("workspace", store.Root()))
	}

	h, err := history.Open(cfg.History.ResolvePath(store.Root()))
	if err != nil {
		return nil, fmt.Errorf("init history: %w", err)
	}

	return &Components{
		Store:     store,
		History:   h,
		Assembler: assembler.New(store, h, cfg.Context.AssemblerOptions(logger)),
	}, nil
}

// Close releases the history database.
func (c *Components) Close() error {
	return c.History.Close()
}

// NewHandler builds the HTTP handler: health checks plus the API under /api.
func NewHandler(cfg *Config, c *Components, collab assembler.Collaborator) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		if err := c.History.Ping(); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
		writeStatus(w, http.StatusOK, "ok")
	})

	r.Mount("/api", api.NewRouter(c.Assembler, collab, cfg.Auth.AuthEnabled(), cfg.Auth.Token))
	return r
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = fmt.Fprintf(w, `{"status":%q}`, status)
}

// Run serves the HTTP API until ctx is cancelled or a shutdown signal arrives.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(os.Stdout, opts)
	if err != nil {
		return err
	}
	cfg, logger := app.config, app.logger

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("workspace_path", cfg.Workspace.Path),
		slog.String("history_path", cfg.History.ResolvePath(cfg.Workspace.Path)),
		slog.String("log_level", cfg.App.LogLevel.String()))

	c, err := Open(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           NewHandler(cfg, c, app.collab),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools on stdin/stdout. Logs must not go to stdout.
func RunMCP(_ context.Context, opts ...Option) error {
	app, err := newApplication(os.Stderr, opts)
	if err != nil {
		return err
	}

	c, err := Open(app.config, app.logger)
	if err != nil {
		return err
	}
	defer c.Close()

	app.logger.Info("Starting MCP server on stdio", slog.String("workspace_path", c.Store.Root()))
	return mcpserver.New(c.Assembler, app.collab, app.version).ServeStdio()
}
