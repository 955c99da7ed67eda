// Package app provides the top-level application lifecycle for the WagerWars
// engine. It wires together storage, caches, blob storage, the engine
// services and notifications, then runs the configured operating mode.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alanyoungcy/wagerwars/internal/config"
)

// App is the root application object. It owns the configuration, logger, the
// mode arguments and a list of cleanup functions that are called in reverse
// order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	args    []string
	out     io.Writer
	closers []func()
}

// New creates a new App. args are the positional arguments left after flag
// parsing: the command line of command mode or the action of snapshot mode.
func New(cfg *config.Config, logger *slog.Logger, args []string) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
		args:   args,
		out:    os.Stdout,
	}
}

// Run wires all dependencies, selects the operating mode and blocks until it
// finishes or the context is cancelled. Cleanup runs in Close.
func (a *App) Run(ctx context.Context) error {
	a.logger.DebugContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("store", a.cfg.Store.Backend),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "command":
		return a.CommandMode(ctx, deps)
	case "ledger":
		return a.LedgerMode(ctx, deps)
	case "snapshot":
		return a.SnapshotMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Debug("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
