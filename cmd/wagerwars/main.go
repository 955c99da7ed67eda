// Command wagerwars is the entry point for the WagerWars prediction-market
// engine. It loads configuration, validates it, sets up signal handling and
// runs the application in the configured mode:
//
//	wagerwars -config wagerwars.toml -mode command buy-shares --market 1 --outcome 0 --amount 10
//	wagerwars -mode command submit mint --amount 100 --recipient 0x...
//	wagerwars -mode ledger
//	wagerwars -mode snapshot restore latest
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/wagerwars/internal/app"
	"github.com/alanyoungcy/wagerwars/internal/command"
	"github.com/alanyoungcy/wagerwars/internal/config"
)

func main() {
	configPath := flag.String("config", "wagerwars.toml", "path to configuration file")
	mode := flag.String("mode", "", "operating mode: command, ledger or snapshot (overrides config)")
	flag.Parse()

	// Logs go to stderr so command output on stdout stays machine-readable.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Debug("configuration loaded", slog.Any("config", config.RedactedConfig(cfg)))

	application := app.New(cfg, logger, flag.Args())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = application.Run(ctx)
	application.Close()
	stop()

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		logger.Info("shut down gracefully")
	case errors.Is(err, app.ErrCommandFailed):
		// already printed as JSON on stdout
		os.Exit(1)
	case errors.Is(err, command.ErrUsage):
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		command.Usage(os.Stderr)
		os.Exit(2)
	default:
		logger.Error("exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
