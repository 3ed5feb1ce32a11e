// Package main is the entry point for the map markers API server.
//
// The main package stays small. Its job is to:
//  1. Read configuration (config.yaml, environment variables)
//  2. Create dependencies (logger, data directory)
//  3. Start the server and stop it on SIGINT/SIGTERM
//
// All actual logic lives in internal/server and the packages it wires together.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sakif/map-markers/internal/config"
	"github.com/sakif/map-markers/internal/logging"
	"github.com/sakif/map-markers/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// Defaults, then config.yaml (or $MAPMARKERS_CONFIG), then PORT/DB_PATH/...,
	// then MAPMARKERS_<SECTION>_<KEY>. The result is validated before we go on.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// zerolog does the writing; the rest of the code only sees *slog.Logger.
	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	// === 3. DATA DIRECTORY ===
	// os.MkdirAll is `mkdir -p`. Nothing to create for an in-memory database.
	if cfg.Database.Path != ":memory:" {
		dbDir := filepath.Dir(cfg.Database.Path)
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dbDir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	// === 4. SHUTDOWN SIGNAL ===
	// ctx is cancelled on Ctrl+C or SIGTERM; Run then drains in-flight requests.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// === 5. CREATE AND START THE SERVER ===
	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
