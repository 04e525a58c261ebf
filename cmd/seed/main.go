// Command seed provisions a development tenant, agent, and API key so a
// local gateway can be exercised immediately with curl/Postman without a
// hand-written SQL insert. It is idempotent: if the dev tenant already
// exists it logs and exits cleanly.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wisbric/promptgate/internal/config"
	"github.com/wisbric/promptgate/internal/platform"
	"github.com/wisbric/promptgate/internal/seed"
	"github.com/wisbric/promptgate/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}

	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connecting to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		logger.Error("running migrations", "error", err)
		os.Exit(1)
	}

	if err := seed.Run(ctx, db, logger); err != nil {
		logger.Error("seed failed", "error", err)
		os.Exit(1)
	}
}
