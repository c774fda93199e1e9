// Package main implements the entry point for the StoryLoom API server,
// which accepts chapter enhancement requests and drives the illustration
// pipeline through a durable Postgres job queue.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/storyloom/storyloom-api/internal/config"
	"github.com/storyloom/storyloom-api/internal/platform/logger"
	"github.com/storyloom/storyloom-api/internal/platform/postgres"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
}

// run wires the application together and blocks until shutdown. It exists
// so main has exactly one exit point and all resources are released through
// normal control flow.
func run() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	appLogger.Info("Server configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Server.LogLevel))

	db, err := setupDatabase(cfg, appLogger)
	if err != nil {
		return err
	}

	if err := postgres.RunMigrations(appLogger, db); err != nil {
		return err
	}

	app, err := newApplication(ctx, cfg, appLogger, db)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	return app.Run(ctx)
}
