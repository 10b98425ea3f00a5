package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/vaidashi/marketplace-api/internal/api"
	"github.com/vaidashi/marketplace-api/internal/config"
	"github.com/vaidashi/marketplace-api/internal/database"
	"github.com/vaidashi/marketplace-api/pkg/logger"
)

func main() {
	app := &cli.App{
		Name:  "marketplace-api",
		Usage: "order pickup, coupon and refund override API",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP server and the outbox workers",
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "apply or roll back database migrations",
				Subcommands: []*cli.Command{
					{Name: "up", Usage: "apply every pending migration", Action: migrateUp},
					{Name: "down", Usage: "roll back the latest migration", Action: migrateDown},
				},
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setup() (*config.Config, logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, logger.NewLogger(cfg.LogLevel, cfg.Env), nil
}

func serve(c *cli.Context) error {
	cfg, l, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = l.Sync() }()

	l.Info("Starting API server...", "env", cfg.Env)

	server, err := api.NewServer(cfg, l)
	if err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	l.Info("Server is starting", "port", cfg.Port)
	return run(c.Context, server, quit, 10*time.Second, l)
}

// lifecycle is the part of api.Server that run drives
type lifecycle interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// run serves until a signal arrives or Start fails, and shuts the server
// down either way so workers, Kafka clients and the pool are released.
func run(ctx context.Context, server lifecycle, quit <-chan os.Signal, grace time.Duration, l logger.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var startErr error
	select {
	case <-quit:
		l.Info("Shutting down server...")
	case startErr = <-errCh:
		l.Error("Failed to start server", "error", startErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		l.Error("Server forced to shutdown", "error", err)
		if startErr == nil {
			return err
		}
	}

	if startErr != nil {
		return startErr
	}

	l.Info("Server exiting")
	return nil
}

func migrateUp(*cli.Context) error {
	return withDatabase(func(db *database.Database) error {
		return db.RunMigrations()
	})
}

func migrateDown(*cli.Context) error {
	return withDatabase(func(db *database.Database) error {
		return db.RollbackMigration()
	})
}

func withDatabase(fn func(db *database.Database) error) error {
	cfg, l, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = l.Sync() }()

	db, err := database.New(cfg, l)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return fn(db)
}
