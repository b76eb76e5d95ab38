package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/simple-lessons/pkg/simplelessons/api"
	"github.com/tendant/simple-lessons/pkg/simplelessons/config"
	"github.com/tendant/simple-lessons/pkg/simplelessons/session"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		slog.Error("Failed to read configuration", "err", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx := context.Background()
	svc, backends, err := cfg.BuildService(ctx, logger)
	if err != nil {
		slog.Error("Failed to build service", "err", err)
		os.Exit(1)
	}
	defer backends.Close()

	if err := backends.Migrate(ctx); err != nil {
		slog.Error("Failed to migrate database", "err", err)
		os.Exit(1)
	}

	generator := cfg.BuildGenerator(logger)
	if generator == nil {
		slog.Warn("GENERATION_URL not set, documents must be created with content")
	}

	handler := api.NewHandler(svc, session.NewResolver(svc, logger), generator, logger)

	server := app.DefaultApp()

	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)

	server.R.Mount("/api/v1", handler.Routes())

	slog.Info("Simple Lessons server starting",
		"environment", cfg.Environment,
		"database", cfg.DatabaseType,
		"storage", cfg.Storage.Type,
	)
	server.Run()
}
