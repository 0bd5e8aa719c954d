// cmd/service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"extension-sync/internal/api"
	"extension-sync/internal/auth"
	"extension-sync/internal/config"
	"extension-sync/internal/database"
	"extension-sync/internal/github"
	"extension-sync/internal/metrics"
	"extension-sync/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Application startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully")

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Initialize database connection and run migrations
	dbpool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbpool.Close()
	logger.Info("Database connection established")

	if err := database.RunMigrations(cfg.DBURL); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")

	// 5. Initialize application components
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewCollector(registry)

	ghClient, err := github.NewClient(github.Options{
		BaseURL:           cfg.GithubAPIURL,
		RequestsPerSecond: cfg.GithubRequestsPerSecond,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create github client: %w", err)
	}

	appSyncer := syncer.NewSyncer(
		database.New(dbpool),
		syncer.NewGitHubRemote(ghClient, cfg.GithubToken),
		logger,
		recorder,
		syncer.Options{
			FetchTimeout: cfg.GithubFetchTimeout,
			DefaultRate:  cfg.DefaultPollRate,
			DefaultWait:  cfg.DefaultPollWait,
		},
	)
	defer appSyncer.Shutdown()

	// 6. Restore the polling schedule from stored settings
	if err := appSyncer.Restore(ctx, cfg.ScheduleOwnerID); err != nil {
		// Polling stays off until an admin submits working settings.
		logger.Error("Failed to restore polling schedule", "error", err)
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, 0)
	if err != nil {
		return fmt.Errorf("failed to create token service: %w", err)
	}

	server := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(appSyncer, tokens, logger, api.Options{
			ScheduleOwnerID: cfg.ScheduleOwnerID,
			Metrics:         metrics.Handler(registry),
			RequestTimeout:  cfg.GithubFetchTimeout + 10*time.Second,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 7. Serve until a shutdown signal arrives
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received. Exiting.")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
