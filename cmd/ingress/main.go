// Command ingress runs the webhook-facing HTTP server: it authenticates
// every signed delivery from the upstream platform and durably enqueues
// one processing job per new post identifier. It never talks to the
// upstream fetch API or the downstream sink — that is the worker's job.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fb-discord-relay/relay/internal/config"
	"github.com/fb-discord-relay/relay/internal/ingress"
	"github.com/fb-discord-relay/relay/internal/queue"
	"github.com/fb-discord-relay/relay/internal/store"
)

func main() {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.MetaVerifyToken == "" || cfg.MetaAppSecret == "" {
		logger.Error("META_VERIFY_TOKEN and META_APP_SECRET are required for ingress")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to postgres")

	if err := pgStore.RunMigrations(ctx, "migrations"); err != nil {
		logger.Error("failed to run application migrations", "error", err)
		os.Exit(1)
	}
	if err := queue.RunMigrations(ctx, pgStore.Pool()); err != nil {
		logger.Error("failed to run queue migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")

	// The ingress process only enqueues jobs; it registers no worker and
	// never calls Start, so it never claims a job off the queue.
	riverClient, err := queue.NewClient(pgStore.Pool(), nil, 1)
	if err != nil {
		logger.Error("failed to build queue client", "error", err)
		os.Exit(1)
	}

	webhookHandler := ingress.NewWebhookHandler(pgStore, riverClient, cfg.MetaVerifyToken, cfg.MetaAppSecret, cfg.MaxPostAgeMinutes, logger)
	adminHandler := ingress.NewAdminHandler(pgStore)
	router := ingress.NewRouter(cfg.WebhookPrefix, webhookHandler, adminHandler, pgStore)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("ingress starting", "port", cfg.Port, "webhook_prefix", cfg.WebhookPrefix)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down ingress")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("ingress stopped")
}

func newLogger() *slog.Logger {
	levelStr := os.Getenv("LOG_LEVEL")
	var level slog.Level
	switch levelStr {
	case "trace", "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error", "fatal":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
