// Command worker claims process-post jobs off the durable queue and
// drives each through the fetch/filter/dispatch pipeline of spec §4.6.
// It refuses to start if the upstream credentials don't check out, so a
// stale token fails loudly instead of burning through silent retries.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fb-discord-relay/relay/internal/breaker"
	"github.com/fb-discord-relay/relay/internal/config"
	"github.com/fb-discord-relay/relay/internal/feed"
	"github.com/fb-discord-relay/relay/internal/ingress"
	"github.com/fb-discord-relay/relay/internal/queue"
	"github.com/fb-discord-relay/relay/internal/ratelimit"
	"github.com/fb-discord-relay/relay/internal/sink"
	"github.com/fb-discord-relay/relay/internal/store"
	"github.com/fb-discord-relay/relay/internal/upstream"
)

func main() {
	var level slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "trace", "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error", "fatal":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.MetaPageID == "" || cfg.MetaAccessToken == "" || cfg.MetaAppSecret == "" {
		logger.Error("META_PAGE_ID, META_PAGE_ACCESS_TOKEN, and META_APP_SECRET are required for the worker")
		os.Exit(1)
	}
	if cfg.DiscordWebhookURL == "" {
		logger.Error("DISCORD_WEBHOOK_URL is required for the worker")
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

	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to redis")

	upstreamClient := upstream.NewClient(cfg.MetaGraphHost, cfg.MetaGraphVersion, cfg.MetaPageID, cfg.MetaAccessToken, cfg.MetaAppSecret, logger)

	// Validate the upstream page token before claiming any jobs (spec
	// §4.4/§2): fail loudly on a stale page token rather than silently
	// entering a retry loop. The sink webhook URL is not probed here.
	if err := upstreamClient.VerifyPageAccess(ctx); err != nil {
		logger.Error("page access verification failed, refusing to start", "error", err)
		os.Exit(1)
	}

	sinkClient := sink.NewClient(cfg.DiscordWebhookWait)
	router := sink.NewRouter(cfg.DiscordWebhookURL, cfg.ChannelRoutes, cfg.ChannelPriority)
	rateLimiter := ratelimit.New(redisStore.Client(), logger)
	circuitBreaker := breaker.New(redisStore.Client(), logger, cfg.CircuitBreakerFailureThreshold, time.Duration(cfg.CircuitBreakerCooldownSeconds)*time.Second)
	hub := feed.NewHub(logger)
	go hub.Run()

	worker := queue.NewWorker(pgStore, upstreamClient, sinkClient, router, rateLimiter, circuitBreaker, hub, logger, queue.WorkerConfig{
		AlertsEnabled:     cfg.AlertsEnabled,
		TriggerTag:        cfg.TriggerTag,
		MaxPostAgeMinutes: cfg.MaxPostAgeMinutes,
		Disclaimer:        cfg.DiscordDisclaimer,
		MentionRoleID:     cfg.DiscordMentionRoleID,
		RateLimitPerSec:   cfg.SinkRateLimitPerSecond,
	})

	riverClient, err := queue.NewClient(pgStore.Pool(), worker, cfg.WorkerBatchSize)
	if err != nil {
		logger.Error("failed to build queue client", "error", err)
		os.Exit(1)
	}

	if err := riverClient.Start(ctx); err != nil {
		logger.Error("failed to start queue client", "error", err)
		os.Exit(1)
	}
	logger.Info("worker started", "batch_size", cfg.WorkerBatchSize)

	// A small admin server exposes liveness and the operator feed hub.
	// It lives in the worker process because transitions — and thus
	// feed broadcasts — originate here, not in ingress.
	sinkHealth := ingress.NewSinkHealthHandler(circuitBreaker, rateLimiter, router)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", ingress.HealthHandler(pgStore))
	r.Get("/ws", hub.HandleWebSocket)
	r.Get("/api/v1/sinks/health", sinkHealth.List)

	adminServer := &http.Server{
		Addr:    ":" + workerAdminPort(),
		Handler: r,
	}
	go func() {
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("worker admin server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	_ = adminServer.Shutdown(shutdownCtx)

	// Stop finishes the current batch; it does not claim more jobs once
	// called (spec §5's graceful shutdown contract for the consumer).
	if err := riverClient.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop queue client cleanly", "error", err)
	}

	logger.Info("worker stopped")
}

func workerAdminPort() string {
	if p := os.Getenv("WORKER_ADMIN_PORT"); p != "" {
		return p
	}
	return "3001"
}
