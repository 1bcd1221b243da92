package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration for the application, read from the
// environment. Both the ingress and worker binaries load the same
// struct; each only reads the fields it needs.
type Config struct {
	Port string

	MetaVerifyToken  string
	MetaAppSecret    string
	MetaGraphHost    string
	MetaGraphVersion string
	MetaPageID       string
	MetaAccessToken  string
	WebhookPrefix    string

	DiscordWebhookURL      string
	DiscordWebhookWait     bool
	DiscordDisclaimer      string
	DiscordMentionRoleID   string
	ChannelRoutes          map[string]string
	ChannelPriority        []string
	SinkRateLimitPerSecond int

	AlertsEnabled     bool
	TriggerTag        string
	MaxPostAgeMinutes int

	CircuitBreakerFailureThreshold int
	CircuitBreakerCooldownSeconds  int

	DatabaseURL string
	RedisURL    string

	WorkerBatchSize int
	LogLevel        string
}

// Load reads configuration from environment variables. DATABASE_URL is
// always required; other requirements depend on which binary calls Load
// (the ingress needs Meta credentials, the worker needs both Meta and
// Discord credentials) so callers validate what they need beyond this.
func Load() (*Config, error) {
	cfg := &Config{
		Port: getEnv("PORT", "3000"),

		MetaVerifyToken:  os.Getenv("META_VERIFY_TOKEN"),
		MetaAppSecret:    os.Getenv("META_APP_SECRET"),
		MetaGraphHost:    getEnv("META_GRAPH_HOST", "graph.facebook.com"),
		MetaGraphVersion: getEnv("META_GRAPH_VERSION", "v19.0"),
		MetaPageID:       os.Getenv("META_PAGE_ID"),
		MetaAccessToken:  os.Getenv("META_PAGE_ACCESS_TOKEN"),
		WebhookPrefix:    getEnv("META_WEBHOOK_PREFIX", "meta"),

		DiscordWebhookURL:    os.Getenv("DISCORD_WEBHOOK_URL"),
		DiscordWebhookWait:   getEnvBool("DISCORD_WEBHOOK_WAIT", true),
		DiscordDisclaimer:    os.Getenv("DISCORD_DISCLAIMER"),
		DiscordMentionRoleID: os.Getenv("DISCORD_MENTION_ROLE_ID"),
		SinkRateLimitPerSecond: getEnvInt("SINK_RATE_LIMIT_PER_SECOND", 5),

		AlertsEnabled:     getEnvBool("ALERTS_ENABLED", true),
		TriggerTag:        getEnv("TRIGGER_TAG", "#discord"),
		MaxPostAgeMinutes: getEnvInt("MAX_POST_AGE_MINUTES", 0),

		CircuitBreakerFailureThreshold: getEnvInt("CIRCUIT_BREAKER_FAILURE_THRESHOLD", 5),
		CircuitBreakerCooldownSeconds:  getEnvInt("CIRCUIT_BREAKER_COOLDOWN_SECONDS", 30),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),

		WorkerBatchSize: getEnvInt("WORKER_BATCH_SIZE", 5),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	routes, err := parseChannelRoutes(os.Getenv("CHANNEL_ROUTES"))
	if err != nil {
		return nil, fmt.Errorf("parsing CHANNEL_ROUTES: %w", err)
	}
	cfg.ChannelRoutes = routes
	cfg.ChannelPriority = parseChannelPriority(os.Getenv("CHANNEL_PRIORITY"))

	return cfg, nil
}

func parseChannelRoutes(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var routes map[string]string
	if err := json.Unmarshal([]byte(raw), &routes); err != nil {
		return nil, err
	}
	return routes, nil
}

func parseChannelPriority(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}
