package ratelimit

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRL(t *testing.T) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	rl := New(client, logger)
	return rl, mr
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	rl, _ := setupTestRL(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if !rl.Allow(ctx, "https://sink.example/webhook", 5) {
			t.Errorf("request %d should be allowed (limit=5)", i+1)
		}
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	rl, _ := setupTestRL(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rl.Allow(ctx, "https://sink.example/webhook", 3)
	}

	if rl.Allow(ctx, "https://sink.example/webhook", 3) {
		t.Error("request should be blocked when over limit")
	}
}

func TestRateLimiter_ZeroLimit_AllowsAll(t *testing.T) {
	rl, _ := setupTestRL(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if !rl.Allow(ctx, "https://sink.example/webhook", 0) {
			t.Errorf("request %d should be allowed with limit=0 (unlimited)", i+1)
		}
	}
}

func TestRateLimiter_Status(t *testing.T) {
	rl, _ := setupTestRL(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rl.Allow(ctx, "https://sink.example/webhook", 5)
	}

	status, err := rl.Status(ctx, "https://sink.example/webhook")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Count != 3 {
		t.Errorf("expected count 3, got %d", status.Count)
	}
}

func TestRateLimiter_IsolationBetweenSinks(t *testing.T) {
	rl, _ := setupTestRL(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		rl.Allow(ctx, "https://sink-a.example/webhook", 2)
	}

	if rl.Allow(ctx, "https://sink-a.example/webhook", 2) {
		t.Error("sink-a should be blocked")
	}

	if !rl.Allow(ctx, "https://sink-b.example/webhook", 2) {
		t.Error("sink-b should be allowed — rate limits are per-sink")
	}
}
