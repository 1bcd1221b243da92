// Package ratelimit guards the downstream sink leg, which is itself a
// rate-limited HTTP endpoint (spec §1b), with a Redis-backed sliding
// window so the worker throttles itself before the sink does.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter implements a sliding window over a sorted set keyed by
// sink URL: each member is a unique request id with a timestamp score,
// cleaned, counted and appended atomically in one Lua script.
type RateLimiter struct {
	redisClient *redis.Client
	logger      *slog.Logger
	script      *redis.Script
}

var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('EXPIRE', key, window / 1000 + 1)
    return 1
else
    return 0
end
`)

func New(redisClient *redis.Client, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		logger:      logger,
		script:      slidingWindowScript,
	}
}

func rlKey(sinkURL string) string {
	return fmt.Sprintf("rl:%s", sinkURL)
}

// Allow reports whether a dispatch to sinkURL is within the configured
// per-second limit. A Redis failure fails open: a sink outage shouldn't
// also stall every post behind a rate-limit error.
func (rl *RateLimiter) Allow(ctx context.Context, sinkURL string, limit int) bool {
	if limit <= 0 {
		return true
	}

	key := rlKey(sinkURL)
	now := time.Now().UnixMilli()
	window := int64(1000)
	member := fmt.Sprintf("%d:%d", now, time.Now().UnixNano()%10000)

	result, err := rl.script.Run(ctx, rl.redisClient, []string{key}, now, window, limit, member).Int64()
	if err != nil {
		rl.logger.Error("rate limiter script failed", "error", err, "sink_url", sinkURL)
		return true
	}

	if result == 0 {
		rl.logger.Debug("rate limited", "sink_url", sinkURL, "limit", limit)
		return false
	}

	return true
}

// Status is the current window occupancy for sinkURL, for operator
// visibility through the admin API.
type Status struct {
	Count    int64 `json:"count"`
	WindowMs int64 `json:"window_ms"`
}

// Status reports how many requests currently occupy sinkURL's sliding
// window, without recording a new one.
func (rl *RateLimiter) Status(ctx context.Context, sinkURL string) (Status, error) {
	const window = int64(1000)
	now := time.Now().UnixMilli()

	count, err := rl.redisClient.ZCount(ctx, rlKey(sinkURL), strconv.FormatInt(now-window, 10), "+inf").Result()
	if err != nil {
		return Status{}, fmt.Errorf("reading rate limiter status: %w", err)
	}

	return Status{Count: count, WindowMs: window}, nil
}
