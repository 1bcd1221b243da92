// Package breaker guards the downstream sink leg with a Redis-backed
// circuit breaker, so a sink outage doesn't turn every post into a
// retry-storm against an endpoint that is already down.
package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

// CircuitBreaker tracks one circuit per sink URL.
//
//   - Closed: normal operation, failures are counted.
//   - Open: all dispatches are rejected until the cooldown elapses.
//   - Half-Open: dispatches are allowed; a success closes the circuit,
//     a failure re-opens it. The number of dispatches let through while
//     half-open is not limited.
//
// The read-check-write sequence in AllowRequest/RecordFailure runs as a
// single Lua script rather than separate HGetAll/HSet round trips, so
// the open -> half-open advance and the failure count/threshold check
// each happen atomically.
type CircuitBreaker struct {
	redisClient      *redis.Client
	logger           *slog.Logger
	failureThreshold int
	cooldownPeriod   time.Duration
	allowScript      *redis.Script
	failScript       *redis.Script
}

type State struct {
	State        string `json:"state"`
	Failures     int    `json:"failures"`
	LastFailedAt string `json:"last_failed_at,omitempty"`
}

// allowScript evaluates the current circuit state and, when a cooldown
// has elapsed on an open circuit, atomically advances it to half-open
// in the same round trip that reports it.
var allowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local cooldown = tonumber(ARGV[2])

local state = redis.call('HGET', key, 'state')
if state == false or state == '` + StateClosed + `' then
    return {'` + StateClosed + `', 1}
end

if state == '` + StateOpen + `' then
    local lastFailed = tonumber(redis.call('HGET', key, 'last_failed_at') or '0')
    if now - lastFailed >= cooldown then
        redis.call('HSET', key, 'state', '` + StateHalfOpen + `')
        return {'` + StateHalfOpen + `', 1}
    end
    return {'` + StateOpen + `', 0}
end

return {'` + StateHalfOpen + `', 1}
`)

// failScript increments the failure count and decides the resulting
// state atomically: a half-open test failure re-opens the circuit, a
// threshold crossing opens it, otherwise it stays (or becomes) closed.
var failScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local threshold = tonumber(ARGV[2])

local failures = redis.call('HINCRBY', key, 'failures', 1)
redis.call('HSET', key, 'last_failed_at', now)

local state = redis.call('HGET', key, 'state')
if state == '` + StateHalfOpen + `' then
    redis.call('HSET', key, 'state', '` + StateOpen + `')
    return {'` + StateOpen + `', failures}
end

if failures >= threshold then
    redis.call('HSET', key, 'state', '` + StateOpen + `')
    return {'` + StateOpen + `', failures}
end

if state == false then
    redis.call('HSET', key, 'state', '` + StateClosed + `')
end
return {'` + StateClosed + `', failures}
`)

// New builds a circuit breaker. failureThreshold is the consecutive
// failure count (within one open/closed cycle) that trips the circuit;
// cooldownPeriod is how long an open circuit waits before allowing a
// half-open test dispatch.
func New(redisClient *redis.Client, logger *slog.Logger, failureThreshold int, cooldownPeriod time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		redisClient:      redisClient,
		logger:           logger,
		failureThreshold: failureThreshold,
		cooldownPeriod:   cooldownPeriod,
		allowScript:      allowScript,
		failScript:       failScript,
	}
}

func cbKey(sinkURL string) string {
	return fmt.Sprintf("cb:%s", sinkURL)
}

// AllowRequest reports whether a dispatch to sinkURL should proceed.
func (cb *CircuitBreaker) AllowRequest(ctx context.Context, sinkURL string) (string, bool) {
	res, err := cb.allowScript.Run(ctx, cb.redisClient, []string{cbKey(sinkURL)}, time.Now().Unix(), int64(cb.cooldownPeriod.Seconds())).Slice()
	if err != nil {
		cb.logger.Error("circuit breaker allow check failed", "error", err, "sink_url", sinkURL)
		return StateClosed, true
	}

	state, _ := res[0].(string)
	allowed := false
	if n, ok := res[1].(int64); ok {
		allowed = n == 1
	}

	if state == StateHalfOpen && allowed {
		cb.logger.Info("circuit breaker half-open", "sink_url", sinkURL)
	}

	return state, allowed
}

// RecordSuccess resets the circuit to closed.
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context, sinkURL string) {
	key := cbKey(sinkURL)

	state, _ := cb.redisClient.HGet(ctx, key, "state").Result()

	cb.redisClient.HSet(ctx, key, "state", StateClosed, "failures", 0)

	if state == StateHalfOpen {
		cb.logger.Info("circuit breaker closed (recovered)", "sink_url", sinkURL)
	}
}

// RecordFailure records a failed dispatch, opening the circuit if the
// threshold is reached or re-opening it if the half-open test failed.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context, sinkURL string) {
	res, err := cb.failScript.Run(ctx, cb.redisClient, []string{cbKey(sinkURL)}, time.Now().Unix(), int64(cb.failureThreshold)).Slice()
	if err != nil {
		cb.logger.Error("failed to record circuit breaker failure", "error", err, "sink_url", sinkURL)
		return
	}

	state, _ := res[0].(string)
	failures, _ := res[1].(int64)

	if state == StateOpen {
		cb.logger.Warn("circuit breaker opened", "sink_url", sinkURL, "failures", failures, "threshold", cb.failureThreshold)
	}
}

// GetState returns the current circuit state for operator visibility.
func (cb *CircuitBreaker) GetState(ctx context.Context, sinkURL string) State {
	key := cbKey(sinkURL)

	data, err := cb.redisClient.HGetAll(ctx, key).Result()
	if err != nil || len(data) == 0 {
		return State{State: StateClosed, Failures: 0}
	}

	var failures int
	fmt.Sscanf(data["failures"], "%d", &failures)
	state := data["state"]
	if state == "" {
		state = StateClosed
	}

	var lastFailedAt int64
	fmt.Sscanf(data["last_failed_at"], "%d", &lastFailedAt)

	if state == StateOpen && time.Now().Unix()-lastFailedAt >= int64(cb.cooldownPeriod.Seconds()) {
		state = StateHalfOpen
	}

	result := State{State: state, Failures: failures}
	if lastFailedAt > 0 {
		result.LastFailedAt = time.Unix(lastFailedAt, 0).Format(time.RFC3339)
	}

	return result
}
