package ratelimit

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// slidingWindow trims, counts and conditionally inserts in a single script
// execution, so the check is race-free across processes. Returns
// {allowed, remaining, retry_after}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, member)
  redis.call('EXPIRE', key, window + 1)
  return {1, limit - count - 1, 0}
end

local retry = window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
  retry = window - (now - tonumber(oldest[2]))
end
if retry < 1 then
  retry = 1
end
return {0, 0, retry}
`)

// RedisStore is the distributed sliding window. Any connectivity or script
// error fails open: the request is allowed with an optimistic remaining
// count and an error-type-labeled counter records the incident.
type RedisStore struct {
	client *redis.Client
	window int
	limit  int
	errs   *prometheus.CounterVec
	logger zerolog.Logger
	now    func() time.Time
}

// RedisStoreConfig carries the explicit dependencies of a RedisStore.
type RedisStoreConfig struct {
	Client        *redis.Client
	WindowSeconds int
	MaxRequests   int
	Errors        *prometheus.CounterVec
	Logger        zerolog.Logger
}

func NewRedisStore(cfg RedisStoreConfig) *RedisStore {
	return &RedisStore{
		client: cfg.Client,
		window: clampWindow(cfg.WindowSeconds),
		limit:  clampLimit(cfg.MaxRequests),
		errs:   cfg.Errors,
		logger: cfg.Logger,
		now:    time.Now,
	}
}

func (s *RedisStore) Check(ctx context.Context, route, tenant string) Result {
	key := Key(route, tenant)
	now := s.now()
	member := uuid.NewString()

	raw, err := slidingWindow.Run(ctx, s.client, []string{key}, now.Unix(), s.window, s.limit, member).Result()
	if err != nil {
		return s.failOpen(route, err)
	}
	reply, ok := raw.([]any)
	if !ok || len(reply) != 3 {
		return s.failOpen(route, errors.New("unexpected script reply shape"))
	}
	allowed, _ := reply[0].(int64)
	remaining, _ := reply[1].(int64)
	retryAfter, _ := reply[2].(int64)

	result := Result{
		Allowed:   allowed == 1,
		Remaining: int(remaining),
		ResetTime: float64(now.Unix() + int64(s.window)),
	}
	if !result.Allowed {
		result.RetryAfter = int(retryAfter)
	}
	return result
}

// failOpen sacrifices enforcement for availability: a Redis outage must not
// take the product down.
func (s *RedisStore) failOpen(route string, err error) Result {
	if s.errs != nil {
		s.errs.WithLabelValues(errorType(err)).Inc()
	}
	s.logger.Warn().
		Err(err).
		Str("route", route).
		Msg("rate limit store unavailable, failing open")
	return Result{
		Allowed:   true,
		Remaining: s.limit - 1,
		ResetTime: float64(s.now().Unix() + int64(s.window)),
	}
}

func errorType(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.As(err, &netErr):
		return "network"
	default:
		return "script"
	}
}
