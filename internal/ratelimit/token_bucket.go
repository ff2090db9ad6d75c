package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// KEYS[1] bucket; ARGV rate/s, burst, cost, ttl ms. Returns allowed, the
// remaining tokens as a string (Lua would truncate a number), and the wait
// in ms until cost tokens are available.
const takeScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local ts = tonumber(state[2]) or now
tokens = math.min(burst, tokens + math.max(0, now - ts) / 1000 * rate)

local allowed = 0
local wait = 0
if tokens >= cost then
  allowed = 1
  tokens = tokens - cost
else
  wait = math.ceil((cost - tokens) / rate * 1000)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, tostring(tokens), wait}
`

// TokenBucket is a redis-backed bucket shared by every terminal that uses
// the same key.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
	rate   float64
	burst  int
}

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client, rate float64, burst int) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(takeScript),
		rate:   rate,
		burst:  burst,
	}
}

// Take removes cost tokens from the bucket at key, or reports how long to
// wait when it holds fewer.
func (t *TokenBucket) Take(ctx context.Context, key string, cost int) (*Result, error) {
	if t == nil || t.client == nil {
		return &Result{}, errors.New("rate_limiter_not_configured")
	}
	if key == "" || t.rate <= 0 || t.burst <= 0 {
		return &Result{}, errors.New("invalid_rate_limit")
	}
	if cost <= 0 || cost > t.burst {
		return &Result{}, fmt.Errorf("cost %d outside 1..%d", cost, t.burst)
	}

	ttl := bucketTTL(t.rate, t.burst)
	res, err := t.script.Run(ctx, t.client, []string{key}, t.rate, t.burst, cost, ttl.Milliseconds()).Slice()
	if err != nil {
		return &Result{}, err
	}
	if len(res) != 3 {
		return &Result{}, errors.New("unexpected rate limit reply")
	}

	return &Result{
		Allowed:    castToInt(res[0]) == 1,
		Limit:      t.burst,
		Remaining:  int(castToFloat(res[1])),
		RetryAfter: time.Duration(castToInt(res[2])) * time.Millisecond,
	}, nil
}

// bucketTTL keeps an idle bucket for twice its full refill time.
func bucketTTL(rate float64, burst int) time.Duration {
	if rate <= 0 || burst <= 0 {
		return time.Second
	}
	return time.Duration(max(1, math.Ceil(2*float64(burst)/rate))) * time.Second
}

func castToInt(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case string:
		parsed, _ := strconv.ParseInt(val, 10, 64)
		return parsed
	default:
		return int64(castToFloat(v))
	}
}

func castToFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	case int:
		return float64(val)
	case string:
		parsed, _ := strconv.ParseFloat(val, 64)
		return parsed
	default:
		return 0
	}
}
