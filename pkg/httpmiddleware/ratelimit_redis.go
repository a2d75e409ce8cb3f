package httpmiddleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow trims the sorted set to the window, then records the request
// if the limit has not been reached. It returns the request count including
// the current one, or -1 when the request is rejected.
//
// KEYS[1] key, ARGV[1] now (ms), ARGV[2] window (ms), ARGV[3] member,
// ARGV[4] limit.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < tonumber(ARGV[4]) then
  redis.call('ZADD', key, now, ARGV[3])
  redis.call('PEXPIRE', key, window)
  return count + 1
end
return -1
`)

// RedisLimiter is a sliding window limiter shared by all replicas through
// Redis.
type RedisLimiter struct {
	rdb    redis.Scripter
	prefix string
	max    int
	window time.Duration
}

// NewRedisLimiter creates a RedisLimiter storing its sorted sets under
// prefix.
func NewRedisLimiter(rdb redis.Scripter, prefix string, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		rdb:    rdb,
		prefix: prefix,
		max:    max,
		window: window,
	}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	nowMs := now.UnixMilli()
	// Members must be unique across replicas sharing the key, even within
	// one millisecond.
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()
	n, err := slidingWindow.Run(ctx, l.rdb, []string{l.prefix + key},
		nowMs, l.window.Milliseconds(), member, l.max,
	).Int()
	if err != nil {
		return Decision{}, errors.Wrap(err, "eval rate limit")
	}

	d := Decision{ResetAt: now.Add(l.window)}
	if n < 0 {
		return d, nil
	}
	d.Allowed = true
	d.Remaining = max(l.max-n, 0)
	return d, nil
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
