package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Mirrors Step. Times are unix milliseconds; 0 means unset.
const applyScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local outcome = ARGV[2]
local threshold = tonumber(ARGV[3])
local window = tonumber(ARGV[4])
local lockout = tonumber(ARGV[5])

local vals = redis.call("HMGET", key, "attempts", "window_start", "locked_until")
local attempts = tonumber(vals[1]) or 0
local wstart = tonumber(vals[2]) or 0
local locked = tonumber(vals[3]) or 0

if locked > 0 and now >= locked then
  attempts = 0
  wstart = 0
  locked = 0
elseif locked == 0 and attempts > 0 and now >= wstart + window then
  attempts = 0
  wstart = 0
end

local blocked = 0
local locked_now = 0
if locked > now then
  blocked = 1
  if outcome ~= "success" then
    attempts = attempts + 1
  end
elseif outcome == "success" then
  attempts = 0
  wstart = 0
elseif outcome == "failure" then
  if attempts == 0 then
    wstart = now
  end
  attempts = attempts + 1
  if attempts >= threshold then
    locked = now + lockout
    locked_now = 1
  end
end

if attempts == 0 and locked == 0 then
  redis.call("DEL", key)
else
  redis.call("HSET", key, "attempts", attempts, "window_start", wstart, "locked_until", locked)
  local expire_at = wstart + window
  if locked > expire_at then
    expire_at = locked
  end
  local ttl = expire_at - now
  if ttl < 1 then
    ttl = 1
  end
  redis.call("PEXPIRE", key, ttl)
end

return {attempts, wstart, locked, blocked, locked_now}
`

var applyLua = redis.NewScript(applyScript)

// RedisStore keeps counters in Redis hashes; every Apply is one Lua call.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore stores counters under prefix+key. An empty prefix uses "grl:".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "grl:"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) Apply(ctx context.Context, key string, o Outcome, now time.Time, p Policy) (Result, error) {
	raw, err := applyLua.Run(ctx, s.redis, []string{s.prefix + key},
		now.UnixMilli(),
		o.String(),
		p.Threshold,
		p.Window.Milliseconds(),
		p.Lockout.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(raw) != 5 {
		return Result{}, fmt.Errorf("%w: unexpected script reply", ErrUnavailable)
	}

	return Result{
		Counter: Counter{
			Key:         key,
			Attempts:    int(raw[0]),
			WindowStart: fromMillis(raw[1]),
			LockedUntil: fromMillis(raw[2]),
		},
		Blocked:   raw[3] == 1,
		LockedNow: raw[4] == 1,
	}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (Counter, bool, error) {
	vals, err := s.redis.HMGet(ctx, s.prefix+key, "attempts", "window_start", "locked_until").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Counter{}, false, nil
		}
		return Counter{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if vals[0] == nil {
		return Counter{}, false, nil
	}
	return Counter{
		Key:         key,
		Attempts:    int(parseInt(vals[0])),
		WindowStart: fromMillis(parseInt(vals[1])),
		LockedUntil: fromMillis(parseInt(vals[2])),
	}, true, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func parseInt(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
