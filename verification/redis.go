package verification

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript checks and deletes a record in one step. The secret hash
// comparison visits every byte whatever the first mismatch.
// KEYS[1] record key
// ARGV[1] presented secret hash, ARGV[2] max attempts, ARGV[3] now in ms
var consumeScript = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'u', 'h', 'a', 'e')
if not f[1] then
  return {err='not_found'}
end
if tonumber(ARGV[3]) >= tonumber(f[4]) then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end
local stored, given = f[2], ARGV[1]
local diff = 0
if #stored ~= #given then
  diff = 1
else
  for i = 1, #stored do
    diff = diff + math.abs(string.byte(stored, i) - string.byte(given, i))
  end
end
if diff ~= 0 then
  local a = redis.call('HINCRBY', KEYS[1], 'a', 1)
  local max = tonumber(ARGV[2])
  if max > 0 and a >= max then
    redis.call('DEL', KEYS[1])
    return {err='attempts_exceeded'}
  end
  return {err='secret_mismatch'}
end
redis.call('DEL', KEYS[1])
return {f[1], f[3], f[4]}
`)

// RedisStore keeps each record in a hash that expires with the token.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "gv"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + ":" + id
}

func (s *RedisStore) Save(ctx context.Context, id string, rec Record, ttl time.Duration) error {
	key := s.key(id)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"u", rec.UserID,
			"h", string(rec.SecretHash[:]),
			"a", rec.Attempts,
			"e", rec.ExpiresAt.UnixMilli(),
		)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Consume(ctx context.Context, id string, secretHash [32]byte, maxAttempts int, now time.Time) (*Record, error) {
	res, err := consumeScript.Run(ctx, s.client, []string{s.key(id)},
		string(secretHash[:]), maxAttempts, now.UnixMilli(),
	).Result()
	if err != nil {
		switch err.Error() {
		case "not_found":
			return nil, ErrNotFound
		case "attempts_exceeded":
			return nil, ErrAttemptsExceeded
		case "secret_mismatch":
			return nil, ErrSecretMismatch
		default:
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	fields, ok := res.([]interface{})
	if !ok || len(fields) != 3 {
		return nil, fmt.Errorf("%w: unexpected script reply", ErrUnavailable)
	}
	userID, _ := fields[0].(string)
	attempts, _ := strconv.Atoi(fmt.Sprint(fields[1]))
	expMillis, _ := strconv.ParseInt(fmt.Sprint(fields[2]), 10, 64)

	return &Record{
		UserID:     userID,
		SecretHash: secretHash,
		ExpiresAt:  time.UnixMilli(expMillis),
		Attempts:   attempts,
	}, nil
}
