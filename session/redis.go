package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Every key a script touches is passed in KEYS and carries the chain id as
// its hash tag, so a chain lives in one cluster slot. Times are unix
// milliseconds; "0" means unset.
//
// KEYS[1] old record, KEYS[2] next record, KEYS[3] chain, KEYS[4] members
// ARGV[1] now, ARGV[2] old id, ARGV[3] next id, ARGV[4] issued_at,
// ARGV[5] expires_at, ARGV[6] client
const rotateScript = `
local old_key, next_key, chain_key, members_key = KEYS[1], KEYS[2], KEYS[3], KEYS[4]
local now = tonumber(ARGV[1])
local expires_at = tonumber(ARGV[5])

local f = redis.call("HMGET", old_key, "user_id", "chain_id", "expires_at", "revoked_at", "rotated_at")
if not f[1] then
  return 0
end

local chain_live = redis.call("EXISTS", chain_key) == 1 and
  tonumber(redis.call("HGET", chain_key, "revoked_at") or "0") == 0

if tonumber(f[5] or "0") ~= 0 then
  if chain_live then
    redis.call("HSET", chain_key, "revoked_at", now, "reason", "replay")
  end
  return 2
end
if tonumber(f[4] or "0") ~= 0 or not chain_live then
  return 3
end
if tonumber(f[3]) <= now then
  return 4
end
if redis.call("EXISTS", next_key) == 1 then
  return 5
end

redis.call("HSET", old_key, "rotated_at", now, "revoked_at", now, "replaced_by", ARGV[3])
redis.call("HSET", next_key,
  "user_id", f[1],
  "chain_id", f[2],
  "parent_id", ARGV[2],
  "issued_at", ARGV[4],
  "expires_at", expires_at,
  "revoked_at", 0,
  "rotated_at", 0,
  "replaced_by", "",
  "client", ARGV[6])

local ttl = math.max(expires_at - now, 1)
redis.call("PEXPIRE", next_key, ttl)
redis.call("SADD", members_key, ARGV[3])
if redis.call("PTTL", chain_key) < ttl then
  redis.call("PEXPIRE", chain_key, ttl)
  redis.call("PEXPIRE", members_key, ttl)
end
return 1
`

// KEYS[1] chain; ARGV[1] reason, ARGV[2] now.
// Returns -1 for an unknown chain, 1 if it was live, 0 otherwise.
const revokeChainScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if tonumber(redis.call("HGET", KEYS[1], "revoked_at") or "0") ~= 0 then
  return 0
end
redis.call("HSET", KEYS[1], "revoked_at", ARGV[2], "reason", ARGV[1])
return 1
`

var (
	rotateLua      = redis.NewScript(rotateScript)
	revokeChainLua = redis.NewScript(revokeChainScript)
)

const (
	rotateNotFound int64 = 0
	rotateOK       int64 = 1
	rotateReplay   int64 = 2
	rotateRevoked  int64 = 3
	rotateExpired  int64 = 4
	rotateConflict int64 = 5
)

// RedisStore keeps each record and chain in a Redis hash:
//
//	<p>:{<chain>}:ch      chain
//	<p>:{<chain>}:m       set of record ids in the chain
//	<p>:{<chain>}:rt:<id> record
//	<p>:ix:<id>           chain id of record <id>
//	<p>:uc:<user>         set of chain ids of the user
//
// Record and index keys expire with the token; chain keys live as long as
// their newest record. Revoking a chain writes only the chain hash: a record
// reads as revoked when its chain is.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore uses prefix as the key namespace; empty means "gs".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "gs"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) chainTag(chainID string) string { return s.prefix + ":{" + chainID + "}" }

func (s *RedisStore) chainKey(chainID string) string   { return s.chainTag(chainID) + ":ch" }
func (s *RedisStore) membersKey(chainID string) string { return s.chainTag(chainID) + ":m" }
func (s *RedisStore) recordKey(chainID, id string) string {
	return s.chainTag(chainID) + ":rt:" + id
}
func (s *RedisStore) indexKey(id string) string      { return s.prefix + ":ix:" + id }
func (s *RedisStore) userChainsKey(id string) string { return s.prefix + ":uc:" + id }

// chainOf resolves the chain of record id through the index.
func (s *RedisStore) chainOf(ctx context.Context, id string) (string, error) {
	chainID, err := s.redis.Get(ctx, s.indexKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return chainID, nil
}

func (s *RedisStore) Create(ctx context.Context, chain Chain, rec Record) error {
	if rec.ID == "" || chain.ID == "" || rec.UserID == "" {
		return errors.New("session: record id, chain id and user id are required")
	}
	ttl := rec.ExpiresAt.Sub(rec.IssuedAt)
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}

	recKey := s.recordKey(chain.ID, rec.ID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, recKey,
			"user_id", rec.UserID,
			"chain_id", chain.ID,
			"parent_id", rec.ParentID,
			"issued_at", rec.IssuedAt.UnixMilli(),
			"expires_at", rec.ExpiresAt.UnixMilli(),
			"revoked_at", 0,
			"rotated_at", 0,
			"replaced_by", "",
			"client", rec.Client,
		)
		pipe.PExpire(ctx, recKey, ttl)
		pipe.Set(ctx, s.indexKey(rec.ID), chain.ID, ttl)
		pipe.HSet(ctx, s.chainKey(chain.ID),
			"user_id", chain.UserID,
			"created_at", chain.CreatedAt.UnixMilli(),
			"revoked_at", 0,
			"reason", "",
		)
		pipe.PExpire(ctx, s.chainKey(chain.ID), ttl)
		pipe.SAdd(ctx, s.membersKey(chain.ID), rec.ID)
		pipe.PExpire(ctx, s.membersKey(chain.ID), ttl)
		pipe.SAdd(ctx, s.userChainsKey(rec.UserID), chain.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Record, *Chain, error) {
	chainID, err := s.chainOf(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return s.load(ctx, chainID, id)
}

// load reads a record and its chain, both in the chain's slot.
func (s *RedisStore) load(ctx context.Context, chainID, id string) (*Record, *Chain, error) {
	var recCmd, chainCmd *redis.MapStringStringCmd
	_, err := s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		recCmd = pipe.HGetAll(ctx, s.recordKey(chainID, id))
		chainCmd = pipe.HGetAll(ctx, s.chainKey(chainID))
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(recCmd.Val()) == 0 {
		return nil, nil, ErrNotFound
	}
	rec := decodeRecord(id, recCmd.Val())
	if len(chainCmd.Val()) == 0 {
		return rec, nil, nil
	}
	chain := decodeChain(chainID, chainCmd.Val())
	if rec.RevokedAt == nil && chain.RevokedAt != nil {
		rec.RevokedAt = timePtr(*chain.RevokedAt)
	}
	return rec, chain, nil
}

func (s *RedisStore) Rotate(ctx context.Context, oldID string, next Record, now time.Time) (*Record, error) {
	if next.ID == "" {
		return nil, errors.New("session: next record id is required")
	}
	chainID, err := s.chainOf(ctx, oldID)
	if err != nil {
		return nil, err
	}
	status, err := rotateLua.Run(ctx, s.redis,
		[]string{
			s.recordKey(chainID, oldID),
			s.recordKey(chainID, next.ID),
			s.chainKey(chainID),
			s.membersKey(chainID),
		},
		now.UnixMilli(),
		oldID,
		next.ID,
		next.IssuedAt.UnixMilli(),
		next.ExpiresAt.UnixMilli(),
		next.Client,
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if status == rotateNotFound {
		return nil, ErrNotFound
	}
	if status == rotateOK {
		// The new token is not handed out before its index exists.
		ttl := max(next.ExpiresAt.Sub(now), time.Millisecond)
		if err := s.redis.Set(ctx, s.indexKey(next.ID), chainID, ttl).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	old, _, getErr := s.load(ctx, chainID, oldID)
	if getErr != nil {
		old = nil
	}

	switch status {
	case rotateOK:
		return old, nil
	case rotateReplay:
		return old, ErrReplayDetected
	case rotateRevoked:
		return old, ErrRevoked
	case rotateExpired:
		return old, ErrExpired
	case rotateConflict:
		return old, errors.New("session: next record id already exists")
	default:
		return old, fmt.Errorf("%w: unexpected rotate status %d", ErrUnavailable, status)
	}
}

func (s *RedisStore) Revoke(ctx context.Context, id, reason string, now time.Time) error {
	chainID, err := s.chainOf(ctx, id)
	if err != nil {
		return err
	}
	return s.RevokeChain(ctx, chainID, reason, now)
}

func (s *RedisStore) RevokeChain(ctx context.Context, chainID, reason string, now time.Time) error {
	_, err := s.revokeChain(ctx, chainID, reason, now)
	return err
}

func (s *RedisStore) revokeChain(ctx context.Context, chainID, reason string, now time.Time) (bool, error) {
	res, err := revokeChainLua.Run(ctx, s.redis,
		[]string{s.chainKey(chainID)},
		reason, now.UnixMilli(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if res < 0 {
		return false, ErrNotFound
	}
	return res == 1, nil
}

func (s *RedisStore) RevokeUser(ctx context.Context, userID, reason string, now time.Time) (int, error) {
	chainIDs, err := s.redis.SMembers(ctx, s.userChainsKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	n := 0
	for _, chainID := range chainIDs {
		live, err := s.revokeChain(ctx, chainID, reason, now)
		if errors.Is(err, ErrNotFound) {
			_ = s.redis.SRem(ctx, s.userChainsKey(userID), chainID).Err()
			continue
		}
		if err != nil {
			return n, err
		}
		if live {
			n++
		}
	}
	return n, nil
}

func (s *RedisStore) ListUser(ctx context.Context, userID string, now time.Time) ([]Record, error) {
	chainIDs, err := s.redis.SMembers(ctx, s.userChainsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var out []Record
	for _, chainID := range chainIDs {
		f, err := s.redis.HGetAll(ctx, s.chainKey(chainID)).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if len(f) == 0 || decodeChain(chainID, f).RevokedAt != nil {
			continue
		}
		ids, err := s.redis.SMembers(ctx, s.membersKey(chainID)).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		for _, id := range ids {
			f, err := s.redis.HGetAll(ctx, s.recordKey(chainID, id)).Result()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			if len(f) == 0 {
				continue
			}
			if rec := decodeRecord(id, f); rec.Live(now) {
				out = append(out, *rec)
			}
		}
	}
	sortRecords(out)
	return out, nil
}

// Sweep drops chain and user index entries whose records Redis has already
// expired. The records themselves go through key expiry, so the count is of
// member entries removed. On a cluster every master is scanned.
func (s *RedisStore) Sweep(ctx context.Context, _ time.Time) (int, error) {
	var removed atomic.Int64
	scan := func(ctx context.Context, node redis.UniversalClient) error {
		iter := node.Scan(ctx, 0, s.prefix+":uc:*", 100).Iterator()
		for iter.Next(ctx) {
			n, err := s.sweepUser(ctx, iter.Val())
			removed.Add(int64(n))
			if err != nil {
				return err
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	}

	var err error
	if cluster, ok := s.redis.(*redis.ClusterClient); ok {
		err = cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return scan(ctx, node)
		})
	} else {
		err = scan(ctx, s.redis)
	}
	return int(removed.Load()), err
}

func (s *RedisStore) sweepUser(ctx context.Context, userKey string) (int, error) {
	removed := 0
	chainIDs, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	for _, chainID := range chainIDs {
		ids, err := s.redis.SMembers(ctx, s.membersKey(chainID)).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		alive := 0
		for _, id := range ids {
			n, err := s.redis.Exists(ctx, s.recordKey(chainID, id)).Result()
			if err != nil {
				return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			if n == 0 {
				_ = s.redis.SRem(ctx, s.membersKey(chainID), id).Err()
				removed++
				continue
			}
			alive++
		}
		if alive == 0 {
			if err := s.redis.Del(ctx, s.chainKey(chainID), s.membersKey(chainID)).Err(); err != nil {
				return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			_ = s.redis.SRem(ctx, userKey, chainID).Err()
		}
	}
	return removed, nil
}

func decodeRecord(id string, f map[string]string) *Record {
	return &Record{
		ID:         id,
		UserID:     f["user_id"],
		ChainID:    f["chain_id"],
		ParentID:   f["parent_id"],
		IssuedAt:   millis(f["issued_at"]),
		ExpiresAt:  millis(f["expires_at"]),
		RevokedAt:  optionalMillis(f["revoked_at"]),
		RotatedAt:  optionalMillis(f["rotated_at"]),
		ReplacedBy: f["replaced_by"],
		Client:     f["client"],
	}
}

func decodeChain(id string, f map[string]string) *Chain {
	return &Chain{
		ID:           id,
		UserID:       f["user_id"],
		CreatedAt:    millis(f["created_at"]),
		RevokedAt:    optionalMillis(f["revoked_at"]),
		RevokeReason: f["reason"],
	}
}

func millis(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(n)
}

func optionalMillis(s string) *time.Time {
	t := millis(s)
	if t.IsZero() {
		return nil
	}
	return &t
}
