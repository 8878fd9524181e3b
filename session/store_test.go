package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("redis", func(t *testing.T) {
		_, rdb := newTestRedis(t)
		fn(t, NewRedisStore(rdb, "test"))
	})
}

func login(t *testing.T, s Store, userID, id string) {
	t.Helper()
	err := s.Create(context.Background(),
		Chain{ID: id, UserID: userID, CreatedAt: t0},
		Record{ID: id, UserID: userID, IssuedAt: t0, ExpiresAt: t0.Add(time.Hour), Client: "ios"},
	)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
}

func nextRecord(id string, at time.Time) Record {
	return Record{ID: id, IssuedAt: at, ExpiresAt: at.Add(time.Hour)}
}

func TestCreateAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		login(t, s, "u1", "r1")
		rec, chain, err := s.Get(context.Background(), "r1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if rec.UserID != "u1" || rec.ChainID != "r1" || rec.Client != "ios" || rec.RevokedAt != nil {
			t.Fatalf("unexpected record: %+v", rec)
		}
		if !rec.ExpiresAt.Equal(t0.Add(time.Hour)) {
			t.Fatalf("unexpected expiry: %v", rec.ExpiresAt)
		}
		if chain == nil || chain.UserID != "u1" || !chain.CreatedAt.Equal(t0) {
			t.Fatalf("unexpected chain: %+v", chain)
		}
		if _, _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestRotateLinksChain(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		login(t, s, "u1", "r1")

		old, err := s.Rotate(ctx, "r1", nextRecord("r2", t0.Add(time.Minute)), t0.Add(time.Minute))
		if err != nil {
			t.Fatalf("rotate: %v", err)
		}
		if old.ReplacedBy != "r2" || old.RotatedAt == nil || old.RevokedAt == nil {
			t.Fatalf("old record not retired: %+v", old)
		}
		next, _, err := s.Get(ctx, "r2")
		if err != nil {
			t.Fatalf("get next: %v", err)
		}
		if next.ChainID != "r1" || next.ParentID != "r1" || next.UserID != "u1" || next.RevokedAt != nil {
			t.Fatalf("next record not linked: %+v", next)
		}
	})
}

func TestReplayRevokesWholeChain(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		login(t, s, "u1", "r1")
		at := t0.Add(time.Minute)

		if _, err := s.Rotate(ctx, "r1", nextRecord("r2", at), at); err != nil {
			t.Fatalf("first rotate: %v", err)
		}
		if _, err := s.Rotate(ctx, "r1", nextRecord("r3", at), at); !errors.Is(err, ErrReplayDetected) {
			t.Fatalf("expected ErrReplayDetected, got %v", err)
		}

		r2, chain, err := s.Get(ctx, "r2")
		if err != nil {
			t.Fatalf("get r2: %v", err)
		}
		if r2.RevokedAt == nil {
			t.Fatal("descendant must be revoked after replay")
		}
		if chain.RevokedAt == nil || chain.RevokeReason != ReasonReplay {
			t.Fatalf("chain not revoked for replay: %+v", chain)
		}
		if _, err := s.Rotate(ctx, "r2", nextRecord("r4", at), at); !errors.Is(err, ErrRevoked) {
			t.Fatalf("expected ErrRevoked for descendant, got %v", err)
		}
		if _, _, err := s.Get(ctx, "r3"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("replayed rotation must not append, got %v", err)
		}
	})
}

func TestRotateExpiredAndUnknown(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		login(t, s, "u1", "r1")
		at := t0.Add(2 * time.Hour)
		if _, err := s.Rotate(ctx, "r1", nextRecord("r2", at), at); !errors.Is(err, ErrExpired) {
			t.Fatalf("expected ErrExpired, got %v", err)
		}
		if _, err := s.Rotate(ctx, "nope", nextRecord("r3", at), at); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestConcurrentRotateHasSingleWinner(t *testing.T) {
	const n = 16
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		login(t, s, "u1", "r1")
		at := t0.Add(time.Minute)

		var wg sync.WaitGroup
		var ok, replay, revoked atomic.Int32
		start := make(chan struct{})
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				_, err := s.Rotate(ctx, "r1", nextRecord(fmt.Sprintf("next-%d", i), at), at)
				switch {
				case err == nil:
					ok.Add(1)
				case errors.Is(err, ErrReplayDetected):
					replay.Add(1)
				case errors.Is(err, ErrRevoked):
					revoked.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		close(start)
		wg.Wait()

		if ok.Load() != 1 {
			t.Fatalf("expected exactly one success, got %d", ok.Load())
		}
		if replay.Load()+revoked.Load() != n-1 {
			t.Fatalf("expected %d failures, got replay=%d revoked=%d", n-1, replay.Load(), revoked.Load())
		}
	})
}

func TestRevokeAndRevokeUser(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		login(t, s, "u1", "a")
		login(t, s, "u1", "b")
		login(t, s, "u2", "c")

		if err := s.Revoke(ctx, "a", ReasonLogout, t0); err != nil {
			t.Fatalf("revoke: %v", err)
		}
		if _, err := s.Rotate(ctx, "a", nextRecord("a2", t0), t0); !errors.Is(err, ErrRevoked) {
			t.Fatalf("expected ErrRevoked after logout, got %v", err)
		}

		n, err := s.RevokeUser(ctx, "u1", ReasonLogoutAll, t0)
		if err != nil {
			t.Fatalf("revoke user: %v", err)
		}
		if n != 1 {
			t.Fatalf("expected 1 live chain revoked, got %d", n)
		}
		if _, err := s.Rotate(ctx, "b", nextRecord("b2", t0), t0); !errors.Is(err, ErrRevoked) {
			t.Fatalf("expected ErrRevoked after logout all, got %v", err)
		}
		if _, err := s.Rotate(ctx, "c", nextRecord("c2", t0), t0); err != nil {
			t.Fatalf("other user's session must survive: %v", err)
		}
		if err := s.Revoke(ctx, "missing", ReasonAdmin, t0); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestListUserReturnsLiveRecords(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		login(t, s, "u1", "a")
		login(t, s, "u1", "b")
		login(t, s, "u1", "c")
		login(t, s, "u2", "d")
		at := t0.Add(time.Minute)

		if _, err := s.Rotate(ctx, "a", nextRecord("a2", at), at); err != nil {
			t.Fatalf("rotate: %v", err)
		}
		if err := s.Revoke(ctx, "b", ReasonLogout, at); err != nil {
			t.Fatalf("revoke: %v", err)
		}

		recs, err := s.ListUser(ctx, "u1", at)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		var ids []string
		for _, r := range recs {
			ids = append(ids, r.ID)
		}
		if strings.Join(ids, ",") != "c,a2" {
			t.Fatalf("expected [c a2], got %v", ids)
		}
		if recs[1].ChainID != "a" || recs[1].ParentID != "a" {
			t.Fatalf("rotated record lost its lineage: %+v", recs[1])
		}

		// c expires an hour after t0; a2 an hour after its rotation.
		recs, err = s.ListUser(ctx, "u1", t0.Add(time.Hour+30*time.Second))
		if err != nil {
			t.Fatalf("list later: %v", err)
		}
		if len(recs) != 1 || recs[0].ID != "a2" {
			t.Fatalf("expected only a2 left, got %+v", recs)
		}

		recs, err = s.ListUser(ctx, "nobody", at)
		if err != nil || len(recs) != 0 {
			t.Fatalf("expected no records, got %v (%v)", recs, err)
		}
	})
}

func TestListUserAfterReplay(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		login(t, s, "u1", "r1")
		at := t0.Add(time.Minute)
		if _, err := s.Rotate(ctx, "r1", nextRecord("r2", at), at); err != nil {
			t.Fatalf("rotate: %v", err)
		}
		if _, err := s.Rotate(ctx, "r1", nextRecord("r3", at), at); !errors.Is(err, ErrReplayDetected) {
			t.Fatalf("expected ErrReplayDetected, got %v", err)
		}
		recs, err := s.ListUser(ctx, "u1", at)
		if err != nil || len(recs) != 0 {
			t.Fatalf("replayed chain must not be listed, got %+v (%v)", recs, err)
		}
	})
}

func TestRedisChainKeysShareHashTag(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, "test")
	ctx := context.Background()
	login(t, s, "u1", "r1")
	at := t0.Add(time.Minute)
	if _, err := s.Rotate(ctx, "r1", nextRecord("r2", at), at); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if err := s.Revoke(ctx, "r2", ReasonLogout, at); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	want := map[string]bool{
		"test:{r1}:ch":    true,
		"test:{r1}:m":     true,
		"test:{r1}:rt:r1": true,
		"test:{r1}:rt:r2": true,
		"test:ix:r1":      true,
		"test:ix:r2":      true,
		"test:uc:u1":      true,
	}
	for _, k := range mr.Keys() {
		if !want[k] {
			t.Fatalf("unexpected key %q", k)
		}
		delete(want, k)
	}
	if len(want) != 0 {
		t.Fatalf("missing keys %v", want)
	}
}

func TestRedisStoreOnClusterClient(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClusterClient(&redis.ClusterOptions{Addrs: []string{mr.Addr()}})
	t.Cleanup(func() { _ = rdb.Close() })
	s := NewRedisStore(rdb, "")
	ctx := context.Background()

	login(t, s, "u1", "r1")
	at := t0.Add(time.Minute)
	if _, err := s.Rotate(ctx, "r1", nextRecord("r2", at), at); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, err := s.Rotate(ctx, "r1", nextRecord("r3", at), at); !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("expected ErrReplayDetected, got %v", err)
	}
	r2, chain, err := s.Get(ctx, "r2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r2.RevokedAt == nil || chain.RevokeReason != ReasonReplay {
		t.Fatalf("replay did not revoke the chain: %+v %+v", r2, chain)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := s.Sweep(ctx, at.Add(2*time.Hour)); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if mr.Exists("gs:uc:u1") {
		t.Fatal("sweep should clear the user index on every master")
	}
}

func TestMemorySweep(t *testing.T) {
	s := NewMemoryStore()
	login(t, s, "u1", "r1")
	ctx := context.Background()
	if _, err := s.Rotate(ctx, "r1", Record{ID: "r2", IssuedAt: t0, ExpiresAt: t0.Add(3 * time.Hour)}, t0.Add(time.Minute)); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	n, err := s.Sweep(ctx, t0.Add(2*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("expected 1 swept, got %d (%v)", n, err)
	}
	if _, _, err := s.Get(ctx, "r2"); err != nil {
		t.Fatalf("live record swept: %v", err)
	}
	n, _ = s.Sweep(ctx, t0.Add(4*time.Hour))
	if n != 1 {
		t.Fatalf("expected last record swept, got %d", n)
	}
	if len(s.chains) != 0 || len(s.users) != 0 {
		t.Fatal("empty chain should be dropped with its index")
	}
}

func TestRedisSweepDropsExpiredIndexes(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, "")
	login(t, s, "u1", "r1")

	mr.FastForward(2 * time.Hour)
	n, err := s.Sweep(context.Background(), t0.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 && n != 1 {
		t.Fatalf("unexpected sweep count %d", n)
	}
	if mr.Exists("gs:{r1}:rt:r1") || mr.Exists("gs:ix:r1") {
		t.Fatal("record should have expired")
	}
	if mr.Exists("gs:{r1}:ch") || mr.Exists("gs:{r1}:m") {
		t.Fatal("empty chain should be dropped")
	}
	members, _ := rdb.SMembers(context.Background(), "gs:uc:u1").Result()
	if len(members) != 0 {
		t.Fatalf("expected user index cleaned, got %v", members)
	}
}

func TestRedisUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, "")
	mr.Close()
	if _, err := s.Rotate(context.Background(), "r1", nextRecord("r2", t0), t0); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
