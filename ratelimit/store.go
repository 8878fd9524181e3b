package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/guardian/internal/keylock"
)

// Store is the keyed atomic counter service behind a Limiter. Apply must run
// Step as one atomic read-modify-write per key, shared by every process that
// uses the same backend.
type Store interface {
	Apply(ctx context.Context, key string, o Outcome, now time.Time, p Policy) (Result, error)
	Get(ctx context.Context, key string) (Counter, bool, error)
	Reset(ctx context.Context, key string) error
}

// MemoryStore keeps counters in process memory with a lock per key.
// It suits a single instance only.
type MemoryStore struct {
	locks keylock.Map

	mu       sync.RWMutex
	counters map[string]Counter
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]Counter)}
}

func (s *MemoryStore) Apply(ctx context.Context, key string, o Outcome, now time.Time, p Policy) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	unlock := s.locks.Lock(key)
	defer unlock()

	s.mu.RLock()
	c, ok := s.counters[key]
	s.mu.RUnlock()
	if !ok {
		c = Counter{Key: key}
	}

	res := Step(c, o, now, p)

	s.mu.Lock()
	if res.Counter.Empty() {
		delete(s.counters, key)
	} else {
		s.counters[key] = res.Counter
	}
	s.mu.Unlock()

	return res, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (Counter, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.counters[key]
	return c, ok, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	unlock := s.locks.Lock(key)
	defer unlock()
	s.mu.Lock()
	delete(s.counters, key)
	s.mu.Unlock()
	return nil
}

// Prune drops counters that no longer affect any decision at now.
func (s *MemoryStore) Prune(now time.Time, p Policy) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, c := range s.counters {
		if !now.Before(expiresAt(c, p)) {
			delete(s.counters, k)
			n++
		}
	}
	return n
}
