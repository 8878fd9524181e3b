package verification

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps records in process.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Save(ctx context.Context, id string, rec Record, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.mu.Lock()
	s.records[id] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Consume(ctx context.Context, id string, secretHash [32]byte, maxAttempts int, now time.Time) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !now.Before(rec.ExpiresAt) {
		delete(s.records, id)
		return nil, ErrNotFound
	}
	if !hashesEqual(rec.SecretHash, secretHash) {
		rec.Attempts++
		if maxAttempts > 0 && rec.Attempts >= maxAttempts {
			delete(s.records, id)
			return nil, ErrAttemptsExceeded
		}
		s.records[id] = rec
		return nil, ErrSecretMismatch
	}
	delete(s.records, id)
	return &rec, nil
}
