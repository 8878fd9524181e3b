package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory behind one mutex.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	chains  map[string]*Chain
	members map[string][]string
	users   map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		chains:  make(map[string]*Chain),
		members: make(map[string][]string),
		users:   make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) Create(ctx context.Context, chain Chain, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" || chain.ID == "" || rec.UserID == "" {
		return errors.New("session: record id, chain id and user id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return errors.New("session: duplicate record id")
	}
	if _, ok := s.chains[chain.ID]; !ok {
		c := chain
		s.chains[chain.ID] = &c
	}
	rec.ChainID = chain.ID
	r := rec
	s.records[rec.ID] = &r
	s.members[chain.ID] = append(s.members[chain.ID], rec.ID)
	if s.users[rec.UserID] == nil {
		s.users[rec.UserID] = make(map[string]struct{})
	}
	s.users[rec.UserID][chain.ID] = struct{}{}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, *Chain, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	rc := *r
	var cc *Chain
	if c, ok := s.chains[r.ChainID]; ok {
		copied := *c
		cc = &copied
	}
	return &rc, cc, nil
}

func (s *MemoryStore) Rotate(ctx context.Context, oldID string, next Record, now time.Time) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.records[oldID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *old
	chain := s.chains[old.ChainID]

	switch {
	case old.RotatedAt != nil:
		s.revokeChainLocked(old.ChainID, ReasonReplay, now)
		out = *old
		return &out, ErrReplayDetected
	case old.RevokedAt != nil || chain == nil || chain.RevokedAt != nil:
		return &out, ErrRevoked
	case !now.Before(old.ExpiresAt):
		return &out, ErrExpired
	}
	if _, dup := s.records[next.ID]; dup || next.ID == "" {
		return &out, errors.New("session: invalid next record id")
	}

	old.RotatedAt = timePtr(now)
	old.RevokedAt = timePtr(now)
	old.ReplacedBy = next.ID

	next.UserID = old.UserID
	next.ChainID = old.ChainID
	next.ParentID = old.ID
	next.RevokedAt = nil
	next.RotatedAt = nil
	n := next
	s.records[next.ID] = &n
	s.members[old.ChainID] = append(s.members[old.ChainID], next.ID)

	out = *old
	return &out, nil
}

func (s *MemoryStore) Revoke(ctx context.Context, id, reason string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	s.revokeChainLocked(r.ChainID, reason, now)
	return nil
}

func (s *MemoryStore) RevokeChain(ctx context.Context, chainID, reason string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chains[chainID]; !ok {
		return ErrNotFound
	}
	s.revokeChainLocked(chainID, reason, now)
	return nil
}

func (s *MemoryStore) RevokeUser(ctx context.Context, userID, reason string, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for chainID := range s.users[userID] {
		if s.revokeChainLocked(chainID, reason, now) {
			n++
		}
	}
	return n, nil
}

// revokeChainLocked reports whether the chain was live before the call.
func (s *MemoryStore) revokeChainLocked(chainID, reason string, now time.Time) bool {
	chain, ok := s.chains[chainID]
	if !ok {
		return false
	}
	live := chain.RevokedAt == nil
	if live {
		chain.RevokedAt = timePtr(now)
		chain.RevokeReason = reason
	}
	for _, id := range s.members[chainID] {
		if r, ok := s.records[id]; ok && r.RevokedAt == nil {
			r.RevokedAt = timePtr(now)
		}
	}
	return live
}

func (s *MemoryStore) ListUser(ctx context.Context, userID string, now time.Time) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for chainID := range s.users[userID] {
		if c := s.chains[chainID]; c == nil || c.RevokedAt != nil {
			continue
		}
		for _, id := range s.members[chainID] {
			if r := s.records[id]; r != nil && r.Live(now) {
				out = append(out, *r)
			}
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *MemoryStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for chainID, ids := range s.members {
		kept := ids[:0]
		for _, id := range ids {
			r := s.records[id]
			if r != nil && now.Before(r.ExpiresAt) {
				kept = append(kept, id)
				continue
			}
			if r != nil {
				delete(s.records, id)
				n++
			}
		}
		if len(kept) > 0 {
			s.members[chainID] = kept
			continue
		}
		if c := s.chains[chainID]; c != nil {
			delete(s.users[c.UserID], chainID)
			if len(s.users[c.UserID]) == 0 {
				delete(s.users, c.UserID)
			}
		}
		delete(s.chains, chainID)
		delete(s.members, chainID)
	}
	return n, nil
}
