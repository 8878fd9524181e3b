package session

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"
)

var (
	ErrNotFound       = errors.New("session not found")
	ErrRevoked        = errors.New("session revoked")
	ErrExpired        = errors.New("session expired")
	ErrReplayDetected = errors.New("refresh token replay detected")
	ErrUnavailable    = errors.New("session backend unavailable")
)

// Revocation reasons recorded on chains.
const (
	ReasonLogout         = "logout"
	ReasonLogoutAll      = "logout_all"
	ReasonReplay         = "replay"
	ReasonAdmin          = "admin"
	ReasonAccountState   = "account_state"
	ReasonPasswordChange = "password_change"
)

// Record is one issued refresh token. ID is the token's jti.
type Record struct {
	ID         string
	UserID     string
	ChainID    string
	ParentID   string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	RotatedAt  *time.Time
	ReplacedBy string
	// Client is opaque device metadata supplied by the caller.
	Client string
}

// Chain is the lineage started by one login. Its ID equals the first
// record's ID.
type Chain struct {
	ID           string
	UserID       string
	CreatedAt    time.Time
	RevokedAt    *time.Time
	RevokeReason string
}

// Store persists records and chains.
//
// Rotate is a compare-and-swap on the old record. Checks run in this order:
// unknown id (ErrNotFound), already rotated (chain revoked, ErrReplayDetected),
// revoked record or chain (ErrRevoked), expired (ErrExpired). Otherwise the old
// record is retired and next is appended to its chain with ChainID and
// ParentID filled in. The old record is returned whenever it exists.
type Store interface {
	Create(ctx context.Context, chain Chain, rec Record) error
	Get(ctx context.Context, id string) (*Record, *Chain, error)
	Rotate(ctx context.Context, oldID string, next Record, now time.Time) (*Record, error)
	// Revoke revokes the chain that record id belongs to.
	Revoke(ctx context.Context, id, reason string, now time.Time) error
	RevokeChain(ctx context.Context, chainID, reason string, now time.Time) error
	// RevokeUser revokes every chain of userID and returns how many were live.
	RevokeUser(ctx context.Context, userID, reason string, now time.Time) (int, error)
	// ListUser returns the live records of userID, oldest first: not
	// revoked, not expired at now, in a chain that is not revoked.
	ListUser(ctx context.Context, userID string, now time.Time) ([]Record, error)
	// Sweep deletes records that expired by now and returns how many went.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// Live reports whether r can still be rotated at now.
func (r *Record) Live(now time.Time) bool {
	return r.RevokedAt == nil && r.RotatedAt == nil && now.Before(r.ExpiresAt)
}

func sortRecords(recs []Record) {
	slices.SortFunc(recs, func(a, b Record) int {
		if c := a.IssuedAt.Compare(b.IssuedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
