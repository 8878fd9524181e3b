package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrEthical07/guardian/session"
)

const recordColumns = `id, user_id, chain_id, parent_id, issued_at, expires_at, revoked_at, rotated_at, replaced_by, client`

// SessionStore implements session.Store. Mutations lock the chain row
// before any of its records, so rotation and revocation of one chain are
// serialized.
type SessionStore struct {
	db DB
}

func NewSessionStore(db DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Create(ctx context.Context, chain session.Chain, rec session.Record) error {
	if rec.ID == "" || chain.ID == "" || rec.UserID == "" {
		return errors.New("session: record id, chain id and user id are required")
	}
	err := inTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO session_chains (id, user_id, created_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING`,
			chain.ID, chain.UserID, chain.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert chain: %w", err)
		}
		return insertRecord(ctx, tx, rec, chain.ID, rec.ParentID)
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (*session.Record, *session.Chain, error) {
	rec, err := scanRecord(s.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM refresh_sessions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, session.ErrNotFound
		}
		return nil, nil, unavailable(err)
	}
	chain, err := scanChain(s.db.QueryRow(ctx, `
		SELECT id, user_id, created_at, revoked_at, revoke_reason
		FROM session_chains WHERE id = $1`, rec.ChainID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rec, nil, nil
		}
		return nil, nil, unavailable(err)
	}
	return rec, chain, nil
}

func (s *SessionStore) Rotate(ctx context.Context, oldID string, next session.Record, now time.Time) (*session.Record, error) {
	if next.ID == "" {
		return nil, errors.New("session: next record id is required")
	}

	var (
		old     *session.Record
		outcome error
	)
	err := inTx(ctx, s.db, func(tx pgx.Tx) error {
		var chainID string
		if err := tx.QueryRow(ctx, `SELECT chain_id FROM refresh_sessions WHERE id = $1`, oldID).Scan(&chainID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				outcome = session.ErrNotFound
				return nil
			}
			return err
		}

		chain, err := scanChain(tx.QueryRow(ctx, `
			SELECT id, user_id, created_at, revoked_at, revoke_reason
			FROM session_chains WHERE id = $1 FOR UPDATE`, chainID))
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		old, err = scanRecord(tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM refresh_sessions WHERE id = $1 FOR UPDATE`, oldID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				outcome = session.ErrNotFound
				return nil
			}
			return err
		}

		switch {
		case old.RotatedAt != nil:
			if _, err := revokeChainTx(ctx, tx, chainID, session.ReasonReplay, now); err != nil {
				return err
			}
			outcome = session.ErrReplayDetected
			return nil
		case old.RevokedAt != nil || chain == nil || chain.RevokedAt != nil:
			outcome = session.ErrRevoked
			return nil
		case !now.Before(old.ExpiresAt):
			outcome = session.ErrExpired
			return nil
		}

		if _, err := tx.Exec(ctx, `
			UPDATE refresh_sessions SET rotated_at = $2, revoked_at = $2, replaced_by = $3
			WHERE id = $1`, oldID, now, next.ID); err != nil {
			return fmt.Errorf("retire record: %w", err)
		}
		next.UserID = old.UserID
		if err := insertRecord(ctx, tx, next, chainID, old.ID); err != nil {
			return err
		}
		old.RotatedAt = &now
		old.RevokedAt = &now
		old.ReplacedBy = next.ID
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return old, outcome
}

func (s *SessionStore) Revoke(ctx context.Context, id, reason string, now time.Time) error {
	var chainID string
	if err := s.db.QueryRow(ctx, `SELECT chain_id FROM refresh_sessions WHERE id = $1`, id).Scan(&chainID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.ErrNotFound
		}
		return unavailable(err)
	}
	return s.RevokeChain(ctx, chainID, reason, now)
}

func (s *SessionStore) RevokeChain(ctx context.Context, chainID, reason string, now time.Time) error {
	var found bool
	err := inTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		found, err = revokeChainTx(ctx, tx, chainID, reason, now)
		return err
	})
	if err != nil {
		return unavailable(err)
	}
	if !found {
		return session.ErrNotFound
	}
	return nil
}

func (s *SessionStore) RevokeUser(ctx context.Context, userID, reason string, now time.Time) (int, error) {
	var n int64
	err := inTx(ctx, s.db, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `
			UPDATE session_chains SET revoked_at = $2, revoke_reason = $3
			WHERE user_id = $1 AND revoked_at IS NULL`, userID, now, reason)
		if err != nil {
			return fmt.Errorf("revoke chains: %w", err)
		}
		n = ct.RowsAffected()
		if _, err := tx.Exec(ctx, `
			UPDATE refresh_sessions SET revoked_at = $2
			WHERE user_id = $1 AND revoked_at IS NULL`, userID, now); err != nil {
			return fmt.Errorf("revoke records: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

// ListUser relies on chain revocation stamping every record of the chain.
func (s *SessionStore) ListUser(ctx context.Context, userID string, now time.Time) ([]session.Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+recordColumns+` FROM refresh_sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY issued_at, id`, userID, now)
	if err != nil {
		return nil, unavailable(err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (session.Record, error) {
		r, err := scanRecord(row)
		if err != nil {
			return session.Record{}, err
		}
		return *r, nil
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return recs, nil
}

// Sweep deletes expired records, then chains left without records.
func (s *SessionStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	var n int64
	err := inTx(ctx, s.db, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `DELETE FROM refresh_sessions WHERE expires_at <= $1`, now)
		if err != nil {
			return fmt.Errorf("delete expired records: %w", err)
		}
		n = ct.RowsAffected()
		if _, err := tx.Exec(ctx, `
			DELETE FROM session_chains c
			WHERE NOT EXISTS (SELECT 1 FROM refresh_sessions r WHERE r.chain_id = c.id)`); err != nil {
			return fmt.Errorf("delete empty chains: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

// revokeChainTx reports whether the chain exists.
func revokeChainTx(ctx context.Context, tx pgx.Tx, chainID, reason string, now time.Time) (bool, error) {
	var revokedAt *time.Time
	err := tx.QueryRow(ctx, `SELECT revoked_at FROM session_chains WHERE id = $1 FOR UPDATE`, chainID).Scan(&revokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lock chain: %w", err)
	}
	if revokedAt == nil {
		if _, err := tx.Exec(ctx, `
			UPDATE session_chains SET revoked_at = $2, revoke_reason = $3 WHERE id = $1`,
			chainID, now, reason); err != nil {
			return false, fmt.Errorf("revoke chain: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, `
		UPDATE refresh_sessions SET revoked_at = $2
		WHERE chain_id = $1 AND revoked_at IS NULL`, chainID, now); err != nil {
		return false, fmt.Errorf("revoke chain records: %w", err)
	}
	return true, nil
}

func insertRecord(ctx context.Context, tx pgx.Tx, rec session.Record, chainID, parentID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO refresh_sessions (id, user_id, chain_id, parent_id, issued_at, expires_at, client)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.UserID, chainID, parentID, rec.IssuedAt, rec.ExpiresAt, rec.Client,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func scanRecord(row pgx.Row) (*session.Record, error) {
	var r session.Record
	err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.ChainID,
		&r.ParentID,
		&r.IssuedAt,
		&r.ExpiresAt,
		&r.RevokedAt,
		&r.RotatedAt,
		&r.ReplacedBy,
		&r.Client,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanChain(row pgx.Row) (*session.Chain, error) {
	var c session.Chain
	if err := row.Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.RevokedAt, &c.RevokeReason); err != nil {
		return nil, err
	}
	return &c, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", session.ErrUnavailable, err)
}
