package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrEthical07/guardian/ratelimit"
)

// CounterStore implements ratelimit.Store over rate_counters. Apply locks
// the key's row for the read-modify-write, so instances sharing the
// database never lose or double count an attempt.
type CounterStore struct {
	db DB
}

func NewCounterStore(db DB) *CounterStore {
	return &CounterStore{db: db}
}

func (s *CounterStore) Apply(ctx context.Context, key string, o ratelimit.Outcome, now time.Time, p ratelimit.Policy) (ratelimit.Result, error) {
	// A probe only writes when the key is locked, which needs a row.
	if o == ratelimit.Probe {
		c, ok, err := s.Get(ctx, key)
		if err != nil {
			return ratelimit.Result{}, err
		}
		if !ok {
			return ratelimit.Step(ratelimit.Counter{Key: key}, o, now, p), nil
		}
		if res := ratelimit.Step(c, o, now, p); !res.Blocked && res.Counter == c {
			return res, nil
		}
	}

	var res ratelimit.Result
	err := inTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO rate_counters (key, attempts) VALUES ($1, 0)
			ON CONFLICT (key) DO NOTHING`, key); err != nil {
			return fmt.Errorf("ensure counter: %w", err)
		}
		c, err := scanCounter(key, tx.QueryRow(ctx, `
			SELECT window_start, attempts, locked_until
			FROM rate_counters WHERE key = $1 FOR UPDATE`, key))
		if err != nil {
			return fmt.Errorf("lock counter: %w", err)
		}

		res = ratelimit.Step(c, o, now, p)
		if res.Counter.Empty() {
			_, err = tx.Exec(ctx, `DELETE FROM rate_counters WHERE key = $1`, key)
		} else {
			_, err = tx.Exec(ctx, `
				UPDATE rate_counters SET window_start = $2, attempts = $3, locked_until = $4
				WHERE key = $1`,
				key, nullTime(res.Counter.WindowStart), res.Counter.Attempts, nullTime(res.Counter.LockedUntil))
		}
		if err != nil {
			return fmt.Errorf("store counter: %w", err)
		}
		return nil
	})
	if err != nil {
		return ratelimit.Result{}, fmt.Errorf("%w: %v", ratelimit.ErrUnavailable, err)
	}
	return res, nil
}

func (s *CounterStore) Get(ctx context.Context, key string) (ratelimit.Counter, bool, error) {
	c, err := scanCounter(key, s.db.QueryRow(ctx, `
		SELECT window_start, attempts, locked_until
		FROM rate_counters WHERE key = $1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ratelimit.Counter{}, false, nil
		}
		return ratelimit.Counter{}, false, fmt.Errorf("%w: %v", ratelimit.ErrUnavailable, err)
	}
	if c.Empty() {
		return ratelimit.Counter{}, false, nil
	}
	return c, true, nil
}

func (s *CounterStore) Reset(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM rate_counters WHERE key = $1`, key); err != nil {
		return fmt.Errorf("%w: %v", ratelimit.ErrUnavailable, err)
	}
	return nil
}

// Prune deletes counters whose window and lockout have both passed.
func (s *CounterStore) Prune(ctx context.Context, now time.Time, p ratelimit.Policy) (int, error) {
	ct, err := s.db.Exec(ctx, `
		DELETE FROM rate_counters
		WHERE (locked_until IS NULL OR locked_until <= $1)
		  AND (window_start IS NULL OR window_start <= $2)`,
		now, now.Add(-p.Window))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ratelimit.ErrUnavailable, err)
	}
	return int(ct.RowsAffected()), nil
}

func scanCounter(key string, row pgx.Row) (ratelimit.Counter, error) {
	var (
		windowStart, lockedUntil *time.Time
		attempts                 int
	)
	if err := row.Scan(&windowStart, &attempts, &lockedUntil); err != nil {
		return ratelimit.Counter{}, err
	}
	c := ratelimit.Counter{Key: key, Attempts: attempts}
	if windowStart != nil {
		c.WindowStart = windowStart.UTC()
	}
	if lockedUntil != nil {
		c.LockedUntil = lockedUntil.UTC()
	}
	return c, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
