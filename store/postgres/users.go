package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrEthical07/guardian"
	"github.com/MrEthical07/guardian/account"
)

const userColumns = `id, email, password_hash, role, status, verified_at, failed_login_count, locked_until, profile, created_at, updated_at`

// UserRepository implements guardian.UserRepository.
type UserRepository struct {
	db DB
}

func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) CreateUser(ctx context.Context, u *guardian.User) error {
	profile, err := encodeProfile(u.Profile)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.db.Exec(ctx, query,
		u.ID,
		u.Email,
		u.PasswordHash,
		string(u.Role),
		string(u.Status),
		u.VerifiedAt,
		u.FailedLoginCount,
		u.LockedUntil,
		profile,
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return guardian.ErrDuplicateEmail
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetUserByID(ctx context.Context, id string) (*guardian.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*guardian.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// SaveUser writes every mutable column of u.
func (r *UserRepository) SaveUser(ctx context.Context, u *guardian.User) error {
	profile, err := encodeProfile(u.Profile)
	if err != nil {
		return err
	}

	query := `
		UPDATE users
		SET email = $1, password_hash = $2, role = $3, status = $4, verified_at = $5,
		    failed_login_count = $6, locked_until = $7, profile = $8, updated_at = $9
		WHERE id = $10`

	ct, err := r.db.Exec(ctx, query,
		u.Email,
		u.PasswordHash,
		string(u.Role),
		string(u.Status),
		u.VerifiedAt,
		u.FailedLoginCount,
		u.LockedUntil,
		profile,
		u.UpdatedAt,
		u.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return guardian.ErrDuplicateEmail
		}
		return fmt.Errorf("update user: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("update user: no row for id %s", u.ID)
	}
	return nil
}

// scanUser returns (nil, nil) when the query matches no row.
func (r *UserRepository) scanUser(ctx context.Context, query string, args ...any) (*guardian.User, error) {
	var (
		u              guardian.User
		role, status   string
		verifiedAt     *time.Time
		lockedUntil    *time.Time
		profile        []byte
		failedAttempts int
	)
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&role,
		&status,
		&verifiedAt,
		&failedAttempts,
		&lockedUntil,
		&profile,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	u.Role = guardian.Role(role)
	u.Status = account.Status(status)
	u.VerifiedAt = verifiedAt
	u.LockedUntil = lockedUntil
	u.FailedLoginCount = failedAttempts
	if len(profile) > 0 {
		if err := json.Unmarshal(profile, &u.Profile); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
	}
	return &u, nil
}

func encodeProfile(p map[string]string) ([]byte, error) {
	if len(p) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	return b, nil
}
