package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrEthical07/guardian"
	"github.com/MrEthical07/guardian/authz"
)

// GrantRepository implements guardian.GrantRepository over access_grants.
type GrantRepository struct {
	db DB
}

func NewGrantRepository(db DB) *GrantRepository {
	return &GrantRepository{db: db}
}

func (r *GrantRepository) GetAccessGrant(ctx context.Context, professionalID, childID string) (*guardian.AccessGrant, error) {
	query := `
		SELECT professional_id, child_id, granted_at, revoked_at
		FROM access_grants
		WHERE professional_id = $1 AND child_id = $2`

	var g guardian.AccessGrant
	err := r.db.QueryRow(ctx, query, professionalID, childID).Scan(
		&g.ProfessionalID,
		&g.ChildID,
		&g.GrantedAt,
		&g.RevokedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan access grant: %w", err)
	}
	return &g, nil
}

// Grant creates or re-activates the grant of professionalID on childID.
func (r *GrantRepository) Grant(ctx context.Context, professionalID, childID string, at time.Time) error {
	query := `
		INSERT INTO access_grants (professional_id, child_id, granted_at, revoked_at)
		VALUES ($1, $2, $3, NULL)
		ON CONFLICT (professional_id, child_id)
		DO UPDATE SET granted_at = EXCLUDED.granted_at, revoked_at = NULL`

	if _, err := r.db.Exec(ctx, query, professionalID, childID, at); err != nil {
		return fmt.Errorf("upsert access grant: %w", err)
	}
	return nil
}

// Revoke ends a live grant. It reports whether one was live.
func (r *GrantRepository) Revoke(ctx context.Context, professionalID, childID string, at time.Time) (bool, error) {
	query := `
		UPDATE access_grants SET revoked_at = $3
		WHERE professional_id = $1 AND child_id = $2 AND revoked_at IS NULL`

	ct, err := r.db.Exec(ctx, query, professionalID, childID, at)
	if err != nil {
		return false, fmt.Errorf("revoke access grant: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// Directory implements guardian.ResourceDirectory over children and
// observations.
type Directory struct {
	db DB
}

func NewDirectory(db DB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) ResolveScope(ctx context.Context, ref guardian.ResourceRef) (authz.Scope, error) {
	var query string
	switch ref.Class {
	case guardian.ClassChild:
		query = `SELECT id, parent_id FROM children WHERE id = $1`
	case guardian.ClassObservation:
		query = `
			SELECT c.id, c.parent_id
			FROM observations o
			JOIN children c ON c.id = o.child_id
			WHERE o.id = $1`
	default:
		return authz.Scope{}, nil
	}

	var childID, ownerID string
	if err := d.db.QueryRow(ctx, query, ref.ID).Scan(&childID, &ownerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authz.Scope{}, nil
		}
		return authz.Scope{}, fmt.Errorf("resolve %s scope: %w", ref.Class, err)
	}
	return authz.Scope{Exists: true, OwnerID: ownerID, ChildID: childID}, nil
}

// AddChild records that parentID created childID.
func (d *Directory) AddChild(ctx context.Context, childID, parentID string) error {
	if _, err := d.db.Exec(ctx, `INSERT INTO children (id, parent_id) VALUES ($1, $2)`, childID, parentID); err != nil {
		return fmt.Errorf("insert child: %w", err)
	}
	return nil
}

// ChildrenOf lists the children parentID created.
func (d *Directory) ChildrenOf(ctx context.Context, parentID string) ([]string, error) {
	rows, err := d.db.Query(ctx, `SELECT id FROM children WHERE parent_id = $1 ORDER BY created_at`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate children: %w", err)
	}
	return ids, nil
}
