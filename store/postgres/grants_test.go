package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/guardian"
)

func TestGrantRepository_GetAccessGrant(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewGrantRepository(mock)

	granted := time.Now().UTC().Truncate(time.Microsecond)
	mock.ExpectQuery("SELECT .+ FROM access_grants").
		WithArgs("pro-1", "child-1").
		WillReturnRows(pgxmock.NewRows([]string{"professional_id", "child_id", "granted_at", "revoked_at"}).
			AddRow("pro-1", "child-1", granted, (*time.Time)(nil)))

	g, err := repo.GetAccessGrant(context.Background(), "pro-1", "child-1")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, "child-1", g.ChildID)
	assert.Nil(t, g.RevokedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantRepository_GetAccessGrant_Absent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewGrantRepository(mock)

	mock.ExpectQuery("SELECT .+ FROM access_grants").
		WithArgs("pro-1", "child-2").
		WillReturnError(pgx.ErrNoRows)

	g, err := repo.GetAccessGrant(context.Background(), "pro-1", "child-2")
	assert.NoError(t, err)
	assert.Nil(t, g)
}

func TestGrantRepository_GrantAndRevoke(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewGrantRepository(mock)

	at := time.Now().UTC()
	mock.ExpectExec("INSERT INTO access_grants").
		WithArgs("pro-1", "child-1", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE access_grants SET revoked_at").
		WithArgs("pro-1", "child-1", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE access_grants SET revoked_at").
		WithArgs("pro-1", "child-1", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ctx := context.Background()
	require.NoError(t, repo.Grant(ctx, "pro-1", "child-1", at))

	ok, err := repo.Revoke(ctx, "pro-1", "child-1", at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Revoke(ctx, "pro-1", "child-1", at)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectory_ResolveScope(t *testing.T) {
	tests := []struct {
		name    string
		ref     guardian.ResourceRef
		pattern string
	}{
		{"child", guardian.ResourceRef{Class: guardian.ClassChild, ID: "child-1"}, "SELECT id, parent_id FROM children"},
		{"observation", guardian.ResourceRef{Class: guardian.ClassObservation, ID: "obs-1"}, "FROM observations o"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()
			dir := NewDirectory(mock)

			mock.ExpectQuery(tc.pattern).
				WithArgs(tc.ref.ID).
				WillReturnRows(pgxmock.NewRows([]string{"id", "parent_id"}).AddRow("child-1", "parent-1"))

			scope, err := dir.ResolveScope(context.Background(), tc.ref)
			require.NoError(t, err)
			assert.True(t, scope.Exists)
			assert.Equal(t, "parent-1", scope.OwnerID)
			assert.Equal(t, "child-1", scope.ChildID)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDirectory_ResolveScope_Missing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	dir := NewDirectory(mock)

	mock.ExpectQuery("SELECT id, parent_id FROM children").
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	scope, err := dir.ResolveScope(context.Background(), guardian.ResourceRef{Class: guardian.ClassChild, ID: "nope"})
	require.NoError(t, err)
	assert.False(t, scope.Exists)

	scope, err = dir.ResolveScope(context.Background(), guardian.ResourceRef{Class: "invoice", ID: "x"})
	require.NoError(t, err)
	assert.False(t, scope.Exists)
}

func TestDirectory_ResolveScope_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	dir := NewDirectory(mock)

	mock.ExpectQuery("SELECT id, parent_id FROM children").
		WithArgs("child-1").
		WillReturnError(errors.New("timeout"))

	_, err = dir.ResolveScope(context.Background(), guardian.ResourceRef{Class: guardian.ClassChild, ID: "child-1"})
	assert.Error(t, err)
}

func TestDirectory_ChildrenOf(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	dir := NewDirectory(mock)

	mock.ExpectExec("INSERT INTO children").
		WithArgs("child-1", "parent-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT id FROM children WHERE parent_id").
		WithArgs("parent-1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("child-1").AddRow("child-2"))

	ctx := context.Background()
	require.NoError(t, dir.AddChild(ctx, "child-1", "parent-1"))
	ids, err := dir.ChildrenOf(ctx, "parent-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"child-1", "child-2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
