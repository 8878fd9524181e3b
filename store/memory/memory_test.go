package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/guardian"
	"github.com/MrEthical07/guardian/account"
)

func TestUsersEmailUniqueCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	users := NewUsers()

	if err := users.CreateUser(ctx, &guardian.User{ID: "u1", Email: "Ana@Example.com", Status: account.StatusActive}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	err := users.CreateUser(ctx, &guardian.User{ID: "u2", Email: "ana@example.com"})
	if !errors.Is(err, guardian.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}

	got, err := users.GetUserByEmail(ctx, "ANA@example.COM")
	if err != nil || got == nil || got.ID != "u1" {
		t.Fatalf("GetUserByEmail = %+v, %v", got, err)
	}
}

func TestUsersCopiesOnReadAndWrite(t *testing.T) {
	ctx := context.Background()
	users := NewUsers()

	u := &guardian.User{ID: "u1", Email: "a@example.com", Profile: map[string]string{"name": "A"}}
	if err := users.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	u.Profile["name"] = "mutated"

	got, _ := users.GetUserByID(ctx, "u1")
	if got.Profile["name"] != "A" {
		t.Fatalf("stored profile was aliased: %q", got.Profile["name"])
	}
	got.Email = "b@example.com"
	again, _ := users.GetUserByID(ctx, "u1")
	if again.Email != "a@example.com" {
		t.Fatal("returned user was aliased")
	}
}

func TestUsersSaveUser(t *testing.T) {
	ctx := context.Background()
	users := NewUsers()
	_ = users.CreateUser(ctx, &guardian.User{ID: "u1", Email: "a@example.com"})
	_ = users.CreateUser(ctx, &guardian.User{ID: "u2", Email: "b@example.com"})

	if err := users.SaveUser(ctx, &guardian.User{ID: "missing"}); err == nil {
		t.Fatal("expected error saving unknown user")
	}
	if err := users.SaveUser(ctx, &guardian.User{ID: "u1", Email: "b@example.com"}); !errors.Is(err, guardian.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
	if err := users.SaveUser(ctx, &guardian.User{ID: "u1", Email: "c@example.com", Status: account.StatusSuspended}); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}
	if old, _ := users.GetUserByEmail(ctx, "a@example.com"); old != nil {
		t.Fatal("old email still resolves")
	}
	got, _ := users.GetUserByEmail(ctx, "c@example.com")
	if got == nil || got.Status != account.StatusSuspended {
		t.Fatalf("unexpected saved user %+v", got)
	}
}

func TestGrantsLifecycle(t *testing.T) {
	ctx := context.Background()
	grants := NewGrants()
	now := time.Now()

	if g, err := grants.GetAccessGrant(ctx, "pro", "kid"); err != nil || g != nil {
		t.Fatalf("expected no grant, got %+v, %v", g, err)
	}

	grants.Grant("pro", "kid", now)
	g, _ := grants.GetAccessGrant(ctx, "pro", "kid")
	if g == nil || g.RevokedAt != nil {
		t.Fatalf("expected live grant, got %+v", g)
	}

	if !grants.Revoke("pro", "kid", now.Add(time.Minute)) {
		t.Fatal("expected Revoke to report a live grant")
	}
	if grants.Revoke("pro", "kid", now.Add(2*time.Minute)) {
		t.Fatal("second Revoke should report nothing live")
	}
	g, _ = grants.GetAccessGrant(ctx, "pro", "kid")
	if g == nil || g.RevokedAt == nil {
		t.Fatalf("expected revoked grant, got %+v", g)
	}

	grants.Grant("pro", "kid", now.Add(3*time.Minute))
	g, _ = grants.GetAccessGrant(ctx, "pro", "kid")
	if g.RevokedAt != nil {
		t.Fatal("re-grant should clear revocation")
	}
}

func TestDirectoryResolveScope(t *testing.T) {
	ctx := context.Background()
	dir := NewDirectory()
	dir.AddChild("kid", "parent")
	dir.AddObservation("obs", "kid")

	cases := []struct {
		ref    guardian.ResourceRef
		exists bool
	}{
		{guardian.ResourceRef{Class: guardian.ClassChild, ID: "kid"}, true},
		{guardian.ResourceRef{Class: guardian.ClassObservation, ID: "obs"}, true},
		{guardian.ResourceRef{Class: guardian.ClassChild, ID: "other"}, false},
		{guardian.ResourceRef{Class: guardian.ClassObservation, ID: "other"}, false},
		{guardian.ResourceRef{Class: "invoice", ID: "kid"}, false},
	}
	for _, tc := range cases {
		scope, err := dir.ResolveScope(ctx, tc.ref)
		if err != nil {
			t.Fatalf("ResolveScope(%+v): %v", tc.ref, err)
		}
		if scope.Exists != tc.exists {
			t.Fatalf("ResolveScope(%+v).Exists = %v, want %v", tc.ref, scope.Exists, tc.exists)
		}
		if scope.Exists && (scope.OwnerID != "parent" || scope.ChildID != "kid") {
			t.Fatalf("unexpected scope %+v", scope)
		}
	}

	if kids := dir.ChildrenOf("parent"); len(kids) != 1 || kids[0] != "kid" {
		t.Fatalf("ChildrenOf = %v", kids)
	}
}

func TestDirectoryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewDirectory().ResolveScope(ctx, guardian.ResourceRef{Class: guardian.ClassChild, ID: "x"}); err == nil {
		t.Fatal("expected context error")
	}
}
