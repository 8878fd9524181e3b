// Package memory holds in-process implementations of the repositories the
// engine consumes. They back tests and single-instance development setups.
package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/guardian"
	"github.com/MrEthical07/guardian/authz"
)

// Users implements guardian.UserRepository. Emails are unique after
// lower-casing.
type Users struct {
	mu      sync.RWMutex
	byID    map[string]*guardian.User
	byEmail map[string]string
}

func NewUsers() *Users {
	return &Users{
		byID:    make(map[string]*guardian.User),
		byEmail: make(map[string]string),
	}
}

func (s *Users) GetUserByEmail(ctx context.Context, email string) (*guardian.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	return copyUser(s.byID[id]), nil
}

func (s *Users) GetUserByID(ctx context.Context, id string) (*guardian.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyUser(s.byID[id]), nil
}

func (s *Users) CreateUser(ctx context.Context, u *guardian.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if u == nil || u.ID == "" {
		return errors.New("memory: user id required")
	}
	email := strings.ToLower(u.Email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return guardian.ErrDuplicateEmail
	}
	if _, ok := s.byID[u.ID]; ok {
		return errors.New("memory: duplicate user id")
	}
	s.byID[u.ID] = copyUser(u)
	s.byEmail[email] = u.ID
	return nil
}

// SaveUser replaces an existing user. Unknown ids are an error.
func (s *Users) SaveUser(ctx context.Context, u *guardian.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.byID[u.ID]
	if !ok {
		return errors.New("memory: unknown user")
	}
	email := strings.ToLower(u.Email)
	if owner, taken := s.byEmail[email]; taken && owner != u.ID {
		return guardian.ErrDuplicateEmail
	}
	delete(s.byEmail, strings.ToLower(prev.Email))
	s.byID[u.ID] = copyUser(u)
	s.byEmail[email] = u.ID
	return nil
}

func copyUser(u *guardian.User) *guardian.User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Profile != nil {
		c.Profile = make(map[string]string, len(u.Profile))
		for k, v := range u.Profile {
			c.Profile[k] = v
		}
	}
	if u.VerifiedAt != nil {
		t := *u.VerifiedAt
		c.VerifiedAt = &t
	}
	if u.LockedUntil != nil {
		t := *u.LockedUntil
		c.LockedUntil = &t
	}
	return &c
}

type grantKey struct {
	professionalID string
	childID        string
}

// Grants implements guardian.GrantRepository. Revoked grants are kept so
// lookups can report them.
type Grants struct {
	mu     sync.RWMutex
	grants map[grantKey]guardian.AccessGrant
}

func NewGrants() *Grants {
	return &Grants{grants: make(map[grantKey]guardian.AccessGrant)}
}

// Grant records a live grant, replacing any earlier one for the pair.
func (s *Grants) Grant(professionalID, childID string, at time.Time) {
	s.mu.Lock()
	s.grants[grantKey{professionalID, childID}] = guardian.AccessGrant{
		ProfessionalID: professionalID,
		ChildID:        childID,
		GrantedAt:      at,
	}
	s.mu.Unlock()
}

// Revoke marks the pair's grant revoked at at. It reports whether a live
// grant existed.
func (s *Grants) Revoke(professionalID, childID string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := grantKey{professionalID, childID}
	g, ok := s.grants[k]
	if !ok || g.RevokedAt != nil {
		return false
	}
	g.RevokedAt = &at
	s.grants[k] = g
	return true
}

func (s *Grants) GetAccessGrant(ctx context.Context, professionalID, childID string) (*guardian.AccessGrant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[grantKey{professionalID, childID}]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

// Directory implements guardian.ResourceDirectory for children and
// observations recorded against them.
type Directory struct {
	mu           sync.RWMutex
	children     map[string]string
	observations map[string]string
}

func NewDirectory() *Directory {
	return &Directory{
		children:     make(map[string]string),
		observations: make(map[string]string),
	}
}

// AddChild records that parentID created childID.
func (d *Directory) AddChild(childID, parentID string) {
	d.mu.Lock()
	d.children[childID] = parentID
	d.mu.Unlock()
}

// AddObservation records an observation about childID.
func (d *Directory) AddObservation(observationID, childID string) {
	d.mu.Lock()
	d.observations[observationID] = childID
	d.mu.Unlock()
}

// ChildrenOf lists the children parentID created.
func (d *Directory) ChildrenOf(parentID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for child, owner := range d.children {
		if owner == parentID {
			out = append(out, child)
		}
	}
	return out
}

func (d *Directory) ResolveScope(ctx context.Context, ref guardian.ResourceRef) (authz.Scope, error) {
	if err := ctx.Err(); err != nil {
		return authz.Scope{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	childID := ""
	switch ref.Class {
	case guardian.ClassChild:
		childID = ref.ID
	case guardian.ClassObservation:
		childID = d.observations[ref.ID]
	default:
		return authz.Scope{}, nil
	}
	owner, ok := d.children[childID]
	if !ok {
		return authz.Scope{}, nil
	}
	return authz.Scope{Exists: true, OwnerID: owner, ChildID: childID}, nil
}
