package guardian

import (
	"context"
	"time"

	"github.com/MrEthical07/guardian/account"
	"github.com/MrEthical07/guardian/authz"
)

// Role is a user's platform role.
type Role = authz.Role

const (
	RoleParent       = authz.RoleParent
	RoleProfessional = authz.RoleProfessional
	RoleAdmin        = authz.RoleAdmin
)

// Action is an operation on a protected resource.
type Action = authz.Action

// User is the account record exchanged with UserRepository.
type User struct {
	ID               string
	Email            string
	PasswordHash     string
	Role             Role
	Status           account.Status
	VerifiedAt       *time.Time
	FailedLoginCount int
	LockedUntil      *time.Time
	Profile          map[string]string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (u *User) state() account.State {
	return account.State{
		Status:           u.Status,
		VerifiedAt:       u.VerifiedAt,
		FailedLoginCount: u.FailedLoginCount,
		LockedUntil:      u.LockedUntil,
	}
}

func (u *User) setState(s account.State) {
	u.Status = s.Status
	u.VerifiedAt = s.VerifiedAt
	u.FailedLoginCount = s.FailedLoginCount
	u.LockedUntil = s.LockedUntil
}

// TokenPair is returned by Authenticate and Refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	TokenType        string
}

// Claims is the verified content of an access token.
type Claims struct {
	Subject   string
	Role      Role
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string
}

// AccessGrant lets a professional act on one child's data until revoked.
type AccessGrant struct {
	ProfessionalID string
	ChildID        string
	GrantedAt      time.Time
	RevokedAt      *time.Time
}

// ResourceRef names a protected resource by class and id.
type ResourceRef struct {
	Class string
	ID    string
}

// Resource classes understood by the default configuration.
const (
	ClassChild       = "child"
	ClassObservation = "observation"
)

// RegisterRequest is the input to Engine.Register.
type RegisterRequest struct {
	Email    string
	Password string
	Role     Role
	Profile  map[string]string
}

// UserRepository persists users. Lookups return (nil, nil) for absent users.
// CreateUser returns an error matching ErrDuplicateEmail when the email is
// taken.
type UserRepository interface {
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	CreateUser(ctx context.Context, u *User) error
	SaveUser(ctx context.Context, u *User) error
}

// GrantRepository returns the grant of professionalID on childID, or
// (nil, nil) when none was ever issued. Revoked grants are returned with
// RevokedAt set.
type GrantRepository interface {
	GetAccessGrant(ctx context.Context, professionalID, childID string) (*AccessGrant, error)
}

// ResourceDirectory resolves who owns a resource. Unknown resources resolve
// to a Scope with Exists false and a nil error.
type ResourceDirectory interface {
	ResolveScope(ctx context.Context, ref ResourceRef) (authz.Scope, error)
}
