// Package authz decides whether a subject may act on a child-scoped
// resource.
//
// [Decide] is a pure function over data the caller has already fetched:
// the subject, the resource's owner scope, the professional's grant if any,
// the role's permission for the action, and the resource class policy.
package authz

import "time"

// Role is the closed set of account roles.
type Role string

const (
	RoleParent       Role = "parent"
	RoleProfessional Role = "professional"
	RoleAdmin        Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleParent, RoleProfessional, RoleAdmin:
		return true
	}
	return false
}

// Action is an operation on a resource.
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionShare  Action = "share"
)

// Effect is the outcome of a decision.
type Effect int

const (
	Deny Effect = iota
	Allow
	NotFound
)

func (e Effect) String() string {
	switch e {
	case Allow:
		return "allow"
	case NotFound:
		return "not_found"
	default:
		return "deny"
	}
}

// Decision carries the effect and a short machine-readable reason for audit.
type Decision struct {
	Effect Effect
	Reason string
}

func (d Decision) Allowed() bool { return d.Effect == Allow }

// Reasons reported in Decision.
const (
	ReasonAdmin          = "admin"
	ReasonOwner          = "owner"
	ReasonGrant          = "grant"
	ReasonNoRelation     = "no_relation"
	ReasonActionDenied   = "action_not_permitted"
	ReasonMissing        = "resource_missing"
	ReasonInvalidSubject = "invalid_subject"
)

type Subject struct {
	ID   string
	Role Role
}

// Scope is the ownership of a resource. ChildID names the child whose grants
// apply: the resource itself for children, the owning child otherwise.
type Scope struct {
	Exists  bool
	OwnerID string
	ChildID string
}

// Grant lets a professional act on one child's data.
type Grant struct {
	ProfessionalID string
	ChildID        string
	GrantedAt      time.Time
	RevokedAt      *time.Time
}

// Live reports whether g is in effect at now.
func (g *Grant) Live(now time.Time) bool {
	if g == nil {
		return false
	}
	if g.GrantedAt.After(now) {
		return false
	}
	return g.RevokedAt == nil || now.Before(*g.RevokedAt)
}

// ClassPolicy configures one resource class.
type ClassPolicy struct {
	// HideExistence answers NotFound instead of Deny to callers with no
	// relation to the resource.
	HideExistence bool
}

type Input struct {
	Subject Subject
	Action  Action
	Scope   Scope
	// Grant is the subject's grant for Scope.ChildID, nil if none.
	Grant *Grant
	// Permitted is whether the subject's role may perform Action at all.
	Permitted bool
	Policy    ClassPolicy
	Now       time.Time
}

// Decide applies, in order: missing resource, admin, ownership, live grant,
// and finally the class policy for unrelated callers.
func Decide(in Input) Decision {
	if in.Subject.ID == "" || !in.Subject.Role.Valid() {
		return Decision{Effect: Deny, Reason: ReasonInvalidSubject}
	}
	if !in.Scope.Exists {
		return Decision{Effect: NotFound, Reason: ReasonMissing}
	}
	if in.Subject.Role == RoleAdmin {
		return Decision{Effect: Allow, Reason: ReasonAdmin}
	}

	reason := ""
	switch {
	case in.Scope.OwnerID != "" && in.Scope.OwnerID == in.Subject.ID:
		reason = ReasonOwner
	case in.Subject.Role == RoleProfessional && grantCovers(in.Grant, in.Subject.ID, in.Scope.ChildID, in.Now):
		reason = ReasonGrant
	}

	if reason == "" {
		if in.Policy.HideExistence {
			return Decision{Effect: NotFound, Reason: ReasonNoRelation}
		}
		return Decision{Effect: Deny, Reason: ReasonNoRelation}
	}
	if !in.Permitted {
		return Decision{Effect: Deny, Reason: ReasonActionDenied}
	}
	return Decision{Effect: Allow, Reason: reason}
}

func grantCovers(g *Grant, professionalID, childID string, now time.Time) bool {
	if g == nil || childID == "" {
		return false
	}
	return g.ProfessionalID == professionalID && g.ChildID == childID && g.Live(now)
}
