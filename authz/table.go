package authz

import (
	"fmt"

	"github.com/MrEthical07/guardian/permission"
)

// Table records which actions each role may perform on resources it is
// related to. Admins hold the root bit.
type Table struct {
	roles *permission.RoleManager
}

// DefaultRoleActions: parents manage their children's data, professionals
// read and annotate under a grant.
func DefaultRoleActions() map[Role][]Action {
	return map[Role][]Action{
		RoleParent:       {ActionRead, ActionCreate, ActionUpdate, ActionDelete, ActionShare},
		RoleProfessional: {ActionRead, ActionCreate, ActionUpdate},
	}
}

// NewTable builds an immutable Table. Every action named for any role is
// registered; RoleAdmin always receives the root bit.
func NewTable(roleActions map[Role][]Action) (*Table, error) {
	names := []string{string(ActionRead), string(ActionCreate), string(ActionUpdate), string(ActionDelete), string(ActionShare)}
	seen := map[string]bool{}
	for _, n := range names {
		seen[n] = true
	}
	for _, actions := range roleActions {
		for _, a := range actions {
			if !seen[string(a)] {
				seen[string(a)] = true
				names = append(names, string(a))
			}
		}
	}
	reg, err := permission.NewRegistry(names, true)
	if err != nil {
		return nil, err
	}

	rm := permission.NewRoleManager(reg)
	for role, actions := range roleActions {
		if role == RoleAdmin {
			continue
		}
		if !role.Valid() {
			return nil, fmt.Errorf("unknown role %q", role)
		}
		perms := make([]string, 0, len(actions))
		for _, a := range actions {
			perms = append(perms, string(a))
		}
		if err := rm.Define(string(role), perms, false); err != nil {
			return nil, err
		}
	}
	if err := rm.Define(string(RoleAdmin), nil, true); err != nil {
		return nil, err
	}
	return &Table{roles: rm}, nil
}

// Permits reports whether role may perform action.
func (t *Table) Permits(role Role, action Action) bool {
	return t.roles.Allows(string(role), string(action))
}
