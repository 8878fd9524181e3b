package permission

import "fmt"

// RoleManager holds one Mask64 per role. Roles are defined while the
// owning component is being built and only read afterwards.
type RoleManager struct {
	registry *Registry
	roles    map[string]Mask64
}

func NewRoleManager(registry *Registry) *RoleManager {
	return &RoleManager{registry: registry, roles: make(map[string]Mask64)}
}

// Define records the mask of role. A root role receives the registry's
// root bit in addition to the named permissions.
func (rm *RoleManager) Define(role string, permissions []string, root bool) error {
	if role == "" {
		return ErrEmptyName
	}
	if _, exists := rm.roles[role]; exists {
		return fmt.Errorf("%w: %q", ErrRoleAlreadyGiven, role)
	}
	mask, err := rm.registry.Mask(permissions...)
	if err != nil {
		return fmt.Errorf("role %q: %w", role, err)
	}
	if root {
		bit, ok := rm.registry.RootBit()
		if !ok {
			return ErrRootNotReserved
		}
		mask.Set(bit)
	}
	rm.roles[role] = mask
	return nil
}

func (rm *RoleManager) Mask(role string) (Mask64, bool) {
	mask, ok := rm.roles[role]
	return mask, ok
}

// Allows reports whether role holds permission. Unknown roles and
// permissions are denied.
func (rm *RoleManager) Allows(role, permission string) bool {
	mask, ok := rm.roles[role]
	if !ok {
		return false
	}
	bit, ok := rm.registry.Bit(permission)
	if !ok {
		return false
	}
	_, rooted := rm.registry.RootBit()
	return mask.Has(bit, rooted)
}

func (rm *RoleManager) Count() int { return len(rm.roles) }
