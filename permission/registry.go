package permission

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyName        = errors.New("permission: empty name")
	ErrDuplicateName    = errors.New("permission: duplicate name")
	ErrTooManyNames     = errors.New("permission: more names than mask bits")
	ErrUnknownName      = errors.New("permission: unknown name")
	ErrRootNotReserved  = errors.New("permission: registry has no root bit")
	ErrRoleAlreadyGiven = errors.New("permission: role already defined")
)

// Registry maps permission names to bit positions. It is immutable once
// built, so lookups need no locking.
type Registry struct {
	bits  map[string]int
	names []string
	root  int
}

// NewRegistry assigns bits to names in order. With reserveRoot, bit 63 is
// kept back as the root bit and only 63 names fit.
func NewRegistry(names []string, reserveRoot bool) (*Registry, error) {
	limit := 64
	r := &Registry{bits: make(map[string]int, len(names)), root: -1}
	if reserveRoot {
		limit = rootBit64
		r.root = rootBit64
	}
	if len(names) > limit {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyNames, len(names), limit)
	}
	for i, name := range names {
		if name == "" {
			return nil, ErrEmptyName
		}
		if _, dup := r.bits[name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
		r.bits[name] = i
	}
	r.names = append([]string(nil), names...)
	return r, nil
}

func (r *Registry) Bit(name string) (int, bool) {
	bit, ok := r.bits[name]
	return bit, ok
}

func (r *Registry) Name(bit int) (string, bool) {
	if bit < 0 || bit >= len(r.names) {
		return "", false
	}
	return r.names[bit], true
}

func (r *Registry) Count() int { return len(r.names) }

// RootBit returns the reserved root bit, or false without one.
func (r *Registry) RootBit() (int, bool) {
	return r.root, r.root >= 0
}

// Mask sets the bit of every named permission.
func (r *Registry) Mask(names ...string) (Mask64, error) {
	var m Mask64
	for _, name := range names {
		bit, ok := r.bits[name]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownName, name)
		}
		m.Set(bit)
	}
	return m, nil
}
