package permission

import (
	"errors"
	"strings"
	"testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry([]string{"read", "update", "delete"}, true)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestRegistryAssignsSequentialBits(t *testing.T) {
	r := newTestRegistry(t)
	if bit, ok := r.Bit("update"); !ok || bit != 1 {
		t.Fatalf("expected update at bit 1, got %d (%v)", bit, ok)
	}
	if name, ok := r.Name(2); !ok || name != "delete" {
		t.Fatalf("expected delete at bit 2, got %q", name)
	}
	if _, ok := r.Name(3); ok {
		t.Fatal("unassigned bit must have no name")
	}
	if root, ok := r.RootBit(); !ok || root != 63 {
		t.Fatalf("expected root bit 63, got %d", root)
	}
	if r.Count() != 3 {
		t.Fatalf("count = %d", r.Count())
	}
}

func TestRegistryRejectsBadNames(t *testing.T) {
	many := make([]string, 64)
	for i := range many {
		many[i] = "p" + strings.Repeat("x", i)
	}
	tests := []struct {
		name  string
		names []string
		root  bool
		want  error
	}{
		{"empty", []string{"read", ""}, false, ErrEmptyName},
		{"duplicate", []string{"read", "read"}, false, ErrDuplicateName},
		{"root bit taken", many, true, ErrTooManyNames},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(tt.names, tt.root); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if _, err := NewRegistry(many, false); err != nil {
		t.Fatalf("64 names without root: %v", err)
	}
}

func TestRoleManagerAllows(t *testing.T) {
	rm := NewRoleManager(newTestRegistry(t))
	if err := rm.Define("viewer", []string{"read"}, false); err != nil {
		t.Fatalf("Define viewer: %v", err)
	}
	if err := rm.Define("root", nil, true); err != nil {
		t.Fatalf("Define root: %v", err)
	}
	if err := rm.Define("bad", []string{"fly"}, false); !errors.Is(err, ErrUnknownName) {
		t.Fatalf("expected ErrUnknownName, got %v", err)
	}
	if err := rm.Define("viewer", nil, false); !errors.Is(err, ErrRoleAlreadyGiven) {
		t.Fatalf("expected ErrRoleAlreadyGiven, got %v", err)
	}

	if !rm.Allows("viewer", "read") || rm.Allows("viewer", "delete") {
		t.Fatal("viewer mask wrong")
	}
	if !rm.Allows("root", "delete") {
		t.Fatal("root bit should grant everything")
	}
	if rm.Allows("ghost", "read") || rm.Allows("viewer", "fly") {
		t.Fatal("unknown role or permission must be denied")
	}
	if rm.Count() != 2 {
		t.Fatalf("expected 2 roles, got %d", rm.Count())
	}
}

func TestRootNeedsReservedBit(t *testing.T) {
	r, err := NewRegistry([]string{"read"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := NewRoleManager(r).Define("root", nil, true); !errors.Is(err, ErrRootNotReserved) {
		t.Fatalf("expected ErrRootNotReserved, got %v", err)
	}
}

func TestMask64SetClear(t *testing.T) {
	var m Mask64
	m.Set(5)
	if !m.Has(5, false) || m.Has(4, false) {
		t.Fatal("Set/Has mismatch")
	}
	m.Clear(5)
	if m.Has(5, false) || m.Raw() != 0 {
		t.Fatal("Clear failed")
	}
	m.Set(64)
	if m.Raw() != 0 {
		t.Fatal("out of range bit must be ignored")
	}
}
