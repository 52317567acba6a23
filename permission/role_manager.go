package permission

import (
	"errors"
	"sort"
	"sync"
)

// Role is one of the fixed account roles.
type Role string

const (
	RoleSuperAdmin Role = "super-admin"
	RoleAdmin      Role = "admin"
	RoleEditor     Role = "editor"
	RoleViewer     Role = "viewer"
)

// Valid reports whether r is one of the enumerated roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// RoleManager answers "does role R have capability C" against a static
// table built at startup. There is no inheritance between roles.
type RoleManager struct {
	registry *Registry

	mu     sync.RWMutex
	roles  map[Role]Mask64
	frozen bool
}

func NewRoleManager(registry *Registry) *RoleManager {
	return &RoleManager{
		registry: registry,
		roles:    make(map[Role]Mask64),
	}
}

// RegisterRole stores the capability set for role. Every capability must
// already be in the registry.
func (rm *RoleManager) RegisterRole(role Role, caps []Capability) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return errors.New("role manager frozen")
	}
	if role == "" {
		return errors.New("role name empty")
	}
	if _, exists := rm.roles[role]; exists {
		return errors.New("role already registered")
	}

	var mask Mask64
	for _, c := range caps {
		bit, ok := rm.registry.Bit(c)
		if !ok {
			return errors.New("capability not registered: " + string(c))
		}
		mask.Set(bit)
	}

	rm.roles[role] = mask
	return nil
}

// RegisterRoot grants role every capability, including ones registered later.
func (rm *RoleManager) RegisterRoot(role Role) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return errors.New("role manager frozen")
	}
	if _, exists := rm.roles[role]; exists {
		return errors.New("role already registered")
	}
	var mask Mask64
	mask.Set(rootBit)
	rm.roles[role] = mask
	return nil
}

// Mask returns the capability set for role.
func (rm *RoleManager) Mask(role Role) (Mask64, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	mask, ok := rm.roles[role]
	return mask, ok
}

// Can reports whether role holds capability. Unknown roles and unknown
// capabilities are always denied.
func (rm *RoleManager) Can(role Role, capability Capability) bool {
	mask, ok := rm.Mask(role)
	if !ok {
		return false
	}
	bit, ok := rm.registry.Bit(capability)
	if !ok {
		return false
	}
	return mask.Has(bit)
}

// Capabilities lists the named capabilities role holds, sorted.
func (rm *RoleManager) Capabilities(role Role) []Capability {
	mask, ok := rm.Mask(role)
	if !ok {
		return nil
	}
	out := make([]Capability, 0, rm.registry.Count())
	for bit := 0; bit < rootBit; bit++ {
		if name, ok := rm.registry.Name(bit); ok && mask.Has(bit) {
			out = append(out, name)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (rm *RoleManager) Freeze() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.frozen = true
}

func (rm *RoleManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.roles)
}
