package permission

import (
	"errors"
	"sync"
)

// Capability names an action a role may be allowed to perform.
type Capability string

const (
	CapCatalogRead    Capability = "catalog:read"
	CapCatalogWrite   Capability = "catalog:write"
	CapQuotesRead     Capability = "quotes:read"
	CapQuotesManage   Capability = "quotes:manage"
	CapAccountsManage Capability = "accounts:manage"
	CapAuditRead      Capability = "audit:read"
)

// Registry maps capability names to bit positions within a [Mask64]. The
// highest bit is reserved for the root capability.
type Registry struct {
	mu        sync.RWMutex
	nameToBit map[Capability]int
	bitToName map[int]Capability
	frozen    bool
}

// NewRegistry returns an empty, unfrozen [Registry].
func NewRegistry() *Registry {
	return &Registry{
		nameToBit: make(map[Capability]int),
		bitToName: make(map[int]Capability),
	}
}

// Register assigns the next free bit to name. Must be called before
// [Registry.Freeze].
func (r *Registry) Register(name Capability) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, errors.New("registry frozen")
	}
	if name == "" {
		return -1, errors.New("capability name cannot be empty")
	}
	if _, exists := r.nameToBit[name]; exists {
		return -1, errors.New("capability already registered")
	}

	nextBit := len(r.nameToBit)
	if nextBit >= rootBit {
		return -1, errors.New("capability limit exceeded (root bit reserved)")
	}

	r.nameToBit[name] = nextBit
	r.bitToName[nextBit] = name
	return nextBit, nil
}

// Bit returns the bit index for name, or false if it is not registered.
func (r *Registry) Bit(name Capability) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[name]
	return bit, ok
}

// Name returns the capability at bit, or false if unassigned.
func (r *Registry) Name(bit int) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.bitToName[bit]
	return name, ok
}

func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nameToBit)
}
