package engine

import (
	"fmt"
	"sync"
)

// Registry holds the ordered descriptor lists per capability. Matching is
// first-match-wins over the registration order, so more specific variants
// must be registered ahead of generic ones. Registration happens at startup
// from compile-time descriptor sets; Match is read-only afterwards.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[CapabilityID][]*Descriptor
	order       []CapabilityID
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{
		descriptors: make(map[CapabilityID][]*Descriptor),
	}
}

// Register appends a descriptor to its capability's variant list. The call
// order defines matching precedence.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil {
		return fmt.Errorf("descriptor is nil")
	}
	if d.Capability == "" {
		return fmt.Errorf("descriptor %q has no capability", d.Name)
	}
	if d.Matches == nil {
		return fmt.Errorf("descriptor %s/%s has no profile predicate", d.Capability, d.Name)
	}
	if d.Installable && d.Strategy == nil {
		return fmt.Errorf("descriptor %s/%s is installable but has no strategy", d.Capability, d.Name)
	}
	if d.New == nil {
		return fmt.Errorf("descriptor %s/%s has no provider constructor", d.Capability, d.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.descriptors[d.Capability] {
		if existing.Name == d.Name {
			return fmt.Errorf("descriptor %s/%s already registered", d.Capability, d.Name)
		}
	}
	if _, ok := r.descriptors[d.Capability]; !ok {
		r.order = append(r.order, d.Capability)
	}
	r.descriptors[d.Capability] = append(r.descriptors[d.Capability], d)
	return nil
}

// MustRegister registers a descriptor and panics on error. Builtin
// descriptor sets use it at startup.
func (r *Registry) MustRegister(d *Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Match returns the first registered descriptor for the capability that
// claims the profile. The result is a total, deterministic function of
// (capability, profile); no match is an UnsupportedPlatform error, never a
// silent default.
func (r *Registry) Match(cap CapabilityID, profile PlatformProfile) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	variants, ok := r.descriptors[cap]
	if !ok {
		return nil, NewError(KindUnsupportedPlatform,
			fmt.Sprintf("capability %s is not registered", cap)).WithCapability(cap)
	}
	for _, d := range variants {
		if d.Matches(profile) {
			return d, nil
		}
	}
	return nil, NewError(KindUnsupportedPlatform,
		fmt.Sprintf("no variant of %s supports %s", cap, profile)).WithCapability(cap)
}

// Known reports whether the capability has any registered variant.
func (r *Registry) Known(cap CapabilityID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.descriptors[cap]
	return ok
}

// Capabilities returns all registered capability IDs in first-registration
// order.
func (r *Registry) Capabilities() []CapabilityID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CapabilityID, len(r.order))
	copy(out, r.order)
	return out
}

// Variants returns the ordered descriptor list for a capability.
func (r *Registry) Variants(cap CapabilityID) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	variants := r.descriptors[cap]
	out := make([]*Descriptor, len(variants))
	copy(out, variants)
	return out
}
