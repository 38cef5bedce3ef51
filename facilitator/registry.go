package facilitator

import (
	"sort"
	"sync"

	"github.com/gluenet/agentmesh"
)

// Registry maps supported kinds to their settlers. Registration happens at
// boot; lookups are concurrent.
type Registry struct {
	mu       sync.RWMutex
	settlers map[string]Settler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{settlers: make(map[string]Settler)}
}

// Register adds a settler under its kind string. Registering the same kind
// twice replaces the earlier settler.
func (r *Registry) Register(s Settler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settlers[s.Kind().Kind] = s
}

// ForRequirement finds the settler whose (scheme, network, asset) triple
// matches the requirement.
func (r *Registry) ForRequirement(req agentmesh.PaymentRequirement) (Settler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.settlers {
		kind := s.Kind()
		if kind.Scheme == req.Scheme && kind.Network == req.Network && agentmesh.SameAddress(kind.Asset, req.Asset) {
			return s, true
		}
	}
	return nil, false
}

// Kinds enumerates every supported kind, sorted by kind string so the
// /supported body is stable across requests.
func (r *Registry) Kinds() []agentmesh.SupportedKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]agentmesh.SupportedKind, 0, len(r.settlers))
	for _, s := range r.settlers {
		kinds = append(kinds, s.Kind())
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i].Kind < kinds[j].Kind })
	return kinds
}
