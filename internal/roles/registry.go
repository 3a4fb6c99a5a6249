// Package roles keeps the ordered registry of simulation participants.
// Registration order is part of the deterministic arbitration
// tie-break and is preserved, never re-derived.
package roles

import "fmt"

// Role is one independent decision-making participant, as invented by
// the bootstrap payload.
type Role struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Mandate     string   `json:"mandate"`
	Incentives  string   `json:"incentives"`
	Observables []string `json:"observables"`
}

// Registry is an append-only ordered list of roles, built once at
// bootstrap.
type Registry struct {
	ordered []*Role
	index   map[string]int
}

func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Register appends a role. Duplicate ids are an error: the registry is
// the authority on identity.
func (r *Registry) Register(role *Role) error {
	if role.ID == "" {
		return fmt.Errorf("register role: empty id")
	}
	if _, ok := r.index[role.ID]; ok {
		return fmt.Errorf("register role %q: already registered", role.ID)
	}
	r.index[role.ID] = len(r.ordered)
	r.ordered = append(r.ordered, role)
	return nil
}

// Get returns the role with the given id, or nil.
func (r *Registry) Get(id string) *Role {
	i, ok := r.index[id]
	if !ok {
		return nil
	}
	return r.ordered[i]
}

// All returns the roles in registration order.
func (r *Registry) All() []*Role {
	out := make([]*Role, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of registered roles.
func (r *Registry) Len() int { return len(r.ordered) }

// Rank returns the registration index of a role id. Unknown roles rank
// after every registered one, so late arrivals never displace the
// deterministic ordering.
func (r *Registry) Rank(id string) int {
	if i, ok := r.index[id]; ok {
		return i
	}
	return len(r.ordered)
}

// Less orders two role ids by registration order, breaking ties on the
// id string. This is the arbitration ordering rule.
func (r *Registry) Less(a, b string) bool {
	ra, rb := r.Rank(a), r.Rank(b)
	if ra != rb {
		return ra < rb
	}
	return a < b
}
