// Package tenant resolves inbound requests to their gym's configuration.
// The registry is built once at startup and read-only afterwards; every
// core call receives the resolved *models.Tenant explicitly.
package tenant

import (
	"fmt"

	"gym-coach-bot/internal/models"
)

type Registry struct {
	byID  map[string]*models.Tenant
	order []string
}

func NewRegistry(tenants []models.Tenant) (*Registry, error) {
	r := &Registry{byID: make(map[string]*models.Tenant, len(tenants))}
	for i := range tenants {
		t := tenants[i]
		if t.ID == "" {
			return nil, fmt.Errorf("tenant %d has empty id", i)
		}
		if _, dup := r.byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate tenant id %q", t.ID)
		}
		r.byID[t.ID] = &t
		r.order = append(r.order, t.ID)
	}
	return r, nil
}

// Resolve returns the tenant descriptor for id.
func (r *Registry) Resolve(id string) (*models.Tenant, error) {
	t, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("unknown tenant %q", id)
	}
	return t, nil
}

// All returns tenants in configuration order.
func (r *Registry) All() []*models.Tenant {
	out := make([]*models.Tenant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}
