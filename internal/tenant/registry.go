// Package tenant holds per-tenant state containers shared by the cache and
// the reconciliation engine.
package tenant

import (
	"sort"
	"sync"
)

// Registry lazily creates one value per tenant id. The map itself is guarded
// by a read-write mutex; each value carries its own lock, so work on one
// tenant never contends with another once its entry exists.
type Registry[T any] struct {
	mu    sync.RWMutex
	items map[string]*T
	newFn func(tenantID string) *T
}

// NewRegistry creates a Registry that builds missing entries with newFn.
func NewRegistry[T any](newFn func(tenantID string) *T) *Registry[T] {
	return &Registry[T]{
		items: make(map[string]*T),
		newFn: newFn,
	}
}

// Get returns the entry for tenantID, creating it on first use.
func (r *Registry[T]) Get(tenantID string) *T {
	r.mu.RLock()
	v, ok := r.items[tenantID]
	r.mu.RUnlock()
	if ok {
		return v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.items[tenantID]; ok {
		return v
	}
	v = r.newFn(tenantID)
	r.items[tenantID] = v
	return v
}

// Lookup returns the entry for tenantID without creating it.
func (r *Registry[T]) Lookup(tenantID string) (*T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[tenantID]
	return v, ok
}

// Range calls fn for every entry in tenant id order until fn returns false.
// fn runs without the registry lock held.
func (r *Registry[T]) Range(fn func(tenantID string, v *T) bool) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	snapshot := make(map[string]*T, len(r.items))
	for id, v := range r.items {
		snapshot[id] = v
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	for _, id := range ids {
		if !fn(id, snapshot[id]) {
			return
		}
	}
}

// Delete removes the entry for tenantID.
func (r *Registry[T]) Delete(tenantID string) {
	r.mu.Lock()
	delete(r.items, tenantID)
	r.mu.Unlock()
}

// Len returns the number of tenants with an entry.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
