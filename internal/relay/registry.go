package relay

import (
	"sync"

	"busrelay/internal/metrics"
)

// Registry maps busId -> set of viewer connection ids, plus the wildcard
// "all buses" set. Connection ids are opaque to it.
type Registry struct {
	mu    sync.Mutex
	byBus map[string]map[string]struct{}
	all   map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{byBus: map[string]map[string]struct{}{}, all: map[string]struct{}{}}
}

// Subscribe is idempotent: re-adding the same (conn, bus) pair is a no-op.
func (r *Registry) Subscribe(connID, busID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if busID == AllBuses {
		if _, ok := r.all[connID]; !ok {
			r.all[connID] = struct{}{}
			metrics.Subscriptions.Inc()
		}
		return
	}
	m := r.byBus[busID]
	if m == nil {
		m = map[string]struct{}{}
		r.byBus[busID] = m
	}
	if _, ok := m[connID]; !ok {
		m[connID] = struct{}{}
		metrics.Subscriptions.Inc()
	}
}

func (r *Registry) Unsubscribe(connID, busID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if busID == AllBuses {
		if _, ok := r.all[connID]; ok {
			delete(r.all, connID)
			metrics.Subscriptions.Dec()
		}
		return
	}
	if m := r.byBus[busID]; m != nil {
		if _, ok := m[connID]; ok {
			delete(m, connID)
			metrics.Subscriptions.Dec()
		}
		if len(m) == 0 {
			delete(r.byBus, busID)
		}
	}
}

// UnsubscribeAll removes every entry for a connection. Called on disconnect
// so a dead transport never lingers in any recipient set.
func (r *Registry) UnsubscribeAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.all[connID]; ok {
		delete(r.all, connID)
		metrics.Subscriptions.Dec()
	}
	for busID, m := range r.byBus {
		if _, ok := m[connID]; ok {
			delete(m, connID)
			metrics.Subscriptions.Dec()
		}
		if len(m) == 0 {
			delete(r.byBus, busID)
		}
	}
}

// SubscribersOf returns the connections subscribed to exactly busID.
func (r *Registry) SubscribersOf(busID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.byBus[busID]))
	for id := range r.byBus[busID] {
		out = append(out, id)
	}
	return out
}

// RecipientsOf returns the deduplicated union of busID's subscribers and the
// wildcard set, so a viewer subscribed to both gets one delivery.
func (r *Registry) RecipientsOf(busID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{}, len(r.byBus[busID])+len(r.all))
	out := make([]string, 0, len(r.byBus[busID])+len(r.all))
	for id := range r.byBus[busID] {
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for id := range r.all {
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
