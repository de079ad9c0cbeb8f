// Package presence tracks which connections belong to which logical user.
// A user may hold any number of simultaneous connections (devices, tabs);
// a connection belongs to at most one user at a time.
package presence

import (
	"sort"
	"sync"
)

// Registry is the process-wide user id → connection ids map. It is
// constructed once at startup and injected wherever targeted delivery or
// the online-user snapshot is needed. State lives for the process lifetime.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]map[string]struct{})}
}

// Bind records connID under userID.
func (r *Registry) Bind(userID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindLocked(userID, connID)
}

// Rebind moves connID from oldUserID to newUserID in one critical section,
// so the connection is never registered under both ids.
func (r *Registry) Rebind(oldUserID, newUserID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unbindLocked(oldUserID, connID)
	r.bindLocked(newUserID, connID)
}

// Unbind removes connID from userID. A user with no remaining connections
// is dropped from the map entirely.
func (r *Registry) Unbind(userID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unbindLocked(userID, connID)
}

// ConnectionsFor returns the connection ids currently bound to userID.
func (r *Registry) ConnectionsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.conns[userID]
	out := make([]string, 0, len(set))
	for connID := range set {
		out = append(out, connID)
	}
	return out
}

// DistinctUsers returns the sorted set of users with at least one
// connection. A user with N connections appears once.
func (r *Registry) DistinctUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.conns))
	for userID := range r.conns {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

func (r *Registry) bindLocked(userID, connID string) {
	set, ok := r.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		r.conns[userID] = set
	}
	set[connID] = struct{}{}
}

func (r *Registry) unbindLocked(userID, connID string) {
	set, ok := r.conns[userID]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.conns, userID)
	}
}
