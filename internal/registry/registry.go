// Package registry maps live transport connections to authenticated user
// identities. Binding is one-shot: identification succeeds exactly once per
// connection and a second attempt with a different identity fails rather
// than overwriting.
package registry

import (
	"sync"

	"parley/internal/core/domain"
)

type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]domain.UserID
}

func New() *Registry {
	return &Registry{
		conns: make(map[domain.ConnID]domain.UserID),
	}
}

// Bind associates an identity with a connection. Re-binding the same identity
// is a no-op; binding a different identity to an already-bound connection
// returns ErrAlreadyIdentified.
func (r *Registry) Bind(conn domain.ConnID, user domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if bound, ok := r.conns[conn]; ok {
		if bound == user {
			return nil
		}
		return domain.ErrAlreadyIdentified
	}

	r.conns[conn] = user
	return nil
}

// Resolve returns the identity bound to a connection, if any.
func (r *Registry) Resolve(conn domain.ConnID) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.conns[conn]
	return user, ok
}

// Release removes the binding on transport teardown and returns the identity
// that was bound so callers can cascade cleanup.
func (r *Registry) Release(conn domain.ConnID) (domain.UserID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.conns[conn]
	if ok {
		delete(r.conns, conn)
	}
	return user, ok
}

// Connections returns every connection currently bound to the identity.
// An identity may hold several live connections (multiple tabs).
func (r *Registry) Connections(user domain.UserID) []domain.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []domain.ConnID
	for conn, bound := range r.conns {
		if bound == user {
			conns = append(conns, conn)
		}
	}
	return conns
}
