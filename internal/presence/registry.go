package presence

import (
	"sync"
	"time"
)

// Entry describes one live connection. Entries are ephemeral: the registry is
// rebuilt from scratch on process restart as clients reconnect.
type Entry struct {
	ConnID      string
	TenantID    string
	UserID      string
	ConnectedAt time.Time
	LastSeen    time.Time
}

// RoleResolver looks up a user's role within a tenant. It is supplied by the
// user-directory collaborator; the registry only invokes it during role
// fan-out resolution.
type RoleResolver func(tenantID, userID string) string

// Registry is the in-memory index of open connections, keyed by tenant first
// so that fan-out lookups can never cross a tenant boundary.
type Registry struct {
	mu      sync.RWMutex
	tenants map[string]map[string]map[string]*Entry // tenant -> user -> connID
	conns   map[string]*Entry                       // connID -> entry
	now     func() time.Time
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tenants: make(map[string]map[string]map[string]*Entry),
		conns:   make(map[string]*Entry),
		now:     time.Now,
	}
}

// Add registers a connection under (tenantID, userID). Re-adding an existing
// connection ID replaces the previous entry.
func (r *Registry) Add(tenantID, userID, connID string) {
	if tenantID == "" || userID == "" || connID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.conns[connID]; ok {
		r.removeLocked(prev)
	}

	now := r.now()
	entry := &Entry{
		ConnID:      connID,
		TenantID:    tenantID,
		UserID:      userID,
		ConnectedAt: now,
		LastSeen:    now,
	}

	users := r.tenants[tenantID]
	if users == nil {
		users = make(map[string]map[string]*Entry)
		r.tenants[tenantID] = users
	}
	userConns := users[userID]
	if userConns == nil {
		userConns = make(map[string]*Entry)
		users[userID] = userConns
	}

	userConns[connID] = entry
	r.conns[connID] = entry
}

// Remove deletes the connection and reports whether it was the user's last
// one. Removing an unknown connection is a no-op.
func (r *Registry) Remove(connID string) (wasLast bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.conns[connID]
	if !ok {
		return false
	}

	r.removeLocked(entry)
	return len(r.tenants[entry.TenantID][entry.UserID]) == 0
}

func (r *Registry) removeLocked(entry *Entry) {
	delete(r.conns, entry.ConnID)

	users, ok := r.tenants[entry.TenantID]
	if !ok {
		return
	}
	userConns := users[entry.UserID]
	delete(userConns, entry.ConnID)
	if len(userConns) == 0 {
		delete(users, entry.UserID)
	}
	if len(users) == 0 {
		delete(r.tenants, entry.TenantID)
	}
}

// ConnectionsFor returns the connection IDs for one user in one tenant.
func (r *Registry) ConnectionsFor(tenantID, userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userConns := r.tenants[tenantID][userID]
	if len(userConns) == 0 {
		return nil
	}

	out := make([]string, 0, len(userConns))
	for connID := range userConns {
		out = append(out, connID)
	}
	return out
}

// IsOnline reports whether the user has at least one open connection in the tenant.
func (r *Registry) IsOnline(tenantID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tenants[tenantID][userID]) > 0
}

// AllConnections returns every connection ID registered under the tenant.
func (r *Registry) AllConnections(tenantID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := r.tenants[tenantID]
	if len(users) == 0 {
		return nil
	}

	var out []string
	for _, userConns := range users {
		for connID := range userConns {
			out = append(out, connID)
		}
	}
	return out
}

// OnlineUsers returns the users with at least one open connection in the tenant.
func (r *Registry) OnlineUsers(tenantID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := r.tenants[tenantID]
	if len(users) == 0 {
		return nil
	}

	out := make([]string, 0, len(users))
	for userID := range users {
		out = append(out, userID)
	}
	return out
}

// ConnectionsForRole returns the connections of every online user in the
// tenant whose role, per the supplied resolver, matches.
func (r *Registry) ConnectionsForRole(tenantID, role string, roleOf RoleResolver) []string {
	if roleOf == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	users := r.tenants[tenantID]
	if len(users) == 0 {
		return nil
	}

	var out []string
	for userID, userConns := range users {
		if roleOf(tenantID, userID) != role {
			continue
		}
		for connID := range userConns {
			out = append(out, connID)
		}
	}
	return out
}

// Touch refreshes the liveness timestamp of a connection.
func (r *Registry) Touch(connID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.conns[connID]; ok {
		if at.After(entry.LastSeen) {
			entry.LastSeen = at
		}
	}
}

// StaleBefore returns connections whose last heartbeat is older than the
// supplied deadline. Used by the reaper to bound presence staleness.
func (r *Registry) StaleBefore(deadline time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for connID, entry := range r.conns {
		if entry.LastSeen.Before(deadline) {
			out = append(out, connID)
		}
	}
	return out
}

// Len returns the total number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}
