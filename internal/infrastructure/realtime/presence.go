package realtime

import "sync"

// PresenceRegistry tracks which users currently hold open connections.
// It maps a user id to the set of that user's live connections; the entry
// disappears when the last connection for the user goes away. State is
// runtime-only and mutations come from concurrent handshake/disconnect
// handlers, hence the mutex.
type PresenceRegistry struct {
	mu    sync.RWMutex
	users map[string]map[string]*Connection // userID -> connectionID -> connection
}

// NewPresenceRegistry constructs an empty registry.
func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{users: make(map[string]map[string]*Connection)}
}

// Add registers conn under its user.
func (p *PresenceRegistry) Add(conn *Connection) {
	p.mu.Lock()
	conns := p.users[conn.UserID]
	if conns == nil {
		conns = make(map[string]*Connection)
		p.users[conn.UserID] = conns
	}
	conns[conn.ID] = conn
	p.mu.Unlock()
}

// Remove forgets conn; the user's entry is deleted entirely once empty.
func (p *PresenceRegistry) Remove(conn *Connection) {
	p.mu.Lock()
	if conns, ok := p.users[conn.UserID]; ok {
		delete(conns, conn.ID)
		if len(conns) == 0 {
			delete(p.users, conn.UserID)
		}
	}
	p.mu.Unlock()
}

// Connections returns a snapshot of the user's live connections.
func (p *PresenceRegistry) Connections(userID string) []*Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	conns := p.users[userID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]*Connection, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// Online reports whether the user has at least one live connection.
func (p *PresenceRegistry) Online(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.users[userID]) > 0
}
