package realtime

import "sync"

// ChannelKind distinguishes the two broadcast scopes. Using a typed kind at
// every publish call site is what keeps the conversation feed and the
// per-user inbox stream from ever sharing an audience by accident.
type ChannelKind int

const (
	// ChannelUser targets every live connection of one user. Each
	// connection belongs to exactly one user channel for its whole
	// lifetime; no join is ever requested for it.
	ChannelUser ChannelKind = iota
	// ChannelConversation targets the connections currently viewing one
	// conversation. Joined explicitly after authorization.
	ChannelConversation
)

// Router coordinates websocket sessions, per-user presence and conversation
// rooms, and fans payloads out to either scope.
type Router struct {
	mu           sync.RWMutex
	sessions     map[string]*Connection            // connectionID -> connection
	rooms        map[string]map[string]*Connection // conversationID -> connectionID -> connection
	sessionRooms map[string]map[string]struct{}    // connectionID -> set of conversationIDs

	presence *PresenceRegistry
}

// NewRouter constructs an initialized Router around the given registry.
func NewRouter(presence *PresenceRegistry) *Router {
	return &Router{
		sessions:     make(map[string]*Connection),
		rooms:        make(map[string]map[string]*Connection),
		sessionRooms: make(map[string]map[string]struct{}),
		presence:     presence,
	}
}

// Presence exposes the registry the router maintains.
func (r *Router) Presence() *PresenceRegistry {
	return r.presence
}

// Attach registers a connection and records the user's presence. Multiple
// simultaneous connections per user are expected; none replaces another.
func (r *Router) Attach(conn *Connection) {
	r.mu.Lock()
	r.sessions[conn.ID] = conn
	r.sessionRooms[conn.ID] = make(map[string]struct{})
	r.mu.Unlock()

	r.presence.Add(conn)
	conn.Start()
}

// Detach removes a connection from presence and from every room it joined.
func (r *Router) Detach(conn *Connection) {
	r.mu.Lock()
	if _, ok := r.sessions[conn.ID]; ok {
		delete(r.sessions, conn.ID)
		for roomID := range r.sessionRooms[conn.ID] {
			r.leaveLocked(roomID, conn.ID)
		}
		delete(r.sessionRooms, conn.ID)
	}
	r.mu.Unlock()

	r.presence.Remove(conn)
}

// Join adds the connection to the conversation room. Authorization is the
// caller's job; the router only tracks membership.
func (r *Router) Join(conversationID string, conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[conn.ID]; !ok {
		return
	}

	room := r.rooms[conversationID]
	if room == nil {
		room = make(map[string]*Connection)
		r.rooms[conversationID] = room
	}
	room[conn.ID] = conn
	r.sessionRooms[conn.ID][conversationID] = struct{}{}
}

// Leave removes the connection from the conversation room. Leaving a room
// that was never joined is a no-op.
func (r *Router) Leave(conversationID string, conn *Connection) {
	r.mu.Lock()
	r.leaveLocked(conversationID, conn.ID)
	r.mu.Unlock()
}

// InRoom reports whether the connection currently belongs to the room.
func (r *Router) InRoom(conversationID string, conn *Connection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[conversationID][conn.ID]
	return ok
}

// Publish fans payload out to one channel. For ChannelConversation, id is a
// conversation id and excludeConnID (when non-empty) skips the emitting
// connection; for ChannelUser, id is a user id and every live connection of
// that user receives the payload. Returns the number of deliveries.
func (r *Router) Publish(kind ChannelKind, id string, payload []byte, excludeConnID string) int {
	switch kind {
	case ChannelUser:
		delivered := 0
		for _, conn := range r.presence.Connections(id) {
			if conn.ID == excludeConnID {
				continue
			}
			if err := conn.Send(payload); err == nil {
				delivered++
			}
		}
		return delivered

	case ChannelConversation:
		r.mu.RLock()
		room := r.rooms[id]
		members := make([]*Connection, 0, len(room))
		for _, conn := range room {
			members = append(members, conn)
		}
		r.mu.RUnlock()

		delivered := 0
		for _, conn := range members {
			if conn.ID == excludeConnID {
				continue
			}
			if err := conn.Send(payload); err == nil {
				delivered++
			}
		}
		return delivered
	}
	return 0
}

// Close terminates all tracked connections and clears router state.
func (r *Router) Close() {
	r.mu.Lock()
	sessions := make([]*Connection, 0, len(r.sessions))
	for _, conn := range r.sessions {
		sessions = append(sessions, conn)
	}
	r.sessions = make(map[string]*Connection)
	r.rooms = make(map[string]map[string]*Connection)
	r.sessionRooms = make(map[string]map[string]struct{})
	r.mu.Unlock()

	for _, conn := range sessions {
		r.presence.Remove(conn)
		conn.Close(1001, "router shutdown")
	}
}

func (r *Router) leaveLocked(conversationID string, connID string) {
	room := r.rooms[conversationID]
	if room == nil {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, conversationID)
	}
	if memberships, ok := r.sessionRooms[connID]; ok {
		delete(memberships, conversationID)
	}
}
