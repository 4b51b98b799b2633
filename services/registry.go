package services

import (
	"sync"
	"time"
)

// Connection is one registered realtime connection. Ephemeral and
// process-local; never persisted.
type Connection struct {
	SocketID    string
	Identity    *Identity // nil until authenticated
	RoomID      uint      // 0 when not in a room
	ConnectedAt time.Time
}

// ConnectionRegistry maps connections to identities and rooms. It is an
// explicit instance owned by the gateway, not ambient state, so tests can
// construct isolated registries. An identity may hold several connections
// at once. The registry never mutates room membership.
type ConnectionRegistry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	byUser map[uint]map[string]struct{}
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns:  make(map[string]*Connection),
		byUser: make(map[uint]map[string]struct{}),
	}
}

// Register records a fresh, not-yet-authenticated connection.
func (r *ConnectionRegistry) Register(socketID string) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn := &Connection{SocketID: socketID, ConnectedAt: time.Now()}
	r.conns[socketID] = conn
	return conn
}

// Authenticate binds the verified identity to the connection.
func (r *ConnectionRegistry) Authenticate(socketID string, identity *Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[socketID]
	if !ok {
		return false
	}
	conn.Identity = identity

	sockets, ok := r.byUser[identity.UserID]
	if !ok {
		sockets = make(map[string]struct{})
		r.byUser[identity.UserID] = sockets
	}
	sockets[socketID] = struct{}{}
	return true
}

// Unregister removes the connection. The second return reports whether it
// was the identity's last connection.
func (r *ConnectionRegistry) Unregister(socketID string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[socketID]
	if !ok {
		return nil, false
	}
	delete(r.conns, socketID)

	if conn.Identity == nil {
		return conn, false
	}

	sockets := r.byUser[conn.Identity.UserID]
	delete(sockets, socketID)
	if len(sockets) == 0 {
		delete(r.byUser, conn.Identity.UserID)
		return conn, true
	}
	return conn, false
}

// Get returns the connection, or nil.
func (r *ConnectionRegistry) Get(socketID string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[socketID]
}

// SetRoom records which room the connection currently acts in.
func (r *ConnectionRegistry) SetRoom(socketID string, roomID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[socketID]; ok {
		conn.RoomID = roomID
	}
}

// SocketsInRoom lists the sockets currently bound to roomID.
func (r *ConnectionRegistry) SocketsInRoom(roomID uint) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for id, conn := range r.conns {
		if conn.RoomID == roomID {
			out = append(out, id)
		}
	}
	return out
}

// SocketsForUser lists the identity's open connections.
func (r *ConnectionRegistry) SocketsForUser(userID uint) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for id := range r.byUser[userID] {
		out = append(out, id)
	}
	return out
}

// IsOnline reports whether the identity holds any connection.
func (r *ConnectionRegistry) IsOnline(userID uint) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}
