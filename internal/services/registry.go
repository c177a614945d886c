package services

import (
	"sync"

	"github.com/google/uuid"

	"github.com/agentx/chatbot-backend/internal/metrics"
)

// ConnectionRegistry tracks the live realtime connections of each session
type ConnectionRegistry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]map[Conn]struct{}
}

// NewConnectionRegistry creates an empty registry
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{sessions: make(map[uuid.UUID]map[Conn]struct{})}
}

// Register adds conn to the session's set
func (r *ConnectionRegistry) Register(sessionID uuid.UUID, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.sessions[sessionID]
	if !ok {
		conns = make(map[Conn]struct{})
		r.sessions[sessionID] = conns
	}
	if _, exists := conns[conn]; !exists {
		conns[conn] = struct{}{}
		metrics.RealtimeConnections.Inc()
	}
}

// Unregister removes conn and drops the session entry once it is empty
func (r *ConnectionRegistry) Unregister(sessionID uuid.UUID, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	if _, exists := conns[conn]; exists {
		delete(conns, conn)
		metrics.RealtimeConnections.Dec()
	}
	if len(conns) == 0 {
		delete(r.sessions, sessionID)
	}
}

// Count returns the number of connections registered for a session
func (r *ConnectionRegistry) Count(sessionID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[sessionID])
}

// Sessions returns the ids of sessions with at least one connection
func (r *ConnectionRegistry) Sessions() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// CloseAll closes every registered connection with code. Connections
// unregister themselves as their handlers return.
func (r *ConnectionRegistry) CloseAll(code int, reason string) int {
	r.mu.Lock()
	var all []Conn
	for _, conns := range r.sessions {
		for c := range conns {
			all = append(all, c)
		}
	}
	r.mu.Unlock()

	for _, c := range all {
		_ = c.Close(code, reason)
	}
	return len(all)
}
