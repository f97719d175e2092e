package realtime

import (
	"log/slog"
	"sync"
)

// Registry tracks which identities currently own live connections. It is the
// single shared mutable structure of the realtime core; all mutation happens
// here behind one lock, never at call sites.
//
// A single identity may own many connections (multi-device). When the last
// connection of an identity is removed the identity is dropped entirely, so
// IsOnline reflects zero connections as offline.
type Registry struct {
	log *slog.Logger

	mu     sync.RWMutex
	byUser map[string]map[string]*Conn // user id -> conn id -> conn
	byConn map[string]string           // conn id -> user id
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:    log,
		byUser: make(map[string]map[string]*Conn),
		byConn: make(map[string]string),
	}
}

// Register binds a connection to its identity.
func (r *Registry) Register(conn *Conn) {
	if conn == nil || conn.ID == "" || conn.UserID == "" {
		return
	}

	r.mu.Lock()
	set, ok := r.byUser[conn.UserID]
	if !ok {
		set = make(map[string]*Conn, 1)
		r.byUser[conn.UserID] = set
		metricOnlineUsers.Inc()
	}
	set[conn.ID] = conn
	r.byConn[conn.ID] = conn.UserID
	total := len(r.byConn)
	r.mu.Unlock()

	metricConnections.Inc()
	r.log.Info("registry.conn.add",
		"user_id", conn.UserID, "conn_id", conn.ID, "total_conns", total)
}

// Unregister removes a connection; removing an already-absent connection is a
// no-op. When the identity's last connection goes, the identity goes with it.
func (r *Registry) Unregister(conn *Conn) {
	if conn == nil || conn.ID == "" {
		return
	}

	r.mu.Lock()
	userID, ok := r.byConn[conn.ID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byConn, conn.ID)
	if set := r.byUser[userID]; set != nil {
		delete(set, conn.ID)
		if len(set) == 0 {
			delete(r.byUser, userID)
			metricOnlineUsers.Dec()
		}
	}
	r.mu.Unlock()

	metricConnections.Dec()
	r.log.Info("registry.conn.remove", "user_id", userID, "conn_id", conn.ID)
}

// IsOnline reports whether the identity owns at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// Send fans an encoded frame out to every connection owned by the identity.
// It is best-effort and never blocks: a full or closing connection is skipped
// and logged, not propagated as a failure. Returns how many connections
// accepted the frame.
func (r *Registry) Send(userID string, frame []byte) int {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.byUser[userID]))
	for _, c := range r.byUser[userID] {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range conns {
		if c.Enqueue(frame) {
			delivered++
			continue
		}
		metricBroadcastDropped.Inc()
		r.log.Warn("registry.send.drop", "user_id", userID, "conn_id", c.ID)
	}
	return delivered
}

// OnlineCount returns the number of identities with at least one connection.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// ConnCount returns the number of live connections across all identities.
func (r *Registry) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
