// Package registry tracks live connections, the rooms they belong to and
// which connection currently answers for each user.
//
// One lock covers the connection set, the room index and the user index, so
// every operation is atomic with respect to all three. In particular a
// deregistered connection never lingers in any room.
//
// The user index is last-registered-wins: registering a second connection
// for a user moves the user:<id> room to the new connection. The older
// connection keeps its global, tenant and feature memberships. The caller
// decides whether to close it.
package registry

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/callpulse/callpulse/gateway/internal/auth"
)

// Conn is a live connection as the registry sees it.
type Conn interface {
	ID() string
	// Send queues msg for delivery without blocking and reports whether it
	// was accepted.
	Send(msg []byte) bool
}

var (
	// ErrNotRegistered is returned for room changes on an unknown connection.
	ErrNotRegistered = errors.New("connection is not registered")
	// ErrManagedRoom is returned when a client tries to join or leave a room
	// the registry assigns itself.
	ErrManagedRoom   = errors.New("membership of this room is managed by the registry")
)

type entry struct {
	conn      Conn
	principal auth.Principal
	rooms     map[string]struct{}
}

// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*entry
	rooms map[string]map[string]Conn
	users map[string]string

	logger *slog.Logger
}

// New returns an empty registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]*entry),
		rooms:  make(map[string]map[string]Conn),
		users:  make(map[string]string),
		logger: logger.With("component", "registry"),
	}
}

// Register adds conn with its principal and joins the global, tenant and
// user rooms. Registering an already registered connection changes nothing.
// If another connection held the user's slot it loses the user room and is
// returned as superseded.
func (r *Registry) Register(conn Conn, p auth.Principal) (superseded Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	if _, ok := r.conns[id]; ok {
		return nil
	}
	e := &entry{conn: conn, principal: p, rooms: make(map[string]struct{})}
	r.conns[id] = e
	r.joinLocked(e, GlobalRoom)
	r.joinLocked(e, TenantRoom(p.TenantID))

	if prevID, ok := r.users[p.UserID]; ok {
		if prev, ok := r.conns[prevID]; ok {
			r.leaveLocked(prev, UserRoom(p.UserID))
			superseded = prev.conn
		}
	}
	r.users[p.UserID] = id
	r.joinLocked(e, UserRoom(p.UserID))

	r.logger.Debug("connection registered",
		"conn", id,
		"user", p.UserID,
		"tenant", p.TenantID,
		"superseded", superseded != nil,
	)
	return superseded
}

// Deregister removes conn from every room, and from the user index if it
// still owns the user's slot. It reports whether conn was registered.
func (r *Registry) Deregister(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	for room := range e.rooms {
		r.removeMemberLocked(room, id)
	}
	delete(r.conns, id)

	uid := e.principal.UserID
	if owner, ok := r.users[uid]; ok && owner == id {
		delete(r.users, uid)
	} else {
		r.logger.Debug("user slot held by another connection, leaving user index intact",
			"conn", id,
			"user", uid,
			"owner", owner,
		)
	}
	return true
}

// Join adds conn to room. Joining twice is a no-op.
func (r *Registry) Join(conn Conn, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[conn.ID()]
	if !ok {
		return ErrNotRegistered
	}
	r.joinLocked(e, room)
	return nil
}

// Leave removes conn from a room it joined with Join. The global, tenant and
// user rooms cannot be left.
func (r *Registry) Leave(conn Conn, room string) error {
	if isManagedRoom(room) {
		return ErrManagedRoom
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[conn.ID()]
	if !ok {
		return ErrNotRegistered
	}
	r.leaveLocked(e, room)
	return nil
}

func (r *Registry) joinLocked(e *entry, room string) {
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]Conn)
		r.rooms[room] = members
	}
	members[e.conn.ID()] = e.conn
	e.rooms[room] = struct{}{}
}

func (r *Registry) leaveLocked(e *entry, room string) {
	delete(e.rooms, room)
	r.removeMemberLocked(room, e.conn.ID())
}

func (r *Registry) removeMemberLocked(room, id string) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// Members returns a snapshot of the room's connections, leaving out except
// when it is non-nil.
func (r *Registry) Members(room string, except Conn) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	out := make([]Conn, 0, len(members))
	for id, c := range members {
		if except != nil && id == except.ID() {
			continue
		}
		out = append(out, c)
	}
	return out
}

// RoomSize returns the number of connections in room.
func (r *Registry) RoomSize(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// IsMember reports whether conn is in room.
func (r *Registry) IsMember(conn Conn, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][conn.ID()]
	return ok
}

// Rooms returns the rooms conn belongs to, sorted.
func (r *Registry) Rooms(conn Conn) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[conn.ID()]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(e.rooms))
	for room := range e.rooms {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// Principal returns the principal conn was registered with.
func (r *Registry) Principal(conn Conn) (auth.Principal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[conn.ID()]
	if !ok {
		return auth.Principal{}, false
	}
	return e.principal, true
}

// UserConn returns the connection the user index currently names.
func (r *Registry) UserConn(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.users[userID]
	if !ok {
		return nil, false
	}
	return r.conns[id].conn, true
}

// Conns returns a snapshot of every live connection.
func (r *Registry) Conns() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.conns))
	for _, e := range r.conns {
		out = append(out, e.conn)
	}
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// ConnectedUserCount counts distinct users in the user index.
func (r *Registry) ConnectedUserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// IsUserConnected reports whether userID has a live connection.
func (r *Registry) IsUserConnected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}

// DistinctTenants returns the tenants with at least one live connection,
// sorted.
func (r *Registry) DistinctTenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, e := range r.conns {
		seen[e.principal.TenantID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
