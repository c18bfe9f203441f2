// Package presence tracks which users hold a live connection, per namespace.
package presence

import (
	"sync"

	"delivery/internal/domain"
)

// Namespace is a logical live channel.
type Namespace string

const (
	NamespaceDelivery Namespace = "delivery"
	NamespaceConflict Namespace = "conflict"
)

// Conn is a live connection handle. Emit must not block the caller.
type Conn interface {
	ID() string
	Emit(event string, payload any) error
	Close()
}

type entry struct {
	conn Conn
	role domain.Role
}

// roomMember identifies one membership in a tracking room. The same user may
// watch a room from each namespace.
type roomMember struct {
	ns     Namespace
	userID string
}

type namespaceState struct {
	users map[string]entry
	roles map[domain.Role]map[string]struct{}
}

// Registry maps userId to connection within a namespace, keeps role groups
// and per-delivery tracking rooms. It holds no persisted state; everyone is
// offline after a restart until they reconnect.
type Registry struct {
	mu    sync.RWMutex
	ns    map[Namespace]*namespaceState
	rooms map[string]map[roomMember]Conn
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		ns:    make(map[Namespace]*namespaceState),
		rooms: make(map[string]map[roomMember]Conn),
	}
}

func (r *Registry) state(ns Namespace) *namespaceState {
	st, ok := r.ns[ns]
	if !ok {
		st = &namespaceState{
			users: make(map[string]entry),
			roles: make(map[domain.Role]map[string]struct{}),
		}
		r.ns[ns] = st
	}
	return st
}

// Register binds userID to conn in ns and joins the role group. A previous
// connection of the same user is returned so the caller can close it; its
// room memberships move to conn.
func (r *Registry) Register(ns Namespace, userID string, role domain.Role, conn Conn) (previous Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state(ns)
	if old, ok := st.users[userID]; ok {
		previous = old.conn
		delete(st.roles[old.role], userID)

		key := roomMember{ns: ns, userID: userID}
		for _, members := range r.rooms {
			if m, ok := members[key]; ok && m.ID() == previous.ID() {
				members[key] = conn
			}
		}
	}

	st.users[userID] = entry{conn: conn, role: role}
	group, ok := st.roles[role]
	if !ok {
		group = make(map[string]struct{})
		st.roles[role] = group
	}
	group[userID] = struct{}{}
	return previous
}

// Unregister removes userID from ns, but only if conn is still the bound
// connection. A late disconnect of a replaced socket leaves the newer one.
func (r *Registry) Unregister(ns Namespace, userID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.ns[ns]
	if !ok {
		return
	}
	cur, ok := st.users[userID]
	if !ok || cur.conn.ID() != conn.ID() {
		return
	}
	delete(st.users, userID)
	delete(st.roles[cur.role], userID)

	key := roomMember{ns: ns, userID: userID}
	for room, members := range r.rooms {
		if m, ok := members[key]; ok && m.ID() == conn.ID() {
			delete(members, key)
			if len(members) == 0 {
				delete(r.rooms, room)
			}
		}
	}
}

// Lookup returns the live connection of userID in ns.
func (r *Registry) Lookup(ns Namespace, userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.ns[ns]
	if !ok {
		return nil, false
	}
	e, ok := st.users[userID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// RoleMembers returns the connections of every user in the role group.
func (r *Registry) RoleMembers(ns Namespace, role domain.Role) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.ns[ns]
	if !ok {
		return nil
	}
	out := make([]Conn, 0, len(st.roles[role]))
	for userID := range st.roles[role] {
		out = append(out, st.users[userID].conn)
	}
	return out
}

// Online counts connected users in ns.
func (r *Registry) Online(ns Namespace) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if st, ok := r.ns[ns]; ok {
		return len(st.users)
	}
	return 0
}

// JoinRoom adds userID's conn in ns to a tracking room.
func (r *Registry) JoinRoom(ns Namespace, room, userID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[roomMember]Conn)
		r.rooms[room] = members
	}
	members[roomMember{ns: ns, userID: userID}] = conn
}

// LeaveRoom removes userID's membership from ns in a tracking room.
func (r *Registry) LeaveRoom(ns Namespace, room, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if members, ok := r.rooms[room]; ok {
		delete(members, roomMember{ns: ns, userID: userID})
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

// RoomMembers returns the connections in a tracking room.
func (r *Registry) RoomMembers(room string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	out := make([]Conn, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// DropRoom tears a tracking room down.
func (r *Registry) DropRoom(room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, room)
}
