package rooms

import (
	"log"
	"sync"
)

// Registry is the room-membership map, the only shared mutable structure in
// this core. One mutex guards it: membership mutation is cheap and
// infrequent next to publish volume, and publish must never observe a set
// mid-mutation.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]map[string]*Session // roomKey -> sessionID -> session
	sessions map[string]map[string]bool     // sessionID -> joined roomKeys
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:    make(map[string]map[string]*Session),
		sessions: make(map[string]map[string]bool),
	}
}

// Join adds the session to the room. Idempotent: joining twice is the same
// as joining once.
func (r *Registry) Join(s *Session, roomKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.rooms[roomKey]
	if m == nil {
		m = make(map[string]*Session)
		r.rooms[roomKey] = m
	}
	m[s.ID] = s
	ks := r.sessions[s.ID]
	if ks == nil {
		ks = make(map[string]bool)
		r.sessions[s.ID] = ks
	}
	ks[roomKey] = true
}

// Leave removes the session from the room; a no-op if it never joined.
// Empty rooms are deleted, membership is derived state and never persisted.
func (r *Registry) Leave(sessionID, roomKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(sessionID, roomKey)
}

// LeaveAll clears every membership of the session; called on disconnect.
func (r *Registry) LeaveAll(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for roomKey := range r.sessions[sessionID] {
		r.leaveLocked(sessionID, roomKey)
	}
}

func (r *Registry) leaveLocked(sessionID, roomKey string) {
	if m := r.rooms[roomKey]; m != nil {
		delete(m, sessionID)
		if len(m) == 0 {
			delete(r.rooms, roomKey)
		}
	}
	if ks := r.sessions[sessionID]; ks != nil {
		delete(ks, roomKey)
		if len(ks) == 0 {
			delete(r.sessions, sessionID)
		}
	}
}

// Publish pushes event to every current member of the room. Delivery is
// best-effort, at-most-once per connected session; a member whose transport
// is no longer writable is logged and pruned from all of its rooms. Events
// published to the same room reach each member in publish order.
func (r *Registry) Publish(roomKey string, event []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var dead []string
	for id, s := range r.rooms[roomKey] {
		if !s.Send(event) {
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		log.Printf("rooms: pruning dead session %s from %s", id, roomKey)
		for rk := range r.sessions[id] {
			r.leaveLocked(id, rk)
		}
	}
}

// Members returns the current size of a room.
func (r *Registry) Members(roomKey string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[roomKey])
}

// RoomsOf returns the room keys the session is currently joined to.
func (r *Registry) RoomsOf(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for rk := range r.sessions[sessionID] {
		out = append(out, rk)
	}
	return out
}
