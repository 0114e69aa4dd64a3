package rooms

import (
	"strings"
	"sync"

	"github.com/quickbite/order-tracking/internal/orders"
)

// SessionState is the viewer connection lifecycle. Disconnected is terminal;
// the viewing application opens a new session and re-queries current state,
// missed events are never replayed.
type SessionState int

const (
	StateConnecting SessionState = iota
	StateActive
	StateDisconnected
)

// Session is one live observer connection. It owns a buffered outbound
// channel; room memberships (kept in the Registry) die with the session.
type Session struct {
	ID   string
	Role orders.Role

	mu    sync.Mutex
	state SessionState
	out   chan []byte
}

func NewSession(id string, role orders.Role, buf int) *Session {
	if buf <= 0 {
		buf = 32
	}
	return &Session{ID: id, Role: role, state: StateConnecting, out: make(chan []byte, buf)}
}

// Activate marks the transport handshake complete. Returns false once the
// session has already disconnected.
func (s *Session) Activate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return false
	}
	s.state = StateActive
	return true
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Events is the transport-facing side of the outbound channel.
func (s *Session) Events() <-chan []byte { return s.out }

// Send pushes one event without blocking. A full buffer drops the event
// (slow consumer resynchronizes by re-query on its next connect); a
// disconnected session reports false so the caller can prune it.
func (s *Session) Send(event []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return false
	}
	select {
	case s.out <- event:
	default:
		// drop on backpressure, never block the publisher
	}
	return true
}

// Close transitions to disconnected and closes the outbound channel.
// Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return
	}
	s.state = StateDisconnected
	close(s.out)
}

// CanJoin is the room authorization rule: the role gates which rooms a
// session may subscribe to, never what it receives once joined. Restaurant
// and admin dashboards watch restaurant rooms; everyone may watch a single
// order's room.
func CanJoin(role orders.Role, roomKey string) bool {
	switch {
	case strings.HasPrefix(roomKey, "order:"):
		return true
	case strings.HasPrefix(roomKey, "restaurant:"):
		return role == orders.RoleRestaurant || role == orders.RoleAdmin
	}
	return false
}
