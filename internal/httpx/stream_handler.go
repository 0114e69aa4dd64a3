package httpx

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/quickbite/order-tracking/internal/orders"
	"github.com/quickbite/order-tracking/internal/rooms"
)

// StreamHandler owns the viewer connections. Each GET /events opens one
// Server-Sent-Events stream backed by a rooms.Session; room control is a
// pair of idempotent POSTs keyed by the session id the stream announces in
// its first frame.
type StreamHandler struct {
	Registry   *rooms.Registry
	SessionBuf int

	mu   sync.Mutex
	live map[string]*rooms.Session
}

func NewStreamHandler(reg *rooms.Registry, buf int) *StreamHandler {
	return &StreamHandler{Registry: reg, SessionBuf: buf, live: make(map[string]*rooms.Session)}
}

func (h *StreamHandler) Register(r chi.Router) {
	r.Get("/events", h.stream)
	r.Post("/sessions/{id}/join", h.join)
	r.Post("/sessions/{id}/leave", h.leave)
}

type roomReq struct {
	Room string `json:"room"`
}

// stream opens the long-lived connection. Query params: role (required),
// rooms (optional comma-separated initial joins). The first frame is a
// "session" event carrying the session id.
func (h *StreamHandler) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}
	role := orders.Role(r.URL.Query().Get("role"))
	if !orders.ValidRole(role) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown viewer role"})
		return
	}

	s := rooms.NewSession(uuid.NewString(), role, h.SessionBuf)
	h.track(s)
	defer h.teardown(s)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Handshake: announce the session id, then the session is active.
	hello, _ := json.Marshal(map[string]string{"sessionId": s.ID})
	writeFrame(w, "session", hello)
	flusher.Flush()
	s.Activate()

	for _, room := range splitRooms(r.URL.Query().Get("rooms")) {
		if rooms.CanJoin(role, room) {
			h.Registry.Join(s, room)
		}
	}

	keepalive := time.NewTicker(25 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-s.Events():
			if !ok {
				return
			}
			writeFrame(w, orders.EventOrderStatusUpdate, ev)
			flusher.Flush()
		}
	}
}

// join subscribes the session to a room. Idempotent; the ack carries no
// payload beyond the membership echo.
func (h *StreamHandler) join(w http.ResponseWriter, r *http.Request) {
	s, req, ok := h.roomRequest(w, r)
	if !ok {
		return
	}
	if !rooms.CanJoin(s.Role, req.Room) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "role may not join this room"})
		return
	}
	h.Registry.Join(s, req.Room)
	writeJSON(w, http.StatusOK, map[string]string{"joined": req.Room})
}

// leave is a no-op for rooms the session never joined.
func (h *StreamHandler) leave(w http.ResponseWriter, r *http.Request) {
	s, req, ok := h.roomRequest(w, r)
	if !ok {
		return
	}
	h.Registry.Leave(s.ID, req.Room)
	writeJSON(w, http.StatusOK, map[string]string{"left": req.Room})
}

func (h *StreamHandler) roomRequest(w http.ResponseWriter, r *http.Request) (*rooms.Session, roomReq, bool) {
	id := chi.URLParam(r, "id")
	h.mu.Lock()
	s := h.live[id]
	h.mu.Unlock()
	if s == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown session"})
		return nil, roomReq{}, false
	}
	var req roomReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Room == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing room"})
		return nil, roomReq{}, false
	}
	return s, req, true
}

func (h *StreamHandler) track(s *rooms.Session) {
	h.mu.Lock()
	h.live[s.ID] = s
	h.mu.Unlock()
}

// teardown runs on transport close: memberships die with the session, no
// reconnection is attempted here.
func (h *StreamHandler) teardown(s *rooms.Session) {
	h.mu.Lock()
	delete(h.live, s.ID)
	h.mu.Unlock()
	h.Registry.LeaveAll(s.ID)
	s.Close()
	log.Printf("httpx: session %s disconnected", s.ID)
}

func writeFrame(w http.ResponseWriter, event string, data []byte) {
	_, _ = w.Write([]byte("event: " + event + "\n"))
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n\n"))
}

func splitRooms(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
