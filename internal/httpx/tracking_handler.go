package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/quickbite/order-tracking/internal/orders"
	"github.com/quickbite/order-tracking/internal/redisx"
	"github.com/quickbite/order-tracking/internal/tracking"
)

// OrderReader is the query side used by viewer resynchronization.
type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (*orders.Order, error)
	ListActiveByRestaurant(ctx context.Context, restaurantID string) ([]orders.Order, error)
}

type TrackingHandler struct {
	Service *tracking.Service
	Reader  OrderReader
	Redis   *redis.Client
}

type transitionReq struct {
	Status orders.Status `json:"status"`
}

type transitionResp struct {
	OrderID  string        `json:"order_id"`
	Previous orders.Status `json:"previous_status"`
	Current  orders.Status `json:"current_status"`
}

func (h *TrackingHandler) Register(r chi.Router) {
	r.Post("/orders/{id}/status", h.requestTransition)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/restaurants/{id}/orders", h.listRestaurantOrders)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *TrackingHandler) requestTransition(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	role := orders.Role(r.Header.Get("X-Actor-Role"))
	actorID := r.Header.Get("X-Actor-Id")

	var req transitionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if !orders.ValidRole(role) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown actor role"})
		return
	}
	if !orders.ValidStatus(req.Status) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Service.RequestTransition(ctx, orderID, req.Status, role, actorID, r.Header.Get("X-Request-Id"))
	if err != nil {
		h.writeTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResp{OrderID: res.Order.ID, Previous: res.From, Current: res.Order.Status})
}

func (h *TrackingHandler) writeTransitionError(w http.ResponseWriter, err error) {
	var ite *orders.InvalidTransitionError
	switch {
	case errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
	case errors.Is(err, orders.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "order status changed concurrently, re-fetch and retry",
		})
	case errors.Is(err, tracking.ErrWrongCourier):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.As(err, &ite):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":          "invalid transition",
			"current_status": ite.From,
			"requested":      ite.To,
			"allowed_next":   ite.Allowed,
			"reason":         ite.Error(),
		})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

// getOrder serves the late-joiner query path: cache first, record store as
// fallback with a cache refill.
func (h *TrackingHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	o, err := h.Reader.GetOrder(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	body := orders.NewStatusUpdate(o).Payload
	if h.Redis != nil {
		b, _ := json.Marshal(body)
		key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
		_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
	}
	writeJSON(w, http.StatusOK, body)
}

// listRestaurantOrders lets a reconnecting board pull its live orders before
// rejoining the restaurant room.
func (h *TrackingHandler) listRestaurantOrders(w http.ResponseWriter, r *http.Request) {
	restaurantID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Reader.ListActiveByRestaurant(ctx, restaurantID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	out := make([]orders.StatusUpdate, 0, len(list))
	for i := range list {
		out = append(out, orders.NewStatusUpdate(&list[i]).Payload)
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "orders": out})
}
