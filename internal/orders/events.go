package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOrderReady         = "OrderReady"
)

// EventOrderStatusUpdate is the wire-level event name pushed to viewer
// sessions, one shape regardless of transport.
const EventOrderStatusUpdate = "order_status_update"

// Envelope wraps every Kafka event.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// StatusUpdate is the payload of an order_status_update viewer event.
type StatusUpdate struct {
	OrderID           string    `json:"orderId"`
	Status            Status    `json:"status"`
	UpdatedAt         time.Time `json:"updatedAt"`
	RestaurantID      string    `json:"restaurantId"`
	DeliveryPartnerID *string   `json:"deliveryPartnerId"`
}

// ViewerEvent is the frame written to a viewer session's transport.
type ViewerEvent struct {
	Event   string       `json:"event"`
	Payload StatusUpdate `json:"payload"`
}

// NewStatusUpdate builds the viewer frame for a committed order state.
func NewStatusUpdate(o *Order) ViewerEvent {
	return ViewerEvent{
		Event: EventOrderStatusUpdate,
		Payload: StatusUpdate{
			OrderID:           o.ID,
			Status:            o.Status,
			UpdatedAt:         o.UpdatedAt,
			RestaurantID:      o.RestaurantID,
			DeliveryPartnerID: o.DeliveryPartnerID,
		},
	}
}

// ---- Kafka payloads ----

type OrderCreatedPayload struct {
	OrderID      string `json:"order_id"`
	RestaurantID string `json:"restaurant_id"`
	CustomerID   string `json:"customer_id"`
	TotalCents   int    `json:"total_cents"`
}

type OrderStatusChangedPayload struct {
	OrderID      string    `json:"order_id"`
	RestaurantID string    `json:"restaurant_id"`
	From         Status    `json:"from"`
	To           Status    `json:"to"`
	ChangedBy    Role      `json:"changed_by"`
	ChangedAt    time.Time `json:"changed_at"`
}

// OrderReadyPayload tells the delivery-assignment service an order is
// waiting for pickup.
type OrderReadyPayload struct {
	OrderID      string `json:"order_id"`
	RestaurantID string `json:"restaurant_id"`
}
