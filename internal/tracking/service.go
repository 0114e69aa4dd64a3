package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/quickbite/order-tracking/internal/kafka"
	"github.com/quickbite/order-tracking/internal/orders"
	"github.com/quickbite/order-tracking/internal/redisx"
)

// ErrWrongCourier rejects a delivery-role transition by a courier the order
// is not bound to.
var ErrWrongCourier = errors.New("order is bound to another courier")

// Store is the slice of the record store the orchestration needs: a read and
// the compare-and-swap status write.
type Store interface {
	GetOrder(ctx context.Context, orderID string) (*orders.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, next, expected orders.Status, at time.Time, partnerID *string) (*orders.Order, error)
}

// Broadcaster fans a committed status update out to every viewer in a room.
type Broadcaster interface {
	Publish(roomKey string, event []byte)
}

// Publisher is the producer side of one Kafka topic.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Service composes the three pieces: validate through the state machine,
// persist through the store, then notify. Persistence must succeed before
// any publish, so an uncommitted status is never broadcast; a crash between
// persist and publish only costs a push, which the viewer recovers by
// re-querying on reconnect.
type Service struct {
	Store       Store
	Broadcaster Broadcaster
	Changed     Publisher // order.status.changed
	Ready       Publisher // order.ready, consumed by the assignment service
	Redis       *redis.Client
	ServiceName string
}

// Result reports a committed transition back to the caller.
type Result struct {
	Order *orders.Order
	From  orders.Status
}

// RequestTransition runs one actor's transition request end to end. actorID
// identifies the caller within its role (courier id for delivery). Returns
// the committed order, or ErrNotFound / ErrConflict / ErrWrongCourier /
// *orders.InvalidTransitionError.
func (s *Service) RequestTransition(ctx context.Context, orderID string, target orders.Status, role orders.Role, actorID, traceID string) (*Result, error) {
	o, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	t, err := orders.RequestTransition(o, target, role)
	if err != nil {
		return nil, err
	}

	if role == orders.RoleDelivery && o.DeliveryPartnerID != nil && *o.DeliveryPartnerID != actorID {
		return nil, ErrWrongCourier
	}
	var partner *string
	if t.BindPartner {
		partner = &actorID
	}

	updated, err := s.Store.UpdateOrderStatus(ctx, orderID, t.To, t.From, t.At, partner)
	if err != nil {
		return nil, err
	}

	s.cacheStatus(ctx, updated)
	s.broadcast(t.Rooms, updated)
	s.publishChanged(t, updated, traceID)
	if t.NotifyAssign {
		s.publishReady(updated, traceID)
	}
	return &Result{Order: updated, From: t.From}, nil
}

// HandleOrderCreated ingests order.created events from the checkout flow and
// pushes the new-order signal to the restaurant's board room (and the order
// room, for a customer already on the tracking screen).
func (s *Service) HandleOrderCreated(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventOrderCreated {
		return nil
	}

	if s.Redis != nil {
		dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
		if exists, _ := redisx.Exists(ctx, s.Redis, dkey); exists {
			return nil
		}
		_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	}

	p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
	if err != nil {
		return err
	}

	o := &orders.Order{
		ID:           p.OrderID,
		RestaurantID: p.RestaurantID,
		CustomerID:   p.CustomerID,
		Status:       orders.StatusPlaced,
		TotalCents:   p.TotalCents,
		UpdatedAt:    env.OccurredAt,
	}
	s.cacheStatus(ctx, o)
	s.broadcast([]string{orders.RoomForOrder(o.ID), orders.RoomForRestaurant(o.RestaurantID)}, o)
	return nil
}

func (s *Service) broadcast(rooms []string, o *orders.Order) {
	frame := kafkax.MustMarshal(orders.NewStatusUpdate(o))
	for _, room := range rooms {
		s.Broadcaster.Publish(room, frame)
	}
}

func (s *Service) cacheStatus(ctx context.Context, o *orders.Order) {
	if s.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
	_ = s.Redis.Set(ctx, key, kafkax.MustMarshal(orders.NewStatusUpdate(o).Payload), redisx.TTLStatusCache).Err()
}

func (s *Service) publishChanged(t *orders.Transition, o *orders.Order, traceID string) {
	if s.Changed == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderStatusChanged,
		EventVersion:  1,
		OccurredAt:    t.At,
		Producer:      s.ServiceName,
		TraceID:       traceID,
		CorrelationID: t.OrderID,
		Payload: kafkax.MustMarshal(orders.OrderStatusChangedPayload{
			OrderID: t.OrderID, RestaurantID: o.RestaurantID,
			From: t.From, To: t.To, ChangedBy: t.By, ChangedAt: t.At,
		}),
	}
	s.Changed.Publish(orders.PartitionKey(t.OrderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderStatusChanged)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (s *Service) publishReady(o *orders.Order, traceID string) {
	if s.Ready == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderReady,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       traceID,
		CorrelationID: o.ID,
		Payload: kafkax.MustMarshal(orders.OrderReadyPayload{
			OrderID: o.ID, RestaurantID: o.RestaurantID,
		}),
	}
	s.Ready.Publish(orders.PartitionKey(o.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderReady)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
