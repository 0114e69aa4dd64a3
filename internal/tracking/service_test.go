package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/quickbite/order-tracking/internal/kafka"
	"github.com/quickbite/order-tracking/internal/orders"
	"github.com/quickbite/order-tracking/internal/rooms"
)

//
// ---------- stubs ----------
//

// stubStore keeps one order in memory and enforces the same compare-and-swap
// the pgx repo does, so transition races behave like production.
type stubStore struct {
	mu sync.Mutex
	o  *orders.Order
}

func (s *stubStore) GetOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.o == nil || s.o.ID != orderID {
		return nil, orders.ErrNotFound
	}
	cp := *s.o
	return &cp, nil
}

func (s *stubStore) UpdateOrderStatus(ctx context.Context, orderID string, next, expected orders.Status, at time.Time, partnerID *string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.o == nil || s.o.ID != orderID {
		return nil, orders.ErrNotFound
	}
	if s.o.Status != expected {
		return nil, orders.ErrConflict
	}
	s.o.Status = next
	s.o.UpdatedAt = at
	if partnerID != nil {
		p := *partnerID
		s.o.DeliveryPartnerID = &p
	}
	cp := *s.o
	return &cp, nil
}

// captureBroadcaster records room publishes in order.
type captureBroadcaster struct {
	mu     sync.Mutex
	byRoom map[string][][]byte
}

func newCaptureBroadcaster() *captureBroadcaster {
	return &captureBroadcaster{byRoom: make(map[string][][]byte)}
}

func (b *captureBroadcaster) Publish(roomKey string, event []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byRoom[roomKey] = append(b.byRoom[roomKey], event)
}

func (b *captureBroadcaster) events(roomKey string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.byRoom[roomKey]...)
}

type capturePublisher struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (p *capturePublisher) Publish(key, value []byte, headers ...kafkago.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, value)
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

func newService(status orders.Status) (*Service, *stubStore, *captureBroadcaster, *capturePublisher, *capturePublisher) {
	st := &stubStore{o: &orders.Order{
		ID: "o-1", RestaurantID: "r-1", CustomerID: "c-1",
		Status: status, TotalCents: 1200, FinalCents: 1200,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}}
	bc := newCaptureBroadcaster()
	changed := &capturePublisher{}
	ready := &capturePublisher{}
	svc := &Service{Store: st, Broadcaster: bc, Changed: changed, Ready: ready, ServiceName: "tracker-test"}
	return svc, st, bc, changed, ready
}

func decodeFrame(t *testing.T, b []byte) orders.ViewerEvent {
	t.Helper()
	var ev orders.ViewerEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		t.Fatalf("bad viewer frame: %v", err)
	}
	return ev
}

//
// ---------- tests ----------
//

// Scenario A: customer cancels a placed order; the order is terminal after.
func TestCustomerCancelsPlacedOrder(t *testing.T) {
	svc, st, bc, changed, _ := newService(orders.StatusPlaced)
	ctx := context.Background()

	res, err := svc.RequestTransition(ctx, "o-1", orders.StatusCancelled, orders.RoleCustomer, "c-1", "")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if res.Order.Status != orders.StatusCancelled || res.From != orders.StatusPlaced {
		t.Errorf("result = %s from %s", res.Order.Status, res.From)
	}
	if st.o.Status != orders.StatusCancelled {
		t.Error("cancellation not persisted")
	}

	for _, room := range []string{"order:o-1", "restaurant:r-1"} {
		evs := bc.events(room)
		if len(evs) != 1 {
			t.Fatalf("room %s got %d events, want 1", room, len(evs))
		}
		ev := decodeFrame(t, evs[0])
		if ev.Event != orders.EventOrderStatusUpdate {
			t.Errorf("event name = %s", ev.Event)
		}
		if ev.Payload.OrderID != "o-1" || ev.Payload.Status != orders.StatusCancelled || ev.Payload.RestaurantID != "r-1" {
			t.Errorf("payload = %+v", ev.Payload)
		}
		if ev.Payload.DeliveryPartnerID != nil {
			t.Error("unassigned order must carry null deliveryPartnerId")
		}
	}
	if changed.count() != 1 {
		t.Errorf("changed events = %d, want 1", changed.count())
	}

	// terminal: every further request fails and nothing new is broadcast
	for _, role := range []orders.Role{orders.RoleCustomer, orders.RoleRestaurant, orders.RoleDelivery, orders.RoleAdmin} {
		if _, err := svc.RequestTransition(ctx, "o-1", orders.StatusAccepted, role, "x", ""); !orders.IsInvalidTransition(err) {
			t.Errorf("post-terminal transition by %s: want InvalidTransition, got %v", role, err)
		}
	}
	if got := len(bc.events("order:o-1")); got != 1 {
		t.Errorf("terminal order broadcast %d events, want 1", got)
	}
}

// Scenario B: cancellation from ready is not an edge.
func TestCancelFromReadyFails(t *testing.T) {
	svc, st, bc, _, _ := newService(orders.StatusReady)

	_, err := svc.RequestTransition(context.Background(), "o-1", orders.StatusCancelled, orders.RoleCustomer, "c-1", "")
	var ite *orders.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("want InvalidTransitionError, got %v", err)
	}
	if st.o.Status != orders.StatusReady {
		t.Error("failed transition must leave the order unchanged")
	}
	if len(bc.events("order:o-1")) != 0 {
		t.Error("nothing may be broadcast for a rejected transition")
	}
}

func TestUnknownOrder(t *testing.T) {
	svc, _, _, _, _ := newService(orders.StatusPlaced)
	_, err := svc.RequestTransition(context.Background(), "missing", orders.StatusCancelled, orders.RoleCustomer, "c-1", "")
	if !errors.Is(err, orders.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

// Two actors racing the same order from the same prior status: exactly one
// commit, the loser sees the stale-state conflict.
func TestConcurrentTransitionsSerialize(t *testing.T) {
	svc, st, bc, _, _ := newService(orders.StatusPlaced)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RequestTransition(ctx, "o-1", orders.StatusAccepted, orders.RoleRestaurant, "r-1", "")
		}(i)
	}
	wg.Wait()

	var okCount, conflictCount int
	for _, err := range errs {
		switch {
		case err == nil:
			okCount++
		case errors.Is(err, orders.ErrConflict) || orders.IsInvalidTransition(err):
			conflictCount++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if okCount != 1 || conflictCount != 1 {
		t.Fatalf("ok=%d conflict=%d, want exactly one of each", okCount, conflictCount)
	}
	if st.o.Status != orders.StatusAccepted {
		t.Errorf("final status = %s", st.o.Status)
	}
	if got := len(bc.events("order:o-1")); got != 1 {
		t.Errorf("broadcast %d events for one committed transition", got)
	}
}

// Scenario D: of two racing restaurant requests accepted->preparing and
// accepted->ready, only the structurally valid edge can ever apply.
func TestStructurallyInvalidRaceLoses(t *testing.T) {
	svc, st, _, _, _ := newService(orders.StatusAccepted)
	ctx := context.Background()

	_, errReady := svc.RequestTransition(ctx, "o-1", orders.StatusReady, orders.RoleRestaurant, "r-1", "")
	if !orders.IsInvalidTransition(errReady) {
		t.Fatalf("accepted->ready must be rejected, got %v", errReady)
	}
	if _, err := svc.RequestTransition(ctx, "o-1", orders.StatusPreparing, orders.RoleRestaurant, "r-1", ""); err != nil {
		t.Fatalf("accepted->preparing failed: %v", err)
	}
	if st.o.Status != orders.StatusPreparing {
		t.Errorf("final status = %s", st.o.Status)
	}
}

func TestReadyNotifiesAssignmentService(t *testing.T) {
	svc, _, _, changed, ready := newService(orders.StatusPreparing)

	if _, err := svc.RequestTransition(context.Background(), "o-1", orders.StatusReady, orders.RoleRestaurant, "r-1", ""); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if ready.count() != 1 {
		t.Fatalf("order.ready events = %d, want 1", ready.count())
	}
	if changed.count() != 1 {
		t.Fatalf("order.status.changed events = %d, want 1", changed.count())
	}

	var env orders.Envelope
	if err := json.Unmarshal(ready.msgs[0], &env); err != nil {
		t.Fatalf("bad envelope: %v", err)
	}
	if env.EventType != orders.EventOrderReady || env.CorrelationID != "o-1" {
		t.Errorf("envelope = %+v", env)
	}
	p, err := kafkax.UnwrapPayload[orders.OrderReadyPayload](env.Payload)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if p.OrderID != "o-1" || p.RestaurantID != "r-1" {
		t.Errorf("payload = %+v", p)
	}
}

func TestPickupBindsCourier(t *testing.T) {
	svc, st, bc, _, _ := newService(orders.StatusReady)
	ctx := context.Background()

	res, err := svc.RequestTransition(ctx, "o-1", orders.StatusPickedUp, orders.RoleDelivery, "courier-7", "")
	if err != nil {
		t.Fatalf("pickup failed: %v", err)
	}
	if res.Order.DeliveryPartnerID == nil || *res.Order.DeliveryPartnerID != "courier-7" {
		t.Error("pickup must bind the acting courier")
	}
	ev := decodeFrame(t, bc.events("order:o-1")[0])
	if ev.Payload.DeliveryPartnerID == nil || *ev.Payload.DeliveryPartnerID != "courier-7" {
		t.Error("broadcast payload must carry the courier id")
	}

	// a different courier cannot deliver someone else's order
	if _, err := svc.RequestTransition(ctx, "o-1", orders.StatusDelivered, orders.RoleDelivery, "courier-99", ""); !errors.Is(err, ErrWrongCourier) {
		t.Errorf("want ErrWrongCourier, got %v", err)
	}
	if st.o.Status != orders.StatusPickedUp {
		t.Error("wrong-courier request must not commit")
	}

	// the bound courier completes the delivery
	if _, err := svc.RequestTransition(ctx, "o-1", orders.StatusDelivered, orders.RoleDelivery, "courier-7", ""); err != nil {
		t.Fatalf("delivery failed: %v", err)
	}
}

// End-to-end against the real registry: a session joined before the
// transitions sees exactly one event per commit, in commit order.
func TestViewerSeesCommitsInOrder(t *testing.T) {
	svc, _, _, _, _ := newService(orders.StatusPlaced)
	reg := rooms.NewRegistry()
	svc.Broadcaster = reg

	s := rooms.NewSession("viewer", orders.RoleCustomer, 16)
	s.Activate()
	reg.Join(s, "order:o-1")

	ctx := context.Background()
	steps := []orders.Status{orders.StatusAccepted, orders.StatusPreparing, orders.StatusReady}
	for _, target := range steps {
		if _, err := svc.RequestTransition(ctx, "o-1", target, orders.RoleRestaurant, "r-1", ""); err != nil {
			t.Fatalf("transition to %s: %v", target, err)
		}
	}

	for i, want := range steps {
		select {
		case b := <-s.Events():
			ev := decodeFrame(t, b)
			if ev.Payload.Status != want {
				t.Errorf("event %d status = %s, want %s", i, ev.Payload.Status, want)
			}
		default:
			t.Fatalf("missing event %d", i)
		}
	}
	select {
	case b := <-s.Events():
		t.Fatalf("unexpected extra event: %s", b)
	default:
	}
}

// A session joining after the commits gets no history, but the store query
// returns the correct current state.
func TestLateJoinerResyncsByQuery(t *testing.T) {
	svc, st, _, _, _ := newService(orders.StatusPlaced)
	reg := rooms.NewRegistry()
	svc.Broadcaster = reg
	ctx := context.Background()

	if _, err := svc.RequestTransition(ctx, "o-1", orders.StatusAccepted, orders.RoleRestaurant, "r-1", ""); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	s := rooms.NewSession("late", orders.RoleCustomer, 16)
	s.Activate()
	reg.Join(s, "order:o-1")

	select {
	case b := <-s.Events():
		t.Fatalf("late joiner received %s", b)
	default:
	}
	o, err := st.GetOrder(ctx, "o-1")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if o.Status != orders.StatusAccepted {
		t.Errorf("query status = %s", o.Status)
	}
}

// Scenario C: a restaurant board joined to its room sees the new-order
// signal produced by the checkout flow's order.created event.
func TestOrderCreatedReachesRestaurantBoard(t *testing.T) {
	svc, _, _, _, _ := newService(orders.StatusPlaced)
	reg := rooms.NewRegistry()
	svc.Broadcaster = reg

	board := rooms.NewSession("board", orders.RoleRestaurant, 16)
	board.Activate()
	reg.Join(board, "restaurant:r-1")

	env := orders.Envelope{
		EventID:      "ev-1",
		EventType:    orders.EventOrderCreated,
		EventVersion: 1,
		OccurredAt:   time.Now().UTC(),
		Producer:     "checkout",
		Payload: kafkax.MustMarshal(orders.OrderCreatedPayload{
			OrderID: "o-new", RestaurantID: "r-1", CustomerID: "c-2", TotalCents: 900,
		}),
	}
	msg := kafkago.Message{Value: kafkax.MustMarshal(env)}
	if err := svc.HandleOrderCreated(context.Background(), msg); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	select {
	case b := <-board.Events():
		ev := decodeFrame(t, b)
		if ev.Payload.OrderID != "o-new" || ev.Payload.Status != orders.StatusPlaced {
			t.Errorf("board event = %+v", ev.Payload)
		}
	default:
		t.Fatal("restaurant board missed the new order")
	}
}

// Foreign event types on the topic are skipped without error.
func TestHandleOrderCreatedIgnoresOtherEvents(t *testing.T) {
	svc, _, bc, _, _ := newService(orders.StatusPlaced)
	env := orders.Envelope{EventID: "ev-2", EventType: orders.EventOrderStatusChanged, Payload: []byte(`{}`)}
	if err := svc.HandleOrderCreated(context.Background(), kafkago.Message{Value: kafkax.MustMarshal(env)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bc.byRoom) != 0 {
		t.Error("foreign event must not broadcast")
	}
}
