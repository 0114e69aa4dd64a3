package orders

import (
	"fmt"
	"time"
)

// Transition is the side-effect descriptor produced by a validated request.
// The caller persists first, then notifies; the machine itself never touches
// the broadcaster or the record store.
type Transition struct {
	OrderID      string
	From, To     Status
	By           Role
	At           time.Time
	Rooms        []string // rooms that must receive the status update
	NotifyAssign bool     // order became ready: ping the assignment service
	BindPartner  bool     // delivery actor takes the order on pickup
}

// RoomForOrder and RoomForRestaurant build the two room-key shapes.
func RoomForOrder(orderID string) string           { return "order:" + orderID }
func RoomForRestaurant(restaurantID string) string { return "restaurant:" + restaurantID }

// RequestTransition validates target against the order's current status and
// the requesting role. On success it returns the descriptor; the order value
// is not mutated. Failure leaves everything unchanged and reports either an
// *InvalidTransitionError or a validation error for unknown inputs.
func RequestTransition(o *Order, target Status, role Role) (*Transition, error) {
	if o == nil {
		return nil, ErrNotFound
	}
	if !ValidStatus(target) {
		return nil, fmt.Errorf("unknown status %q", target)
	}
	if !ValidRole(role) {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	if !CanTransition(o.Status, target) || !RoleAllows(role, o.Status, target) {
		return nil, &InvalidTransitionError{From: o.Status, To: target, Role: role, Allowed: AllowedNext(o.Status)}
	}

	t := &Transition{
		OrderID: o.ID,
		From:    o.Status,
		To:      target,
		By:      role,
		At:      time.Now().UTC(),
		// Every committed change goes to the order room, and to the
		// restaurant room so the board stays current even for
		// customer-initiated cancellations.
		Rooms: []string{RoomForOrder(o.ID), RoomForRestaurant(o.RestaurantID)},
	}
	if target == StatusReady {
		t.NotifyAssign = true
	}
	if role == RoleDelivery && target == StatusPickedUp && o.DeliveryPartnerID == nil {
		t.BindPartner = true
	}
	return t, nil
}
