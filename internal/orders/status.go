package orders

// Status is the order lifecycle state.
type Status string

const (
	StatusPlaced    Status = "placed"
	StatusAccepted  Status = "accepted"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusPickedUp  Status = "picked_up"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// Role of the actor requesting a transition.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleRestaurant Role = "restaurant"
	RoleDelivery   Role = "delivery"
	RoleAdmin      Role = "admin"
)

// validNext is the transition graph. cancelled is reachable only while the
// restaurant has not finished preparing.
var validNext = map[Status]map[Status]bool{
	StatusPlaced:    {StatusAccepted: true, StatusCancelled: true},
	StatusAccepted:  {StatusPreparing: true, StatusCancelled: true},
	StatusPreparing: {StatusReady: true, StatusCancelled: true},
	StatusReady:     {StatusPickedUp: true},
	StatusPickedUp:  {StatusDelivered: true},
	StatusDelivered: {},
	StatusCancelled: {},
}

// roleEdges restricts which edges each role may request. Admin bypasses the
// role restriction but never the graph itself.
var roleEdges = map[Role]map[Status]map[Status]bool{
	RoleCustomer: {
		StatusPlaced:    {StatusCancelled: true},
		StatusAccepted:  {StatusCancelled: true},
		StatusPreparing: {StatusCancelled: true},
	},
	RoleRestaurant: {
		StatusPlaced:    {StatusAccepted: true},
		StatusAccepted:  {StatusPreparing: true},
		StatusPreparing: {StatusReady: true},
	},
	RoleDelivery: {
		StatusReady:    {StatusPickedUp: true},
		StatusPickedUp: {StatusDelivered: true},
	},
}

// ValidStatus reports whether s is a known lifecycle state.
func ValidStatus(s Status) bool {
	_, ok := validNext[s]
	return ok
}

// ValidRole reports whether r is a known actor role.
func ValidRole(r Role) bool {
	switch r {
	case RoleCustomer, RoleRestaurant, RoleDelivery, RoleAdmin:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are permitted from s.
func Terminal(s Status) bool {
	return ValidStatus(s) && len(validNext[s]) == 0
}

// CanTransition reports whether from->to is an edge of the graph.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// RoleAllows reports whether role may request the from->to edge. The edge
// must already be structurally legal.
func RoleAllows(role Role, from, to Status) bool {
	if role == RoleAdmin {
		return CanTransition(from, to)
	}
	return roleEdges[role][from][to]
}

// AllowedNext returns the statuses reachable from s in one step. Used to
// build InvalidTransition rejections.
func AllowedNext(s Status) []Status {
	order := []Status{StatusAccepted, StatusPreparing, StatusReady, StatusPickedUp, StatusDelivered, StatusCancelled}
	var out []Status
	for _, to := range order {
		if validNext[s][to] {
			out = append(out, to)
		}
	}
	return out
}
