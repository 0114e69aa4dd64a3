package orders

import "time"

type Order struct {
	ID                string
	RestaurantID      string
	CustomerID        string
	DeliveryPartnerID *string // nil until a courier is bound on pickup
	Status            Status
	Items             []LineItem
	TotalCents        int
	FinalCents        int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// LineItem is frozen at placement; name and price are snapshots.
type LineItem struct {
	Name       string
	PriceCents int
	Qty        int
}
