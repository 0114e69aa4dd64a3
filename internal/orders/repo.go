package orders

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the record-store adapter. The orders table is owned by the
// checkout/back-office services; this subsystem only reads rows and
// compare-and-swaps the status column.
type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, restaurant_id, customer_id, delivery_partner_id,
		       status, total_cents, final_cents, created_at, updated_at
		FROM orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.RestaurantID, &o.CustomerID, &o.DeliveryPartnerID,
			&o.Status, &o.TotalCents, &o.FinalCents, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.DB.Query(ctx, `
		SELECT name, price_cents, qty FROM order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(&it.Name, &it.PriceCents, &it.Qty); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}

// UpdateOrderStatus moves the order to next iff it is still at expected.
// The WHERE clause is the compare-and-swap guard: two actors racing from the
// same prior status cannot both match, the loser gets ErrConflict. partnerID
// is written only when the transition binds a courier.
func (r *Repo) UpdateOrderStatus(ctx context.Context, orderID string, next, expected Status, at time.Time, partnerID *string) (*Order, error) {
	var ct int64
	if partnerID != nil {
		c, err := r.DB.Exec(ctx, `
			UPDATE orders SET status=$2, updated_at=$3, delivery_partner_id=$4
			WHERE id=$1 AND status=$5 AND delivery_partner_id IS NULL`,
			orderID, next, at, *partnerID, expected)
		if err != nil {
			return nil, err
		}
		ct = c.RowsAffected()
	} else {
		c, err := r.DB.Exec(ctx, `
			UPDATE orders SET status=$2, updated_at=$3
			WHERE id=$1 AND status=$4`,
			orderID, next, at, expected)
		if err != nil {
			return nil, err
		}
		ct = c.RowsAffected()
	}
	if ct == 0 {
		// Distinguish a vanished order from a lost race.
		var cur Status
		err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&cur)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return nil, ErrConflict
	}
	return r.GetOrder(ctx, orderID)
}

// ListActiveByRestaurant returns the restaurant's non-terminal orders,
// oldest first, for board resynchronization after a reconnect.
func (r *Repo) ListActiveByRestaurant(ctx context.Context, restaurantID string) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, restaurant_id, customer_id, delivery_partner_id,
		       status, total_cents, final_cents, created_at, updated_at
		FROM orders
		WHERE restaurant_id=$1 AND status NOT IN ('delivered','cancelled')
		ORDER BY created_at`, restaurantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.RestaurantID, &o.CustomerID, &o.DeliveryPartnerID,
			&o.Status, &o.TotalCents, &o.FinalCents, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
