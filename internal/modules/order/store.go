// README: Order store backed by PostgreSQL; row-locked transactions for rerouting.
package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"relaydispatch/internal/types"
)

var ErrNotFound = errors.New("order not found")

// Tx is the transaction-scoped slice of the store the materializer uses
// while holding the order row lock.
type Tx interface {
	FirstDelivery(ctx context.Context, orderID types.ID) (*Delivery, error)
	UpdateDeliveryCoords(ctx context.Context, deliveryID types.ID, p types.Point) error
	ReplaceLegs(ctx context.Context, orderID types.ID, legs []Leg) error
	UpdateRouting(ctx context.Context, o *Order) error
}

// Store is the persistence dependency of the materializer.
type Store interface {
	// WithLockedOrder runs fn inside one transaction with a SELECT ... FOR
	// UPDATE lock on the order row; concurrent reruns of the same order
	// serialize on it.
	WithLockedOrder(ctx context.Context, orderID types.ID, fn func(ctx context.Context, tx Tx, o *Order) error) error
	// MarkRoutingFailed is the best-effort terminal write used by the
	// top-level catch; it runs on its own connection because the original
	// transaction may have rolled back.
	MarkRoutingFailed(ctx context.Context, orderID types.ID, msg string) error
	AvailableRiders(ctx context.Context, limit int) ([]Rider, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) WithLockedOrder(ctx context.Context, orderID types.ID, fn func(ctx context.Context, tx Tx, o *Order) error) error {
	pgtx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer pgtx.Rollback(ctx)

	o, err := scanOrderForUpdate(ctx, pgtx, orderID)
	if err != nil {
		return err
	}

	if err := fn(ctx, &pgTx{tx: pgtx}, o); err != nil {
		return err
	}
	return pgtx.Commit(ctx)
}

func scanOrderForUpdate(ctx context.Context, tx pgx.Tx, orderID types.ID) (*Order, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, order_number, merchant_id, pickup_address, pickup_lat, pickup_lng,
		       total_amount, payment_method, is_relay_order,
		       routing_status, routing_error, distance_km, duration_minutes,
		       relay_legs_count, suggested_rider_id, escrow_held, escrow_released, created_at
		FROM orders
		WHERE id = $1
		FOR UPDATE`, string(orderID))

	var o Order
	var lat, lng *float64
	var riderID *string
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.MerchantID, &o.PickupAddress, &lat, &lng,
		&o.TotalAmount, &o.PaymentMethod, &o.IsRelayOrder,
		&o.RoutingStatus, &o.RoutingError, &o.DistanceKm, &o.DurationMinutes,
		&o.RelayLegsCount, &riderID, &o.EscrowHeld, &o.EscrowReleased, &o.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		o.PickupPoint = &types.Point{Lat: *lat, Lng: *lng}
	}
	if riderID != nil {
		r := types.ID(*riderID)
		o.SuggestedRiderID = &r
	}
	return &o, nil
}

func (s *PGStore) MarkRoutingFailed(ctx context.Context, orderID types.ID, msg string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE orders
		SET routing_status = $1, routing_error = $2
		WHERE id = $3`,
		string(RoutingFailed), msg, string(orderID))
	return err
}

func (s *PGStore) AvailableRiders(ctx context.Context, limit int) ([]Rider, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, current_lat, current_lng
		FROM riders
		WHERE is_authorized = TRUE
		  AND is_online = TRUE
		  AND current_lat IS NOT NULL
		  AND current_lng IS NOT NULL
		ORDER BY id
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var riders []Rider
	for rows.Next() {
		var r Rider
		var lat, lng float64
		if err := rows.Scan(&r.ID, &lat, &lng); err != nil {
			return nil, err
		}
		r.Position = &types.Point{Lat: lat, Lng: lng}
		riders = append(riders, r)
	}
	return riders, rows.Err()
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) FirstDelivery(ctx context.Context, orderID types.ID) (*Delivery, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, order_id, dropoff_address, dropoff_lat, dropoff_lng,
		       receiver_name, receiver_phone, status
		FROM deliveries
		WHERE order_id = $1
		ORDER BY id
		LIMIT 1`, string(orderID))

	var d Delivery
	var lat, lng *float64
	err := row.Scan(&d.ID, &d.OrderID, &d.DropoffAddress, &lat, &lng,
		&d.ReceiverName, &d.ReceiverPhone, &d.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		d.DropoffPoint = &types.Point{Lat: *lat, Lng: *lng}
	}
	return &d, nil
}

func (t *pgTx) UpdateDeliveryCoords(ctx context.Context, deliveryID types.ID, p types.Point) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE deliveries
		SET dropoff_lat = $1, dropoff_lng = $2
		WHERE id = $3`, p.Lat, p.Lng, string(deliveryID))
	return err
}

// ReplaceLegs deletes and recreates the order's legs. Only safe because the
// caller holds the order row lock in the same transaction.
func (t *pgTx) ReplaceLegs(ctx context.Context, orderID types.ID, legs []Leg) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM order_legs WHERE order_id = $1`, string(orderID)); err != nil {
		return err
	}
	for _, l := range legs {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO order_legs (
				order_id, leg_number, start_node_id, end_node_id,
				distance_km, duration_minutes, rider_payout, handoff_pin, rider_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			string(orderID), l.LegNumber,
			idPtr(l.StartNodeID), idPtr(l.EndNodeID),
			l.DistanceKm, l.DurationMinutes, l.RiderPayout, l.HandoffPIN,
			idPtr(l.RiderID),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) UpdateRouting(ctx context.Context, o *Order) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE orders
		SET routing_status = $1,
		    routing_error = $2,
		    distance_km = $3,
		    duration_minutes = $4,
		    relay_legs_count = $5,
		    suggested_rider_id = $6
		WHERE id = $7`,
		string(o.RoutingStatus), o.RoutingError,
		o.DistanceKm, o.DurationMinutes, o.RelayLegsCount,
		idPtr(o.SuggestedRiderID), string(o.ID))
	return err
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
