// README: Order store backed by PostgreSQL. Transitions go through a
// compare-and-set on (status, status_version).
package order

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bazar/internal/types"
)

// StatusUpdate carries the fields a transition may set alongside the status.
type StatusUpdate struct {
	RouteID         *types.ID
	DisputeDeadline *time.Time
	DisputeReason   *string
}

type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id types.ID) (*Order, error)
	// UpdateStatus is the serialization point for one order: it succeeds
	// only when status and version still match what the caller observed.
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, upd StatusUpdate) (bool, error)
	AppendEvent(ctx context.Context, e *Event) error
	// ListEvents returns an order's state events oldest first.
	ListEvents(ctx context.Context, orderID types.ID) ([]*Event, error)
	// ListDeliveredDue returns delivered orders whose dispute deadline has
	// passed; the auto-release sweep feeds on it.
	ListDeliveredDue(ctx context.Context, now time.Time, limit int) ([]*Order, error)
	// ListConfirmedBetween returns orders confirmed in [from, to); the
	// batching checkpoints feed on it.
	ListConfirmedBetween(ctx context.Context, from, to time.Time) ([]*Order, error)
}

var ErrNotFound = errors.New("order not found")

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, o *Order) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO orders (
            id, buyer_id, seller_id, product_id, amount, currency, payment_method,
            status, status_version, hold_id, route_id,
            pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
            created_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7,
            $8, $9, $10, $11,
            $12, $13, $14, $15,
            $16
        )`,
		string(o.ID), string(o.BuyerID), string(o.SellerID), string(o.ProductID),
		o.Amount.Amount, o.Amount.Currency, string(o.PaymentMethod),
		string(o.Status), o.StatusVersion, toStringPtr(o.HoldID), toStringPtr(o.RouteID),
		o.PickupLocation.Lat, o.PickupLocation.Lng,
		o.DropoffLocation.Lat, o.DropoffLocation.Lng,
		o.CreatedAt,
	)
	return err
}

const orderColumns = `
        id, buyer_id, seller_id, product_id, amount, currency, payment_method,
        status, status_version, hold_id, route_id,
        pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
        created_at, confirmed_at, delivered_at, dispute_deadline, dispute_reason`

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id))
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

func (s *PGStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, upd StatusUpdate) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE orders
        SET status = $1,
            status_version = status_version + 1,
            route_id = COALESCE($2, route_id),
            dispute_deadline = COALESCE($3, dispute_deadline),
            dispute_reason = COALESCE($4, dispute_reason),
            confirmed_at = CASE WHEN $1 = 'confirmed' THEN NOW() ELSE confirmed_at END,
            delivered_at = CASE WHEN $1 = 'delivered' THEN NOW() ELSE delivered_at END
        WHERE id = $5 AND status = $6 AND status_version = $7`,
		string(to),
		toStringPtr(upd.RouteID),
		upd.DisputeDeadline,
		upd.DisputeReason,
		string(id),
		string(from),
		version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO order_state_events (
            order_id, from_status, to_status, actor_type, actor_id, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.OrderID), string(e.FromStatus), string(e.ToStatus),
		e.ActorType, toStringPtr(e.ActorID), e.CreatedAt,
	)
	return err
}

func (s *PGStore) ListEvents(ctx context.Context, orderID types.ID) ([]*Event, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, order_id, from_status, to_status, actor_type, actor_id, created_at
        FROM order_state_events
        WHERE order_id = $1
        ORDER BY id`, string(orderID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Event
	for rows.Next() {
		var e Event
		var actorID *string
		if err := rows.Scan(&e.ID, &e.OrderID, &e.FromStatus, &e.ToStatus, &e.ActorType, &actorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actorID != nil {
			id := types.ID(*actorID)
			e.ActorID = &id
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *PGStore) ListDeliveredDue(ctx context.Context, now time.Time, limit int) ([]*Order, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+orderColumns+`
        FROM orders
        WHERE status = 'delivered' AND dispute_deadline <= $1
        ORDER BY dispute_deadline
        LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *PGStore) ListConfirmedBetween(ctx context.Context, from, to time.Time) ([]*Order, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+orderColumns+`
        FROM orders
        WHERE status = 'confirmed' AND confirmed_at >= $1 AND confirmed_at < $2
        ORDER BY confirmed_at`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func scanOrders(rows pgx.Rows) ([]*Order, error) {
	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var holdID, routeID, disputeReason *string
	err := row.Scan(
		&o.ID, &o.BuyerID, &o.SellerID, &o.ProductID,
		&o.Amount.Amount, &o.Amount.Currency, &o.PaymentMethod,
		&o.Status, &o.StatusVersion, &holdID, &routeID,
		&o.PickupLocation.Lat, &o.PickupLocation.Lng,
		&o.DropoffLocation.Lat, &o.DropoffLocation.Lng,
		&o.CreatedAt, &o.ConfirmedAt, &o.DeliveredAt, &o.DisputeDeadline, &disputeReason,
	)
	if err != nil {
		return nil, err
	}
	if holdID != nil {
		id := types.ID(*holdID)
		o.HoldID = &id
	}
	if routeID != nil {
		id := types.ID(*routeID)
		o.RouteID = &id
	}
	o.DisputeReason = disputeReason
	return &o, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
