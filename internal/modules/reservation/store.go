// README: Reservation store backed by PostgreSQL. Transitions are
// compare-and-set on (product_id, expected status).
package reservation

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bazar/internal/types"
)

type Store interface {
	// AddProduct registers a listing as available. Idempotent.
	AddProduct(ctx context.Context, productID types.ID) error
	Get(ctx context.Context, productID types.ID) (*Reservation, error)
	// CAS moves the product from the expected status to the new one,
	// updating the order binding and TTL. Returns false when another writer
	// got there first.
	CAS(ctx context.Context, productID types.ID, from, to Status, orderID *types.ID, until *time.Time) (bool, error)
}

var (
	ErrNotFound = errors.New("product not found")
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) AddProduct(ctx context.Context, productID types.ID) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO product_reservations (product_id, status, updated_at)
        VALUES ($1, 'available', NOW())
        ON CONFLICT (product_id) DO NOTHING`,
		string(productID),
	)
	return err
}

func (s *PGStore) Get(ctx context.Context, productID types.ID) (*Reservation, error) {
	row := s.db.QueryRow(ctx, `
        SELECT product_id, status, reserved_for_order_id, reserved_until, updated_at
        FROM product_reservations WHERE product_id = $1`,
		string(productID),
	)
	var r Reservation
	var orderID *string
	err := row.Scan(&r.ProductID, &r.Status, &orderID, &r.ReservedUntil, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if orderID != nil {
		id := types.ID(*orderID)
		r.ReservedForOrderID = &id
	}
	return &r, nil
}

func (s *PGStore) CAS(ctx context.Context, productID types.ID, from, to Status, orderID *types.ID, until *time.Time) (bool, error) {
	var oid *string
	if orderID != nil {
		v := string(*orderID)
		oid = &v
	}
	tag, err := s.db.Exec(ctx, `
        UPDATE product_reservations
        SET status = $1, reserved_for_order_id = $2, reserved_until = $3, updated_at = NOW()
        WHERE product_id = $4 AND status = $5`,
		string(to), oid, until, string(productID), string(from),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
