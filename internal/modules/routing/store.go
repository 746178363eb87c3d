// README: Route batch and route store backed by PostgreSQL. Batch creation
// is idempotent per (date, slot) via the unique constraint.
package routing

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bazar/internal/types"
)

type Store interface {
	// CreateBatch inserts the batch unless one already exists for its
	// (date, slot). Returns false without error when it already existed.
	CreateBatch(ctx context.Context, b *RouteBatch) (bool, error)
	GetBatch(ctx context.Context, id types.ID) (*RouteBatch, error)
	GetBatchBySlot(ctx context.Context, date string, slot TimeSlot) (*RouteBatch, error)
	ListBatches(ctx context.Context, limit int) ([]*RouteBatch, error)
	// UpdateBatchStatus is a compare-and-set on the batch status. Returns
	// false when the batch was not in `from`.
	UpdateBatchStatus(ctx context.Context, id types.ID, from, to BatchStatus) (bool, error)
	SaveRoutes(ctx context.Context, routes []*Route) error
	GetRoute(ctx context.Context, id types.ID) (*Route, error)
	ListRoutesByBatch(ctx context.Context, batchID types.ID) ([]*Route, error)
	AssignDriver(ctx context.Context, routeID, driverID types.ID) error
	// CompleteStop records the driver finishing one stop. Returns false
	// when the stop does not exist or was already completed.
	CompleteStop(ctx context.Context, routeID types.ID, seq int, at time.Time) (bool, error)
}

var (
	ErrNotFound = errors.New("route not found")
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) CreateBatch(ctx context.Context, b *RouteBatch) (bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
        INSERT INTO route_batches (id, date, time_slot, status, created_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (date, time_slot) DO NOTHING`,
		string(b.ID), b.Date, string(b.Slot), string(b.Status), b.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	for _, oid := range b.OrderIDs {
		if _, err := tx.Exec(ctx, `
            INSERT INTO route_batch_orders (batch_id, order_id) VALUES ($1, $2)`,
			string(b.ID), string(oid),
		); err != nil {
			return false, err
		}
	}
	return true, tx.Commit(ctx)
}

func (s *PGStore) GetBatch(ctx context.Context, id types.ID) (*RouteBatch, error) {
	return s.getBatch(ctx, `WHERE id = $1`, string(id))
}

func (s *PGStore) GetBatchBySlot(ctx context.Context, date string, slot TimeSlot) (*RouteBatch, error) {
	return s.getBatch(ctx, `WHERE date = $1 AND time_slot = $2`, date, string(slot))
}

func (s *PGStore) getBatch(ctx context.Context, where string, args ...any) (*RouteBatch, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, date, time_slot, status, created_at
        FROM route_batches `+where, args...)

	var b RouteBatch
	err := row.Scan(&b.ID, &b.Date, &b.Slot, &b.Status, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
        SELECT order_id FROM route_batch_orders WHERE batch_id = $1`, string(b.ID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var oid string
		if err := rows.Scan(&oid); err != nil {
			return nil, err
		}
		b.OrderIDs = append(b.OrderIDs, types.ID(oid))
	}
	return &b, rows.Err()
}

func (s *PGStore) ListBatches(ctx context.Context, limit int) ([]*RouteBatch, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, date, time_slot, status, created_at
        FROM route_batches ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []*RouteBatch
	for rows.Next() {
		var b RouteBatch
		if err := rows.Scan(&b.ID, &b.Date, &b.Slot, &b.Status, &b.CreatedAt); err != nil {
			return nil, err
		}
		batches = append(batches, &b)
	}
	return batches, rows.Err()
}

func (s *PGStore) UpdateBatchStatus(ctx context.Context, id types.ID, from, to BatchStatus) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE route_batches SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), string(id), string(from),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) SaveRoutes(ctx context.Context, routes []*Route) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, r := range routes {
		_, err := tx.Exec(ctx, `
            INSERT INTO routes (id, batch_id, driver_id, total_distance_km, total_duration_sec, infeasible)
            VALUES ($1, $2, $3, $4, $5, $6)`,
			string(r.ID), string(r.BatchID), toStringPtr(r.DriverID),
			r.TotalDistanceKm, int64(r.TotalDuration.Seconds()), r.Infeasible,
		)
		if err != nil {
			return err
		}
		for _, st := range r.Stops {
			_, err := tx.Exec(ctx, `
                INSERT INTO route_stops (route_id, seq, order_id, kind, lat, lng, eta_start, eta_end)
                VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				string(r.ID), st.Seq, string(st.OrderID), string(st.Kind),
				st.Location.Lat, st.Location.Lng, st.ETAStart, st.ETAEnd,
			)
			if err != nil {
				return err
			}
		}
	}
	return tx.Commit(ctx)
}

func (s *PGStore) GetRoute(ctx context.Context, id types.ID) (*Route, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, batch_id, driver_id, total_distance_km, total_duration_sec, infeasible
        FROM routes WHERE id = $1`, string(id))

	r, err := scanRoute(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadStops(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *PGStore) ListRoutesByBatch(ctx context.Context, batchID types.ID) ([]*Route, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, batch_id, driver_id, total_distance_km, total_duration_sec, infeasible
        FROM routes WHERE batch_id = $1`, string(batchID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routes []*Route
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		routes = append(routes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, r := range routes {
		if err := s.loadStops(ctx, r); err != nil {
			return nil, err
		}
	}
	return routes, nil
}

func scanRoute(row pgx.Row) (*Route, error) {
	var r Route
	var driverID *string
	var durationSec int64
	err := row.Scan(&r.ID, &r.BatchID, &driverID, &r.TotalDistanceKm, &durationSec, &r.Infeasible)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if driverID != nil {
		id := types.ID(*driverID)
		r.DriverID = &id
	}
	r.TotalDuration = time.Duration(durationSec) * time.Second
	return &r, nil
}

func (s *PGStore) loadStops(ctx context.Context, r *Route) error {
	rows, err := s.db.Query(ctx, `
        SELECT seq, order_id, kind, lat, lng, eta_start, eta_end, completed_at
        FROM route_stops WHERE route_id = $1 ORDER BY seq`, string(r.ID))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var st Stop
		if err := rows.Scan(&st.Seq, &st.OrderID, &st.Kind,
			&st.Location.Lat, &st.Location.Lng,
			&st.ETAStart, &st.ETAEnd, &st.CompletedAt); err != nil {
			return err
		}
		r.Stops = append(r.Stops, st)
	}
	return rows.Err()
}

func (s *PGStore) AssignDriver(ctx context.Context, routeID, driverID types.ID) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE routes SET driver_id = $1 WHERE id = $2`,
		string(driverID), string(routeID),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) CompleteStop(ctx context.Context, routeID types.ID, seq int, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE route_stops SET completed_at = $1
        WHERE route_id = $2 AND seq = $3 AND completed_at IS NULL`,
		at, string(routeID), seq,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
