// README: Ledger store backed by PostgreSQL. Hold creation and settlement
// run in transactions; the per-account advisory lock serializes balance
// checks for the same user.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bazar/internal/types"
)

type Store interface {
	AppendEntries(ctx context.Context, entries []Entry) error
	// CreateHold checks the payer's available balance and inserts the hold
	// atomically. Returns ErrInsufficientFunds when the check fails.
	CreateHold(ctx context.Context, h *EscrowHold) error
	GetHold(ctx context.Context, holdID types.ID) (*EscrowHold, error)
	GetHoldByOrder(ctx context.Context, orderID types.ID) (*EscrowHold, error)
	// SettleHold flips the hold from `held` to a terminal status and appends
	// the settlement entries in one transaction. Returns false when the hold
	// was no longer `held`.
	SettleHold(ctx context.Context, holdID types.ID, to HoldStatus, entries []Entry) (bool, error)
	Balance(ctx context.Context, userID types.ID) (int64, error)
	ActiveHoldTotal(ctx context.Context, userID types.ID) (int64, error)
	// GlobalSum is the reconciliation probe: sum of every entry system-wide.
	GlobalSum(ctx context.Context) (int64, error)
}

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrHoldNotFound      = errors.New("escrow hold not found")
	ErrHoldSettled       = errors.New("escrow hold already settled")
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) AppendEntries(ctx context.Context, entries []Entry) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for i := range entries {
		if err := appendEntryTx(ctx, tx, &entries[i]); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func appendEntryTx(ctx context.Context, tx pgx.Tx, e *Entry) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO ledger_entries (id, user_id, delta, currency, reason, related_order_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(e.ID),
		string(e.UserID),
		e.Delta.Amount,
		e.Delta.Currency,
		e.Reason,
		toStringPtr(e.RelatedOrderID),
		e.CreatedAt,
	)
	return err
}

func (s *PGStore) CreateHold(ctx context.Context, h *EscrowHold) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Serialize concurrent balance checks for the same payer.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(h.UserID)); err != nil {
		return err
	}

	var available int64
	err = tx.QueryRow(ctx, `
        SELECT COALESCE((SELECT SUM(delta) FROM ledger_entries WHERE user_id = $1), 0)
             - COALESCE((SELECT SUM(amount) FROM escrow_holds WHERE user_id = $1 AND status = 'held'), 0)`,
		string(h.UserID),
	).Scan(&available)
	if err != nil {
		return err
	}
	if available < h.Amount.Amount {
		return ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx, `
        INSERT INTO escrow_holds (id, order_id, user_id, amount, currency, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(h.ID), string(h.OrderID), string(h.UserID),
		h.Amount.Amount, h.Amount.Currency, string(h.Status), h.CreatedAt,
	)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) GetHold(ctx context.Context, holdID types.ID) (*EscrowHold, error) {
	return s.getHold(ctx, `WHERE id = $1`, string(holdID))
}

func (s *PGStore) GetHoldByOrder(ctx context.Context, orderID types.ID) (*EscrowHold, error) {
	return s.getHold(ctx, `WHERE order_id = $1`, string(orderID))
}

func (s *PGStore) getHold(ctx context.Context, where string, arg any) (*EscrowHold, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, order_id, user_id, amount, currency, status, created_at, settled_at
        FROM escrow_holds `+where, arg)

	var h EscrowHold
	var settledAt *time.Time
	err := row.Scan(&h.ID, &h.OrderID, &h.UserID, &h.Amount.Amount, &h.Amount.Currency,
		&h.Status, &h.CreatedAt, &settledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrHoldNotFound
	}
	if err != nil {
		return nil, err
	}
	h.SettledAt = settledAt
	return &h, nil
}

func (s *PGStore) SettleHold(ctx context.Context, holdID types.ID, to HoldStatus, entries []Entry) (bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
        UPDATE escrow_holds SET status = $1, settled_at = NOW()
        WHERE id = $2 AND status = 'held'`,
		string(to), string(holdID),
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	for i := range entries {
		if err := appendEntryTx(ctx, tx, &entries[i]); err != nil {
			return false, err
		}
	}
	return true, tx.Commit(ctx)
}

func (s *PGStore) Balance(ctx context.Context, userID types.ID) (int64, error) {
	var sum int64
	err := s.db.QueryRow(ctx, `
        SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE user_id = $1`,
		string(userID)).Scan(&sum)
	return sum, err
}

func (s *PGStore) ActiveHoldTotal(ctx context.Context, userID types.ID) (int64, error) {
	var sum int64
	err := s.db.QueryRow(ctx, `
        SELECT COALESCE(SUM(amount), 0) FROM escrow_holds WHERE user_id = $1 AND status = 'held'`,
		string(userID)).Scan(&sum)
	return sum, err
}

func (s *PGStore) GlobalSum(ctx context.Context) (int64, error) {
	var sum int64
	err := s.db.QueryRow(ctx, `SELECT COALESCE(SUM(delta), 0) FROM ledger_entries`).Scan(&sum)
	return sum, err
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
