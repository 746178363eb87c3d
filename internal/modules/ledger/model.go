// README: Ledger entries and escrow holds. Entries are append-only; a
// wallet balance is always derived, never stored.
package ledger

import (
	"time"

	"bazar/internal/types"
)

type HoldStatus string

const (
	HoldHeld     HoldStatus = "held"
	HoldReleased HoldStatus = "released"
	HoldRefunded HoldStatus = "refunded"
)

// Treasury is the system account that balances deposits and withdrawals so
// the global entry sum stays at zero.
const Treasury types.ID = "treasury"

// Entry is one immutable balance change. Reversals are new entries.
type Entry struct {
	ID             types.ID
	UserID         types.ID
	Delta          types.Money
	Reason         string
	RelatedOrderID *types.ID
	CreatedAt      time.Time
}

// EscrowHold logically reduces the payer's available balance without
// touching the entry log. It settles exactly once.
type EscrowHold struct {
	ID        types.ID
	OrderID   types.ID
	UserID    types.ID
	Amount    types.Money
	Status    HoldStatus
	CreatedAt time.Time
	SettledAt *time.Time
}

const (
	ReasonDeposit       = "deposit"
	ReasonWithdrawal    = "withdrawal"
	ReasonEscrowDebit   = "escrow_debit"
	ReasonEscrowCredit  = "escrow_credit"
	ReasonTreasuryMove  = "treasury_move"
)
