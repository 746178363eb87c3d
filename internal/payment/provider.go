// README: Payment Provider port. The core never talks to card networks directly.
package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"bazar/internal/types"
)

var ErrDeclined = errors.New("payment declined")

// Provider is the external payment capability: card charges for wallet
// top-ups and payouts for withdrawals.
type Provider interface {
	Charge(ctx context.Context, userID types.ID, amount types.Money) (receiptID types.ID, err error)
	Payout(ctx context.Context, userID types.ID, amount types.Money) (receiptID types.ID, err error)
}

// FakeProvider approves everything and mints receipt IDs. Used in local
// runs and tests; a real gateway adapter implements the same interface.
type FakeProvider struct {
	// DeclineOver, when non-zero, declines charges above this amount.
	DeclineOver int64
}

func (p *FakeProvider) Charge(ctx context.Context, userID types.ID, amount types.Money) (types.ID, error) {
	if p.DeclineOver > 0 && amount.Amount > p.DeclineOver {
		return "", ErrDeclined
	}
	return types.ID(uuid.NewString()), nil
}

func (p *FakeProvider) Payout(ctx context.Context, userID types.ID, amount types.Money) (types.ID, error) {
	return types.ID(uuid.NewString()), nil
}
