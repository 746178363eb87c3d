// README: Ledger service: escrow holds, settlements, wallet top-up and payout.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"bazar/internal/payment"
	"bazar/internal/types"
)

type Service struct {
	store    Store
	provider payment.Provider
}

func NewService(store Store, provider payment.Provider) *Service {
	return &Service{store: store, provider: provider}
}

// Hold reserves amount from the payer's available balance for one order.
// No entry is written: the reduction is logical until the hold settles.
func (s *Service) Hold(ctx context.Context, userID types.ID, amount types.Money, orderID types.ID) (types.ID, error) {
	h := &EscrowHold{
		ID:        types.ID(uuid.NewString()),
		OrderID:   orderID,
		UserID:    userID,
		Amount:    amount,
		Status:    HoldHeld,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateHold(ctx, h); err != nil {
		return "", err
	}
	return h.ID, nil
}

// Release converts a held amount into a debit for the payer and a matching
// credit for the payee. Settling an already-settled hold returns
// ErrHoldSettled; callers treating retries as no-ops check for it.
func (s *Service) Release(ctx context.Context, holdID, payeeID types.ID) error {
	h, err := s.store.GetHold(ctx, holdID)
	if err != nil {
		return err
	}
	now := time.Now()
	ok, err := s.store.SettleHold(ctx, holdID, HoldReleased, []Entry{
		{
			ID:             types.ID(uuid.NewString()),
			UserID:         h.UserID,
			Delta:          h.Amount.Neg(),
			Reason:         ReasonEscrowDebit,
			RelatedOrderID: &h.OrderID,
			CreatedAt:      now,
		},
		{
			ID:             types.ID(uuid.NewString()),
			UserID:         payeeID,
			Delta:          h.Amount,
			Reason:         ReasonEscrowCredit,
			RelatedOrderID: &h.OrderID,
			CreatedAt:      now,
		},
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrHoldSettled
	}
	return nil
}

// Refund voids a hold. Funds were never debited, so no entries are needed.
func (s *Service) Refund(ctx context.Context, holdID types.ID) error {
	ok, err := s.store.SettleHold(ctx, holdID, HoldRefunded, nil)
	if err != nil {
		return err
	}
	if !ok {
		return ErrHoldSettled
	}
	return nil
}

func (s *Service) HoldForOrder(ctx context.Context, orderID types.ID) (*EscrowHold, error) {
	return s.store.GetHoldByOrder(ctx, orderID)
}

// Deposit charges the user's card through the Payment Provider and credits
// the wallet, debiting the treasury so the global sum stays at zero.
func (s *Service) Deposit(ctx context.Context, userID types.ID, amount types.Money) error {
	if _, err := s.provider.Charge(ctx, userID, amount); err != nil {
		return err
	}
	now := time.Now()
	return s.store.AppendEntries(ctx, []Entry{
		{ID: types.ID(uuid.NewString()), UserID: userID, Delta: amount, Reason: ReasonDeposit, CreatedAt: now},
		{ID: types.ID(uuid.NewString()), UserID: Treasury, Delta: amount.Neg(), Reason: ReasonTreasuryMove, CreatedAt: now},
	})
}

// Withdraw pays out available funds. Active holds count against the
// withdrawable amount.
func (s *Service) Withdraw(ctx context.Context, userID types.ID, amount types.Money) error {
	available, err := s.AvailableBalance(ctx, userID)
	if err != nil {
		return err
	}
	if available < amount.Amount {
		return ErrInsufficientFunds
	}
	if _, err := s.provider.Payout(ctx, userID, amount); err != nil {
		return err
	}
	now := time.Now()
	return s.store.AppendEntries(ctx, []Entry{
		{ID: types.ID(uuid.NewString()), UserID: userID, Delta: amount.Neg(), Reason: ReasonWithdrawal, CreatedAt: now},
		{ID: types.ID(uuid.NewString()), UserID: Treasury, Delta: amount, Reason: ReasonTreasuryMove, CreatedAt: now},
	})
}

func (s *Service) Balance(ctx context.Context, userID types.ID) (int64, error) {
	return s.store.Balance(ctx, userID)
}

func (s *Service) AvailableBalance(ctx context.Context, userID types.ID) (int64, error) {
	balance, err := s.store.Balance(ctx, userID)
	if err != nil {
		return 0, err
	}
	held, err := s.store.ActiveHoldTotal(ctx, userID)
	if err != nil {
		return 0, err
	}
	return balance - held, nil
}
