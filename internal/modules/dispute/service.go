// README: Dispute resolver: operator-mediated outcomes for disputed orders.
package dispute

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"bazar/internal/ai"
	"bazar/internal/modules/order"
	"bazar/internal/types"
)

type Outcome string

const (
	OutcomeRefund  Outcome = "refund"
	OutcomeRelease Outcome = "release"
)

var (
	ErrNotDisputed     = errors.New("order is not disputed")
	ErrAlreadyResolved = errors.New("dispute already resolved with a different outcome")
	ErrBadOutcome      = errors.New("unknown outcome")
)

type Service struct {
	orders *order.Service
	triage ai.TriageProvider
	log    *logrus.Logger
}

// NewService wires the resolver. triage may be nil; Suggest then reports
// that no assistant is configured.
func NewService(orders *order.Service, triage ai.TriageProvider, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.New()
	}
	return &Service{orders: orders, triage: triage, log: log}
}

type ResolveCommand struct {
	OrderID    types.ID
	Outcome    Outcome
	OperatorID types.ID
}

// Resolve finalizes a disputed order. Terminal and idempotent per order:
// retrying with the same outcome is a no-op success, a different outcome
// after resolution fails with ErrAlreadyResolved.
func (s *Service) Resolve(ctx context.Context, cmd ResolveCommand) error {
	if cmd.Outcome != OutcomeRefund && cmd.Outcome != OutcomeRelease {
		return ErrBadOutcome
	}
	o, err := s.orders.Get(ctx, cmd.OrderID)
	if err != nil {
		return err
	}

	switch o.Status {
	case order.StatusDisputed:
		// fall through to the transition below
	case order.StatusRefunded, order.StatusReleased:
		// Terminal. A retry of the same outcome is a no-op, but only when
		// the order actually went through a dispute; an auto-released order
		// was never disputed and there is nothing here to resolve.
		disputed, err := s.wasDisputed(ctx, o.ID)
		if err != nil {
			return err
		}
		if !disputed {
			return ErrNotDisputed
		}
		if (o.Status == order.StatusRefunded && cmd.Outcome == OutcomeRefund) ||
			(o.Status == order.StatusReleased && cmd.Outcome == OutcomeRelease) {
			return nil
		}
		return ErrAlreadyResolved
	default:
		return ErrNotDisputed
	}

	var rerr error
	if cmd.Outcome == OutcomeRefund {
		rerr = s.orders.ResolveRefund(ctx, cmd.OrderID, cmd.OperatorID)
	} else {
		rerr = s.orders.ResolveRelease(ctx, cmd.OrderID, cmd.OperatorID)
	}
	if errors.Is(rerr, order.ErrInvalidTransition) || errors.Is(rerr, order.ErrConflict) {
		// Someone resolved concurrently; reread and apply the idempotency rule.
		o, err := s.orders.Get(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		if (o.Status == order.StatusRefunded && cmd.Outcome == OutcomeRefund) ||
			(o.Status == order.StatusReleased && cmd.Outcome == OutcomeRelease) {
			return nil
		}
		return ErrAlreadyResolved
	}
	if rerr != nil {
		return rerr
	}
	s.log.WithFields(logrus.Fields{
		"order_id": cmd.OrderID,
		"outcome":  cmd.Outcome,
		"operator": cmd.OperatorID,
	}).Info("dispute resolved")
	return nil
}

// wasDisputed consults the order's event log for a transition into the
// disputed status.
func (s *Service) wasDisputed(ctx context.Context, orderID types.ID) (bool, error) {
	events, err := s.orders.History(ctx, orderID)
	if err != nil {
		return false, err
	}
	for _, e := range events {
		if e.ToStatus == order.StatusDisputed {
			return true, nil
		}
	}
	return false, nil
}

// Suggest asks the triage assistant for an advisory outcome. Failures are
// soft: the operator console simply shows no suggestion.
func (s *Service) Suggest(ctx context.Context, orderID types.ID) (*ai.TriageResult, error) {
	if s.triage == nil {
		return nil, errors.New("triage assistant not configured")
	}
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusDisputed {
		return nil, ErrNotDisputed
	}
	reason := ""
	if o.DisputeReason != nil {
		reason = *o.DisputeReason
	}
	deliveredAgo := "unknown"
	if o.DeliveredAt != nil {
		deliveredAgo = time.Since(*o.DeliveredAt).Round(time.Minute).String()
	}
	return s.triage.SuggestResolution(ctx, ai.TriageInput{
		OrderID:       string(o.ID),
		AmountMinor:   o.Amount.Amount,
		Currency:      o.Amount.Currency,
		PaymentMethod: string(o.PaymentMethod),
		DisputeReason: reason,
		DeliveredAgo:  deliveredAgo,
	})
}
