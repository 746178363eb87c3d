// README: Order service implements the escrow-backed fulfillment state
// machine and its persistence.
package order

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bazar/internal/modules/ledger"
	"bazar/internal/modules/reservation"
	"bazar/internal/notify"
	"bazar/internal/retry"
	"bazar/internal/types"
)

var (
	ErrProductUnavailable   = errors.New("product unavailable")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrUnauthorized         = errors.New("actor not authorized")
	ErrInvalidTransition    = errors.New("invalid state transition")
	ErrDisputeWindowExpired = errors.New("dispute window expired")
	ErrNotRouted            = errors.New("order not part of a dispatched batch")
	ErrConflict             = errors.New("order state conflict")
	ErrBadRequest           = errors.New("bad request")
)

// RouteDirectory answers whether an order is a stop on a route that belongs
// to a dispatched batch. Implemented by the routing module; wired in main to
// avoid a module cycle.
type RouteDirectory interface {
	IsOrderOnDispatchedRoute(ctx context.Context, orderID, routeID types.ID) (bool, error)
}

// How long a pending order may sit on its product reservation before the
// listing layer is allowed to reclaim it.
const pendingReservationTTL = 24 * time.Hour

type Deps struct {
	Store         Store
	Wallet        *ledger.Service
	Stock         *reservation.Service
	Routes        RouteDirectory
	Notifier      notify.Notifier
	Log           *logrus.Logger
	DisputeWindow time.Duration
}

type Service struct {
	store         Store
	wallet        *ledger.Service
	stock         *reservation.Service
	routes        RouteDirectory
	notifier      notify.Notifier
	log           *logrus.Logger
	disputeWindow time.Duration
}

func NewService(deps Deps) *Service {
	if deps.Notifier == nil {
		deps.Notifier = notify.Noop{}
	}
	if deps.Log == nil {
		deps.Log = logrus.New()
	}
	if deps.DisputeWindow == 0 {
		deps.DisputeWindow = 12 * time.Hour
	}
	return &Service{
		store:         deps.Store,
		wallet:        deps.Wallet,
		stock:         deps.Stock,
		routes:        deps.Routes,
		notifier:      deps.Notifier,
		log:           deps.Log,
		disputeWindow: deps.DisputeWindow,
	}
}

// SetRouteDirectory breaks the order<->routing construction cycle.
func (s *Service) SetRouteDirectory(d RouteDirectory) { s.routes = d }

type CreateCommand struct {
	BuyerID       types.ID
	SellerID      types.ID
	ProductID     types.ID
	Amount        types.Money
	PaymentMethod PaymentMethod
	Pickup        types.Point
	Dropoff       types.Point
}

type ConfirmCommand struct {
	OrderID types.ID
	ActorID types.ID
}

type OutForDeliveryCommand struct {
	OrderID types.ID
	RouteID types.ID
}

type ConfirmDeliveryCommand struct {
	OrderID types.ID
	ActorID types.ID
}

type DisputeCommand struct {
	OrderID types.ID
	ActorID types.ID
	Reason  string
}

type CancelCommand struct {
	OrderID types.ID
	ActorID types.ID
	Reason  string
}

// Create reserves the product and, for wallet payments, places the escrow
// hold; the order comes out in `pending`. Reservation conflicts are retried
// a few times before surfacing as unavailability.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (types.ID, error) {
	if cmd.BuyerID == "" || cmd.SellerID == "" || cmd.ProductID == "" || cmd.Amount.Amount <= 0 {
		return "", ErrBadRequest
	}
	if cmd.PaymentMethod != PayWallet && cmd.PaymentMethod != PayCash {
		return "", ErrBadRequest
	}

	id := types.ID(uuid.NewString())
	now := time.Now()

	err := retry.Do(ctx, retry.DefaultConfig(reservation.ErrConflict), func() error {
		return s.stock.Reserve(ctx, cmd.ProductID, id, pendingReservationTTL)
	})
	if err != nil {
		if errors.Is(err, reservation.ErrUnavailable) || errors.Is(err, reservation.ErrConflict) || errors.Is(err, reservation.ErrNotFound) {
			return "", ErrProductUnavailable
		}
		return "", err
	}

	var holdID *types.ID
	if cmd.PaymentMethod == PayWallet {
		hid, err := s.wallet.Hold(ctx, cmd.BuyerID, cmd.Amount, id)
		if err != nil {
			// Undo the reservation so the listing stays sellable.
			if rerr := s.stock.Release(ctx, cmd.ProductID); rerr != nil {
				s.log.WithField("product_id", cmd.ProductID).WithError(rerr).Error("release reservation after failed hold")
			}
			if errors.Is(err, ledger.ErrInsufficientFunds) {
				return "", ErrInsufficientFunds
			}
			return "", err
		}
		holdID = &hid
	}

	o := &Order{
		ID:              id,
		BuyerID:         cmd.BuyerID,
		SellerID:        cmd.SellerID,
		ProductID:       cmd.ProductID,
		Amount:          cmd.Amount,
		PaymentMethod:   cmd.PaymentMethod,
		Status:          StatusPending,
		StatusVersion:   0,
		HoldID:          holdID,
		PickupLocation:  cmd.Pickup,
		DropoffLocation: cmd.Dropoff,
		CreatedAt:       now,
	}
	if err := s.store.Create(ctx, o); err != nil {
		return "", err
	}
	_ = s.store.AppendEvent(ctx, &Event{
		OrderID:    id,
		FromStatus: StatusNone,
		ToStatus:   StatusPending,
		ActorType:  "buyer",
		ActorID:    &cmd.BuyerID,
		CreatedAt:  now,
	})
	s.notifier.OrderStatus(ctx, id, string(StatusPending))
	return id, nil
}

// Confirm is the seller's (or system's) acceptance: pending -> confirmed.
func (s *Service) Confirm(ctx context.Context, cmd ConfirmCommand) error {
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return err
	}
	if !CanTransition(o.Status, StatusConfirmed) {
		return ErrInvalidTransition
	}
	ok, err := s.store.UpdateStatus(ctx, o.ID, o.Status, StatusConfirmed, o.StatusVersion, StatusUpdate{})
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	_ = s.store.AppendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: o.Status,
		ToStatus:   StatusConfirmed,
		ActorType:  "seller",
		ActorID:    &cmd.ActorID,
		CreatedAt:  time.Now(),
	})
	s.notifier.OrderStatus(ctx, o.ID, string(StatusConfirmed))
	return nil
}

// MarkOutForDelivery records the route and moves confirmed -> out_for_delivery.
// The order must be a stop on the named route, and the route's batch must be
// dispatched.
func (s *Service) MarkOutForDelivery(ctx context.Context, cmd OutForDeliveryCommand) error {
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return err
	}
	if !CanTransition(o.Status, StatusOutForDelivery) {
		return ErrInvalidTransition
	}
	if s.routes != nil {
		onRoute, err := s.routes.IsOrderOnDispatchedRoute(ctx, o.ID, cmd.RouteID)
		if err != nil {
			return err
		}
		if !onRoute {
			return ErrNotRouted
		}
	}
	ok, err := s.store.UpdateStatus(ctx, o.ID, o.Status, StatusOutForDelivery, o.StatusVersion, StatusUpdate{RouteID: &cmd.RouteID})
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	_ = s.store.AppendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: o.Status,
		ToStatus:   StatusOutForDelivery,
		ActorType:  "system",
		CreatedAt:  time.Now(),
	})
	s.notifier.OrderStatus(ctx, o.ID, string(StatusOutForDelivery))
	return nil
}

// ConfirmDelivery is buyer-only. It starts the dispute window and marks the
// product sold.
func (s *Service) ConfirmDelivery(ctx context.Context, cmd ConfirmDeliveryCommand) error {
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return err
	}
	if cmd.ActorID != o.BuyerID {
		return ErrUnauthorized
	}
	if !CanTransition(o.Status, StatusDelivered) {
		return ErrInvalidTransition
	}
	deadline := time.Now().Add(s.disputeWindow)
	ok, err := s.store.UpdateStatus(ctx, o.ID, o.Status, StatusDelivered, o.StatusVersion, StatusUpdate{DisputeDeadline: &deadline})
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	if err := s.stock.MarkSold(ctx, o.ProductID); err != nil {
		s.log.WithField("product_id", o.ProductID).WithError(err).Error("mark product sold")
	}
	_ = s.store.AppendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: o.Status,
		ToStatus:   StatusDelivered,
		ActorType:  "buyer",
		ActorID:    &cmd.ActorID,
		CreatedAt:  time.Now(),
	})
	s.notifier.OrderStatus(ctx, o.ID, string(StatusDelivered))
	return nil
}

// RaiseDispute is valid while the order is delivered and the deadline has
// not passed. The escrow hold is already frozen (holds are born held), so
// only the status moves.
func (s *Service) RaiseDispute(ctx context.Context, cmd DisputeCommand) error {
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return err
	}
	if cmd.ActorID != o.BuyerID {
		return ErrUnauthorized
	}
	if o.Status != StatusDelivered {
		return ErrInvalidTransition
	}
	// The deadline decides, not sweep timing: a late dispute fails even if
	// auto-release has not run yet.
	if o.DisputeDeadline == nil || !time.Now().Before(*o.DisputeDeadline) {
		return ErrDisputeWindowExpired
	}
	reason := cmd.Reason
	ok, err := s.store.UpdateStatus(ctx, o.ID, o.Status, StatusDisputed, o.StatusVersion, StatusUpdate{DisputeReason: &reason})
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	_ = s.store.AppendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: o.Status,
		ToStatus:   StatusDisputed,
		ActorType:  "buyer",
		ActorID:    &cmd.ActorID,
		CreatedAt:  time.Now(),
	})
	s.notifier.OrderStatus(ctx, o.ID, string(StatusDisputed))
	return nil
}

// AutoRelease settles an order whose dispute window elapsed: delivered ->
// released plus the escrow settlement. Safe to invoke any number of times;
// a lost race against a dispute is reported as ErrConflict and the sweep
// simply moves on.
func (s *Service) AutoRelease(ctx context.Context, orderID types.ID) error {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status == StatusReleased {
		// Re-settle in case a previous invocation crashed between the
		// status flip and the ledger settlement.
		return s.settleRelease(ctx, o)
	}
	if o.Status != StatusDelivered {
		return nil
	}
	if o.DisputeDeadline == nil || time.Now().Before(*o.DisputeDeadline) {
		return nil
	}
	ok, err := s.store.UpdateStatus(ctx, o.ID, o.Status, StatusReleased, o.StatusVersion, StatusUpdate{})
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	_ = s.store.AppendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: o.Status,
		ToStatus:   StatusReleased,
		ActorType:  "system",
		CreatedAt:  time.Now(),
	})
	if err := s.settleRelease(ctx, o); err != nil {
		return err
	}
	s.notifier.OrderStatus(ctx, o.ID, string(StatusReleased))
	return nil
}

// settleRelease credits the seller from the buyer's hold. Cash orders have
// no hold and nothing to settle. An already-settled hold is a no-op.
func (s *Service) settleRelease(ctx context.Context, o *Order) error {
	if o.PaymentMethod != PayWallet || o.HoldID == nil {
		return nil
	}
	err := s.wallet.Release(ctx, *o.HoldID, o.SellerID)
	if errors.Is(err, ledger.ErrHoldSettled) {
		return nil
	}
	return err
}

// Cancel is permitted only while pending. The reservation goes back to
// available and any escrow hold is refunded.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) error {
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return err
	}
	if o.Status != StatusPending {
		return ErrInvalidTransition
	}
	ok, err := s.store.UpdateStatus(ctx, o.ID, o.Status, StatusCancelled, o.StatusVersion, StatusUpdate{})
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	if err := s.stock.Release(ctx, o.ProductID); err != nil {
		s.log.WithField("product_id", o.ProductID).WithError(err).Error("release reservation on cancel")
	}
	if o.HoldID != nil {
		if err := s.wallet.Refund(ctx, *o.HoldID); err != nil && !errors.Is(err, ledger.ErrHoldSettled) {
			return err
		}
	}
	_ = s.store.AppendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: o.Status,
		ToStatus:   StatusCancelled,
		ActorType:  "buyer",
		ActorID:    &cmd.ActorID,
		CreatedAt:  time.Now(),
	})
	s.notifier.OrderStatus(ctx, o.ID, string(StatusCancelled))
	return nil
}

// ResolveRelease settles a disputed order in the seller's favor:
// disputed -> released, escrow to the seller, reservation stays sold.
func (s *Service) ResolveRelease(ctx context.Context, orderID, operatorID types.ID) error {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != StatusDisputed {
		return ErrInvalidTransition
	}
	ok, err := s.store.UpdateStatus(ctx, o.ID, o.Status, StatusReleased, o.StatusVersion, StatusUpdate{})
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	_ = s.store.AppendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: o.Status,
		ToStatus:   StatusReleased,
		ActorType:  "operator",
		ActorID:    &operatorID,
		CreatedAt:  time.Now(),
	})
	if err := s.settleRelease(ctx, o); err != nil {
		return err
	}
	s.notifier.OrderStatus(ctx, o.ID, string(StatusReleased))
	return nil
}

// ResolveRefund settles a disputed order in the buyer's favor:
// disputed -> refunded, hold voided, listing re-offered.
func (s *Service) ResolveRefund(ctx context.Context, orderID, operatorID types.ID) error {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != StatusDisputed {
		return ErrInvalidTransition
	}
	ok, err := s.store.UpdateStatus(ctx, o.ID, o.Status, StatusRefunded, o.StatusVersion, StatusUpdate{})
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	_ = s.store.AppendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: o.Status,
		ToStatus:   StatusRefunded,
		ActorType:  "operator",
		ActorID:    &operatorID,
		CreatedAt:  time.Now(),
	})
	if o.HoldID != nil {
		if err := s.wallet.Refund(ctx, *o.HoldID); err != nil && !errors.Is(err, ledger.ErrHoldSettled) {
			return err
		}
	}
	if err := s.stock.Release(ctx, o.ProductID); err != nil {
		s.log.WithField("product_id", o.ProductID).WithError(err).Error("re-offer listing after refund")
	}
	s.notifier.OrderStatus(ctx, o.ID, string(StatusRefunded))
	return nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.store.Get(ctx, id)
}

// History returns an order's state events oldest first.
func (s *Service) History(ctx context.Context, id types.ID) ([]*Event, error) {
	return s.store.ListEvents(ctx, id)
}

// ConfirmedBetween exposes checkpoint reads for the batching scheduler.
func (s *Service) ConfirmedBetween(ctx context.Context, from, to time.Time) ([]*Order, error) {
	return s.store.ListConfirmedBetween(ctx, from, to)
}
