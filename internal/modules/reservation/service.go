// README: Reservation Coordinator. Enforces the single-active-order rule
// for a product via compare-and-set transitions.
package reservation

import (
	"context"
	"errors"
	"time"

	"bazar/internal/types"
)

var (
	ErrUnavailable = errors.New("product unavailable")
	ErrConflict    = errors.New("reservation conflict")
)

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) AddProduct(ctx context.Context, productID types.ID) error {
	return s.store.AddProduct(ctx, productID)
}

func (s *Service) Get(ctx context.Context, productID types.ID) (*Reservation, error) {
	return s.store.Get(ctx, productID)
}

// Reserve binds the product to one order. ErrUnavailable when the product
// is already reserved or sold, ErrConflict when a concurrent writer won the
// CAS — callers retry or surface unavailability.
func (s *Service) Reserve(ctx context.Context, productID, orderID types.ID, ttl time.Duration) error {
	r, err := s.store.Get(ctx, productID)
	if err != nil {
		return err
	}
	if r.Status != StatusAvailable {
		return ErrUnavailable
	}
	until := time.Now().Add(ttl)
	ok, err := s.store.CAS(ctx, productID, StatusAvailable, StatusReserved, &orderID, &until)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

// Release puts the product back on offer. Used on order cancellation and on
// a refund-resolved dispute (which re-offers a sold listing). Releasing an
// already-available product is a no-op.
func (s *Service) Release(ctx context.Context, productID types.ID) error {
	r, err := s.store.Get(ctx, productID)
	if err != nil {
		return err
	}
	if r.Status == StatusAvailable {
		return nil
	}
	ok, err := s.store.CAS(ctx, productID, r.Status, StatusAvailable, nil, nil)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

// MarkSold finalizes the reservation on delivery confirmation.
func (s *Service) MarkSold(ctx context.Context, productID types.ID) error {
	r, err := s.store.Get(ctx, productID)
	if err != nil {
		return err
	}
	if r.Status == StatusSold {
		return nil
	}
	if r.Status != StatusReserved {
		return ErrUnavailable
	}
	ok, err := s.store.CAS(ctx, productID, StatusReserved, StatusSold, r.ReservedForOrderID, nil)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return nil
}
