// README: In-memory reservation store with the same CAS semantics.
package reservation

import (
	"context"
	"sync"
	"time"

	"bazar/internal/types"
)

type MemStore struct {
	mu       sync.Mutex
	products map[types.ID]*Reservation
}

func NewMemStore() *MemStore {
	return &MemStore{products: make(map[types.ID]*Reservation)}
}

func (s *MemStore) AddProduct(ctx context.Context, productID types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[productID]; !ok {
		s.products[productID] = &Reservation{
			ProductID: productID,
			Status:    StatusAvailable,
			UpdatedAt: time.Now(),
		}
	}
	return nil
}

func (s *MemStore) Get(ctx context.Context, productID types.ID) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.products[productID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemStore) CAS(ctx context.Context, productID types.ID, from, to Status, orderID *types.ID, until *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.products[productID]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != from {
		return false, nil
	}
	r.Status = to
	r.ReservedForOrderID = orderID
	r.ReservedUntil = until
	r.UpdatedAt = time.Now()
	return true, nil
}
