// README: In-memory ledger store. Same semantics as the Postgres store
// under a single mutex; backs the unit tests.
package ledger

import (
	"context"
	"sync"
	"time"

	"bazar/internal/types"
)

type MemStore struct {
	mu      sync.Mutex
	entries []Entry
	holds   map[types.ID]*EscrowHold
}

func NewMemStore() *MemStore {
	return &MemStore{holds: make(map[types.ID]*EscrowHold)}
}

func (s *MemStore) AppendEntries(ctx context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *MemStore) CreateHold(ctx context.Context, h *EscrowHold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.availableLocked(h.UserID) < h.Amount.Amount {
		return ErrInsufficientFunds
	}
	cp := *h
	s.holds[h.ID] = &cp
	return nil
}

func (s *MemStore) GetHold(ctx context.Context, holdID types.ID) (*EscrowHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok {
		return nil, ErrHoldNotFound
	}
	cp := *h
	return &cp, nil
}

func (s *MemStore) GetHoldByOrder(ctx context.Context, orderID types.ID) (*EscrowHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.holds {
		if h.OrderID == orderID {
			cp := *h
			return &cp, nil
		}
	}
	return nil, ErrHoldNotFound
}

func (s *MemStore) SettleHold(ctx context.Context, holdID types.ID, to HoldStatus, entries []Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok {
		return false, ErrHoldNotFound
	}
	if h.Status != HoldHeld {
		return false, nil
	}
	now := time.Now()
	h.Status = to
	h.SettledAt = &now
	s.entries = append(s.entries, entries...)
	return true, nil
}

func (s *MemStore) Balance(ctx context.Context, userID types.ID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceLocked(userID), nil
}

func (s *MemStore) ActiveHoldTotal(ctx context.Context, userID types.ID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heldLocked(userID), nil
}

func (s *MemStore) GlobalSum(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, e := range s.entries {
		sum += e.Delta.Amount
	}
	return sum, nil
}

func (s *MemStore) balanceLocked(userID types.ID) int64 {
	var sum int64
	for _, e := range s.entries {
		if e.UserID == userID {
			sum += e.Delta.Amount
		}
	}
	return sum
}

func (s *MemStore) heldLocked(userID types.ID) int64 {
	var sum int64
	for _, h := range s.holds {
		if h.UserID == userID && h.Status == HoldHeld {
			sum += h.Amount.Amount
		}
	}
	return sum
}

func (s *MemStore) availableLocked(userID types.ID) int64 {
	return s.balanceLocked(userID) - s.heldLocked(userID)
}
