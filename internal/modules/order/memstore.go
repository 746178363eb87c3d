// README: In-memory order store mirroring the Postgres CAS semantics.
package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"bazar/internal/types"
)

type MemStore struct {
	mu     sync.Mutex
	orders map[types.ID]*Order
	events []Event
	nextID int64
}

func NewMemStore() *MemStore {
	return &MemStore{orders: make(map[types.ID]*Order)}
}

func (s *MemStore) Create(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemStore) Get(ctx context.Context, id types.ID) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, upd StatusUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return false, ErrNotFound
	}
	if o.Status != from || o.StatusVersion != version {
		return false, nil
	}
	now := time.Now()
	o.Status = to
	o.StatusVersion++
	if upd.RouteID != nil {
		o.RouteID = upd.RouteID
	}
	if upd.DisputeDeadline != nil {
		o.DisputeDeadline = upd.DisputeDeadline
	}
	if upd.DisputeReason != nil {
		o.DisputeReason = upd.DisputeReason
	}
	switch to {
	case StatusConfirmed:
		o.ConfirmedAt = &now
	case StatusDelivered:
		o.DeliveredAt = &now
	}
	return true, nil
}

func (s *MemStore) AppendEvent(ctx context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	cp := *e
	cp.ID = s.nextID
	s.events = append(s.events, cp)
	return nil
}

func (s *MemStore) ListEvents(ctx context.Context, orderID types.ID) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Event
	for i := range s.events {
		if s.events[i].OrderID == orderID {
			cp := s.events[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemStore) ListDeliveredDue(ctx context.Context, now time.Time, limit int) ([]*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Order
	for _, o := range s.orders {
		if o.Status == StatusDelivered && o.DisputeDeadline != nil && !o.DisputeDeadline.After(now) {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DisputeDeadline.Before(*out[j].DisputeDeadline)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) ListConfirmedBetween(ctx context.Context, from, to time.Time) ([]*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Order
	for _, o := range s.orders {
		if o.Status != StatusConfirmed || o.ConfirmedAt == nil {
			continue
		}
		at := *o.ConfirmedAt
		if !at.Before(from) && at.Before(to) {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ConfirmedAt.Before(*out[j].ConfirmedAt)
	})
	return out, nil
}

// Events returns a snapshot of the append-only event log. Test hook.
func (s *MemStore) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
