// README: In-memory Store with the same semantics as the PG store.
package routing

import (
	"context"
	"sort"
	"sync"
	"time"

	"bazar/internal/types"
)

type MemStore struct {
	mu      sync.Mutex
	batches map[types.ID]*RouteBatch
	bySlot  map[string]types.ID // date|slot -> batch id
	routes  map[types.ID]*Route
}

func NewMemStore() *MemStore {
	return &MemStore{
		batches: make(map[types.ID]*RouteBatch),
		bySlot:  make(map[string]types.ID),
		routes:  make(map[types.ID]*Route),
	}
}

func slotKey(date string, slot TimeSlot) string { return date + "|" + string(slot) }

func (s *MemStore) CreateBatch(ctx context.Context, b *RouteBatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := slotKey(b.Date, b.Slot)
	if _, exists := s.bySlot[key]; exists {
		return false, nil
	}
	clone := *b
	clone.OrderIDs = append([]types.ID(nil), b.OrderIDs...)
	s.batches[b.ID] = &clone
	s.bySlot[key] = b.ID
	return true, nil
}

func (s *MemStore) GetBatch(ctx context.Context, id types.ID) (*RouteBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *b
	return &clone, nil
}

func (s *MemStore) GetBatchBySlot(ctx context.Context, date string, slot TimeSlot) (*RouteBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.bySlot[slotKey(date, slot)]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *s.batches[id]
	return &clone, nil
}

func (s *MemStore) ListBatches(ctx context.Context, limit int) ([]*RouteBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*RouteBatch, 0, len(s.batches))
	for _, b := range s.batches {
		clone := *b
		out = append(out, &clone)
	}
	// Newest first, matching the PG query's created_at ordering.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) UpdateBatchStatus(ctx context.Context, id types.ID, from, to BatchStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	return true, nil
}

func (s *MemStore) SaveRoutes(ctx context.Context, routes []*Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range routes {
		clone := *r
		clone.Stops = append([]Stop(nil), r.Stops...)
		s.routes[r.ID] = &clone
	}
	return nil
}

func (s *MemStore) GetRoute(ctx context.Context, id types.ID) (*Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routes[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *r
	clone.Stops = append([]Stop(nil), r.Stops...)
	return &clone, nil
}

func (s *MemStore) ListRoutesByBatch(ctx context.Context, batchID types.ID) ([]*Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Route
	for _, r := range s.routes {
		if r.BatchID != batchID {
			continue
		}
		clone := *r
		clone.Stops = append([]Stop(nil), r.Stops...)
		out = append(out, &clone)
	}
	return out, nil
}

func (s *MemStore) AssignDriver(ctx context.Context, routeID, driverID types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routes[routeID]
	if !ok {
		return ErrNotFound
	}
	r.DriverID = &driverID
	return nil
}

func (s *MemStore) CompleteStop(ctx context.Context, routeID types.ID, seq int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routes[routeID]
	if !ok {
		return false, nil
	}
	for i := range r.Stops {
		if r.Stops[i].Seq == seq {
			if r.Stops[i].CompletedAt != nil {
				return false, nil
			}
			t := at
			r.Stops[i].CompletedAt = &t
			return true, nil
		}
	}
	return false, nil
}
