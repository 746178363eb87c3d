// README: Checkpoint and dispatch tests against the in-memory store.
package routing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"bazar/internal/config"
	"bazar/internal/modules/order"
	"bazar/internal/types"
)

// stubOrders serves a fixed set of confirmed orders and records dispatch
// side effects.
type stubOrders struct {
	confirmed []*order.Order
	marked    map[types.ID]types.ID // orderID -> routeID
}

func (s *stubOrders) ConfirmedBetween(ctx context.Context, from, to time.Time) ([]*order.Order, error) {
	var out []*order.Order
	for _, o := range s.confirmed {
		if o.ConfirmedAt != nil && !o.ConfirmedAt.Before(from) && o.ConfirmedAt.Before(to) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *stubOrders) MarkOutForDelivery(ctx context.Context, cmd order.OutForDeliveryCommand) error {
	if s.marked == nil {
		s.marked = map[types.ID]types.ID{}
	}
	s.marked[cmd.OrderID] = cmd.RouteID
	return nil
}

type stubDrivers struct {
	ids     []types.ID
	claimed []types.ID
}

func (s *stubDrivers) ClaimNearest(ctx context.Context, p types.Point, radiusKm float64) (types.ID, bool, error) {
	if len(s.ids) == 0 {
		return "", false, nil
	}
	id := s.ids[0]
	s.ids = s.ids[1:]
	s.claimed = append(s.claimed, id)
	return id, true, nil
}

func (s *stubDrivers) RecordDispatch(ctx context.Context, routeID types.ID) error { return nil }

func confirmedOrder(i int, at time.Time) *order.Order {
	f := float64(i)
	return &order.Order{
		ID:              types.ID(fmt.Sprintf("order%d", i)),
		Status:          order.StatusConfirmed,
		ConfirmedAt:     &at,
		PickupLocation:  types.Point{Lat: 25.02 + 0.01*f, Lng: 121.50 + 0.01*f},
		DropoffLocation: types.Point{Lat: 25.08 - 0.01*f, Lng: 121.57 - 0.01*f},
	}
}

func newTestService(orders *stubOrders, drivers DriverSource) (*Service, *MemStore) {
	store := NewMemStore()
	svc := NewService(Deps{
		Store:   store,
		Orders:  orders,
		Drivers: drivers,
		Cfg: config.RoutingConfig{
			MorningHour:    13,
			AfternoonHour:  19,
			StopsPerRoute:  12,
			OptimizerIters: 100,
			AvgSpeedKmh:    30,
			Timezone:       "UTC",
		},
	})
	return svc, store
}

// Three orders confirmed between 13:00 and 19:00 land in exactly one
// afternoon batch with paired pickup and delivery stops.
func TestCheckpointBatchesAfternoonWindow(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	orders := &stubOrders{confirmed: []*order.Order{
		confirmedOrder(1, day.Add(14*time.Hour)),
		confirmedOrder(2, day.Add(16*time.Hour)),
		confirmedOrder(3, day.Add(18*time.Hour)),
		// Confirmed before 13:00: belongs to the morning window, not this one.
		confirmedOrder(4, day.Add(11*time.Hour)),
	}}
	svc, _ := newTestService(orders, nil)

	batch, err := svc.RunCheckpoint(ctx, day.Add(19*time.Hour))
	if err != nil {
		t.Fatalf("run checkpoint: %v", err)
	}
	if batch == nil {
		t.Fatal("expected a batch")
	}
	if batch.Slot != SlotAfternoon || batch.Date != "2026-03-02" {
		t.Fatalf("unexpected batch slot: %s %s", batch.Date, batch.Slot)
	}
	if batch.Status != BatchReady {
		t.Fatalf("expected batch ready, got %s", batch.Status)
	}
	if len(batch.OrderIDs) != 3 {
		t.Fatalf("expected 3 orders in batch, got %d", len(batch.OrderIDs))
	}

	routes, err := svc.RoutesForBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("routes: %v", err)
	}
	stops := 0
	for _, r := range routes {
		stops += len(r.Stops)
		assertPrecedence(t, *r)
	}
	if stops != 6 {
		t.Fatalf("expected 6 stops across routes, got %d", stops)
	}
}

// The morning slot collects from the previous day's afternoon checkpoint.
func TestCheckpointMorningWindowSpansOvernight(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	orders := &stubOrders{confirmed: []*order.Order{
		confirmedOrder(1, day.Add(-4*time.Hour)), // previous day 20:00
		confirmedOrder(2, day.Add(9*time.Hour)),  // same day 09:00
		confirmedOrder(3, day.Add(14*time.Hour)), // after the morning checkpoint
	}}
	svc, _ := newTestService(orders, nil)

	batch, err := svc.RunCheckpoint(ctx, day.Add(13*time.Hour))
	if err != nil {
		t.Fatalf("run checkpoint: %v", err)
	}
	if batch == nil || batch.Slot != SlotMorning {
		t.Fatalf("expected morning batch, got %+v", batch)
	}
	if len(batch.OrderIDs) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(batch.OrderIDs))
	}
}

func TestCheckpointIsIdempotent(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	orders := &stubOrders{confirmed: []*order.Order{
		confirmedOrder(1, day.Add(15*time.Hour)),
	}}
	svc, store := newTestService(orders, nil)

	first, err := svc.RunCheckpoint(ctx, day.Add(19*time.Hour))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := svc.RunCheckpoint(ctx, day.Add(19*time.Hour+5*time.Minute))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second == nil || second.ID != first.ID {
		t.Fatalf("expected the existing batch back, got %+v", second)
	}
	batches, err := store.ListBatches(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("expected exactly one batch, got %d", len(batches))
	}
}

func TestListBatchesNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	seed := []*RouteBatch{
		{ID: "b1", Date: "2026-03-01", Slot: SlotAfternoon, Status: BatchReady, CreatedAt: day.Add(-24 * time.Hour)},
		{ID: "b2", Date: "2026-03-02", Slot: SlotMorning, Status: BatchReady, CreatedAt: day.Add(13 * time.Hour)},
		{ID: "b3", Date: "2026-03-02", Slot: SlotAfternoon, Status: BatchReady, CreatedAt: day.Add(19 * time.Hour)},
	}
	for _, b := range seed {
		if _, err := store.CreateBatch(ctx, b); err != nil {
			t.Fatalf("seed %s: %v", b.ID, err)
		}
	}

	got, err := store.ListBatches(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "b3" || got[1].ID != "b2" {
		ids := make([]types.ID, len(got))
		for i, b := range got {
			ids[i] = b.ID
		}
		t.Fatalf("expected [b3 b2], got %v", ids)
	}
}

func TestCheckpointEmptyWindowCreatesNoBatch(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	svc, store := newTestService(&stubOrders{}, nil)

	batch, err := svc.RunCheckpoint(ctx, day.Add(19*time.Hour))
	if err != nil {
		t.Fatalf("run checkpoint: %v", err)
	}
	if batch != nil {
		t.Fatalf("expected no batch, got %+v", batch)
	}
	batches, _ := store.ListBatches(ctx, 10)
	if len(batches) != 0 {
		t.Fatalf("expected no batches stored, got %d", len(batches))
	}
}

func TestDispatchAssignsDriversAndMarksOrders(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	orders := &stubOrders{confirmed: []*order.Order{
		confirmedOrder(1, day.Add(15*time.Hour)),
		confirmedOrder(2, day.Add(16*time.Hour)),
	}}
	drivers := &stubDrivers{ids: []types.ID{"driver1", "driver2"}}
	svc, _ := newTestService(orders, drivers)

	batch, err := svc.RunCheckpoint(ctx, day.Add(19*time.Hour))
	if err != nil {
		t.Fatalf("run checkpoint: %v", err)
	}
	if err := svc.Dispatch(ctx, batch.ID); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	got, err := svc.GetBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if got.Status != BatchDispatched {
		t.Fatalf("expected dispatched, got %s", got.Status)
	}
	if len(drivers.claimed) == 0 {
		t.Fatal("expected at least one driver claimed")
	}
	if len(orders.marked) != 2 {
		t.Fatalf("expected 2 orders marked out for delivery, got %d", len(orders.marked))
	}

	routes, _ := svc.RoutesForBatch(ctx, batch.ID)
	for _, r := range routes {
		ok, err := svc.IsOrderOnDispatchedRoute(ctx, r.Stops[0].OrderID, r.ID)
		if err != nil || !ok {
			t.Fatalf("expected route %s dispatched with its orders, ok=%v err=%v", r.ID, ok, err)
		}
		if oid, found := orders.marked[r.Stops[0].OrderID]; !found || oid != r.ID {
			t.Fatalf("order %s not marked with route %s", r.Stops[0].OrderID, r.ID)
		}
	}
}

// A dispatched route answers for its own stops only; orders from other
// routes or batches do not pass the directory check.
func TestDirectoryRejectsOrderNotOnRoute(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	orders := &stubOrders{confirmed: []*order.Order{
		confirmedOrder(1, day.Add(15*time.Hour)),
	}}
	svc, _ := newTestService(orders, nil)

	batch, err := svc.RunCheckpoint(ctx, day.Add(19*time.Hour))
	if err != nil {
		t.Fatalf("run checkpoint: %v", err)
	}
	if err := svc.Dispatch(ctx, batch.ID); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	routes, _ := svc.RoutesForBatch(ctx, batch.ID)
	rid := routes[0].ID

	ok, err := svc.IsOrderOnDispatchedRoute(ctx, "order-elsewhere", rid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("order outside the route must not pass the directory check")
	}
}

func TestDispatchTwiceIsNoop(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	orders := &stubOrders{confirmed: []*order.Order{
		confirmedOrder(1, day.Add(15*time.Hour)),
	}}
	svc, _ := newTestService(orders, nil)

	batch, err := svc.RunCheckpoint(ctx, day.Add(19*time.Hour))
	if err != nil {
		t.Fatalf("run checkpoint: %v", err)
	}
	if err := svc.Dispatch(ctx, batch.ID); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if err := svc.Dispatch(ctx, batch.ID); err != nil {
		t.Fatalf("second dispatch should be a no-op, got: %v", err)
	}
}

func TestDispatchRequiresReadyBatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	svc := NewService(Deps{Store: store, Orders: &stubOrders{}})
	b := &RouteBatch{ID: "b1", Date: "2026-03-02", Slot: SlotMorning, Status: BatchPending}
	if _, err := store.CreateBatch(ctx, b); err != nil {
		t.Fatalf("create batch: %v", err)
	}
	if err := svc.Dispatch(ctx, "b1"); !errors.Is(err, ErrBatchNotReady) {
		t.Fatalf("expected ErrBatchNotReady, got %v", err)
	}
}

func TestDirectoryUnknownRoute(t *testing.T) {
	svc, _ := newTestService(&stubOrders{}, nil)
	ok, err := svc.IsOrderOnDispatchedRoute(context.Background(), "order1", "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("unknown route must not count as dispatched")
	}
}

// A process dying between the optimizing and ready transitions must not
// strand the slot; the next checkpoint run finishes the batch.
func TestCheckpointResumesUnfinishedBatch(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	orders := &stubOrders{confirmed: []*order.Order{
		confirmedOrder(1, day.Add(15*time.Hour)),
		confirmedOrder(2, day.Add(16*time.Hour)),
	}}
	svc, store := newTestService(orders, nil)

	// A batch left mid-optimization with no routes persisted.
	stale := &RouteBatch{
		ID:        "stale",
		Date:      "2026-03-02",
		Slot:      SlotAfternoon,
		Status:    BatchOptimizing,
		OrderIDs:  []types.ID{"order1", "order2"},
		CreatedAt: day.Add(19 * time.Hour),
	}
	if _, err := store.CreateBatch(ctx, stale); err != nil {
		t.Fatalf("seed batch: %v", err)
	}

	batch, err := svc.RunCheckpoint(ctx, day.Add(19*time.Hour+10*time.Minute))
	if err != nil {
		t.Fatalf("run checkpoint: %v", err)
	}
	if batch == nil || batch.ID != "stale" {
		t.Fatalf("expected the stale batch back, got %+v", batch)
	}
	if batch.Status != BatchReady {
		t.Fatalf("expected batch ready after resume, got %s", batch.Status)
	}
	routes, err := svc.RoutesForBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("routes: %v", err)
	}
	stops := 0
	for _, r := range routes {
		stops += len(r.Stops)
	}
	if stops != 4 {
		t.Fatalf("expected 4 stops for the resumed batch, got %d", stops)
	}
}

// Resume after routes were already saved only flips the status; it must not
// duplicate the route set.
func TestCheckpointResumeKeepsSavedRoutes(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	orders := &stubOrders{confirmed: []*order.Order{
		confirmedOrder(1, day.Add(15*time.Hour)),
	}}
	svc, store := newTestService(orders, nil)

	stale := &RouteBatch{
		ID:        "stale",
		Date:      "2026-03-02",
		Slot:      SlotAfternoon,
		Status:    BatchOptimizing,
		OrderIDs:  []types.ID{"order1"},
		CreatedAt: day.Add(19 * time.Hour),
	}
	if _, err := store.CreateBatch(ctx, stale); err != nil {
		t.Fatalf("seed batch: %v", err)
	}
	saved := &Route{ID: "r1", BatchID: "stale", Stops: []Stop{
		{Seq: 1, OrderID: "order1", Kind: StopPickup},
		{Seq: 2, OrderID: "order1", Kind: StopDelivery},
	}}
	if err := store.SaveRoutes(ctx, []*Route{saved}); err != nil {
		t.Fatalf("seed routes: %v", err)
	}

	batch, err := svc.RunCheckpoint(ctx, day.Add(19*time.Hour+10*time.Minute))
	if err != nil {
		t.Fatalf("run checkpoint: %v", err)
	}
	if batch.Status != BatchReady {
		t.Fatalf("expected batch ready, got %s", batch.Status)
	}
	routes, _ := svc.RoutesForBatch(ctx, batch.ID)
	if len(routes) != 1 || routes[0].ID != "r1" {
		t.Fatalf("expected the saved route untouched, got %d routes", len(routes))
	}
}

func TestCompleteStopOnce(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	orders := &stubOrders{confirmed: []*order.Order{
		confirmedOrder(1, day.Add(15*time.Hour)),
	}}
	svc, _ := newTestService(orders, nil)

	batch, err := svc.RunCheckpoint(ctx, day.Add(19*time.Hour))
	if err != nil {
		t.Fatalf("run checkpoint: %v", err)
	}
	routes, _ := svc.RoutesForBatch(ctx, batch.ID)
	if len(routes) != 1 {
		t.Fatalf("expected one route, got %d", len(routes))
	}
	rid := routes[0].ID

	if err := svc.CompleteStop(ctx, rid, 1); err != nil {
		t.Fatalf("complete stop: %v", err)
	}
	if err := svc.CompleteStop(ctx, rid, 1); !errors.Is(err, ErrStopCompleted) {
		t.Fatalf("expected ErrStopCompleted on repeat, got %v", err)
	}

	r, err := svc.GetRoute(ctx, rid)
	if err != nil {
		t.Fatalf("get route: %v", err)
	}
	if r.Stops[0].CompletedAt == nil {
		t.Fatal("expected first stop completed")
	}
	if r.Stops[1].CompletedAt != nil {
		t.Fatal("second stop should remain open")
	}
}

func TestNextCheckpointRollsOverMidnight(t *testing.T) {
	svc, _ := newTestService(&stubOrders{}, nil)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		now  time.Time
		want time.Time
	}{
		{day.Add(8 * time.Hour), day.Add(13 * time.Hour)},
		{day.Add(13*time.Hour + time.Minute), day.Add(19 * time.Hour)},
		{day.Add(22 * time.Hour), day.Add(37 * time.Hour)}, // next day 13:00
	}
	for _, tc := range cases {
		if got := svc.nextCheckpoint(tc.now); !got.Equal(tc.want) {
			t.Errorf("nextCheckpoint(%s) = %s, want %s", tc.now, got, tc.want)
		}
	}
}
