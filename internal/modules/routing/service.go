// README: Route batching service. Collects confirmed orders at the two
// daily checkpoints, runs the optimizer, and dispatches routes to drivers.
package routing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bazar/internal/config"
	"bazar/internal/modules/order"
	"bazar/internal/notify"
	"bazar/internal/types"
)

var (
	ErrBatchNotReady = errors.New("batch is not ready for dispatch")
	ErrStopCompleted = errors.New("stop missing or already completed")
)

// OrderDirectory is the slice of the order service the scheduler needs.
type OrderDirectory interface {
	ConfirmedBetween(ctx context.Context, from, to time.Time) ([]*order.Order, error)
	MarkOutForDelivery(ctx context.Context, cmd order.OutForDeliveryCommand) error
}

// ETASource refines leg travel times. Optional; the optimizer's flat-speed
// estimate is used when nil or on error.
type ETASource interface {
	TravelTime(ctx context.Context, from, to types.Point) (time.Duration, error)
}

// claimRadiusKm bounds how far from a route's first stop a driver may be.
const claimRadiusKm = 25.0

type Deps struct {
	Store    Store
	Orders   OrderDirectory
	Drivers  DriverSource
	ETA      ETASource
	Notifier notify.Notifier
	Log      *logrus.Logger
	Cfg      config.RoutingConfig
}

type Service struct {
	store    Store
	orders   OrderDirectory
	drivers  DriverSource
	eta      ETASource
	notifier notify.Notifier
	log      *logrus.Logger
	cfg      config.RoutingConfig
	loc      *time.Location
}

func NewService(deps Deps) *Service {
	if deps.Notifier == nil {
		deps.Notifier = notify.Noop{}
	}
	if deps.Log == nil {
		deps.Log = logrus.New()
	}
	if deps.Cfg.MorningHour == 0 {
		deps.Cfg.MorningHour = 13
	}
	if deps.Cfg.AfternoonHour == 0 {
		deps.Cfg.AfternoonHour = 19
	}
	if deps.Cfg.StopsPerRoute == 0 {
		deps.Cfg.StopsPerRoute = 12
	}
	if deps.Cfg.OptimizerIters == 0 {
		deps.Cfg.OptimizerIters = 200
	}
	if deps.Cfg.AvgSpeedKmh == 0 {
		deps.Cfg.AvgSpeedKmh = 30.0
	}
	loc, err := time.LoadLocation(deps.Cfg.Timezone)
	if err != nil || deps.Cfg.Timezone == "" {
		loc = time.Local
	}
	return &Service{
		store:    deps.Store,
		orders:   deps.Orders,
		drivers:  deps.Drivers,
		eta:      deps.ETA,
		notifier: deps.Notifier,
		log:      deps.Log,
		cfg:      deps.Cfg,
		loc:      loc,
	}
}

// checkpoint describes one collection window: the orders confirmed in
// [From, To) belong to the (Date, Slot) batch, departing at To.
type checkpoint struct {
	Date string
	Slot TimeSlot
	From time.Time
	To   time.Time
}

// lastCheckpoint returns the most recent completed window at or before now.
// The morning slot collects from the previous day's afternoon checkpoint to
// today's morning one; the afternoon slot covers the span between the two
// same-day checkpoints.
func (s *Service) lastCheckpoint(now time.Time) checkpoint {
	now = now.In(s.loc)
	at := func(day time.Time, hour int) time.Time {
		return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, s.loc)
	}
	switch {
	case !now.Before(at(now, s.cfg.AfternoonHour)):
		return checkpoint{
			Date: now.Format("2006-01-02"),
			Slot: SlotAfternoon,
			From: at(now, s.cfg.MorningHour),
			To:   at(now, s.cfg.AfternoonHour),
		}
	case !now.Before(at(now, s.cfg.MorningHour)):
		prev := now.AddDate(0, 0, -1)
		return checkpoint{
			Date: now.Format("2006-01-02"),
			Slot: SlotMorning,
			From: at(prev, s.cfg.AfternoonHour),
			To:   at(now, s.cfg.MorningHour),
		}
	default:
		prev := now.AddDate(0, 0, -1)
		return checkpoint{
			Date: prev.Format("2006-01-02"),
			Slot: SlotAfternoon,
			From: at(prev, s.cfg.MorningHour),
			To:   at(prev, s.cfg.AfternoonHour),
		}
	}
}

// RunCheckpoint processes the most recent completed window as of now:
// creates the batch if it does not exist, optimizes it, and leaves it
// `ready`. Idempotent per (date, slot); re-runs return the existing batch,
// finishing its optimization first if a previous run died mid-way.
// A window with zero eligible orders creates no batch and returns nil.
func (s *Service) RunCheckpoint(ctx context.Context, now time.Time) (*RouteBatch, error) {
	cp := s.lastCheckpoint(now)
	logger := s.log.WithFields(logrus.Fields{"date": cp.Date, "slot": cp.Slot})

	if existing, err := s.store.GetBatchBySlot(ctx, cp.Date, cp.Slot); err == nil {
		if existing.Status == BatchPending || existing.Status == BatchOptimizing {
			logger.WithField("batch_id", existing.ID).Warn("resuming unfinished batch")
			if err := s.resumeBatch(ctx, cp, existing); err != nil {
				return nil, err
			}
			return existing, nil
		}
		logger.Info("checkpoint already processed")
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	eligible, err := s.orders.ConfirmedBetween(ctx, cp.From, cp.To)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		logger.Info("no eligible orders, skipping batch")
		return nil, nil
	}

	batch := &RouteBatch{
		ID:        types.ID(uuid.NewString()),
		Date:      cp.Date,
		Slot:      cp.Slot,
		Status:    BatchPending,
		CreatedAt: time.Now().UTC(),
	}
	stops := make([]OrderStops, 0, len(eligible))
	for _, o := range eligible {
		batch.OrderIDs = append(batch.OrderIDs, o.ID)
		stops = append(stops, OrderStops{
			OrderID:  o.ID,
			Pickup:   o.PickupLocation,
			Delivery: o.DropoffLocation,
			Deadline: o.DisputeDeadline, // nil pre-delivery; reserved for replans
		})
	}

	created, err := s.store.CreateBatch(ctx, batch)
	if err != nil {
		return nil, err
	}
	if !created {
		// Lost the race to a concurrent checkpoint run.
		logger.Info("checkpoint already processed")
		return s.store.GetBatchBySlot(ctx, cp.Date, cp.Slot)
	}

	if err := s.optimizeBatch(ctx, batch, stops, cp.To); err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"batch_id": batch.ID,
		"orders":   len(batch.OrderIDs),
	}).Info("batch ready")
	return batch, nil
}

// optimizeBatch walks a pending batch to ready: pending -> optimizing ->
// routes saved -> ready. The batch's Status field tracks the transitions.
func (s *Service) optimizeBatch(ctx context.Context, batch *RouteBatch, stops []OrderStops, depart time.Time) error {
	if batch.Status == BatchPending {
		if _, err := s.store.UpdateBatchStatus(ctx, batch.ID, BatchPending, BatchOptimizing); err != nil {
			return err
		}
		batch.Status = BatchOptimizing
	}

	routes := Optimize(stops, OptimizerConfig{
		StopsPerRoute: s.cfg.StopsPerRoute,
		Iterations:    s.cfg.OptimizerIters,
		AvgSpeedKmh:   s.cfg.AvgSpeedKmh,
		Depart:        depart,
	})
	saved := make([]*Route, 0, len(routes))
	for i := range routes {
		r := routes[i]
		r.ID = types.ID(uuid.NewString())
		r.BatchID = batch.ID
		s.refineETAs(ctx, &r, depart)
		saved = append(saved, &r)
	}
	if err := s.store.SaveRoutes(ctx, saved); err != nil {
		return err
	}
	if _, err := s.store.UpdateBatchStatus(ctx, batch.ID, BatchOptimizing, BatchReady); err != nil {
		return err
	}
	batch.Status = BatchReady
	return nil
}

// resumeBatch finishes a batch left pending or optimizing by a process that
// died mid-checkpoint. SaveRoutes is transactional, so an optimizing batch
// that already has routes only needs the final status flip; otherwise the
// window's orders are re-collected, restricted to the batch's membership,
// and optimized from scratch.
func (s *Service) resumeBatch(ctx context.Context, cp checkpoint, batch *RouteBatch) error {
	existing, err := s.store.ListRoutesByBatch(ctx, batch.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		if _, err := s.store.UpdateBatchStatus(ctx, batch.ID, batch.Status, BatchReady); err != nil {
			return err
		}
		batch.Status = BatchReady
		return nil
	}

	members := make(map[types.ID]bool, len(batch.OrderIDs))
	for _, id := range batch.OrderIDs {
		members[id] = true
	}
	eligible, err := s.orders.ConfirmedBetween(ctx, cp.From, cp.To)
	if err != nil {
		return err
	}
	stops := make([]OrderStops, 0, len(batch.OrderIDs))
	for _, o := range eligible {
		if !members[o.ID] {
			continue
		}
		stops = append(stops, OrderStops{
			OrderID:  o.ID,
			Pickup:   o.PickupLocation,
			Delivery: o.DropoffLocation,
			Deadline: o.DisputeDeadline,
		})
	}
	return s.optimizeBatch(ctx, batch, stops, cp.To)
}

// refineETAs replaces flat-speed leg estimates with ETASource travel times.
// Any lookup failure keeps the original estimate for that leg.
func (s *Service) refineETAs(ctx context.Context, r *Route, depart time.Time) {
	if s.eta == nil || len(r.Stops) == 0 {
		return
	}
	elapsed := time.Duration(0)
	for i := range r.Stops {
		if i > 0 {
			d, err := s.eta.TravelTime(ctx, r.Stops[i-1].Location, r.Stops[i].Location)
			if err != nil {
				continue
			}
			elapsed += d
		}
		eta := depart.Add(elapsed)
		end := eta.Add(etaSlack)
		r.Stops[i].ETAStart = &eta
		r.Stops[i].ETAEnd = &end
	}
	r.TotalDuration = elapsed
}

// Dispatch hands a ready batch to drivers: assigns the nearest idle driver
// per route, notifies them, and moves every order to out_for_delivery.
// Driver shortage does not block dispatch; unassigned routes surface in the
// dispatcher view for manual assignment.
func (s *Service) Dispatch(ctx context.Context, batchID types.ID) error {
	ok, err := s.store.UpdateBatchStatus(ctx, batchID, BatchReady, BatchDispatched)
	if err != nil {
		return err
	}
	if !ok {
		b, err := s.store.GetBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if b.Status == BatchDispatched {
			return nil
		}
		return ErrBatchNotReady
	}

	routes, err := s.store.ListRoutesByBatch(ctx, batchID)
	if err != nil {
		return err
	}
	for _, r := range routes {
		if s.drivers != nil && len(r.Stops) > 0 {
			driverID, found, err := s.drivers.ClaimNearest(ctx, r.Stops[0].Location, claimRadiusKm)
			if err != nil {
				s.log.WithError(err).WithField("route_id", r.ID).Warn("driver claim failed")
			} else if found {
				if err := s.store.AssignDriver(ctx, r.ID, driverID); err != nil {
					return err
				}
				_ = s.drivers.RecordDispatch(ctx, r.ID)
				s.notifier.DriverAssigned(ctx, driverID, r.ID)
			} else {
				s.log.WithField("route_id", r.ID).Warn("no idle driver in range")
			}
		}
		for _, oid := range routeOrderIDs(r) {
			err := s.orders.MarkOutForDelivery(ctx, order.OutForDeliveryCommand{OrderID: oid, RouteID: r.ID})
			if err != nil {
				// One stuck order must not hold the rest of the slot.
				s.log.WithError(err).WithFields(logrus.Fields{
					"order_id": oid, "route_id": r.ID,
				}).Warn("mark out for delivery failed")
			}
		}
	}
	s.log.WithFields(logrus.Fields{"batch_id": batchID, "routes": len(routes)}).Info("batch dispatched")
	return nil
}

func routeOrderIDs(r *Route) []types.ID {
	seen := make(map[types.ID]bool, len(r.Stops)/2)
	var ids []types.ID
	for _, st := range r.Stops {
		if !seen[st.OrderID] {
			seen[st.OrderID] = true
			ids = append(ids, st.OrderID)
		}
	}
	return ids
}

// IsOrderOnDispatchedRoute satisfies the order service's route directory:
// an order may go out for delivery only as a stop on a route whose batch
// has been dispatched.
func (s *Service) IsOrderOnDispatchedRoute(ctx context.Context, orderID, routeID types.ID) (bool, error) {
	r, err := s.store.GetRoute(ctx, routeID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	b, err := s.store.GetBatch(ctx, r.BatchID)
	if err != nil {
		return false, err
	}
	if b.Status != BatchDispatched {
		return false, nil
	}
	for _, st := range r.Stops {
		if st.OrderID == orderID {
			return true, nil
		}
	}
	return false, nil
}

// CompleteStop records the driver finishing one stop of their route.
func (s *Service) CompleteStop(ctx context.Context, routeID types.ID, seq int) error {
	ok, err := s.store.CompleteStop(ctx, routeID, seq, time.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return ErrStopCompleted
	}
	return nil
}

func (s *Service) GetRoute(ctx context.Context, id types.ID) (*Route, error) {
	return s.store.GetRoute(ctx, id)
}

func (s *Service) GetBatch(ctx context.Context, id types.ID) (*RouteBatch, error) {
	return s.store.GetBatch(ctx, id)
}

func (s *Service) ListBatches(ctx context.Context, limit int) ([]*RouteBatch, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.ListBatches(ctx, limit)
}

func (s *Service) RoutesForBatch(ctx context.Context, batchID types.ID) ([]*Route, error) {
	return s.store.ListRoutesByBatch(ctx, batchID)
}
