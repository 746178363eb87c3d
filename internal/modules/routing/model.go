// README: Route batches, routes, and stops for the twice-daily delivery windows.
package routing

import (
	"time"

	"bazar/internal/types"
)

type TimeSlot string

const (
	SlotMorning   TimeSlot = "morning"
	SlotAfternoon TimeSlot = "afternoon"
)

type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchOptimizing BatchStatus = "optimizing"
	BatchReady      BatchStatus = "ready"
	BatchDispatched BatchStatus = "dispatched"
)

// RouteBatch groups the orders confirmed during one collection window.
// There is at most one batch per (date, slot).
type RouteBatch struct {
	ID        types.ID
	Date      string // YYYY-MM-DD, local to the scheduler's timezone
	Slot      TimeSlot
	Status    BatchStatus
	OrderIDs  []types.ID
	CreatedAt time.Time
}

type StopKind string

const (
	StopPickup   StopKind = "pickup"
	StopDelivery StopKind = "delivery"
)

// Stop is one visit on a route. Seq is the 1-based position within the
// route; CompletedAt is set by the driver as stops are worked through.
type Stop struct {
	Seq         int
	OrderID     types.ID
	Kind        StopKind
	Location    types.Point
	ETAStart    *time.Time
	ETAEnd      *time.Time
	CompletedAt *time.Time
}

// Route is an ordered stop sequence for one driver. Immutable after the
// batch is dispatched except for per-stop completion.
type Route struct {
	ID              types.ID
	BatchID         types.ID
	DriverID        *types.ID
	Stops           []Stop
	TotalDistanceKm float64
	TotalDuration   time.Duration
	// Infeasible marks a best-effort route whose time windows could not
	// all be met. The route still ships; dispatchers see the flag.
	Infeasible bool
}
