// README: Heuristic route optimizer: nearest neighbor construction plus a
// bounded 2-opt improvement pass. Not an optimal solver; quality is limited
// by the iteration budget.
package routing

import (
	"sort"
	"time"

	"bazar/internal/types"
)

// OrderStops is the optimizer's view of one order: a pickup at the seller
// and a delivery at the buyer, optionally bounded by a delivery deadline.
type OrderStops struct {
	OrderID  types.ID
	Pickup   types.Point
	Delivery types.Point
	Deadline *time.Time
}

type OptimizerConfig struct {
	// StopsPerRoute caps route length; each order contributes two stops.
	StopsPerRoute int
	// Iterations bounds the 2-opt improvement pass per route.
	Iterations int
	// AvgSpeedKmh drives duration and ETA estimates.
	AvgSpeedKmh float64
	// Depart is when drivers leave; ETA windows are offsets from it.
	Depart time.Time
}

// etaSlack widens each stop's ETA into a window shown to the driver.
const etaSlack = 15 * time.Minute

// Optimize partitions the orders across routes and orders the stops within
// each route. Every delivery is placed after its pickup. Routes whose
// deadlines cannot be met are returned with Infeasible set rather than
// dropped.
func Optimize(orders []OrderStops, cfg OptimizerConfig) []Route {
	if len(orders) == 0 {
		return nil
	}
	if cfg.StopsPerRoute < 2 {
		cfg.StopsPerRoute = 2
	}
	perRoute := cfg.StopsPerRoute / 2

	deadlines := make(map[types.ID]*time.Time, len(orders))
	for _, o := range orders {
		deadlines[o.OrderID] = o.Deadline
	}

	groups := partition(orders, perRoute)
	routes := make([]Route, 0, len(groups))
	for _, g := range groups {
		stops := buildTour(g)
		stops = improveTour(stops, cfg.Iterations)
		routes = append(routes, finishRoute(stops, cfg, deadlines))
	}
	return routes
}

// partition groups orders into capacity-sized clusters. The seed of each
// cluster is the undispatched order with the earliest deadline; the rest
// are filled in by pickup proximity to the seed.
func partition(orders []OrderStops, perRoute int) [][]OrderStops {
	remaining := make([]OrderStops, len(orders))
	copy(remaining, orders)
	sort.SliceStable(remaining, func(i, j int) bool {
		return deadlineBefore(remaining[i].Deadline, remaining[j].Deadline)
	})

	var groups [][]OrderStops
	for len(remaining) > 0 {
		seed := remaining[0]
		remaining = remaining[1:]
		group := []OrderStops{seed}

		for len(group) < perRoute && len(remaining) > 0 {
			best := 0
			bestDist := haversineKm(seed.Pickup, remaining[0].Pickup)
			for i := 1; i < len(remaining); i++ {
				d := haversineKm(seed.Pickup, remaining[i].Pickup)
				if d < bestDist {
					best, bestDist = i, d
				}
			}
			group = append(group, remaining[best])
			remaining = append(remaining[:best], remaining[best+1:]...)
		}
		groups = append(groups, group)
	}
	return groups
}

// buildTour runs nearest neighbor over the group's stops. A delivery only
// becomes eligible once its pickup has been placed. Ties go to the stop
// with the earlier deadline.
func buildTour(group []OrderStops) []Stop {
	type candidate struct {
		stop     Stop
		deadline *time.Time
	}
	pending := make([]candidate, 0, len(group)*2)
	for _, o := range group {
		pending = append(pending,
			candidate{Stop{OrderID: o.OrderID, Kind: StopPickup, Location: o.Pickup}, o.Deadline},
			candidate{Stop{OrderID: o.OrderID, Kind: StopDelivery, Location: o.Delivery}, o.Deadline},
		)
	}

	pickedUp := make(map[types.ID]bool, len(group))
	tour := make([]Stop, 0, len(pending))
	cur := group[0].Pickup

	for len(pending) > 0 {
		best := -1
		var bestDist float64
		var bestDeadline *time.Time
		for i, c := range pending {
			if c.stop.Kind == StopDelivery && !pickedUp[c.stop.OrderID] {
				continue
			}
			d := haversineKm(cur, c.stop.Location)
			if best == -1 || d < bestDist ||
				(d == bestDist && deadlineBefore(c.deadline, bestDeadline)) {
				best, bestDist, bestDeadline = i, d, c.deadline
			}
		}
		chosen := pending[best]
		pending = append(pending[:best], pending[best+1:]...)
		if chosen.stop.Kind == StopPickup {
			pickedUp[chosen.stop.OrderID] = true
		}
		cur = chosen.stop.Location
		tour = append(tour, chosen.stop)
	}
	return tour
}

// improveTour applies 2-opt segment reversals that shorten the tour without
// breaking pickup-before-delivery, stopping when the iteration budget runs
// out or a full scan finds no improvement.
func improveTour(stops []Stop, budget int) []Stop {
	if len(stops) < 4 || budget <= 0 {
		return stops
	}
	used := 0
	improved := true
	for improved && used < budget {
		improved = false
		for i := 0; i < len(stops)-1 && used < budget; i++ {
			for j := i + 1; j < len(stops) && used < budget; j++ {
				used++
				if reversalGain(stops, i, j) <= 1e-9 {
					continue
				}
				reverse(stops, i, j)
				if precedenceValid(stops) {
					improved = true
				} else {
					reverse(stops, i, j) // undo
				}
			}
		}
	}
	return stops
}

// reversalGain is the distance saved by reversing stops[i..j], considering
// only the two edges that change.
func reversalGain(stops []Stop, i, j int) float64 {
	var before, after float64
	if i > 0 {
		before += haversineKm(stops[i-1].Location, stops[i].Location)
		after += haversineKm(stops[i-1].Location, stops[j].Location)
	}
	if j < len(stops)-1 {
		before += haversineKm(stops[j].Location, stops[j+1].Location)
		after += haversineKm(stops[i].Location, stops[j+1].Location)
	}
	return before - after
}

func reverse(stops []Stop, i, j int) {
	for i < j {
		stops[i], stops[j] = stops[j], stops[i]
		i++
		j--
	}
}

func precedenceValid(stops []Stop) bool {
	pickedUp := make(map[types.ID]bool, len(stops)/2)
	for _, s := range stops {
		switch s.Kind {
		case StopPickup:
			pickedUp[s.OrderID] = true
		case StopDelivery:
			if !pickedUp[s.OrderID] {
				return false
			}
		}
	}
	return true
}

// finishRoute numbers the stops, fills ETA windows from the departure time,
// and totals distance and duration. Deadline misses flag the route.
func finishRoute(stops []Stop, cfg OptimizerConfig, deadlines map[types.ID]*time.Time) Route {
	r := Route{Stops: stops}

	elapsed := 0.0 // seconds since departure
	for i := range stops {
		if i > 0 {
			leg := haversineKm(stops[i-1].Location, stops[i].Location)
			r.TotalDistanceKm += leg
			elapsed += driveDuration(leg, cfg.AvgSpeedKmh)
		}
		stops[i].Seq = i + 1
		if !cfg.Depart.IsZero() {
			eta := cfg.Depart.Add(time.Duration(elapsed) * time.Second)
			end := eta.Add(etaSlack)
			stops[i].ETAStart = &eta
			stops[i].ETAEnd = &end
			if stops[i].Kind == StopDelivery {
				if dl := deadlines[stops[i].OrderID]; dl != nil && eta.After(*dl) {
					r.Infeasible = true
				}
			}
		}
	}
	r.TotalDuration = time.Duration(elapsed) * time.Second
	return r
}

func deadlineBefore(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.Before(*b)
}
