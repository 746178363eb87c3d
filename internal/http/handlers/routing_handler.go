// README: Dispatcher and driver endpoints for batches, routes, and stops.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"bazar/internal/modules/routing"
	"bazar/internal/types"
)

// DriverLocator lets idle drivers report positions. Backed by the Redis
// pool in production; nil when Redis is not configured.
type DriverLocator interface {
	UpdateLocation(ctx context.Context, driverID types.ID, pos types.Point) error
}

type RoutingHandler struct {
	routing *routing.Service
	drivers DriverLocator
}

func NewRoutingHandler(svc *routing.Service, drivers DriverLocator) *RoutingHandler {
	return &RoutingHandler{routing: svc, drivers: drivers}
}

func (h *RoutingHandler) ListBatches(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	batches, err := h.routing.ListBatches(c.Request.Context(), limit)
	if err != nil {
		writeRoutingError(c, err)
		return
	}
	out := make([]gin.H, 0, len(batches))
	for _, b := range batches {
		out = append(out, gin.H{
			"batch_id":  b.ID,
			"date":      b.Date,
			"time_slot": b.Slot,
			"status":    b.Status,
		})
	}
	writeJSON(c, http.StatusOK, gin.H{"batches": out})
}

func (h *RoutingHandler) GetBatch(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing batch id")
		return
	}
	b, err := h.routing.GetBatch(c.Request.Context(), types.ID(id))
	if err != nil {
		writeRoutingError(c, err)
		return
	}
	routes, err := h.routing.RoutesForBatch(c.Request.Context(), b.ID)
	if err != nil {
		writeRoutingError(c, err)
		return
	}
	routeIDs := make([]types.ID, 0, len(routes))
	for _, r := range routes {
		routeIDs = append(routeIDs, r.ID)
	}
	writeJSON(c, http.StatusOK, gin.H{
		"batch_id":  b.ID,
		"date":      b.Date,
		"time_slot": b.Slot,
		"status":    b.Status,
		"order_ids": b.OrderIDs,
		"route_ids": routeIDs,
	})
}

func (h *RoutingHandler) GetRoute(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing route id")
		return
	}
	r, err := h.routing.GetRoute(c.Request.Context(), types.ID(id))
	if err != nil {
		writeRoutingError(c, err)
		return
	}
	stops := make([]gin.H, 0, len(r.Stops))
	for _, s := range r.Stops {
		stop := gin.H{
			"seq":      s.Seq,
			"order_id": s.OrderID,
			"kind":     s.Kind,
			"lat":      s.Location.Lat,
			"lng":      s.Location.Lng,
		}
		if s.ETAStart != nil {
			stop["eta_start"] = *s.ETAStart
		}
		if s.ETAEnd != nil {
			stop["eta_end"] = *s.ETAEnd
		}
		if s.CompletedAt != nil {
			stop["completed_at"] = *s.CompletedAt
		}
		stops = append(stops, stop)
	}
	view := gin.H{
		"route_id":          r.ID,
		"batch_id":          r.BatchID,
		"total_distance_km": r.TotalDistanceKm,
		"total_duration_s":  int64(r.TotalDuration.Seconds()),
		"infeasible":        r.Infeasible,
		"stops":             stops,
	}
	if r.DriverID != nil {
		view["driver_id"] = *r.DriverID
	}
	writeJSON(c, http.StatusOK, view)
}

func (h *RoutingHandler) CompleteStop(c *gin.Context) {
	id := c.Param("id")
	seq, err := strconv.Atoi(c.Param("seq"))
	if id == "" || err != nil || seq < 1 {
		writeError(c, http.StatusBadRequest, "missing route id or bad seq")
		return
	}
	if err := h.routing.CompleteStop(c.Request.Context(), types.ID(id), seq); err != nil {
		writeRoutingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "completed"})
}

type driverLocationReq struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (h *RoutingHandler) UpdateDriverLocation(c *gin.Context) {
	id := c.Param("id")
	var req driverLocationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing driver id")
		return
	}
	if h.drivers == nil {
		writeError(c, http.StatusServiceUnavailable, "driver pool not configured")
		return
	}
	err := h.drivers.UpdateLocation(c.Request.Context(), types.ID(id), types.Point{Lat: req.Lat, Lng: req.Lng})
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}
