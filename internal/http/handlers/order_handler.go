// README: Order handlers for the checkout-to-resolution flow.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bazar/internal/modules/order"
	"bazar/internal/types"
)

type OrderHandler struct {
	order *order.Service
}

func NewOrderHandler(svc *order.Service) *OrderHandler {
	return &OrderHandler{order: svc}
}

type createOrderReq struct {
	BuyerID       string  `json:"buyer_id"`
	SellerID      string  `json:"seller_id"`
	ProductID     string  `json:"product_id"`
	Amount        int64   `json:"amount"`
	Currency      string  `json:"currency"`
	PaymentMethod string  `json:"payment_method"`
	PickupLat     float64 `json:"pickup_lat"`
	PickupLng     float64 `json:"pickup_lng"`
	DropoffLat    float64 `json:"dropoff_lat"`
	DropoffLng    float64 `json:"dropoff_lng"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Currency == "" {
		req.Currency = "TWD"
	}
	id, err := h.order.Create(c.Request.Context(), order.CreateCommand{
		BuyerID:       types.ID(req.BuyerID),
		SellerID:      types.ID(req.SellerID),
		ProductID:     types.ID(req.ProductID),
		Amount:        types.Money{Amount: req.Amount, Currency: req.Currency},
		PaymentMethod: order.PaymentMethod(req.PaymentMethod),
		Pickup:        types.Point{Lat: req.PickupLat, Lng: req.PickupLng},
		Dropoff:       types.Point{Lat: req.DropoffLat, Lng: req.DropoffLng},
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"order_id": id, "status": order.StatusPending})
}

func (h *OrderHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing order id")
		return
	}
	o, err := h.order.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, orderView(o))
}

func (h *OrderHandler) Confirm(c *gin.Context) {
	id := c.Param("id")
	actor := c.Query("actor_id")
	if id == "" || actor == "" {
		writeError(c, http.StatusBadRequest, "missing order id or actor_id")
		return
	}
	err := h.order.Confirm(c.Request.Context(), order.ConfirmCommand{
		OrderID: types.ID(id),
		ActorID: types.ID(actor),
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": order.StatusConfirmed})
}

type outForDeliveryReq struct {
	RouteID string `json:"route_id"`
}

func (h *OrderHandler) OutForDelivery(c *gin.Context) {
	id := c.Param("id")
	var req outForDeliveryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if id == "" || req.RouteID == "" {
		writeError(c, http.StatusBadRequest, "missing order id or route_id")
		return
	}
	err := h.order.MarkOutForDelivery(c.Request.Context(), order.OutForDeliveryCommand{
		OrderID: types.ID(id),
		RouteID: types.ID(req.RouteID),
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": order.StatusOutForDelivery})
}

func (h *OrderHandler) ConfirmDelivery(c *gin.Context) {
	id := c.Param("id")
	actor := c.Query("actor_id")
	if id == "" || actor == "" {
		writeError(c, http.StatusBadRequest, "missing order id or actor_id")
		return
	}
	err := h.order.ConfirmDelivery(c.Request.Context(), order.ConfirmDeliveryCommand{
		OrderID: types.ID(id),
		ActorID: types.ID(actor),
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": order.StatusDelivered})
}

type disputeReq struct {
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason"`
}

func (h *OrderHandler) RaiseDispute(c *gin.Context) {
	id := c.Param("id")
	var req disputeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if id == "" || req.ActorID == "" {
		writeError(c, http.StatusBadRequest, "missing order id or actor_id")
		return
	}
	err := h.order.RaiseDispute(c.Request.Context(), order.DisputeCommand{
		OrderID: types.ID(id),
		ActorID: types.ID(req.ActorID),
		Reason:  req.Reason,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": order.StatusDisputed})
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	actor := c.Query("actor_id")
	if id == "" || actor == "" {
		writeError(c, http.StatusBadRequest, "missing order id or actor_id")
		return
	}
	err := h.order.Cancel(c.Request.Context(), order.CancelCommand{
		OrderID: types.ID(id),
		ActorID: types.ID(actor),
		Reason:  "user_cancel",
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": order.StatusCancelled})
}

func orderView(o *order.Order) gin.H {
	v := gin.H{
		"order_id":       o.ID,
		"buyer_id":       o.BuyerID,
		"seller_id":      o.SellerID,
		"product_id":     o.ProductID,
		"amount":         o.Amount.Amount,
		"currency":       o.Amount.Currency,
		"payment_method": o.PaymentMethod,
		"status":         o.Status,
		"created_at":     o.CreatedAt,
	}
	if o.RouteID != nil {
		v["route_id"] = *o.RouteID
	}
	if o.DeliveredAt != nil {
		v["delivered_at"] = *o.DeliveredAt
	}
	if o.DisputeDeadline != nil {
		v["dispute_deadline"] = *o.DisputeDeadline
	}
	if o.DisputeReason != nil {
		v["dispute_reason"] = *o.DisputeReason
	}
	return v
}
