// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"bazar/internal/http/handlers"
	"bazar/internal/http/middleware"
	"bazar/internal/modules/dispute"
	"bazar/internal/modules/ledger"
	"bazar/internal/modules/order"
	"bazar/internal/modules/routing"
)

type RouterDeps struct {
	Order   *order.Service
	Dispute *dispute.Service
	Wallet  *ledger.Service
	Routing *routing.Service
	Drivers handlers.DriverLocator
	Log     *logrus.Logger
}

func NewRouter(deps RouterDeps) http.Handler {
	if deps.Log == nil {
		deps.Log = logrus.New()
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Logging(deps.Log), middleware.Recovery(deps.Log))

	orderHandler := handlers.NewOrderHandler(deps.Order)
	r.POST("/api/orders", orderHandler.Create)
	r.GET("/api/orders/:id", orderHandler.Get)
	r.POST("/api/orders/:id/confirm", orderHandler.Confirm)
	r.POST("/api/orders/:id/out_for_delivery", orderHandler.OutForDelivery)
	r.POST("/api/orders/:id/confirm_delivery", orderHandler.ConfirmDelivery)
	r.POST("/api/orders/:id/dispute", orderHandler.RaiseDispute)
	r.POST("/api/orders/:id/cancel", orderHandler.Cancel)

	disputeHandler := handlers.NewDisputeHandler(deps.Dispute)
	r.POST("/api/disputes/:id/resolve", disputeHandler.Resolve)
	r.GET("/api/disputes/:id/suggestion", disputeHandler.Suggest)

	walletHandler := handlers.NewWalletHandler(deps.Wallet)
	r.POST("/api/wallets/:id/deposit", walletHandler.Deposit)
	r.POST("/api/wallets/:id/withdraw", walletHandler.Withdraw)
	r.GET("/api/wallets/:id/balance", walletHandler.Balance)

	routingHandler := handlers.NewRoutingHandler(deps.Routing, deps.Drivers)
	r.GET("/api/batches", routingHandler.ListBatches)
	r.GET("/api/batches/:id", routingHandler.GetBatch)
	r.GET("/api/routes/:id", routingHandler.GetRoute)
	r.POST("/api/routes/:id/stops/:seq/complete", routingHandler.CompleteStop)
	r.PUT("/api/drivers/:id/location", routingHandler.UpdateDriverLocation)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	return r
}
