// README: Dispatch Notifier port. Fire-and-forget; failures are logged and
// never block core transitions.
package notify

import (
	"context"

	"github.com/sirupsen/logrus"

	"bazar/internal/types"
)

type Notifier interface {
	// OrderStatus informs buyer and seller about an order transition.
	OrderStatus(ctx context.Context, orderID types.ID, status string)
	// DriverAssigned informs a driver that a route is ready for pickup.
	DriverAssigned(ctx context.Context, driverID, routeID types.ID)
}

// LogNotifier writes notifications to the log. Push/SMS/webhook transports
// plug in behind the same interface.
type LogNotifier struct {
	Log *logrus.Logger
}

func (n *LogNotifier) OrderStatus(ctx context.Context, orderID types.ID, status string) {
	n.Log.WithFields(logrus.Fields{"order_id": orderID, "status": status}).Info("notify: order status")
}

func (n *LogNotifier) DriverAssigned(ctx context.Context, driverID, routeID types.ID) {
	n.Log.WithFields(logrus.Fields{"driver_id": driverID, "route_id": routeID}).Info("notify: driver assigned")
}

// Noop drops all notifications. Handy default for tests.
type Noop struct{}

func (Noop) OrderStatus(ctx context.Context, orderID types.ID, status string) {}
func (Noop) DriverAssigned(ctx context.Context, driverID, routeID types.ID)   {}
