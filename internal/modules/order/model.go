// README: Order aggregate and status definitions.
package order

import (
	"time"

	"bazar/internal/types"
)

type Status string

const (
	StatusNone           Status = "none"
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusOutForDelivery Status = "out_for_delivery"
	// StatusDelivered is the held-for-dispute phase: the buyer confirmed
	// receipt and the dispute window is running.
	StatusDelivered Status = "delivered"
	StatusDisputed  Status = "disputed"
	StatusReleased  Status = "released"
	StatusRefunded  Status = "refunded"
	StatusCancelled Status = "cancelled"
)

type PaymentMethod string

const (
	PayWallet PaymentMethod = "wallet"
	PayCash   PaymentMethod = "cash"
)

type Order struct {
	ID              types.ID
	BuyerID         types.ID
	SellerID        types.ID
	ProductID       types.ID
	Amount          types.Money
	PaymentMethod   PaymentMethod
	Status          Status
	StatusVersion   int
	HoldID          *types.ID
	RouteID         *types.ID
	PickupLocation  types.Point
	DropoffLocation types.Point
	CreatedAt       time.Time
	ConfirmedAt     *time.Time
	DeliveredAt     *time.Time
	DisputeDeadline *time.Time
	DisputeReason   *string
}

// Terminal reports whether no further transitions are possible.
func (o *Order) Terminal() bool {
	return o.Status == StatusReleased || o.Status == StatusRefunded || o.Status == StatusCancelled
}

type Event struct {
	ID         int64
	OrderID    types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	CreatedAt  time.Time
}

// AllowedTransitions represents the order state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusPending:        {StatusConfirmed, StatusCancelled},
	StatusConfirmed:      {StatusOutForDelivery},
	StatusOutForDelivery: {StatusDelivered},
	StatusDelivered:      {StatusReleased, StatusDisputed},
	StatusDisputed:       {StatusRefunded, StatusReleased},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}
