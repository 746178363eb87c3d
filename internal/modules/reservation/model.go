// README: Product reservation mirror of the order lifecycle. At most one
// active order per product.
package reservation

import (
	"time"

	"bazar/internal/types"
)

type Status string

const (
	StatusAvailable Status = "available"
	StatusReserved  Status = "reserved"
	StatusSold      Status = "sold"
)

type Reservation struct {
	ProductID          types.ID
	Status             Status
	ReservedForOrderID *types.ID
	ReservedUntil      *time.Time
	UpdatedAt          time.Time
}
