// README: Common value objects shared across modules.
package types

// ID is an opaque entity identifier (UUID in practice).
type ID string

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64
	Lng float64
}

// Money is a fixed-point amount in minor units.
type Money struct {
	Amount   int64
	Currency string
}

func (m Money) Neg() Money { return Money{Amount: -m.Amount, Currency: m.Currency} }
