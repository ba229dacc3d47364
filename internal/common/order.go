package common

import (
	"fmt"
	"time"
)

// Order is an immutable limit order record. A fill never changes an order
// in place: the book drops the record and, if quantity remains, stores a
// replacement built with WithSize. ID is the only handle that survives.
type Order struct {
	ID        string    // Opaque id minted by the order factory
	Side      Side      // Order side
	Type      OrderType // Only LimitOrder is matched
	Timestamp time.Time // Creation time, carried over to replacements
	Price     float64   // Limiting price
	Size      uint64    // Resting quantity
}

// WithSize returns a copy of the order carrying size instead of the
// current quantity.
func (order Order) WithSize(size uint64) Order {
	order.Size = size
	return order
}

func (order Order) String() string {
	return fmt.Sprintf(
		`ID:        %s
Side:      %v
Type:      %v
Timestamp: %v
Price:     %f
Size:      %d`,
		order.ID,
		order.Side,
		order.Type,
		order.Timestamp.Format(time.RFC3339Nano),
		order.Price,
		order.Size,
	)
}
