package common

import (
	"fmt"
	"time"
)

// Trade accounts for the two orders who matched: the aggressing order
// (taker) and one resting order (maker).
type Trade struct {
	ID        uint64    // Engine-local, monotonic
	Taker     string    // Aggressing order id
	Maker     string    // Resting order id
	Timestamp time.Time // Match time from the engine clock
	Price     float64   // Execution price, always the maker's price
	Size      uint64    // Quantity exchanged
}

// OrderIDs returns the ids of both participating orders, taker first.
func (t Trade) OrderIDs() [2]string {
	return [2]string{t.Taker, t.Maker}
}

func (t Trade) String() string {
	return fmt.Sprintf(
		`ID:        %d
Taker:     %s
Maker:     %s
Timestamp: %v
Size:      %d
Price:     %f`,
		t.ID,
		t.Taker,
		t.Maker,
		t.Timestamp.Format(time.RFC3339Nano),
		t.Size,
		t.Price,
	)
}

// TopOfBook is the best price and aggregate resting size on each side. The
// zero value describes an empty book.
type TopOfBook struct {
	BidPrice float64
	BidSize  uint64
	HasBid   bool
	AskPrice float64
	AskSize  uint64
	HasAsk   bool
}

// Spread returns ask minus bid, and false when either side is empty.
func (t TopOfBook) Spread() (float64, bool) {
	if !t.HasBid || !t.HasAsk {
		return 0, false
	}
	return t.AskPrice - t.BidPrice, true
}
