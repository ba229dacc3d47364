package engine

import (
	"orderbooks/internal/book"
	"orderbooks/internal/common"
)

// GetOrder returns the resting order with the given id. Fully filled and
// canceled orders are not found.
func (e *Engine) GetOrder(id string) (common.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[id]
	return order, ok
}

// AllOrders returns a snapshot of every resting order: bids best price
// first, then asks best price first, oldest first within a level.
func (e *Engine) AllOrders() []common.Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	orders := make([]common.Order, 0, len(e.orders))
	collect := func(level *book.Level) bool {
		orders = append(orders, level.Orders()...)
		return true
	}
	e.bids.Scan(collect)
	e.asks.Scan(collect)
	return orders
}

// TopOfBook returns the best price and aggregate size of each side.
func (e *Engine) TopOfBook() common.TopOfBook {
	e.mu.Lock()
	defer e.mu.Unlock()

	var top common.TopOfBook
	if level, ok := e.bids.Best(); ok {
		top.BidPrice, top.BidSize, top.HasBid = level.Price(), level.Size(), true
	}
	if level, ok := e.asks.Best(); ok {
		top.AskPrice, top.AskSize, top.HasAsk = level.Price(), level.Size(), true
	}
	return top
}

// BidLevels maps each bid price to its aggregate resting size.
func (e *Engine) BidLevels() map[float64]uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return aggregate(e.bids)
}

// AskLevels maps each ask price to its aggregate resting size.
func (e *Engine) AskLevels() map[float64]uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return aggregate(e.asks)
}

// Depth returns the number of non-empty price levels across both sides.
func (e *Engine) Depth() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.bids.Len() + e.asks.Len()
}

func aggregate(side book.Side) map[float64]uint64 {
	levels := make(map[float64]uint64, side.Len())
	side.Scan(func(level *book.Level) bool {
		levels[level.Price()] = level.Size()
		return true
	})
	return levels
}
