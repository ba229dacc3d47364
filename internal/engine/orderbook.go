package engine

import (
	"fmt"

	"orderbooks/internal/book"
	"orderbooks/internal/common"
)

// AddOrder places a new limit order which can either (fully or partially):
// 1. Execute immediately against resting contra-side orders
// 2. Rest in the book
//
// The returned id is the order's own id, whether it now rests in full, rests
// with a reduced size, or was consumed entirely.
func (e *Engine) AddOrder(order common.Order) (string, error) {
	if err := e.validate(order); err != nil {
		e.logger.Debug().Err(err).Str("order", order.ID).Msg("order rejected")
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.orders[order.ID]; ok {
		err := fmt.Errorf("%w: %s", ErrDuplicateOrder, order.ID)
		e.logger.Debug().Err(err).Msg("order rejected")
		return "", err
	}

	own, opposite := e.sides(order.Side)
	// A residual must be restable before anything is matched, so a rejected
	// order never leaves trades behind. Orders that fill in full never rest.
	if e.crossingSize(order, opposite) < order.Size {
		if err := own.Check(order.Price); err != nil {
			e.logger.Debug().Err(err).Str("order", order.ID).Msg("order rejected")
			return "", err
		}
	}

	remaining := e.match(order, opposite)
	if remaining > 0 {
		if err := e.rest(own, order.WithSize(remaining)); err != nil {
			return "", err
		}
	}
	return order.ID, nil
}

func (e *Engine) validate(order common.Order) error {
	if order.Type != common.LimitOrder {
		return fmt.Errorf("%w: %v", ErrUnsupportedOrderType, order.Type)
	}
	if order.ID == "" {
		return ErrMissingOrderID
	}
	return order.Validate()
}

// crosses reports whether a resting price is acceptable to an incoming order
// with the given side and limit. Matching up to and including the limit is
// allowed.
func crosses(side common.Side, limit, price float64) bool {
	if side == common.Buy {
		return price <= limit
	}
	return price >= limit
}

// crossingSize returns the opposite side's liquidity within the order's
// limit, counting no further than the order's size.
func (e *Engine) crossingSize(order common.Order, opposite book.Side) uint64 {
	var available uint64
	opposite.Scan(func(level *book.Level) bool {
		if !crosses(order.Side, order.Price, level.Price()) {
			return false
		}
		available += level.Size()
		return available < order.Size
	})
	return available
}

// match walks the opposite side best price first, and each level oldest
// order first, filling the incoming order as far as its limit allows. It
// returns the unfilled quantity.
//
// A resting order is always removed before it trades. If only part of it
// fills, a replacement carrying the leftover goes back to the front of its
// level so it keeps its time priority. Both indices are updated before
// listeners hear about the trade.
func (e *Engine) match(taker common.Order, opposite book.Side) uint64 {
	remaining := taker.Size
	for remaining > 0 {
		level, ok := opposite.Best()
		if !ok || !crosses(taker.Side, taker.Price, level.Price()) {
			break
		}

		for remaining > 0 {
			maker, ok := level.PopFront()
			if !ok {
				break
			}
			delete(e.orders, maker.ID)

			qty := min(remaining, maker.Size)
			remaining -= qty
			if qty < maker.Size {
				leftover := maker.WithSize(maker.Size - qty)
				level.PushFront(leftover)
				e.orders[leftover.ID] = leftover
			}
			// Full consumption case (i.e. empty level).
			if level.Empty() {
				opposite.Remove(level.Price())
			}
			e.trade(taker, maker, qty)
		}
	}
	return remaining
}

// rest appends order to the back of its price level on side.
func (e *Engine) rest(side book.Side, order common.Order) error {
	level, err := side.GetOrCreate(order.Price)
	if err != nil {
		return fmt.Errorf("unable to rest order %s: %w", order.ID, err)
	}
	level.PushBack(order)
	e.orders[order.ID] = order
	return nil
}

// trade books one match at the maker's price and fans it out to listeners.
func (e *Engine) trade(taker, maker common.Order, qty uint64) {
	e.tradeSeq++
	trade := common.Trade{
		ID:        e.tradeSeq,
		Taker:     taker.ID,
		Maker:     maker.ID,
		Timestamp: e.clock.Now(),
		Price:     maker.Price,
		Size:      qty,
	}
	for _, listener := range e.listeners {
		listener.OnTrade(trade)
	}
}

// CancelOrder removes a resting order from its level and from the order
// index.
func (e *Engine) CancelOrder(id string) common.CancelStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[id]
	if !ok {
		return common.NotExists
	}

	side, _ := e.sides(order.Side)
	if level, ok := side.Level(order.Price); ok {
		level.Remove(id)
		if level.Empty() {
			side.Remove(order.Price)
		}
	}
	delete(e.orders, id)

	e.logger.Debug().Str("order", id).Msg("order canceled")
	return common.Canceled
}
