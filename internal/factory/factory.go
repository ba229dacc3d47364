// Package factory mints orders: a fresh id and a creation timestamp for
// every (side, type, price, size) request.
package factory

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"

	"orderbooks/internal/clock"
	"orderbooks/internal/common"
)

type OrderFactory struct {
	clock  clock.TimeSource
	nextID func() string
}

type Option func(*OrderFactory)

// WithClock stamps orders from ts instead of the system clock.
func WithClock(ts clock.TimeSource) Option {
	return func(f *OrderFactory) {
		f.clock = ts
	}
}

// WithSequentialIDs mints ids "1", "2", "3"... instead of random uuids.
// Sequential ids are only unique within one factory.
func WithSequentialIDs() Option {
	return func(f *OrderFactory) {
		var seq atomic.Uint64
		f.nextID = func() string {
			return strconv.FormatUint(seq.Add(1), 10)
		}
	}
}

func New(opts ...Option) *OrderFactory {
	f := &OrderFactory{
		clock: clock.SystemMillis{},
		nextID: func() string {
			return uuid.New().String()
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create returns a new order. The order type is not checked here; the
// engine decides which types it supports.
func (f *OrderFactory) Create(side common.Side, orderType common.OrderType, price float64, size uint64) (common.Order, error) {
	order := common.Order{
		Side:  side,
		Type:  orderType,
		Price: price,
		Size:  size,
	}
	if err := order.Validate(); err != nil {
		return common.Order{}, err
	}
	order.ID = f.nextID()
	order.Timestamp = f.clock.Now()
	return order, nil
}
