// Package engine is the single-instrument matching engine. One Engine owns
// both sides of the book and the order index, and serialises every call
// behind one mutex.
package engine

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"orderbooks/internal/book"
	"orderbooks/internal/clock"
	"orderbooks/internal/common"
)

var (
	ErrUnsupportedOrderType = errors.New("unsupported order type")
	ErrDuplicateOrder       = errors.New("order id already resting")
	ErrMissingOrderID       = errors.New("order id is empty")
)

// TradeListener observes every trade the engine produces. Listeners run
// synchronously inside the engine's critical section, in registration
// order, right after each individual match. They must not call back into
// the engine.
type TradeListener interface {
	OnTrade(trade common.Trade)
}

// TradeListenerFunc adapts a plain function to a TradeListener.
type TradeListenerFunc func(trade common.Trade)

func (f TradeListenerFunc) OnTrade(trade common.Trade) { f(trade) }

type Engine struct {
	mu sync.Mutex

	// Price levels to orders sat on the price level, sorted by time added
	// as they will be push-back'd.
	bids book.Side
	asks book.Side

	// Every resting order by id. Always set-equal to the union of all
	// level contents.
	orders map[string]common.Order

	listeners []TradeListener
	clock     clock.TimeSource
	logger    zerolog.Logger
	tradeSeq  uint64
}

type options struct {
	sides  book.Factory
	clock  clock.TimeSource
	logger zerolog.Logger
}

type Option func(*options)

// WithSides selects the level index strategy for both sides of the book.
func WithSides(factory book.Factory) Option {
	return func(o *options) {
		o.sides = factory
	}
}

// WithClock sets the source of trade timestamps.
func WithClock(ts clock.TimeSource) Option {
	return func(o *options) {
		o.clock = ts
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func New(opts ...Option) *Engine {
	o := options{
		sides:  book.TreeFactory(),
		clock:  clock.SystemMillis{},
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{
		bids:   o.sides(common.Buy),
		asks:   o.sides(common.Sell),
		orders: make(map[string]common.Order),
		clock:  o.clock,
		logger: o.logger.With().Str("component", "engine").Logger(),
	}
}

// AddTradeListener registers listener behind every listener already
// registered.
func (e *Engine) AddTradeListener(listener TradeListener) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.listeners = append(e.listeners, listener)
}

// sides returns the order's own side and the side it matches against.
func (e *Engine) sides(side common.Side) (own, opposite book.Side) {
	if side == common.Buy {
		return e.bids, e.asks
	}
	return e.asks, e.bids
}
