package engine

import (
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderbooks/internal/book"
	"orderbooks/internal/clock"
	. "orderbooks/internal/common"
	"orderbooks/internal/factory"
)

// --- Setup & Helpers --------------------------------------------------------

var testEpoch = time.Unix(1700000000, 0)

type strategy struct {
	name    string
	factory book.Factory
}

func strategies(t testing.TB) []strategy {
	tick, err := book.TickFactory(0.5)
	require.NoError(t, err)
	return []strategy{
		{name: "tree", factory: book.TreeFactory()},
		{name: "tick", factory: tick},
	}
}

type testBook struct {
	*Engine
	minter *factory.OrderFactory
	trades []Trade
}

func createTestBook(s strategy) *testBook {
	tb := &testBook{
		Engine: New(
			WithSides(s.factory),
			WithClock(clock.NewFake(testEpoch, time.Millisecond)),
		),
		minter: factory.New(
			factory.WithSequentialIDs(),
			factory.WithClock(clock.NewFake(testEpoch, time.Microsecond)),
		),
	}
	tb.AddTradeListener(TradeListenerFunc(func(trade Trade) {
		tb.trades = append(tb.trades, trade)
	}))
	return tb
}

// forEachStrategy runs test once per level index strategy.
func forEachStrategy(t *testing.T, test func(t *testing.T, tb *testBook)) {
	for _, s := range strategies(t) {
		t.Run(s.name, func(t *testing.T) {
			tb := createTestBook(s)
			test(t, tb)
			require.NoError(t, tb.verify())
		})
	}
}

func (tb *testBook) place(side Side, price float64, size uint64) (string, error) {
	order, err := tb.minter.Create(side, LimitOrder, price, size)
	if err != nil {
		return "", err
	}
	return tb.AddOrder(order)
}

func (tb *testBook) placeTestOrders(price float64, side Side, quantities ...uint64) error {
	for _, qty := range quantities {
		if _, err := tb.place(side, price, qty); err != nil {
			return err
		}
	}
	return nil
}

type flatLevel struct {
	Price float64
	Sizes []uint64
}

func level(price float64, sizes ...uint64) flatLevel {
	return flatLevel{Price: price, Sizes: sizes}
}

// flattenLevels lists one side of the book, best price first.
func (tb *testBook) flattenLevels(side Side) []flatLevel {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	own, _ := tb.sides(side)
	var flat []flatLevel
	own.Scan(func(l *book.Level) bool {
		fl := flatLevel{Price: l.Price()}
		for _, o := range l.Orders() {
			fl.Sizes = append(fl.Sizes, o.Size)
		}
		flat = append(flat, fl)
		return true
	})
	return flat
}

type priceSize struct {
	Price float64
	Size  uint64
}

func (tb *testBook) tradeSummary() []priceSize {
	out := make([]priceSize, len(tb.trades))
	for i, trade := range tb.trades {
		out[i] = priceSize{trade.Price, trade.Size}
	}
	return out
}

// verify checks the structural invariants of the book: the order index and
// the level contents hold the same orders, no level is empty, level sizes
// add up, orders sit on the side and price of their level, arrival order is
// kept within each level, and the book is not crossed.
func (e *Engine) verify() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[string]bool, len(e.orders))
	check := func(side Side, s book.Side) error {
		var err error
		s.Scan(func(l *book.Level) bool {
			if l.Empty() {
				err = fmt.Errorf("%v level %v is empty", side, l.Price())
				return false
			}
			var sum uint64
			prevSeq := -1
			for _, o := range l.Orders() {
				sum += o.Size
				if seen[o.ID] {
					err = fmt.Errorf("order %s appears twice", o.ID)
					return false
				}
				seen[o.ID] = true
				if indexed, ok := e.orders[o.ID]; !ok || indexed != o {
					err = fmt.Errorf("order %s in level %v disagrees with index (%v)", o.ID, l.Price(), ok)
					return false
				}
				if o.Side != side || o.Price != l.Price() {
					err = fmt.Errorf("order %s misplaced on %v %v", o.ID, side, l.Price())
					return false
				}
				if seq, convErr := strconv.Atoi(o.ID); convErr == nil {
					if seq <= prevSeq {
						err = fmt.Errorf("level %v breaks arrival order at %s", l.Price(), o.ID)
						return false
					}
					prevSeq = seq
				}
			}
			if sum != l.Size() {
				err = fmt.Errorf("level %v size %d, orders sum to %d", l.Price(), l.Size(), sum)
				return false
			}
			return true
		})
		return err
	}
	if err := check(Buy, e.bids); err != nil {
		return err
	}
	if err := check(Sell, e.asks); err != nil {
		return err
	}
	if len(seen) != len(e.orders) {
		return fmt.Errorf("index holds %d orders, levels hold %d", len(e.orders), len(seen))
	}

	bid, hasBid := e.bids.Best()
	ask, hasAsk := e.asks.Best()
	if hasBid && hasAsk && bid.Price() >= ask.Price() {
		return fmt.Errorf("book is crossed: bid %v >= ask %v", bid.Price(), ask.Price())
	}
	return nil
}

// --- Tests ------------------------------------------------------------------

func TestAddOrder_Limit(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, tb *testBook) {
		// 1. Setup: Place 3 orders on Buy side and 3 on Sell side
		assert.NoError(t, tb.placeTestOrders(99.0, Buy, 100, 90, 80))
		assert.NoError(t, tb.placeTestOrders(100.0, Sell, 100, 90, 80))

		// 2. Assertions
		assert.Equal(t, []flatLevel{level(100.0, 100, 90, 80)}, tb.flattenLevels(Sell))
		assert.Equal(t, []flatLevel{level(99.0, 100, 90, 80)}, tb.flattenLevels(Buy))
		assert.Empty(t, tb.trades)
		assert.Len(t, tb.AllOrders(), 6)
	})
}

// setupTwoLevelBook rests bids at 99 (100, 90, 80) and 98 (50) and asks at
// 100 (100, 90) and 101 (20).
func setupTwoLevelBook(t *testing.T, tb *testBook) {
	// 1. Setup BIDS: Highest price first (99 -> 98)
	require.NoError(t, tb.placeTestOrders(99.0, Buy, 100, 90, 80))
	require.NoError(t, tb.placeTestOrders(98.0, Buy, 50))

	// 2. Setup ASKS: Lowest price first (100 -> 101)
	require.NoError(t, tb.placeTestOrders(100.0, Sell, 100, 90))
	require.NoError(t, tb.placeTestOrders(101.0, Sell, 20))

	// Validates that the engine correctly sorts levels based on price priority
	require.Equal(t, []flatLevel{level(100.0, 100, 90), level(101.0, 20)}, tb.flattenLevels(Sell), "Asks should be sorted Low -> High")
	require.Equal(t, []flatLevel{level(99.0, 100, 90, 80), level(98.0, 50)}, tb.flattenLevels(Buy), "Bids should be sorted High -> Low")
	require.Empty(t, tb.trades)
}

func TestAddOrder_Limit_MultipleLevels_WithMatch(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, tb *testBook) {
		setupTwoLevelBook(t, tb)

		// Check complete match.
		assert.NoError(t, tb.placeTestOrders(100.0, Buy, 100))
		assert.Equal(t, []flatLevel{level(100.0, 90), level(101.0, 20)}, tb.flattenLevels(Sell))

		// Check partial match. The remainder keeps the front of the level.
		assert.NoError(t, tb.placeTestOrders(100.0, Buy, 20))
		assert.Equal(t, []flatLevel{level(100.0, 70), level(101.0, 20)}, tb.flattenLevels(Sell))
		assert.Equal(t, []priceSize{{100.0, 100}, {100.0, 20}}, tb.tradeSummary())
	})
}

func TestAddOrder_Limit_MultipleLevels_WithMatchSweep_Bid(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, tb *testBook) {
		setupTwoLevelBook(t, tb)

		// Check sweep match.
		assert.NoError(t, tb.placeTestOrders(100.0, Buy, 120))
		assert.Equal(t, []flatLevel{level(100.0, 70), level(101.0, 20)}, tb.flattenLevels(Sell))

		// Check multi-level sweep with a deep into the book order (100.0, 101.0).
		assert.NoError(t, tb.placeTestOrders(103.0, Buy, 80))
		assert.Equal(t, []flatLevel{level(101.0, 10)}, tb.flattenLevels(Sell))
		assert.Equal(t, []priceSize{{100.0, 100}, {100.0, 20}, {100.0, 70}, {101.0, 10}}, tb.tradeSummary())
	})
}

func TestAddOrder_Limit_MultipleLevels_WithMatchSweep_Ask(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, tb *testBook) {
		setupTwoLevelBook(t, tb)

		// Check sweep match.
		assert.NoError(t, tb.placeTestOrders(96.0, Sell, 310))
		assert.Equal(t, []flatLevel{level(98.0, 10)}, tb.flattenLevels(Buy))
		assert.Equal(t, []flatLevel{level(100.0, 100, 90), level(101.0, 20)}, tb.flattenLevels(Sell), "fully filled taker must not rest")
	})
}

func TestAddOrder_ScenarioA_FullCross(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, tb *testBook) {
		buyID, err := tb.place(Buy, 100.0, 1)
		require.NoError(t, err)
		sellID, err := tb.place(Sell, 100.0, 1)
		require.NoError(t, err)

		assert.Empty(t, tb.AllOrders())
		assert.Equal(t, TopOfBook{}, tb.TopOfBook())
		require.Len(t, tb.trades, 1)
		assert.Equal(t, Trade{
			ID:        1,
			Taker:     sellID,
			Maker:     buyID,
			Timestamp: testEpoch,
			Price:     100.0,
			Size:      1,
		}, tb.trades[0])
	})
}

func TestAddOrder_ScenarioB_SameLevelAggregates(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, tb *testBook) {
		require.NoError(t, tb.placeTestOrders(100.0, Buy, 1, 2))

		assert.Equal(t, map[float64]uint64{100.0: 3}, tb.BidLevels())
		assert.Empty(t, tb.AskLevels())
		top := tb.TopOfBook()
		assert.True(t, top.HasBid)
		assert.Equal(t, uint64(3), top.BidSize)
		assert.False(t, top.HasAsk)
	})
}

func TestAddOrder_ScenarioC_StopsAtLimit(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, tb *testBook) {
		require.NoError(t, tb.placeTestOrders(102.0, Buy, 1))
		require.NoError(t, tb.placeTestOrders(101.0, Buy, 2))
		sellID, err := tb.place(Sell, 102.0, 4)
		require.NoError(t, err)

		assert.Equal(t, []priceSize{{102.0, 1}}, tb.tradeSummary())
		assert.Equal(t, map[float64]uint64{102.0: 3}, tb.AskLevels())
		assert.Equal(t, map[float64]uint64{101.0: 2}, tb.BidLevels())

		rested, ok := tb.GetOrder(sellID)
		require.True(t, ok, "the residual keeps the incoming id")
		assert.Equal(t, uint64(3), rested.Size)
		assert.Equal(t, TopOfBook{BidPrice: 101.0, BidSize: 2, HasBid: true, AskPrice: 102.0, AskSize: 3, HasAsk: true}, tb.TopOfBook())
	})
}

func TestAddOrder_ScenarioD_MultiLevelSweep(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, tb *testBook) {
		require.NoError(t, tb.placeTestOrders(102.0, Buy, 1))
		require.NoError(t, tb.placeTestOrders(101.0, Buy, 2))
		require.NoError(t, tb.placeTestOrders(100.0, Buy, 4))
		require.NoError(t, tb.placeTestOrders(99.0, Sell, 7))

		assert.Equal(t, []priceSize{{102.0, 1}, {101.0, 2}, {100.0, 4}}, tb.tradeSummary())
		assert.Empty(t, tb.AllOrders())
		assert.Zero(t, tb.Depth())
		for i, trade := range tb.trades {
			assert.Equal(t, uint64(i+1), trade.ID, "trade ids are monotonic")
		}
	})
}

func TestAddOrder_PartialFillKeepsIdentity(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, tb *testBook) {
		restID, err := tb.place(Sell, 100.0, 10)
		require.NoError(t, err)
		before, ok := tb.GetOrder(restID)
		require.True(t, ok)
		require.NoError(t, tb.placeTestOrders(100.0, Sell, 5))

		takerID, err := tb.place(Buy, 100.0, 4)
		require.NoError(t, err)

		after, ok := tb.GetOrder(restID)
		require.True(t, ok)
		assert.Equal(t, before.WithSize(6), after, "replacement carries the same id, price and timestamp")

		_, ok = tb.GetOrder(takerID)
		assert.False(t, ok, "a fully filled taker is gone from every index")

		orders := tb.AllOrders()
		require.Len(t, orders, 2)
		assert.Equal(t, restID, orders[0].ID, "the remainder stays ahead of later arrivals")
		assert.Equal(t, []priceSize{{100.0, 4}}, tb.tradeSummary())
	})
}

func TestAddOrder_NonCrossingPricesRest(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, tb *testBook) {
		require.NoError(t, tb.placeTestOrders(100.0, Buy, 1))
		require.NoError(t, tb.placeTestOrders(101.0, Sell, 1))

		assert.Len(t, tb.AllOrders(), 2)
		top := tb.TopOfBook()
		assert.Equal(t, 100.0, top.BidPrice)
		assert.Equal(t, 101.0, top.AskPrice)
		assert.Empty(t, tb.trades)
		assert.Equal(t, 2, tb.Depth())
	})
}

func TestAddOrder_RejectsUnsupportedTypes(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, tb *testBook) {
		require.NoError(t, tb.placeTestOrders(100.0, Sell, 5))

		for _, orderType := range []OrderType{MarketOrder, ImmediateOrCancel, FillOrKill} {
			order, err := tb.minter.Create(Buy, orderType, 100.0, 1)
			require.NoError(t, err)

			_, err = tb.AddOrder(order)
			assert.ErrorIs(t, err, ErrUnsupportedOrderType)
		}
		assert.Empty(t, tb.trades)
		assert.Equal(t, map[float64]uint64{100.0: 5}, tb.AskLevels())
	})
}

func TestAddOrder_RejectsInvalidOrders(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, tb *testBook) {
		base := Order{ID: "x", Side: Buy, Type: LimitOrder, Timestamp: testEpoch, Price: 100, Size: 1}

		_, err := tb.AddOrder(base.WithSize(0))
		assert.ErrorIs(t, err, ErrInvalidSize)

		negative := base
		negative.Price = -100
		_, err = tb.AddOrder(negative)
		assert.ErrorIs(t, err, ErrInvalidPrice)

		anonymous := base
		anonymous.ID = ""
		_, err = tb.AddOrder(anonymous)
		assert.ErrorIs(t, err, ErrMissingOrderID)

		assert.Empty(t, tb.AllOrders())
	})
}

func TestAddOrder_RejectsDuplicateID(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, tb *testBook) {
		order, err := tb.minter.Create(Buy, LimitOrder, 100.0, 1)
		require.NoError(t, err)
		_, err = tb.AddOrder(order)
		require.NoError(t, err)

		_, err = tb.AddOrder(order)
		assert.ErrorIs(t, err, ErrDuplicateOrder)
		assert.Equal(t, map[float64]uint64{100.0: 1}, tb.BidLevels())
	})
}

func TestAddOrder_OffTickRejectedBeforeMatching(t *testing.T) {
	tick, err := book.TickFactory(0.5)
	require.NoError(t, err)
	tb := createTestBook(strategy{name: "tick", factory: tick})

	require.NoError(t, tb.placeTestOrders(100.0, Sell, 5))
	_, err = tb.place(Buy, 100.2, 10)
	assert.ErrorIs(t, err, book.ErrOffTick)
	assert.Empty(t, tb.trades, "a rejected order must not trade")
	assert.Equal(t, map[float64]uint64{100.0: 5}, tb.AskLevels())
	require.NoError(t, tb.verify())
}

func TestAddOrder_FarLimitFillsWithoutResting(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, tb *testBook) {
		require.NoError(t, tb.placeTestOrders(100.0, Buy, 1))
		require.NoError(t, tb.placeTestOrders(101.0, Sell, 1))

		_, err := tb.place(Buy, 1_000_000, 1)
		require.NoError(t, err)
		assert.Equal(t, []priceSize{{101.0, 1}}, tb.tradeSummary())
		assert.Empty(t, tb.AskLevels())
		assert.Equal(t, map[float64]uint64{100.0: 1}, tb.BidLevels())
	})
}

func TestAddOrder_OffTickLimitFillsWithoutResting(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, tb *testBook) {
		require.NoError(t, tb.placeTestOrders(100.0, Sell, 5))

		_, err := tb.place(Buy, 100.2, 3)
		require.NoError(t, err)
		assert.Equal(t, []priceSize{{100.0, 3}}, tb.tradeSummary())
		assert.Equal(t, map[float64]uint64{100.0: 2}, tb.AskLevels())
	})
}

func TestAddOrder_FarResidualRejectedBeforeMatching(t *testing.T) {
	tick, err := book.TickFactory(0.5)
	require.NoError(t, err)
	tb := createTestBook(strategy{name: "tick", factory: tick})

	require.NoError(t, tb.placeTestOrders(100.0, Buy, 1))
	require.NoError(t, tb.placeTestOrders(101.0, Sell, 1))

	_, err = tb.place(Buy, 1_000_000, 2)
	assert.ErrorIs(t, err, book.ErrTickSpan)
	assert.Empty(t, tb.trades, "a rejected order must not trade")
	assert.Equal(t, map[float64]uint64{101.0: 1}, tb.AskLevels())
	require.NoError(t, tb.verify())
}

func TestAddOrder_PriceBeyondTickRange(t *testing.T) {
	tick, err := book.TickFactory(0.5)
	require.NoError(t, err)
	tb := createTestBook(strategy{name: "tick", factory: tick})

	require.NoError(t, tb.placeTestOrders(2192.0, Buy, 1))
	_, err = tb.place(Buy, 9223372036854777856, 5)
	assert.ErrorIs(t, err, book.ErrTickSpan)
	assert.Equal(t, map[float64]uint64{2192.0: 1}, tb.BidLevels())
	require.NoError(t, tb.verify())
}

func TestCancelOrder(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, tb *testBook) {
		assert.Equal(t, NotExists, tb.CancelOrder("missing"))

		first, err := tb.place(Buy, 100.0, 1)
		require.NoError(t, err)
		middle, err := tb.place(Buy, 100.0, 2)
		require.NoError(t, err)
		_, err = tb.place(Buy, 100.0, 3)
		require.NoError(t, err)
		lone, err := tb.place(Buy, 99.0, 4)
		require.NoError(t, err)

		assert.Equal(t, Canceled, tb.CancelOrder(middle))
		assert.Equal(t, []flatLevel{level(100.0, 1, 3), level(99.0, 4)}, tb.flattenLevels(Buy))
		_, ok := tb.GetOrder(middle)
		assert.False(t, ok)

		assert.Equal(t, NotExists, tb.CancelOrder(middle), "a canceled order no longer exists")

		// Canceling the last order of a level drops the level.
		assert.Equal(t, Canceled, tb.CancelOrder(lone))
		assert.Equal(t, map[float64]uint64{100.0: 4}, tb.BidLevels())

		// A canceled order does not trade.
		require.NoError(t, tb.placeTestOrders(100.0, Sell, 1))
		require.Len(t, tb.trades, 1)
		assert.Equal(t, first, tb.trades[0].Maker)
	})
}

func TestCancelOrder_AfterPartialFill(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, tb *testBook) {
		id, err := tb.place(Sell, 100.0, 5)
		require.NoError(t, err)
		require.NoError(t, tb.placeTestOrders(100.0, Buy, 2))

		assert.Equal(t, Canceled, tb.CancelOrder(id))
		assert.Equal(t, TopOfBook{}, tb.TopOfBook())
		assert.Zero(t, tb.Depth())
	})
}

func TestTradeListeners_RegistrationOrder(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, tb *testBook) {
		var calls []string
		tb.AddTradeListener(TradeListenerFunc(func(trade Trade) {
			calls = append(calls, fmt.Sprintf("first:%d", trade.ID))
		}))
		tb.AddTradeListener(TradeListenerFunc(func(trade Trade) {
			calls = append(calls, fmt.Sprintf("second:%d", trade.ID))
		}))

		require.NoError(t, tb.placeTestOrders(100.0, Sell, 1, 1))
		require.NoError(t, tb.placeTestOrders(100.0, Buy, 2))

		assert.Equal(t, []string{"first:1", "second:1", "first:2", "second:2"}, calls)
	})
}

func TestTradeListeners_SeeConsistentState(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, tb *testBook) {
		restID, err := tb.place(Sell, 100.0, 5)
		require.NoError(t, err)

		// Listeners run inside the critical section, so peek at the index
		// directly rather than through the locking API.
		var sizeAtTrade uint64
		tb.AddTradeListener(TradeListenerFunc(func(Trade) {
			sizeAtTrade = tb.orders[restID].Size
		}))
		require.NoError(t, tb.placeTestOrders(100.0, Buy, 3))
		assert.Equal(t, uint64(2), sizeAtTrade)
	})
}

func TestTradeListeners_DrainedLevelAlreadyRemoved(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, tb *testBook) {
		restID, err := tb.place(Sell, 100.0, 5)
		require.NoError(t, err)

		var resting bool
		var askLevels int
		tb.AddTradeListener(TradeListenerFunc(func(Trade) {
			_, resting = tb.orders[restID]
			askLevels = tb.asks.Len()
		}))
		require.NoError(t, tb.placeTestOrders(100.0, Buy, 5))
		assert.False(t, resting)
		assert.Zero(t, askLevels)
	})
}

func TestAllOrders_Ordering(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, tb *testBook) {
		require.NoError(t, tb.placeTestOrders(99.0, Buy, 1))
		require.NoError(t, tb.placeTestOrders(101.0, Sell, 2))
		require.NoError(t, tb.placeTestOrders(100.0, Buy, 3))
		require.NoError(t, tb.placeTestOrders(102.0, Sell, 4))

		var got []priceSize
		for _, o := range tb.AllOrders() {
			got = append(got, priceSize{o.Price, o.Size})
		}
		assert.Equal(t, []priceSize{{100.0, 3}, {99.0, 1}, {101.0, 2}, {102.0, 4}}, got)
	})
}

func TestNew_Defaults(t *testing.T) {
	e := New()
	order := Order{ID: "a", Side: Buy, Type: LimitOrder, Price: 100.123, Size: 1}
	_, err := e.AddOrder(order)
	require.NoError(t, err, "the default btree strategy accepts any positive price")
	assert.Equal(t, map[float64]uint64{100.123: 1}, e.BidLevels())
}
