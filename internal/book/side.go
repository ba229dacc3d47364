package book

import (
	"errors"
	"fmt"
	"math"

	"orderbooks/internal/common"
)

var (
	ErrOffTick         = errors.New("price is not on the tick grid")
	ErrInvalidTickSize = errors.New("tick size must be positive and finite")
	ErrTickSpan        = errors.New("price too far from the top of the side")
)

// Side is one half of the book: an ordered mapping of price to Level,
// best price first. Bids are ordered by descending price, asks by ascending
// price. Implementations never keep an empty level addressable; callers
// remove a level as soon as they drain it.
//
// Implementations are not safe for concurrent use; the engine serialises
// all access.
type Side interface {
	// Best returns the level with the best price.
	Best() (*Level, bool)
	// Check reports whether GetOrCreate(price) would succeed in the side's
	// current state.
	Check(price float64) error
	// Level returns the level at exactly price.
	Level(price float64) (*Level, bool)
	// GetOrCreate returns the level at price, creating an empty one if
	// absent. The caller must populate a created level before releasing
	// control.
	GetOrCreate(price float64) (*Level, error)
	// Remove drops the level at price.
	Remove(price float64)
	// Scan visits levels best first until iter returns false. The side
	// must not be modified during a scan.
	Scan(iter func(level *Level) bool)
	// Len returns the number of levels.
	Len() int
}

// Factory builds the index for one side of a book.
type Factory func(side common.Side) Side

// TreeFactory builds btree backed sides.
func TreeFactory() Factory {
	return func(side common.Side) Side {
		return NewTreeSide(side)
	}
}

// TickFactory builds tick-offset array sides on a grid of tickSize.
func TickFactory(tickSize float64) (Factory, error) {
	tick, err := parseTick(tickSize)
	if err != nil {
		return nil, err
	}
	return func(side common.Side) Side {
		return newTickSide(side, tick)
	}, nil
}

func validTick(tickSize float64) error {
	if tickSize <= 0 || math.IsNaN(tickSize) || math.IsInf(tickSize, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidTickSize, tickSize)
	}
	return nil
}
