package common

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidSide  = errors.New("invalid order side")
	ErrInvalidSize  = errors.New("order size must be positive")
	ErrInvalidPrice = errors.New("order price must be positive and finite")
)

// Validate checks the fields the matching algorithm relies on: a known side,
// a strictly positive size and a strictly positive, totally ordered price.
func (order Order) Validate() error {
	if !order.Side.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidSide, order.Side)
	}
	if order.Size == 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSize, order.Size)
	}
	if order.Price <= 0 || math.IsNaN(order.Price) || math.IsInf(order.Price, 0) {
		return fmt.Errorf("%w: got %v", ErrInvalidPrice, order.Price)
	}
	return nil
}
