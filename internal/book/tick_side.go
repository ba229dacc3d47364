package book

import (
	"fmt"

	"github.com/shopspring/decimal"

	"orderbooks/internal/common"
)

// MaxTickSpan bounds the distance, in ticks, between the best and the worst
// level of a TickSide.
const MaxTickSpan = 1 << 20

// TickSide addresses levels by their distance, in ticks, from the best
// price. Slot 0 always holds the best level while the side is non-empty.
// Access near the top is O(1); inserting far from the top, or moving the
// top itself, costs O(distance) for the slice growth or shift. This suits
// dense, narrow books.
type TickSide struct {
	side  common.Side
	tick  decimal.Decimal
	top   int64 // Tick index of slot 0
	slots []*Level
	count int // Non-empty slots
}

func NewTickSide(side common.Side, tickSize float64) (*TickSide, error) {
	tick, err := parseTick(tickSize)
	if err != nil {
		return nil, err
	}
	return newTickSide(side, tick), nil
}

func newTickSide(side common.Side, tick decimal.Decimal) *TickSide {
	return &TickSide{side: side, tick: tick}
}

func parseTick(tickSize float64) (decimal.Decimal, error) {
	if err := validTick(tickSize); err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromFloat(tickSize), nil
}

// ticks converts price to an integer tick index. Quantising through
// decimal keeps 100.3/0.1 at exactly 1003 instead of 1002.9999.
func (s *TickSide) ticks(price float64) (int64, error) {
	q := decimal.NewFromFloat(price).Div(s.tick)
	if !q.IsInteger() {
		return 0, fmt.Errorf("%w: %v with tick %s", ErrOffTick, price, s.tick)
	}
	// IntPart wraps above the int64 range.
	if !q.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %v is beyond the tick range", ErrTickSpan, price)
	}
	return q.IntPart(), nil
}

// offset is the slot for tick index t. Negative offsets are better than the
// current top.
func (s *TickSide) offset(t int64) int64 {
	if s.side == common.Buy {
		return s.top - t
	}
	return t - s.top
}

func (s *TickSide) Best() (*Level, bool) {
	if s.count == 0 {
		return nil, false
	}
	return s.slots[0], true
}

func (s *TickSide) Level(price float64) (*Level, bool) {
	t, err := s.ticks(price)
	if err != nil {
		return nil, false
	}
	off := s.offset(t)
	if off < 0 || off >= int64(len(s.slots)) || s.slots[off] == nil {
		return nil, false
	}
	return s.slots[off], true
}

// locate returns the tick index and slot offset for price, failing when the
// price is off the grid or would stretch the side past MaxTickSpan.
func (s *TickSide) locate(price float64) (int64, int64, error) {
	t, err := s.ticks(price)
	if err != nil {
		return 0, 0, err
	}
	if s.count == 0 {
		return t, 0, nil
	}
	off := s.offset(t)
	// Written so neither side can overflow: off may be close to either
	// int64 bound.
	if (off < 0 && -off > MaxTickSpan-int64(len(s.slots))) || off >= MaxTickSpan {
		return 0, 0, fmt.Errorf("%w: %v is %d ticks from the top", ErrTickSpan, price, off)
	}
	return t, off, nil
}

func (s *TickSide) Check(price float64) error {
	_, _, err := s.locate(price)
	return err
}

func (s *TickSide) GetOrCreate(price float64) (*Level, error) {
	t, off, err := s.locate(price)
	if err != nil {
		return nil, err
	}
	if s.count == 0 {
		s.top = t
		s.slots = append(s.slots[:0], NewLevel(price))
		s.count = 1
		return s.slots[0], nil
	}

	switch {
	case off < 0:
		// New best price: shift everything back by the distance.
		shifted := make([]*Level, int(-off)+len(s.slots))
		copy(shifted[-off:], s.slots)
		s.slots = shifted
		s.top = t
		off = 0
	case off >= int64(len(s.slots)):
		s.slots = append(s.slots, make([]*Level, int(off)-len(s.slots)+1)...)
	}

	if s.slots[off] == nil {
		s.slots[off] = NewLevel(price)
		s.count++
	}
	return s.slots[off], nil
}

func (s *TickSide) Remove(price float64) {
	t, err := s.ticks(price)
	if err != nil {
		return
	}
	off := s.offset(t)
	if off < 0 || off >= int64(len(s.slots)) || s.slots[off] == nil {
		return
	}
	s.slots[off] = nil
	s.count--
	if s.count == 0 {
		s.slots = s.slots[:0]
		return
	}

	if off == 0 {
		// The top moved: skip to the next populated slot.
		i := 0
		for s.slots[i] == nil {
			i++
		}
		s.slots = s.slots[i:]
		if s.side == common.Buy {
			s.top -= int64(i)
		} else {
			s.top += int64(i)
		}
	}
	for s.slots[len(s.slots)-1] == nil {
		s.slots = s.slots[:len(s.slots)-1]
	}
}

func (s *TickSide) Scan(iter func(level *Level) bool) {
	for _, level := range s.slots {
		if level == nil {
			continue
		}
		if !iter(level) {
			return
		}
	}
}

func (s *TickSide) Len() int {
	return s.count
}
