package book

import (
	"github.com/tidwall/btree"

	"orderbooks/internal/common"
)

// TreeSide keeps price levels in a btree. Every lookup, insert and removal
// is O(log L) in the number of levels, which suits sparse or wide books.
type TreeSide struct {
	levels *btree.BTreeG[*Level]
}

func NewTreeSide(side common.Side) *TreeSide {
	// Sorted least first.
	less := func(a, b *Level) bool {
		return a.price < b.price
	}
	if side == common.Buy {
		// Sorted greatest first.
		less = func(a, b *Level) bool {
			return a.price > b.price
		}
	}
	// The engine holds its own lock around every call.
	return &TreeSide{
		levels: btree.NewBTreeGOptions(less, btree.Options{NoLocks: true}),
	}
}

func (s *TreeSide) Best() (*Level, bool) {
	// Min accounts for bids and asks being in inverse order, based on their
	// comparison method.
	return s.levels.MinMut()
}

// Check always succeeds: any totally ordered price can be a btree key.
func (s *TreeSide) Check(float64) error { return nil }

func (s *TreeSide) Level(price float64) (*Level, bool) {
	// Levels comparator only accounts for price levels, so we create a dummy
	// price level for the search.
	return s.levels.GetMut(&Level{price: price})
}

func (s *TreeSide) GetOrCreate(price float64) (*Level, error) {
	if level, ok := s.Level(price); ok {
		return level, nil
	}
	level := NewLevel(price)
	s.levels.Set(level)
	return level, nil
}

func (s *TreeSide) Remove(price float64) {
	s.levels.Delete(&Level{price: price})
}

func (s *TreeSide) Scan(iter func(level *Level) bool) {
	s.levels.Scan(iter)
}

func (s *TreeSide) Len() int {
	return s.levels.Len()
}
