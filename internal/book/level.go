package book

import "orderbooks/internal/common"

// compactAfter is the number of consumed head slots tolerated before the
// queue is shifted back to the start of its backing array.
const compactAfter = 32

// Level is a FIFO queue of resting orders sharing one price. Orders are
// popped from the front during matching; a partially filled remainder is
// pushed back onto the front so it keeps its time priority.
type Level struct {
	price  float64
	orders []common.Order
	head   int
	size   uint64
}

func NewLevel(price float64) *Level {
	return &Level{price: price}
}

func (l *Level) Price() float64 { return l.price }

// Len returns the number of resting orders.
func (l *Level) Len() int { return len(l.orders) - l.head }

func (l *Level) Empty() bool { return l.Len() == 0 }

// Size returns the aggregate resting quantity.
func (l *Level) Size() uint64 { return l.size }

// PushBack queues order behind every order already at this level.
func (l *Level) PushBack(order common.Order) {
	l.orders = append(l.orders, order)
	l.size += order.Size
}

// PushFront queues order ahead of every order already at this level.
func (l *Level) PushFront(order common.Order) {
	if l.head > 0 {
		l.head--
		l.orders[l.head] = order
	} else {
		l.orders = append(l.orders, common.Order{})
		copy(l.orders[1:], l.orders)
		l.orders[0] = order
	}
	l.size += order.Size
}

// Front returns the oldest order without removing it.
func (l *Level) Front() (common.Order, bool) {
	if l.Empty() {
		return common.Order{}, false
	}
	return l.orders[l.head], true
}

// PopFront removes and returns the oldest order.
func (l *Level) PopFront() (common.Order, bool) {
	if l.Empty() {
		return common.Order{}, false
	}
	order := l.orders[l.head]
	l.orders[l.head] = common.Order{}
	l.head++
	l.size -= order.Size
	l.compact()
	return order, true
}

// Remove takes the order with the given id out of the queue, preserving the
// relative order of the rest.
func (l *Level) Remove(id string) (common.Order, bool) {
	for i := l.head; i < len(l.orders); i++ {
		if l.orders[i].ID != id {
			continue
		}
		order := l.orders[i]
		copy(l.orders[i:], l.orders[i+1:])
		l.orders[len(l.orders)-1] = common.Order{}
		l.orders = l.orders[:len(l.orders)-1]
		l.size -= order.Size
		l.compact()
		return order, true
	}
	return common.Order{}, false
}

// Orders returns a copy of the queue, oldest first.
func (l *Level) Orders() []common.Order {
	orders := make([]common.Order, l.Len())
	copy(orders, l.orders[l.head:])
	return orders
}

func (l *Level) compact() {
	if l.head == len(l.orders) {
		l.orders = l.orders[:0]
		l.head = 0
		return
	}
	if l.head < compactAfter || l.head*2 < len(l.orders) {
		return
	}
	n := copy(l.orders, l.orders[l.head:])
	clear(l.orders[n:])
	l.orders = l.orders[:n]
	l.head = 0
}
