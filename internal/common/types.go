package common

import "fmt"

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	}
	return fmt.Sprintf("Side(%d)", int(s))
}

// Opposite returns the contra side, i.e. the side an order of this side
// matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Valid reports whether s is one of the known sides.
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

type OrderType int

const (
	// Limit orders are an order to buy or sell at a specified price or
	// better. Limit orders may rest on the order book until filled.
	LimitOrder OrderType = iota
	// Market orders are instructions to buy or sell immediately at any
	// price. Not supported by the engine.
	MarketOrder
	// Immediate-or-cancel orders fill what they can and drop the rest.
	// Not supported by the engine.
	ImmediateOrCancel
	// Fill-or-kill orders must be filled entirely or not at all.
	// Not supported by the engine.
	FillOrKill
)

func (t OrderType) String() string {
	switch t {
	case LimitOrder:
		return "LIMIT"
	case MarketOrder:
		return "MARKET"
	case ImmediateOrCancel:
		return "IOC"
	case FillOrKill:
		return "FOK"
	}
	return fmt.Sprintf("OrderType(%d)", int(t))
}

// CancelStatus is the outcome of a cancel request.
type CancelStatus int

const (
	Canceled CancelStatus = iota
	NotExists
)

func (c CancelStatus) String() string {
	switch c {
	case Canceled:
		return "CANCELED"
	case NotExists:
		return "NOT_EXISTS"
	}
	return fmt.Sprintf("CancelStatus(%d)", int(c))
}
