package orderbook

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is the book side an order rests on.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// ParseSide validates a side string as sent by the feed.
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case Buy, Sell:
		return Side(s), nil
	}
	return "", fmt.Errorf("invalid order side %q", s)
}

// Order is a single resting order. Orders are owned by exactly one PriceLevel;
// the book's id index only points at them.
type Order struct {
	ID    string
	Side  Side
	Price decimal.Decimal
	Size  decimal.Decimal
}
