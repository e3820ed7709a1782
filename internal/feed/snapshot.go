package feed

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// BookSnapshot is the level 3 book returned by GET /products/{id}/book?level=3.
type BookSnapshot struct {
	Sequence int64           `json:"sequence"`
	Bids     []SnapshotOrder `json:"bids"`
	Asks     []SnapshotOrder `json:"asks"`
}

// SnapshotOrder is one [price, size, order_id] triple.
type SnapshotOrder struct {
	Price   decimal.Decimal
	Size    decimal.Decimal
	OrderID string
}

func (o *SnapshotOrder) UnmarshalJSON(b []byte) error {
	var triple []string
	if err := json.Unmarshal(b, &triple); err != nil {
		return fmt.Errorf("snapshot order: %w", err)
	}
	if len(triple) != 3 {
		return fmt.Errorf("snapshot order: want [price, size, order_id], got %d fields", len(triple))
	}
	price, err := decimal.NewFromString(triple[0])
	if err != nil {
		return fmt.Errorf("snapshot order price %q: %w", triple[0], err)
	}
	size, err := decimal.NewFromString(triple[1])
	if err != nil {
		return fmt.Errorf("snapshot order size %q: %w", triple[1], err)
	}
	o.Price, o.Size, o.OrderID = price, size, triple[2]
	return nil
}

func (o SnapshotOrder) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]string{o.Price.String(), o.Size.String(), o.OrderID})
}
