package orderbook

import "github.com/shopspring/decimal"

// LevelView is the display projection of a price level: the first order's id and
// side with the level's grouped price and aggregate size.
type LevelView struct {
	ID    string          `json:"id"`
	Side  Side            `json:"side"`
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// Book is a point-in-time projection of the order book, best prices first.
type Book struct {
	Bids []LevelView `json:"bids"`
	Asks []LevelView `json:"asks"`
}

// Truncate returns a copy of the book limited to depth levels per side.
func (b Book) Truncate(depth int) Book {
	if depth <= 0 {
		return b
	}
	if len(b.Bids) > depth {
		b.Bids = b.Bids[:depth]
	}
	if len(b.Asks) > depth {
		b.Asks = b.Asks[:depth]
	}
	return b
}

// Snapshot projects up to limit levels per side. Sizes are recomputed from the
// member orders. A limit <= 0 uses DefaultDepth.
func (ob *OrderBook) Snapshot(limit int) Book {
	if limit <= 0 {
		limit = DefaultDepth
	}
	return Book{
		Bids: project(ob.bids, limit),
		Asks: project(ob.asks, limit),
	}
}

func project(store *LevelStore, limit int) []LevelView {
	views := make([]LevelView, 0, min(limit, store.Len()))
	store.Iterate(limit, func(level *PriceLevel) bool {
		first := level.orders[0]
		views = append(views, LevelView{
			ID:    first.ID,
			Side:  first.Side,
			Price: level.Price,
			Size:  level.Size(),
		})
		return true
	})
	return views
}
