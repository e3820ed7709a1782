package orderbook

import (
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// PriceLevel holds every order resting at one grouped price, in arrival order.
// A level with no orders is never kept in a LevelStore.
type PriceLevel struct {
	Price  decimal.Decimal
	orders []*Order
}

func newPriceLevel(price decimal.Decimal) *PriceLevel {
	return &PriceLevel{Price: price}
}

// Len returns the number of orders at the level.
func (pl *PriceLevel) Len() int { return len(pl.orders) }

// Orders returns the level's orders. The slice must not be modified.
func (pl *PriceLevel) Orders() []*Order { return pl.orders }

// Size is recomputed from the member orders on every call, so it can't drift when
// matches and changes resize orders in place.
func (pl *PriceLevel) Size() decimal.Decimal {
	total := decimal.Zero
	for _, o := range pl.orders {
		total = total.Add(o.Size)
	}
	return total
}

func (pl *PriceLevel) append(o *Order) {
	pl.orders = append(pl.orders, o)
}

func (pl *PriceLevel) indexOf(id string) int {
	for i, o := range pl.orders {
		if o.ID == id {
			return i
		}
	}
	return -1
}

func (pl *PriceLevel) removeAt(i int) {
	copy(pl.orders[i:], pl.orders[i+1:])
	pl.orders[len(pl.orders)-1] = nil
	pl.orders = pl.orders[:len(pl.orders)-1]
}

// LevelStore is one side of the book: price levels keyed by grouped price in a B-tree.
// The tree is always ascending; bids are read in reverse so both sides iterate
// best price first.
type LevelStore struct {
	side Side
	tree *btree.BTreeG[*PriceLevel]
}

func byPrice(a, b *PriceLevel) bool {
	return a.Price.LessThan(b.Price)
}

// NewLevelStore creates an empty store for the given side. The store is owned by a
// single book and is not safe for concurrent use.
func NewLevelStore(side Side) *LevelStore {
	return &LevelStore{
		side: side,
		tree: btree.NewBTreeGOptions(byPrice, btree.Options{NoLocks: true}),
	}
}

func (s *LevelStore) Side() Side { return s.side }

func (s *LevelStore) Len() int { return s.tree.Len() }

// Find looks up the level at an already grouped price.
func (s *LevelStore) Find(price decimal.Decimal) (*PriceLevel, bool) {
	return s.tree.Get(&PriceLevel{Price: price})
}

// InsertOrUpdate stores level, replacing any level at the same price.
func (s *LevelStore) InsertOrUpdate(level *PriceLevel) {
	s.tree.Set(level)
}

// Remove deletes the level at price and reports whether one existed.
func (s *LevelStore) Remove(price decimal.Decimal) bool {
	_, ok := s.tree.Delete(&PriceLevel{Price: price})
	return ok
}

// Iterate calls fn for up to limit levels, best price first. A limit <= 0 visits
// every level. Iteration stops early when fn returns false. fn must not mutate the store.
func (s *LevelStore) Iterate(limit int, fn func(level *PriceLevel) bool) {
	n := 0
	visit := func(level *PriceLevel) bool {
		if limit > 0 && n >= limit {
			return false
		}
		n++
		return fn(level)
	}
	if s.side == Buy {
		s.tree.Reverse(visit)
		return
	}
	s.tree.Scan(visit)
}

// Levels collects up to limit levels in canonical order.
func (s *LevelStore) Levels(limit int) []*PriceLevel {
	n := s.tree.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	levels := make([]*PriceLevel, 0, n)
	s.Iterate(limit, func(level *PriceLevel) bool {
		levels = append(levels, level)
		return true
	})
	return levels
}
