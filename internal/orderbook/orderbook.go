// =============================
// Level 3 Order Book Replica
// =============================
// OrderBook mirrors an exchange's resting orders, one order at a time, as they are
// reported by the full-channel feed. Orders are grouped into price levels kept in a
// B-tree per side and indexed by id.
//
// All prices and sizes are shopspring decimals; grouping and size comparisons are exact.
// The book is owned by a single sync engine and is not safe for concurrent use.

package orderbook

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultDepth is the number of levels per side in a published book.
const DefaultDepth = 20

type OrderBook struct {
	bids       *LevelStore
	asks       *LevelStore
	ordersByID map[string]*Order
	grouping   Grouping
	logger     *zap.Logger
}

type Option func(*OrderBook)

// WithGrouping sets the number of digits prices are bucketed by.
func WithGrouping(digits int32) Option {
	return func(ob *OrderBook) { ob.grouping = Grouping(digits) }
}

func WithLogger(logger *zap.Logger) Option {
	return func(ob *OrderBook) {
		if logger != nil {
			ob.logger = logger
		}
	}
}

func NewOrderBook(opts ...Option) *OrderBook {
	ob := &OrderBook{
		bids:       NewLevelStore(Buy),
		asks:       NewLevelStore(Sell),
		ordersByID: make(map[string]*Order),
		grouping:   Grouping(DefaultGroupingDigits),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ob)
	}
	return ob
}

func (ob *OrderBook) store(side Side) *LevelStore {
	if side == Buy {
		return ob.bids
	}
	return ob.asks
}

// Len returns the number of indexed orders.
func (ob *OrderBook) Len() int { return len(ob.ordersByID) }

// Get returns a copy of the order with the given id.
func (ob *OrderBook) Get(orderID string) (Order, bool) {
	o, ok := ob.ordersByID[orderID]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Level returns the level holding raw price on side, after grouping.
func (ob *OrderBook) Level(side Side, price decimal.Decimal) (*PriceLevel, bool) {
	return ob.store(side).Find(ob.grouping.Apply(price))
}

// Depth returns the number of price levels on side.
func (ob *OrderBook) Depth(side Side) int { return ob.store(side).Len() }

// LoadSnapshot discards the book's contents and adds every snapshot order.
// Bids and asks are forced onto their side regardless of the Side field. The book is
// rebuilt from empty, so a repeated id in the snapshot just replaces the earlier entry.
func (ob *OrderBook) LoadSnapshot(bids, asks []Order) {
	ob.bids = NewLevelStore(Buy)
	ob.asks = NewLevelStore(Sell)
	ob.ordersByID = make(map[string]*Order, len(bids)+len(asks))
	for _, o := range bids {
		o.Side = Buy
		_ = ob.Add(o)
	}
	for _, o := range asks {
		o.Side = Sell
		_ = ob.Add(o)
	}
}

// Add places an order on its grouped price level. An order whose id is already
// indexed is detached from its old level first so the index and levels stay in step;
// if that detach finds the book diverged the order is not added and the error is returned.
func (ob *OrderBook) Add(order Order) error {
	if _, exists := ob.ordersByID[order.ID]; exists {
		ob.logger.Warn("duplicate order id on add, replacing",
			zap.String("order_id", order.ID))
		if err := ob.Remove(order.ID); err != nil {
			return fmt.Errorf("detach duplicate order %s: %w", order.ID, err)
		}
	}

	o := &order
	store := ob.store(o.Side)
	price := ob.grouping.Apply(o.Price)
	level, ok := store.Find(price)
	if !ok {
		level = newPriceLevel(price)
		store.InsertOrUpdate(level)
	}
	level.append(o)
	ob.ordersByID[o.ID] = o
	return nil
}

// Remove deletes an order by id. Unknown ids are ignored: the feed sends done
// messages for orders that never rested on the book.
func (ob *OrderBook) Remove(orderID string) error {
	o, ok := ob.ordersByID[orderID]
	if !ok {
		return nil
	}
	store := ob.store(o.Side)
	price := ob.grouping.Apply(o.Price)
	level, ok := store.Find(price)
	if !ok {
		return fmt.Errorf("%w: no %s level at %s for order %s",
			ErrInvariantViolation, o.Side, price, orderID)
	}
	i := level.indexOf(orderID)
	if i < 0 {
		return fmt.Errorf("%w: order %s missing from %s level %s",
			ErrInvariantViolation, orderID, o.Side, price)
	}
	level.removeAt(i)
	if level.Len() == 0 {
		store.Remove(price)
	}
	delete(ob.ordersByID, orderID)
	return nil
}

// Match fills size of the resting maker order. The order is removed once fully filled.
// A fill that is not positive or is larger than the order is reported and leaves the
// book untouched.
func (ob *OrderBook) Match(makerOrderID string, side Side, price, size decimal.Decimal) error {
	if size.Sign() <= 0 {
		return fmt.Errorf("%w: match of %s for order %s is not a fill",
			ErrInvariantViolation, size, makerOrderID)
	}
	grouped := ob.grouping.Apply(price)
	level, ok := ob.store(side).Find(grouped)
	if !ok {
		return fmt.Errorf("%w: no %s level at %s for match of %s",
			ErrInvariantViolation, side, grouped, makerOrderID)
	}
	i := level.indexOf(makerOrderID)
	if i < 0 {
		return fmt.Errorf("%w: maker order %s not on %s level %s",
			ErrInvariantViolation, makerOrderID, side, grouped)
	}
	o := level.orders[i]
	remaining := o.Size.Sub(size)
	if remaining.IsNegative() {
		return fmt.Errorf("%w: match of %s overfills order %s of size %s",
			ErrInvariantViolation, size, makerOrderID, o.Size)
	}
	o.Size = remaining
	if remaining.IsZero() {
		return ob.Remove(makerOrderID)
	}
	return nil
}

// Change resizes a resting order. A null price means a market order, which never
// rests and is ignored. When oldSize is present and disagrees with the book the new
// size is still applied and ErrSizeMismatch is returned.
func (ob *OrderBook) Change(orderID string, side Side, price decimal.NullDecimal, newSize decimal.Decimal, oldSize decimal.NullDecimal) error {
	if !price.Valid {
		return nil
	}
	o, ok := ob.ordersByID[orderID]
	if !ok {
		return fmt.Errorf("%w: change for %s", ErrOrderNotFound, orderID)
	}
	grouped := ob.grouping.Apply(price.Decimal)
	level, ok := ob.store(side).Find(grouped)
	if !ok || level.indexOf(orderID) < 0 {
		return fmt.Errorf("%w: change for %s at %s level %s", ErrOrderNotFound, orderID, side, grouped)
	}

	var err error
	if oldSize.Valid && !o.Size.Equal(oldSize.Decimal) {
		err = fmt.Errorf("%w: order %s has size %s, change expected %s",
			ErrSizeMismatch, orderID, o.Size, oldSize.Decimal)
	}
	o.Size = newSize
	return err
}
