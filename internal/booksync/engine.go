package booksync

import (
	"fmt"
	"time"

	"github.com/Aidin1998/orderbook-sync/internal/feed"
	"github.com/Aidin1998/orderbook-sync/internal/orderbook"
	"github.com/Aidin1998/orderbook-sync/pkg/metrics"
	"go.uber.org/zap"
)

// Engine keeps one product's book in step with the feed. It owns the book, the
// pending queue and the sequence cursor; the coordinator serialises every call.
type Engine struct {
	productID string
	book      *orderbook.OrderBook
	bookOpts  []orderbook.Option

	state      State
	watermark  int64
	pending    []*feed.Event
	maxPending int
	generation uint64
	replaying  bool
	depth      int

	fetch     func(productID string, generation uint64)
	publisher Publisher
	listener  Listener
	logger    *zap.Logger
	now       func() time.Time
}

type fetchResult struct {
	productID  string
	generation uint64
	snapshot   *feed.BookSnapshot
	err        error
}

// Handle runs one feed event through the state machine: queue it while no snapshot
// is loaded, drop it when already covered, resync on a gap, otherwise apply it.
func (e *Engine) Handle(ev *feed.Event) {
	switch e.state {
	case StateUninitialized:
		e.enqueue(ev)
		e.resync("initial sync")
		return
	case StateResyncing:
		e.enqueue(ev)
		return
	}

	if ev.Sequence <= e.watermark {
		metrics.FeedMessages.WithLabelValues(e.productID, "stale").Inc()
		return
	}
	if ev.Sequence != e.watermark+1 {
		metrics.FeedMessages.WithLabelValues(e.productID, "gap").Inc()
		e.logger.Warn("sequence gap detected",
			zap.Int64("watermark", e.watermark),
			zap.Int64("sequence", ev.Sequence))
		e.resync("sequence gap")
		return
	}

	if err := e.apply(ev); err != nil {
		if orderbook.IsFatal(err) {
			metrics.InvariantViolations.WithLabelValues(e.productID).Inc()
			e.logger.Error("order book diverged from feed",
				zap.Int64("sequence", ev.Sequence),
				zap.String("event", ev.Type),
				zap.Error(err))
			e.listener.OnError(e.productID, err)
			e.resync("invariant violation")
			return
		}
		e.logger.Warn("feed event not applied",
			zap.Int64("sequence", ev.Sequence),
			zap.String("event", ev.Type),
			zap.Error(err))
		e.listener.OnError(e.productID, err)
	}

	e.watermark = ev.Sequence
	metrics.Watermark.WithLabelValues(e.productID).Set(float64(e.watermark))
	metrics.FeedMessages.WithLabelValues(e.productID, "applied").Inc()
	if !e.replaying {
		e.publish()
	}
}

func (e *Engine) apply(ev *feed.Event) error {
	switch ev.Type {
	case feed.EventOpen:
		side, err := orderbook.ParseSide(ev.Side)
		if err != nil {
			return malformed(ev, err.Error())
		}
		if !ev.Price.Valid {
			return malformed(ev, "open without price")
		}
		return e.book.Add(orderbook.Order{
			ID:    ev.OrderID,
			Side:  side,
			Price: ev.Price.Decimal,
			Size:  ev.OpenSize(),
		})

	case feed.EventDone:
		return e.book.Remove(ev.OrderID)

	case feed.EventMatch:
		side, err := orderbook.ParseSide(ev.Side)
		if err != nil {
			return malformed(ev, err.Error())
		}
		if !ev.Price.Valid || !ev.Size.Valid {
			return malformed(ev, "match without price or size")
		}
		if ev.Size.Decimal.Sign() <= 0 {
			return malformed(ev, "match size not positive")
		}
		return e.book.Match(ev.MakerOrderID, side, ev.Price.Decimal, ev.Size.Decimal)

	case feed.EventChange:
		if !ev.Price.Valid {
			return nil
		}
		side, err := orderbook.ParseSide(ev.Side)
		if err != nil {
			return malformed(ev, err.Error())
		}
		if !ev.NewSize.Valid {
			return malformed(ev, "change without new_size")
		}
		return e.book.Change(ev.OrderID, side, ev.Price, ev.NewSize.Decimal, ev.OldSize)
	}
	return nil
}

// An event the book can't apply leaves it behind the feed, same as a divergence.
func malformed(ev *feed.Event, reason string) error {
	return fmt.Errorf("%w: malformed %s event %d: %s",
		orderbook.ErrInvariantViolation, ev.Type, ev.Sequence, reason)
}

func (e *Engine) enqueue(ev *feed.Event) {
	if e.maxPending > 0 && len(e.pending) >= e.maxPending {
		e.pending = e.pending[1:]
		metrics.FeedMessages.WithLabelValues(e.productID, "dropped").Inc()
		e.logger.Debug("pending queue full, dropped oldest event", zap.Int("max_pending", e.maxPending))
	}
	e.pending = append(e.pending, ev)
	metrics.FeedMessages.WithLabelValues(e.productID, "queued").Inc()
	metrics.PendingMessages.WithLabelValues(e.productID).Set(float64(len(e.pending)))
}

func (e *Engine) resync(reason string) {
	e.state = StateResyncing
	e.generation++
	metrics.Resyncs.WithLabelValues(e.productID).Inc()
	e.logger.Info("loading order book snapshot",
		zap.String("reason", reason),
		zap.Uint64("generation", e.generation))
	e.listener.OnSync(e.productID)
	e.fetch(e.productID, e.generation)
}

// abandon forgets an in-flight snapshot request. The queue is kept and the next
// event starts a fresh sync; a late result for the old generation is ignored.
func (e *Engine) abandon() {
	if e.state != StateResyncing {
		return
	}
	e.state = StateUninitialized
	e.generation++
	e.logger.Info("snapshot load abandoned", zap.Int("pending", len(e.pending)))
}

// complete installs a fetched snapshot and replays the queue through Handle.
func (e *Engine) complete(res fetchResult) {
	if e.state != StateResyncing || res.generation != e.generation {
		e.logger.Debug("ignoring stale snapshot",
			zap.Uint64("generation", res.generation),
			zap.Uint64("current", e.generation))
		return
	}
	if res.err != nil {
		// Back to uninitialized: the next feed event starts a fresh sync.
		e.state = StateUninitialized
		e.logger.Error("failed to load order book", zap.Error(res.err))
		e.listener.OnError(e.productID, fmt.Errorf("failed to load orderbook: %w", res.err))
		return
	}

	snap := res.snapshot
	book := orderbook.NewOrderBook(e.bookOpts...)
	book.LoadSnapshot(snapshotOrders(snap.Bids), snapshotOrders(snap.Asks))
	e.book = book
	e.watermark = snap.Sequence
	e.state = StateLive
	metrics.Watermark.WithLabelValues(e.productID).Set(float64(e.watermark))

	queued := e.pending
	e.pending = nil
	e.replaying = true
	for _, ev := range queued {
		e.Handle(ev)
	}
	e.replaying = false
	metrics.PendingMessages.WithLabelValues(e.productID).Set(float64(len(e.pending)))

	if e.state != StateLive {
		// The replay hit a gap and another snapshot is already on its way.
		return
	}
	e.logger.Info("order book synced",
		zap.Int64("sequence", snap.Sequence),
		zap.Int("replayed", len(queued)),
		zap.Int64("watermark", e.watermark),
		zap.Int("orders", e.book.Len()))
	e.publish()
	e.listener.OnSynced(e.productID)
}

func snapshotOrders(entries []feed.SnapshotOrder) []orderbook.Order {
	orders := make([]orderbook.Order, 0, len(entries))
	for _, s := range entries {
		orders = append(orders, orderbook.Order{ID: s.OrderID, Price: s.Price, Size: s.Size})
	}
	return orders
}

func (e *Engine) publish() {
	e.publisher.Publish(BookUpdate{
		ProductID: e.productID,
		Sequence:  e.watermark,
		Book:      e.book.Snapshot(e.depth),
		Time:      e.now(),
	})
}

// State returns a copy of the engine's cursor.
func (e *Engine) State() ProductState {
	return ProductState{
		ProductID: e.productID,
		State:     e.state,
		Watermark: e.watermark,
		Pending:   len(e.pending),
		Orders:    e.book.Len(),
	}
}
