package marketdata

import (
	"sync"

	"github.com/Aidin1998/orderbook-sync/internal/booksync"
	"github.com/Aidin1998/orderbook-sync/pkg/metrics"
	"go.uber.org/zap"
)

// Hub is the in-process distribution point for published books. It keeps the latest
// book per product for request/response readers and fans every update out to
// subscribers. Publish never blocks: a subscriber whose buffer is full misses updates.
type Hub struct {
	mu         sync.RWMutex
	latest     map[string]booksync.BookUpdate
	subs       map[uint64]*Subscription
	nextID     uint64
	bufferSize int
	logger     *zap.Logger
}

// Subscription receives book updates for one product, or every product when the
// product is empty.
type Subscription struct {
	id      uint64
	product string
	ch      chan booksync.BookUpdate
	hub     *Hub
	once    sync.Once
}

func NewHub(bufferSize int, logger *zap.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		latest:     make(map[string]booksync.BookUpdate),
		subs:       make(map[uint64]*Subscription),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Publish implements booksync.Publisher.
func (h *Hub) Publish(update booksync.BookUpdate) {
	h.mu.Lock()
	h.latest[update.ProductID] = update
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.product != "" && sub.product != update.ProductID {
			continue
		}
		select {
		case sub.ch <- update:
		default:
			metrics.DroppedUpdates.WithLabelValues(update.ProductID).Inc()
			h.logger.Debug("subscriber buffer full, dropping book update",
				zap.Uint64("subscription", sub.id),
				zap.String("product", update.ProductID))
		}
	}
}

// Latest returns the most recently published book for product.
func (h *Hub) Latest(product string) (booksync.BookUpdate, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	u, ok := h.latest[product]
	return u, ok
}

// Subscribe registers a new subscriber. Close the subscription to release it.
func (h *Hub) Subscribe(product string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscription{
		id:      h.nextID,
		product: product,
		ch:      make(chan booksync.BookUpdate, h.bufferSize),
		hub:     h,
	}
	h.subs[sub.id] = sub
	return sub
}

// C delivers updates. It is closed when the subscription is closed.
func (s *Subscription) C() <-chan booksync.BookUpdate { return s.ch }

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		close(s.ch)
		s.hub.mu.Unlock()
	})
}
