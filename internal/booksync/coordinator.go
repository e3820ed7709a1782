package booksync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Aidin1998/orderbook-sync/internal/feed"
	"github.com/Aidin1998/orderbook-sync/internal/orderbook"
	"github.com/Aidin1998/orderbook-sync/pkg/metrics"
	"go.uber.org/zap"
)

var ErrUnknownProduct = errors.New("feed event for untracked product")

// Config controls the books built by the coordinator and how snapshots are fetched.
type Config struct {
	Products       []string
	GroupingDigits int32
	Depth          int
	MaxPending     int
	FetchAttempts  int
	BackoffMin     time.Duration
	BackoffMax     time.Duration
}

func DefaultConfig() Config {
	return Config{
		GroupingDigits: orderbook.DefaultGroupingDigits,
		Depth:          orderbook.DefaultDepth,
		MaxPending:     100000,
		FetchAttempts:  5,
		BackoffMin:     500 * time.Millisecond,
		BackoffMax:     10 * time.Second,
	}
}

type Option func(*Coordinator)

func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

func WithListener(l Listener) Option {
	return func(c *Coordinator) { c.listener = l }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// Coordinator fans one feed connection out to an Engine per product. Feed frames and
// snapshot completions are handled one at a time; snapshot fetches run on their own
// goroutines and report back through results.
type Coordinator struct {
	cfg       Config
	fetcher   SnapshotFetcher
	publisher Publisher
	listener  Listener
	logger    *zap.Logger

	mu      sync.RWMutex // serialises engine access; readers only take snapshots
	engines map[string]*Engine
	results chan fetchResult
	runCtx  context.Context
	wg      sync.WaitGroup
}

func NewCoordinator(cfg Config, fetcher SnapshotFetcher, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:       cfg,
		fetcher:   fetcher,
		publisher: nopPublisher{},
		listener:  NopListener{},
		logger:    zap.NewNop(),
		engines:   make(map[string]*Engine),
		results:   make(chan fetchResult, 16),
		runCtx:    context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.FetchAttempts <= 0 {
		c.cfg.FetchAttempts = 1
	}
	for _, p := range cfg.Products {
		c.addProduct(p)
	}
	return c
}

// Run processes feed frames until ctx is done or frames is closed. In-flight
// snapshot fetches are cancelled and waited for before Run returns, and the products
// they were loading go back to uninitialized so a later Run syncs them again.
func (c *Coordinator) Run(ctx context.Context, frames <-chan []byte) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.runCtx = runCtx
	c.mu.Unlock()
	defer c.stop(cancel)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-frames:
			if !ok {
				return nil
			}
			if err := c.HandleMessage(raw); err != nil {
				c.logger.Warn("dropping feed frame", zap.Error(err))
			}
		case res := <-c.results:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.handleSnapshot(res)
		}
	}
}

// HandleMessage routes one raw feed frame.
func (c *Coordinator) HandleMessage(raw []byte) error {
	env, err := feed.DecodeEnvelope(raw)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if env.Type == feed.TypeSubscriptions {
		for _, p := range env.Products(feed.FullChannel) {
			if _, ok := c.engines[p]; !ok {
				c.addProduct(p)
			}
		}
		return nil
	}

	ev, err := env.Event()
	if err != nil {
		return err
	}
	engine, ok := c.engines[ev.ProductID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProduct, ev.ProductID)
	}
	engine.Handle(ev)
	return nil
}

func (c *Coordinator) stop(cancel context.CancelFunc) {
	cancel()
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
drain:
	for {
		select {
		case <-c.results:
		default:
			break drain
		}
	}
	for _, engine := range c.engines {
		engine.abandon()
	}
	c.runCtx = context.Background()
}

func (c *Coordinator) handleSnapshot(res fetchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if engine, ok := c.engines[res.productID]; ok {
		engine.complete(res)
	}
}

func (c *Coordinator) addProduct(productID string) {
	c.engines[productID] = &Engine{
		productID:  productID,
		book:       orderbook.NewOrderBook(c.bookOptions(productID)...),
		bookOpts:   c.bookOptions(productID),
		state:      StateUninitialized,
		depth:      c.cfg.Depth,
		maxPending: c.cfg.MaxPending,
		fetch:      c.startFetch,
		publisher:  c.publisher,
		listener:   c.listener,
		logger:     c.logger.With(zap.String("product", productID)),
		now:        time.Now,
	}
	c.logger.Info("tracking product", zap.String("product", productID))
}

func (c *Coordinator) bookOptions(productID string) []orderbook.Option {
	return []orderbook.Option{
		orderbook.WithGrouping(c.cfg.GroupingDigits),
		orderbook.WithLogger(c.logger.With(zap.String("product", productID))),
	}
}

// startFetch is called with c.mu held.
func (c *Coordinator) startFetch(productID string, generation uint64) {
	ctx := c.runCtx
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		snap, err := c.fetchWithRetry(ctx, productID)
		select {
		case c.results <- fetchResult{productID: productID, generation: generation, snapshot: snap, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (c *Coordinator) fetchWithRetry(ctx context.Context, productID string) (*feed.BookSnapshot, error) {
	backoff := c.cfg.BackoffMin
	var lastErr error
	for attempt := 1; attempt <= c.cfg.FetchAttempts; attempt++ {
		start := time.Now()
		snap, err := c.fetcher.FetchBook(ctx, productID)
		if err == nil && snap == nil {
			err = errors.New("empty snapshot")
		}
		if err == nil {
			metrics.SnapshotFetchLatency.Observe(time.Since(start).Seconds())
			return snap, nil
		}
		lastErr = err
		metrics.SnapshotFetchErrors.WithLabelValues(productID).Inc()
		c.logger.Warn("snapshot fetch failed",
			zap.String("product", productID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		if attempt == c.cfg.FetchAttempts {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if c.cfg.BackoffMax > 0 && backoff > c.cfg.BackoffMax {
			backoff = c.cfg.BackoffMax
		}
	}
	return nil, fmt.Errorf("fetch %s snapshot after %d attempts: %w", productID, c.cfg.FetchAttempts, lastErr)
}

// Products reports every tracked product's cursor, sorted by product id.
func (c *Coordinator) Products() []ProductState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	states := make([]ProductState, 0, len(c.engines))
	for _, e := range c.engines {
		states = append(states, e.State())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ProductID < states[j].ProductID })
	return states
}

// Product reports one product's cursor.
func (c *Coordinator) Product(productID string) (ProductState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.engines[productID]
	if !ok {
		return ProductState{}, false
	}
	return e.State(), true
}
