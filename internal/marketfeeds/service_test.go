package marketfeeds

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Aidin1998/orderbook-sync/internal/booksync"
	"github.com/Aidin1998/orderbook-sync/internal/feed"
	"github.com/Aidin1998/orderbook-sync/internal/marketdata"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type scriptedFeed struct {
	frames []string
}

func (f *scriptedFeed) Run(ctx context.Context, out chan<- []byte) error {
	for _, fr := range f.frames {
		select {
		case out <- []byte(fr):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

type staticFetcher struct{ snap *feed.BookSnapshot }

func (f staticFetcher) FetchBook(context.Context, string) (*feed.BookSnapshot, error) {
	return f.snap, nil
}

type memoryBackend struct {
	mu       sync.Mutex
	channels []string
	closed   bool
}

func (m *memoryBackend) Publish(_ context.Context, channel string, _ interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, channel)
	return nil
}

func (m *memoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memoryBackend) published() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.channels...)
}

func TestService_SyncsAndForwards(t *testing.T) {
	logger := zaptest.NewLogger(t)
	src := &scriptedFeed{frames: []string{
		`{"type":"message","data":{"type":"open","product_id":"BTC-USD","sequence":11,"order_id":"o2","side":"sell","price":"101","remaining_size":"2"}}`,
	}}
	fetcher := staticFetcher{snap: &feed.BookSnapshot{
		Sequence: 10,
		Bids: []feed.SnapshotOrder{{
			Price:   decimal.NewFromInt(100),
			Size:    decimal.NewFromInt(1),
			OrderID: "o1",
		}},
	}}
	cfg := booksync.DefaultConfig()
	cfg.Products = []string{"BTC-USD"}
	hub := marketdata.NewHub(16, logger)
	backend := &memoryBackend{}

	svc := NewService(logger, src, fetcher, cfg, hub, WithSink("redis", backend, "orderbook"))
	require.NoError(t, svc.Start(context.Background()))
	assert.Error(t, svc.Start(context.Background()), "double start")

	require.Eventually(t, func() bool {
		st, ok := svc.Coordinator().Product("BTC-USD")
		return ok && st.State == booksync.StateLive && st.Watermark == 11
	}, 2*time.Second, 5*time.Millisecond)

	update, ok := hub.Latest("BTC-USD")
	require.True(t, ok)
	require.Len(t, update.Book.Bids, 1)
	require.Len(t, update.Book.Asks, 1)
	assert.Equal(t, "o2", update.Book.Asks[0].ID)

	require.Eventually(t, func() bool { return len(backend.published()) > 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "orderbook.BTC-USD", backend.published()[0])

	require.NoError(t, svc.Stop())
	assert.True(t, backend.closed)
	assert.Error(t, svc.Stop(), "double stop")
}

// channelFeed forwards frames from a shared channel for as long as each Run lasts.
type channelFeed struct{ frames chan string }

func (f *channelFeed) Run(ctx context.Context, out chan<- []byte) error {
	for {
		select {
		case fr := <-f.frames:
			out <- []byte(fr)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// hangOnceFetcher blocks the first fetch until it is cancelled.
type hangOnceFetcher struct {
	snap    *feed.BookSnapshot
	hung    atomic.Bool
	started chan struct{}
}

func (f *hangOnceFetcher) FetchBook(ctx context.Context, _ string) (*feed.BookSnapshot, error) {
	if f.hung.CompareAndSwap(false, true) {
		close(f.started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.snap, nil
}

func TestService_RestartResumesInterruptedSync(t *testing.T) {
	logger := zaptest.NewLogger(t)
	src := &channelFeed{frames: make(chan string, 4)}
	fetcher := &hangOnceFetcher{
		snap:    &feed.BookSnapshot{Sequence: 10},
		started: make(chan struct{}),
	}
	cfg := booksync.DefaultConfig()
	cfg.Products = []string{"BTC-USD"}
	svc := NewService(logger, src, fetcher, cfg, marketdata.NewHub(16, logger))

	require.NoError(t, svc.Start(context.Background()))
	src.frames <- `{"type":"message","data":{"type":"open","product_id":"BTC-USD","sequence":11,"order_id":"o1","side":"buy","price":"100","remaining_size":"1"}}`
	select {
	case <-fetcher.started:
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot fetch never started")
	}
	require.NoError(t, svc.Stop())

	st, ok := svc.Coordinator().Product("BTC-USD")
	require.True(t, ok)
	assert.Equal(t, booksync.StateUninitialized, st.State)

	require.NoError(t, svc.Start(context.Background()))
	src.frames <- `{"type":"message","data":{"type":"open","product_id":"BTC-USD","sequence":12,"order_id":"o2","side":"buy","price":"100","remaining_size":"2"}}`
	require.Eventually(t, func() bool {
		st, ok := svc.Coordinator().Product("BTC-USD")
		return ok && st.State == booksync.StateLive && st.Watermark == 12 && st.Orders == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Stop())
}
