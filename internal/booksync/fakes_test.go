package booksync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Aidin1998/orderbook-sync/internal/feed"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeFetcher answers FetchBook from a script of responses, one per call.
// Once the script runs out the last response repeats. script replaces the script.
type fakeFetcher struct {
	mu        sync.Mutex
	calls     []string
	responses []fakeResponse
}

type fakeResponse struct {
	snap *feed.BookSnapshot
	err  error
}

func (f *fakeFetcher) FetchBook(_ context.Context, productID string) (*feed.BookSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, productID)
	if len(f.responses) == 0 {
		return nil, fmt.Errorf("no snapshot scripted for %s", productID)
	}
	r := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return r.snap, r.err
}

func (f *fakeFetcher) script(responses ...fakeResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = responses
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// stallingFetcher holds its first FetchBook until the caller's context is done, then
// answers from the script like fakeFetcher.
type stallingFetcher struct {
	fakeFetcher
	stalled atomic.Bool
	started chan struct{}
}

func newStallingFetcher(responses ...fakeResponse) *stallingFetcher {
	f := &stallingFetcher{started: make(chan struct{})}
	f.script(responses...)
	return f
}

func (f *stallingFetcher) FetchBook(ctx context.Context, productID string) (*feed.BookSnapshot, error) {
	if f.stalled.CompareAndSwap(false, true) {
		close(f.started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.fakeFetcher.FetchBook(ctx, productID)
}

type recordingPublisher struct {
	mu      sync.Mutex
	updates []BookUpdate
	ch      chan BookUpdate
}

func (p *recordingPublisher) Publish(u BookUpdate) {
	p.mu.Lock()
	p.updates = append(p.updates, u)
	p.mu.Unlock()
	if p.ch != nil {
		select {
		case p.ch <- u:
		default:
		}
	}
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.updates)
}

func (p *recordingPublisher) last() BookUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updates[len(p.updates)-1]
}

type recordingListener struct {
	events []string
	errs   []error
}

func (l *recordingListener) OnSync(p string)   { l.events = append(l.events, "sync:"+p) }
func (l *recordingListener) OnSynced(p string) { l.events = append(l.events, "synced:"+p) }
func (l *recordingListener) OnError(p string, err error) {
	l.events = append(l.events, "error:"+p)
	l.errs = append(l.errs, err)
}

func snapshot(seq int64, bids, asks [][3]string) *feed.BookSnapshot {
	conv := func(rows [][3]string) []feed.SnapshotOrder {
		out := make([]feed.SnapshotOrder, 0, len(rows))
		for _, r := range rows {
			out = append(out, feed.SnapshotOrder{
				Price:   decimal.RequireFromString(r[0]),
				Size:    decimal.RequireFromString(r[1]),
				OrderID: r[2],
			})
		}
		return out
	}
	return &feed.BookSnapshot{Sequence: seq, Bids: conv(bids), Asks: conv(asks)}
}

func dec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func openEvent(product string, seq int64, id, side, price, size string) *feed.Event {
	return &feed.Event{Type: feed.EventOpen, ProductID: product, Sequence: seq, OrderID: id, Side: side, Price: dec(price), RemainingSize: dec(size)}
}

func doneEvent(product string, seq int64, id string) *feed.Event {
	return &feed.Event{Type: feed.EventDone, ProductID: product, Sequence: seq, OrderID: id}
}

func matchEvent(product string, seq int64, maker, side, price, size string) *feed.Event {
	return &feed.Event{Type: feed.EventMatch, ProductID: product, Sequence: seq, MakerOrderID: maker, Side: side, Price: dec(price), Size: dec(size)}
}

func changeEvent(product string, seq int64, id, side, price, newSize, oldSize string) *feed.Event {
	return &feed.Event{Type: feed.EventChange, ProductID: product, Sequence: seq, OrderID: id, Side: side, Price: dec(price), NewSize: dec(newSize), OldSize: dec(oldSize)}
}

func frame(t *testing.T, ev *feed.Event) []byte {
	t.Helper()
	raw, err := ev.Encode()
	require.NoError(t, err)
	return raw
}

func send(t *testing.T, c *Coordinator, events ...*feed.Event) {
	t.Helper()
	for _, ev := range events {
		require.NoError(t, c.HandleMessage(frame(t, ev)))
	}
}

// land waits for the next snapshot fetch to finish and hands it to the coordinator,
// the same way Run does.
func land(t *testing.T, c *Coordinator) {
	t.Helper()
	select {
	case res := <-c.results:
		c.handleSnapshot(res)
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot fetch did not complete")
	}
}
