package booksync

import (
	"context"
	"time"

	"github.com/Aidin1998/orderbook-sync/internal/feed"
	"github.com/Aidin1998/orderbook-sync/internal/orderbook"
)

// State is the sync cursor state of one product.
type State int

const (
	// StateUninitialized: no sync started yet. The first feed event starts one.
	StateUninitialized State = iota
	// StateResyncing: a snapshot fetch is in flight and feed events are queued.
	StateResyncing
	// StateLive: the watermark holds the sequence of the last applied event.
	StateLive
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateResyncing:
		return "resyncing"
	case StateLive:
		return "live"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// SnapshotFetcher loads a level 3 book for a product.
type SnapshotFetcher interface {
	FetchBook(ctx context.Context, productID string) (*feed.BookSnapshot, error)
}

// BookUpdate is a published book projection.
type BookUpdate struct {
	ProductID string         `json:"product_id"`
	Sequence  int64          `json:"sequence"`
	Book      orderbook.Book `json:"book"`
	Time      time.Time      `json:"time"`
}

// Publisher receives book updates from the sync loop. Publish must not block.
type Publisher interface {
	Publish(update BookUpdate)
}

// Listener observes sync lifecycle events. Calls happen on the sync loop goroutine.
type Listener interface {
	OnSync(productID string)
	OnSynced(productID string)
	OnError(productID string, err error)
}

// NopListener ignores every event.
type NopListener struct{}

func (NopListener) OnSync(string)         {}
func (NopListener) OnSynced(string)       {}
func (NopListener) OnError(string, error) {}

type nopPublisher struct{}

func (nopPublisher) Publish(BookUpdate) {}

// ProductState is a read-only view of one engine's cursor.
type ProductState struct {
	ProductID string `json:"product_id"`
	State     State  `json:"state"`
	Watermark int64  `json:"watermark"`
	Pending   int    `json:"pending"`
	Orders    int    `json:"orders"`
}
