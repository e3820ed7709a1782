// Package coinbase connects the book sync to a Coinbase style exchange: a websocket
// feed of level 3 order events and a REST endpoint serving level 3 snapshots.
package coinbase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Aidin1998/orderbook-sync/internal/feed"
	"github.com/Aidin1998/orderbook-sync/pkg/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultFeedURL = "wss://ws-feed.exchange.coinbase.com"

	typeSubscribe = "subscribe"
	typeHeartbeat = "heartbeat"
	typeError     = "error"
)

var ErrUntypedFrame = errors.New("feed frame has no type")

// FeedConfig describes one websocket subscription.
type FeedConfig struct {
	URL        string
	Products   []string
	Channels   []string
	BackoffMin time.Duration
	BackoffMax time.Duration
}

type subscribeRequest struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

type frameHeader struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

// FeedClient streams exchange frames as sync envelopes. It redials with backoff
// whenever the connection drops.
type FeedClient struct {
	cfg    FeedConfig
	dialer *websocket.Dialer
	logger *zap.Logger
}

func NewFeedClient(cfg FeedConfig, logger *zap.Logger) *FeedClient {
	if cfg.URL == "" {
		cfg.URL = DefaultFeedURL
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = []string{feed.FullChannel}
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = time.Second
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedClient{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		logger: logger,
	}
}

// Run delivers frames to out until ctx is done. It always returns ctx.Err().
func (f *FeedClient) Run(ctx context.Context, out chan<- []byte) error {
	backoff := f.cfg.BackoffMin
	for {
		connected, err := f.session(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = f.cfg.BackoffMin
		}
		metrics.FeedReconnects.Inc()
		f.logger.Warn("feed connection lost, reconnecting",
			zap.Duration("backoff", backoff),
			zap.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > f.cfg.BackoffMax {
			backoff = f.cfg.BackoffMax
		}
	}
}

// session runs one connection. connected reports whether the subscription was sent.
func (f *FeedClient) session(ctx context.Context, out chan<- []byte) (connected bool, err error) {
	conn, _, err := f.dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial feed: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	log := f.logger.With(zap.String("connection", uuid.NewString()))
	req := subscribeRequest{
		Type:       typeSubscribe,
		ProductIDs: f.cfg.Products,
		Channels:   f.cfg.Channels,
	}
	if err := conn.WriteJSON(req); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	log.Info("feed subscribed",
		zap.String("url", f.cfg.URL),
		zap.Strings("products", f.cfg.Products),
		zap.Strings("channels", f.cfg.Channels))

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read feed: %w", err)
		}
		frame, ok, err := Wrap(raw)
		if err != nil {
			log.Warn("skipping unreadable feed frame", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		select {
		case out <- frame:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}

// Wrap converts a raw exchange frame into a sync envelope. Subscription
// acknowledgements pass through unchanged, order events are carried in the data
// field and heartbeats and exchange errors are dropped (ok is false).
func Wrap(raw []byte) (frame []byte, ok bool, err error) {
	var hdr frameHeader
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return nil, false, fmt.Errorf("decode feed frame: %w", err)
	}
	switch hdr.Type {
	case "":
		return nil, false, ErrUntypedFrame
	case feed.TypeSubscriptions:
		return raw, true, nil
	case typeHeartbeat:
		return nil, false, nil
	case typeError:
		return nil, false, fmt.Errorf("exchange error: %s %s", hdr.Message, hdr.Reason)
	}
	frame, err = json.Marshal(feed.Envelope{Type: feed.TypeMessage, Data: json.RawMessage(raw)})
	if err != nil {
		return nil, false, err
	}
	return frame, true, nil
}
