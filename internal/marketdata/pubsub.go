package marketdata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Aidin1998/orderbook-sync/internal/booksync"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// PubSubBackend abstracts an external pub/sub system books are forwarded to.
// Use Redis for low-latency fan-out, Kafka when consumers need to replay.
type PubSubBackend interface {
	Publish(ctx context.Context, channel string, msg interface{}) error
	Close() error
}

// RedisPubSub implements PubSubBackend using Redis PUBLISH.
type RedisPubSub struct {
	client *redis.Client
}

func NewRedisPubSub(addr string) *RedisPubSub {
	return &RedisPubSub{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
		}),
	}
}

func (r *RedisPubSub) Publish(ctx context.Context, channel string, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, channel, data).Err()
}

func (r *RedisPubSub) Close() error { return r.client.Close() }

// KafkaPubSub implements PubSubBackend with a Kafka writer. The channel is used as
// the message key so each product's books stay ordered within a partition.
type KafkaPubSub struct {
	writer *kafka.Writer
}

func NewKafkaPubSub(brokers []string, topic string) *KafkaPubSub {
	return &KafkaPubSub{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (k *KafkaPubSub) Publish(ctx context.Context, channel string, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(channel), Value: data})
}

func (k *KafkaPubSub) Close() error { return k.writer.Close() }

// Forwarder drains a hub subscription into a backend until the context is done
// or the subscription is closed. Backend errors are logged and the update skipped.
type Forwarder struct {
	backend PubSubBackend
	prefix  string
	timeout time.Duration
	logger  *zap.Logger
}

func NewForwarder(backend PubSubBackend, prefix string, logger *zap.Logger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{
		backend: backend,
		prefix:  prefix,
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// Channel names the destination for a product, e.g. "orderbook.BTC-USD".
func (f *Forwarder) Channel(product string) string {
	if f.prefix == "" {
		return product
	}
	return f.prefix + "." + product
}

func (f *Forwarder) Run(ctx context.Context, sub *Subscription) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-sub.C():
			if !ok {
				return
			}
			f.forward(ctx, update)
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, update booksync.BookUpdate) {
	pubCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	if err := f.backend.Publish(pubCtx, f.Channel(update.ProductID), update); err != nil {
		f.logger.Warn("book forward failed",
			zap.String("product", update.ProductID),
			zap.Int64("sequence", update.Sequence),
			zap.Error(err))
	}
}
