package marketfeeds

import (
	"context"
	"fmt"
	"sync"

	"github.com/Aidin1998/orderbook-sync/internal/booksync"
	"github.com/Aidin1998/orderbook-sync/internal/marketdata"
	"go.uber.org/zap"
)

// FeedSource produces raw feed envelopes until ctx is done.
// *coinbase.FeedClient implements it.
type FeedSource interface {
	Run(ctx context.Context, out chan<- []byte) error
}

type sink struct {
	name    string
	backend marketdata.PubSubBackend
	prefix  string
}

type Option func(*Service)

// WithSink forwards every published book to backend on channels named prefix.product.
func WithSink(name string, backend marketdata.PubSubBackend, prefix string) Option {
	return func(s *Service) {
		s.sinks = append(s.sinks, sink{name: name, backend: backend, prefix: prefix})
	}
}

// Service runs the feed, the book sync and the external sinks as one unit.
type Service struct {
	logger      *zap.Logger
	feed        FeedSource
	coordinator *booksync.Coordinator
	hub         *marketdata.Hub
	sinks       []sink

	mutex     sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewService(logger *zap.Logger, feed FeedSource, fetcher booksync.SnapshotFetcher,
	cfg booksync.Config, hub *marketdata.Hub, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		logger: logger,
		feed:   feed,
		hub:    hub,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.coordinator = booksync.NewCoordinator(cfg, fetcher,
		booksync.WithPublisher(hub),
		booksync.WithListener(s),
		booksync.WithLogger(logger.Named("booksync")))
	return s
}

// Coordinator exposes the sync cursors for read-only callers such as the HTTP API.
func (s *Service) Coordinator() *booksync.Coordinator { return s.coordinator }

// Start launches the feed, the sync loop and one forwarder per sink.
func (s *Service) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.isRunning {
		return fmt.Errorf("market feeds service is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	frames := make(chan []byte, 1024)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.feed.Run(runCtx, frames); err != nil && runCtx.Err() == nil {
			s.logger.Error("feed stopped", zap.Error(err))
		}
	}()
	go func() {
		defer s.wg.Done()
		if err := s.coordinator.Run(runCtx, frames); err != nil && runCtx.Err() == nil {
			s.logger.Error("book sync stopped", zap.Error(err))
		}
	}()

	for _, sk := range s.sinks {
		fwd := marketdata.NewForwarder(sk.backend, sk.prefix, s.logger.Named(sk.name))
		sub := s.hub.Subscribe("")
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			fwd.Run(runCtx, sub)
		}()
		s.logger.Info("book sink enabled", zap.String("sink", sk.name), zap.String("prefix", sk.prefix))
	}

	s.isRunning = true
	s.logger.Info("Market feeds service started")
	return nil
}

// Stop cancels every goroutine, waits for them and closes the sinks.
func (s *Service) Stop() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isRunning {
		return fmt.Errorf("market feeds service is not running")
	}

	s.cancel()
	s.wg.Wait()
	for _, sk := range s.sinks {
		if err := sk.backend.Close(); err != nil {
			s.logger.Warn("closing sink failed", zap.String("sink", sk.name), zap.Error(err))
		}
	}

	s.isRunning = false
	s.logger.Info("Market feeds service stopped")
	return nil
}

// OnSync implements booksync.Listener.
func (s *Service) OnSync(productID string) {
	s.logger.Info("book sync started", zap.String("product", productID))
}

func (s *Service) OnSynced(productID string) {
	s.logger.Info("book synchronised", zap.String("product", productID))
}

func (s *Service) OnError(productID string, err error) {
	s.logger.Warn("book sync error", zap.String("product", productID), zap.Error(err))
}
