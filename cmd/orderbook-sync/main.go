package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Aidin1998/orderbook-sync/internal/config"
	"github.com/Aidin1998/orderbook-sync/internal/marketdata"
	"github.com/Aidin1998/orderbook-sync/internal/marketfeeds"
	"github.com/Aidin1998/orderbook-sync/internal/marketfeeds/coinbase"
	"github.com/Aidin1998/orderbook-sync/internal/server"
	"github.com/Aidin1998/orderbook-sync/pkg/logger"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	bootLogger, err := logger.NewLogger(os.Getenv("ORDERBOOK_LOG_LEVEL"), os.Getenv("ORDERBOOK_LOG_FORMAT"))
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	var paths []string
	if p := os.Getenv("ORDERBOOK_CONFIG"); p != "" {
		paths = append(paths, p)
	}
	cfg, err := config.Load(bootLogger, paths...)
	if err != nil {
		bootLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	zapLogger, err := logger.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		bootLogger.Fatal("Failed to create logger", zap.Error(err))
	}
	defer zapLogger.Sync()
	if dump, err := cfg.Dump(); err == nil {
		zapLogger.Debug("Effective configuration", zap.ByteString("config", dump))
	}

	hub := marketdata.NewHub(256, zapLogger.Named("hub"))

	var opts []marketfeeds.Option
	if len(cfg.Kafka.Brokers) > 0 {
		opts = append(opts, marketfeeds.WithSink("kafka",
			marketdata.NewKafkaPubSub(cfg.Kafka.Brokers, cfg.Kafka.Topic), ""))
	}
	if cfg.Redis.Addr != "" {
		opts = append(opts, marketfeeds.WithSink("redis",
			marketdata.NewRedisPubSub(cfg.Redis.Addr), cfg.Redis.ChannelPrefix))
	}

	feedClient := coinbase.NewFeedClient(coinbase.FeedConfig{
		URL:        cfg.Feed.WSURL,
		Products:   cfg.Feed.Products,
		Channels:   cfg.Feed.Channels,
		BackoffMin: cfg.Sync.BackoffMin,
		BackoffMax: cfg.Sync.BackoffMax,
	}, zapLogger.Named("feed"))
	snapshots := coinbase.NewSnapshotClient(cfg.Feed.RESTURL, cfg.Sync.FetchRate)

	svc := marketfeeds.NewService(zapLogger, feedClient, snapshots, cfg.Coordinator(), hub, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start market feeds service", zap.Error(err))
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server.NewServer(zapLogger.Named("http"), svc.Coordinator(), hub).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLogger.Info("Starting API server", zap.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Failed to shut down API server", zap.Error(err))
	}
	if err := svc.Stop(); err != nil {
		zapLogger.Error("Failed to stop market feeds service", zap.Error(err))
	}

	zapLogger.Info("Server exited properly")
}
