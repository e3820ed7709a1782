// Package config loads service settings. ORDERBOOK_ prefixed environment variables
// override YAML files, which override the defaults set here.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Aidin1998/orderbook-sync/internal/booksync"
	"github.com/Aidin1998/orderbook-sync/internal/orderbook"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "ORDERBOOK"

// DefaultPaths are tried when Load is called without paths. Missing files are skipped.
var DefaultPaths = []string{
	"./config.yaml",
	"./configs/config.yaml",
	"/etc/orderbook-sync/config.yaml",
}

type Config struct {
	LogLevel  string      `mapstructure:"log_level" yaml:"log_level" validate:"required,oneof=debug info warn error"`
	LogFormat string      `mapstructure:"log_format" yaml:"log_format" validate:"required,oneof=json console"`
	Feed      FeedConfig  `mapstructure:"feed" yaml:"feed"`
	Book      BookConfig  `mapstructure:"book" yaml:"book"`
	Sync      SyncConfig  `mapstructure:"sync" yaml:"sync"`
	HTTP      HTTPConfig  `mapstructure:"http" yaml:"http"`
	Kafka     KafkaConfig `mapstructure:"kafka" yaml:"kafka"`
	Redis     RedisConfig `mapstructure:"redis" yaml:"redis"`
}

type FeedConfig struct {
	WSURL    string   `mapstructure:"ws_url" yaml:"ws_url" validate:"required,url"`
	RESTURL  string   `mapstructure:"rest_url" yaml:"rest_url" validate:"required,url"`
	Products []string `mapstructure:"products" yaml:"products"`
	Channels []string `mapstructure:"channels" yaml:"channels" validate:"min=1"`
}

type BookConfig struct {
	GroupingDigits int32 `mapstructure:"grouping_digits" yaml:"grouping_digits" validate:"min=0,max=16"`
	Depth          int   `mapstructure:"depth" yaml:"depth" validate:"min=1"`
	MaxPending     int   `mapstructure:"max_pending" yaml:"max_pending" validate:"min=1"`
}

type SyncConfig struct {
	FetchAttempts int           `mapstructure:"fetch_attempts" yaml:"fetch_attempts" validate:"min=1"`
	BackoffMin    time.Duration `mapstructure:"backoff_min" yaml:"backoff_min" validate:"gt=0"`
	BackoffMax    time.Duration `mapstructure:"backoff_max" yaml:"backoff_max" validate:"gtefield=BackoffMin"`
	// FetchRate caps snapshot requests per second; 0 means unlimited.
	FetchRate float64 `mapstructure:"fetch_rate" yaml:"fetch_rate" validate:"min=0"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr" validate:"required"`
}

// KafkaConfig enables the Kafka forwarder when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic" validate:"required"`
}

// RedisConfig enables the Redis forwarder when Addr is set.
type RedisConfig struct {
	Addr          string `mapstructure:"addr" yaml:"addr"`
	ChannelPrefix string `mapstructure:"channel_prefix" yaml:"channel_prefix"`
}

func setDefaults(v *viper.Viper) {
	d := booksync.DefaultConfig()

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("feed.ws_url", "wss://ws-feed.exchange.coinbase.com")
	v.SetDefault("feed.rest_url", "https://api.exchange.coinbase.com")
	v.SetDefault("feed.products", []string{"BTC-USD"})
	v.SetDefault("feed.channels", []string{"full"})

	v.SetDefault("book.grouping_digits", orderbook.DefaultGroupingDigits)
	v.SetDefault("book.depth", orderbook.DefaultDepth)
	v.SetDefault("book.max_pending", d.MaxPending)

	v.SetDefault("sync.fetch_attempts", d.FetchAttempts)
	v.SetDefault("sync.backoff_min", d.BackoffMin)
	v.SetDefault("sync.backoff_max", d.BackoffMax)
	v.SetDefault("sync.fetch_rate", 2.0)

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "orderbook.books")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.channel_prefix", "orderbook")
}

// Load merges every existing file in paths (DefaultPaths when none are given),
// applies environment overrides and validates the result.
func Load(logger *zap.Logger, paths ...string) (*Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if len(paths) == 0 {
		paths = DefaultPaths
	}
	var loaded []string
	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			logger.Debug("config file not found, skipping", zap.String("path", path))
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		loaded = append(loaded, path)
	}
	if len(loaded) == 0 {
		logger.Info("no config files found, using defaults and environment")
	} else {
		logger.Info("loaded config files", zap.Strings("files", loaded))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Dump renders the effective configuration in the file format Load reads.
func (c *Config) Dump() ([]byte, error) {
	return yaml.Marshal(c)
}

// Coordinator translates the book and sync sections for booksync.NewCoordinator.
func (c *Config) Coordinator() booksync.Config {
	return booksync.Config{
		Products:       c.Feed.Products,
		GroupingDigits: c.Book.GroupingDigits,
		Depth:          c.Book.Depth,
		MaxPending:     c.Book.MaxPending,
		FetchAttempts:  c.Sync.FetchAttempts,
		BackoffMin:     c.Sync.BackoffMin,
		BackoffMax:     c.Sync.BackoffMax,
	}
}
