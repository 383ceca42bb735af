// Package bars reads and appends per-asset price history kept in Redis lists.
package bars

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sawpanic/tradecore/internal/domain/signal"
)

// Store is the price-history source for the signal engine
type Store interface {
	// Recent returns up to limit bars, oldest first. limit <= 0 returns everything retained.
	Recent(ctx context.Context, mint string, limit int) ([]signal.Bar, error)
	// Len returns the number of bars observed for mint
	Len(ctx context.Context, mint string) (int, error)
}

// Config configures the Redis connection and list layout
type Config struct {
	Addr      string `yaml:"addr"`       // Default: localhost:6379
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"` // Default: bars:
	Retention int    `yaml:"retention"`  // Default: 1000
}

// DefaultConfig returns local defaults
func DefaultConfig() Config {
	return Config{
		Addr:      "localhost:6379",
		KeyPrefix: "bars:",
		Retention: 1000,
	}
}

// storedBar is the list element encoding
type storedBar struct {
	TS    int64   `json:"ts"`
	Price float64 `json:"price"`
}

// RedisStore keeps one list per mint
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	retention int
}

// NewRedisStore connects using cfg
func NewRedisStore(cfg Config) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisStoreWithClient(client, cfg)
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client redis.UniversalClient, cfg Config) *RedisStore {
	def := DefaultConfig()
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	return &RedisStore{client: client, prefix: cfg.KeyPrefix, retention: cfg.Retention}
}

func (s *RedisStore) key(mint string) string {
	return s.prefix + mint
}

// Recent returns the newest limit bars in chronological order
func (s *RedisStore) Recent(ctx context.Context, mint string, limit int) ([]signal.Bar, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}

	raw, err := s.client.LRange(ctx, s.key(mint), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read bars for %s: %w", mint, err)
	}

	out := make([]signal.Bar, 0, len(raw))
	for i, item := range raw {
		var b storedBar
		if err := json.Unmarshal([]byte(item), &b); err != nil {
			return nil, fmt.Errorf("failed to decode bar %d for %s: %w", i, mint, err)
		}
		out = append(out, signal.Bar{Timestamp: time.UnixMilli(b.TS).UTC(), Price: b.Price})
	}
	return out, nil
}

// Len returns the retained bar count
func (s *RedisStore) Len(ctx context.Context, mint string) (int, error) {
	n, err := s.client.LLen(ctx, s.key(mint)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count bars for %s: %w", mint, err)
	}
	return int(n), nil
}

// Append pushes a bar and trims the list to the retention window
func (s *RedisStore) Append(ctx context.Context, mint string, bar signal.Bar) error {
	data, err := json.Marshal(storedBar{TS: bar.Timestamp.UnixMilli(), Price: bar.Price})
	if err != nil {
		return fmt.Errorf("failed to encode bar: %w", err)
	}

	key := s.key(mint)
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, string(data))
		p.LTrim(ctx, key, -int64(s.retention), -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append bar for %s: %w", mint, err)
	}
	return nil
}

// Ping checks connectivity
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
