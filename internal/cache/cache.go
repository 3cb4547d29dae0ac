// internal/cache/cache.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"recycloai/internal/metrics"
)

// ===============================
// CACHE INTERFACE
// ===============================

// Cache is a byte oriented key/value cache with per-key TTL. Callers treat
// it as an optimisation only: every error means "go to the source of truth".
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Stats(ctx context.Context) (*Stats, error)
	Health(ctx context.Context) error
	Close() error
}

// Stats represents cache statistics
type Stats struct {
	Provider string  `json:"provider"`
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	Sets     int64   `json:"sets"`
	Deletes  int64   `json:"deletes"`
	Keys     int64   `json:"keys"`
	HitRatio float64 `json:"hit_ratio"`
}

// Config holds cache configuration
type Config struct {
	Provider      string
	TTL           time.Duration
	MaxKeys       int
	KeyPrefix     string
	RedisURL      string
	RedisPassword string
	RedisDB       int
	PoolSize      int
}

// DefaultConfig returns an in-memory configuration
func DefaultConfig() *Config {
	return &Config{
		Provider:  "memory",
		TTL:       5 * time.Minute,
		MaxKeys:   10000,
		KeyPrefix: "recycloai:",
	}
}

// NewCache creates the configured cache
func NewCache(config *Config, logger *zap.Logger) (Cache, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	switch strings.ToLower(config.Provider) {
	case "redis":
		return NewRedisCache(config, logger)
	case "memory", "":
		logger.Info("Using in-memory cache", zap.Int("max_keys", config.MaxKeys))
		return NewMemoryCache(config, logger)
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", config.Provider)
	}
}

// ===============================
// TYPED HELPERS
// ===============================

// GetJSON loads and decodes a cached value. A decode failure is reported as a
// miss and the stale entry is dropped.
func GetJSON[T any](ctx context.Context, c Cache, key string) (*T, bool) {
	raw, ok, err := c.Get(ctx, key)
	if err != nil {
		metrics.CacheRequests.WithLabelValues("error").Inc()
		return nil, false
	}
	if !ok {
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		return nil, false
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		metrics.CacheRequests.WithLabelValues("error").Inc()
		_ = c.Delete(ctx, key)
		return nil, false
	}
	metrics.CacheRequests.WithLabelValues("hit").Inc()
	return &v, true
}

// SetJSON encodes and stores a value
func SetJSON(ctx context.Context, c Cache, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.Set(ctx, key, data, ttl)
}

// ===============================
// MEMORY CACHE IMPLEMENTATION
// ===============================

type memoryCache struct {
	items  *lru.Cache
	ttl    time.Duration
	logger *zap.Logger

	hits, misses, sets, deletes int64
}

type cacheItem struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache creates a bounded LRU cache
func NewMemoryCache(config *Config, logger *zap.Logger) (Cache, error) {
	size := config.MaxKeys
	if size <= 0 {
		size = 10000
	}
	items, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru cache: %w", err)
	}
	return &memoryCache{items: items, ttl: config.TTL, logger: logger}, nil
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.items.Get(key)
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false, nil
	}
	item := v.(cacheItem)
	if !item.expiresAt.IsZero() && time.Now().After(item.expiresAt) {
		c.items.Remove(key)
		atomic.AddInt64(&c.misses, 1)
		return nil, false, nil
	}
	atomic.AddInt64(&c.hits, 1)
	return item.value, true, nil
}

func (c *memoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	item := cacheItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = time.Now().Add(ttl)
	}
	c.items.Add(key, item)
	atomic.AddInt64(&c.sets, 1)
	return nil
}

func (c *memoryCache) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		c.items.Remove(k)
	}
	atomic.AddInt64(&c.deletes, int64(len(keys)))
	return nil
}

func (c *memoryCache) Stats(_ context.Context) (*Stats, error) {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	return &Stats{
		Provider: "memory",
		Hits:     hits,
		Misses:   misses,
		Sets:     atomic.LoadInt64(&c.sets),
		Deletes:  atomic.LoadInt64(&c.deletes),
		Keys:     int64(c.items.Len()),
		HitRatio: hitRatio(hits, misses),
	}, nil
}

func (c *memoryCache) Health(_ context.Context) error { return nil }

func (c *memoryCache) Close() error {
	c.items.Purge()
	return nil
}

// ===============================
// REDIS CACHE IMPLEMENTATION
// ===============================

type redisCache struct {
	client *redis.Client
	logger *zap.Logger
	config *Config

	hits, misses int64
}

// NewRedisCache creates a new Redis-based cache
func NewRedisCache(config *Config, logger *zap.Logger) (Cache, error) {
	if config == nil {
		return nil, fmt.Errorf("cache config cannot be nil")
	}

	var options *redis.Options
	if config.RedisURL != "" {
		var err error
		options, err = redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
	} else {
		options = &redis.Options{
			Addr:     "localhost:6379",
			Password: config.RedisPassword,
			DB:       config.RedisDB,
		}
	}

	if config.PoolSize > 0 {
		options.PoolSize = config.PoolSize
	}

	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis cache initialized",
		zap.String("addr", options.Addr),
		zap.Int("db", options.DB),
	)

	return NewRedisCacheWithClient(client, config, logger), nil
}

// NewRedisCacheWithClient wraps an existing client without pinging it
func NewRedisCacheWithClient(client *redis.Client, config *Config, logger *zap.Logger) Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisCache{client: client, logger: logger, config: config}
}

func (r *redisCache) key(k string) string {
	return r.config.KeyPrefix + k
}

func (r *redisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		atomic.AddInt64(&r.misses, 1)
		return nil, false, nil
	}
	if err != nil {
		r.logger.Warn("Failed to get from Redis", zap.String("key", key), zap.Error(err))
		return nil, false, err
	}
	atomic.AddInt64(&r.hits, 1)
	return val, true, nil
}

func (r *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.config.TTL
	}
	return r.client.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *redisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	return r.client.Del(ctx, full...).Err()
}

func (r *redisCache) Stats(ctx context.Context) (*Stats, error) {
	keys, err := r.client.DBSize(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read Redis db size: %w", err)
	}
	hits := atomic.LoadInt64(&r.hits)
	misses := atomic.LoadInt64(&r.misses)
	return &Stats{
		Provider: "redis",
		Hits:     hits,
		Misses:   misses,
		Keys:     keys,
		HitRatio: hitRatio(hits, misses),
	}, nil
}

func (r *redisCache) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisCache) Close() error {
	return r.client.Close()
}

func hitRatio(hits, misses int64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}
