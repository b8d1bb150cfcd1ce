package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DetectionCache stores raw remote detection responses in Redis. Lookup
// and write failures are logged and treated as misses so detection never
// depends on Redis being up.
type DetectionCache struct {
	client *redis.Client
	config Config
	logger *zap.Logger
	stats  cacheStats
}

// cacheStats tracks cache performance metrics
type cacheStats struct {
	hits   int64
	misses int64
	errors int64
}

// NewDetectionCache creates a new Redis-based detection cache
func NewDetectionCache(config Config, logger *zap.Logger) (*DetectionCache, error) {
	// Parse Redis URL
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	if config.MaxConnections > 0 {
		opts.PoolSize = config.MaxConnections
	}
	opts.MinIdleConns = config.MinIdleConns

	cache := newDetectionCache(redis.NewClient(opts), config, logger)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cache.ping(ctx); err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	cache.logger.Info("Detection cache initialized successfully",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", config.MaxConnections),
		zap.Duration("default_ttl", config.DefaultTTL))

	return cache, nil
}

func newDetectionCache(client *redis.Client, config Config, logger *zap.Logger) *DetectionCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DetectionCache{
		client: client,
		config: config,
		logger: logger,
	}
}

// ping tests the Redis connection
func (dc *DetectionCache) ping(ctx context.Context) error {
	_, err := dc.client.Ping(ctx).Result()
	return err
}

// Get returns the cached response for key
func (dc *DetectionCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := dc.client.Get(ctx, dc.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		atomic.AddInt64(&dc.stats.misses, 1)
		return nil, false
	case err != nil:
		atomic.AddInt64(&dc.stats.errors, 1)
		atomic.AddInt64(&dc.stats.misses, 1)
		dc.logger.Warn("Cache lookup failed", zap.Error(err))
		return nil, false
	}

	atomic.AddInt64(&dc.stats.hits, 1)
	dc.logger.Debug("Cache hit", zap.String("key", dc.key(key)))
	return data, true
}

// Set stores a response under key with the configured TTL
func (dc *DetectionCache) Set(ctx context.Context, key string, value []byte) {
	if err := dc.client.Set(ctx, dc.key(key), value, dc.config.DefaultTTL).Err(); err != nil {
		atomic.AddInt64(&dc.stats.errors, 1)
		dc.logger.Warn("Failed to cache detection response", zap.Error(err))
	}
}

// GetStats returns cache performance statistics
func (dc *DetectionCache) GetStats(ctx context.Context) (*CacheStats, error) {
	stats := dc.localStats()

	// Get Redis info
	info, err := dc.client.Info(ctx, "memory").Result()
	if err != nil {
		return stats, fmt.Errorf("failed to get Redis info: %w", err)
	}

	// Parse memory usage from Redis info
	for _, line := range strings.Split(info, "\r\n") {
		if memStr := strings.TrimPrefix(line, "used_memory:"); memStr != line {
			if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
				stats.MemoryUsage = mem
			}
		}
	}

	if keys, err := dc.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

func (dc *DetectionCache) localStats() *CacheStats {
	stats := &CacheStats{
		Hits:   atomic.LoadInt64(&dc.stats.hits),
		Misses: atomic.LoadInt64(&dc.stats.misses),
		Errors: atomic.LoadInt64(&dc.stats.errors),
	}

	// Calculate hit rate
	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}
	return stats
}

// Clear removes all cached responses under the key prefix
func (dc *DetectionCache) Clear(ctx context.Context) error {
	pattern := dc.config.KeyPrefix + "*"

	// Use SCAN to find all keys with our prefix
	iter := dc.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	// Delete keys in batches
	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}

		if err := dc.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	dc.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (dc *DetectionCache) Close() error {
	if dc.client != nil {
		return dc.client.Close()
	}
	return nil
}

func (dc *DetectionCache) key(digest string) string {
	return dc.config.KeyPrefix + digest
}

// maskRedisURL masks the password in a Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}

	prefix, userInfo := "", url[:at]
	if scheme := strings.Index(userInfo, "://"); scheme >= 0 {
		prefix, userInfo = userInfo[:scheme+3], userInfo[scheme+3:]
	}

	colon := strings.Index(userInfo, ":")
	if colon < 0 {
		return url
	}
	return prefix + userInfo[:colon+1] + "***" + url[at:]
}
