package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/chisanga/revpredict-go/internal/models"
)

// ForecastCacheStats tracks cache performance counters.
type ForecastCacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
	mu     sync.RWMutex
}

// RedisForecastCache stores serialized forecast bundles keyed by the
// requested tax types, so repeated dashboard loads skip model orchestration
// entirely. Entries are TTL-bound and dropped wholesale on invalidation.
type RedisForecastCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
	stats  *ForecastCacheStats
	logger *logrus.Logger
}

// NewRedisForecastCache creates a forecast response cache with the given TTL.
func NewRedisForecastCache(redisClient *redis.Client, ttl time.Duration, logger *logrus.Logger) *RedisForecastCache {
	return &RedisForecastCache{
		redis:  redisClient,
		ttl:    ttl,
		prefix: "forecast_cache:",
		stats:  &ForecastCacheStats{},
		logger: logger,
	}
}

// Key builds a stable cache key from the requested tax types.
func (c *RedisForecastCache) Key(taxTypes []models.TaxType, horizon int) string {
	names := make([]string, 0, len(taxTypes))
	for _, t := range taxTypes {
		names = append(names, string(t))
	}
	sort.Strings(names)
	if len(names) == 0 {
		names = []string{"all"}
	}
	return fmt.Sprintf("%s%s:%d", c.prefix, strings.Join(names, ","), horizon)
}

// Get retrieves a cached forecast bundle, reporting whether it was present.
func (c *RedisForecastCache) Get(ctx context.Context, key string) (*models.ForecastBundle, bool) {
	data, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		c.miss()
		return nil, false
	}
	if err != nil {
		c.logger.WithError(err).Warn("Forecast cache read failed")
		c.miss()
		return nil, false
	}

	var bundle models.ForecastBundle
	if err := json.Unmarshal([]byte(data), &bundle); err != nil {
		c.logger.WithError(err).Warn("Forecast cache entry corrupt, discarding")
		c.miss()
		return nil, false
	}

	c.stats.mu.Lock()
	c.stats.Hits++
	c.stats.mu.Unlock()
	return &bundle, true
}

// Set stores a forecast bundle under the key with the configured TTL.
func (c *RedisForecastCache) Set(ctx context.Context, key string, bundle *models.ForecastBundle) {
	data, err := json.Marshal(bundle)
	if err != nil {
		c.logger.WithError(err).Warn("Forecast cache serialization failed")
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Warn("Forecast cache write failed")
		return
	}
	c.stats.mu.Lock()
	c.stats.Sets++
	c.stats.mu.Unlock()
}

// Invalidate removes every cached forecast entry. Called when new
// observations are ingested or on scheduled refresh.
func (c *RedisForecastCache) Invalidate(ctx context.Context) error {
	iter := c.redis.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning forecast cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("deleting forecast cache keys: %w", err)
	}
	c.logger.WithField("entries", len(keys)).Info("Forecast cache invalidated")
	return nil
}

// Stats returns a snapshot of the hit/miss counters.
func (c *RedisForecastCache) Stats() ForecastCacheStats {
	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()
	return ForecastCacheStats{Hits: c.stats.Hits, Misses: c.stats.Misses, Sets: c.stats.Sets}
}

func (c *RedisForecastCache) miss() {
	c.stats.mu.Lock()
	c.stats.Misses++
	c.stats.mu.Unlock()
}
