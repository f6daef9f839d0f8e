package vision

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/driveline/priceengine/internal/platform/logger"
)

// FeatureCache stores reduced embeddings keyed by image content hash. It is
// read-through and never invalidated: the underlying photograph does not
// change, so stale entries are acceptable.
type FeatureCache interface {
	Get(ctx context.Context, key string) ([]float64, bool)
	Set(ctx context.Context, key string, vec []float64)
}

// memoryCache is the in-process fallback when no redis address is
// configured.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string][]float64
}

func NewMemoryCache() FeatureCache {
	return &memoryCache{entries: map[string][]float64{}}
}

func (c *memoryCache) Get(_ context.Context, key string) ([]float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vec, ok := c.entries[key]
	return vec, ok
}

func (c *memoryCache) Set(_ context.Context, key string, vec []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = vec
}

// redisCache shares the feature cache across serving processes. Cache
// failures degrade to misses; they never fail an extraction.
type redisCache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

func NewRedisCache(log *logger.Logger, addr string, ttl time.Duration) (FeatureCache, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &redisCache{
		log: log.With("service", "ImageFeatureCache"),
		rdb: rdb,
		ttl: ttl,
	}, nil
}

func (c *redisCache) Get(ctx context.Context, key string) ([]float64, bool) {
	raw, err := c.rdb.Get(ctx, "imgfeat:"+key).Bytes()
	if err != nil {
		if err != goredis.Nil {
			c.log.Warn("cache get failed", "error", err)
		}
		return nil, false
	}
	var vec []float64
	if err := json.Unmarshal(raw, &vec); err != nil {
		c.log.Warn("cache entry corrupt", "key", key, "error", err)
		return nil, false
	}
	return vec, true
}

func (c *redisCache) Set(ctx context.Context, key string, vec []float64) {
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, "imgfeat:"+key, raw, c.ttl).Err(); err != nil {
		c.log.Warn("cache set failed", "error", err)
	}
}
