package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	linkCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filerelay_link_cache_hits_total",
		Help: "Resolutions served from the link cache.",
	})
	linkCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filerelay_link_cache_misses_total",
		Help: "Resolutions that went to the upstream.",
	})
	resolveFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filerelay_resolve_failures_total",
		Help: "Failed resolutions by class.",
	}, []string{"class"})
)

// Cache stores descriptors by locator. Implementations must not return expired descriptors.
type Cache interface {
	Get(ctx context.Context, locator string) (FetchDescriptor, bool)
	Set(ctx context.Context, locator string, d FetchDescriptor)
}

// MemoryCache is a per-process LRU with a TTL.
type MemoryCache struct {
	lru *expirable.LRU[string, FetchDescriptor]
	now func() time.Time
}

// NewMemoryCache creates a cache holding at most size descriptors for at most ttl.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		lru: expirable.NewLRU[string, FetchDescriptor](size, nil, ttl),
		now: time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, locator string) (FetchDescriptor, bool) {
	d, ok := c.lru.Get(locator)
	if !ok {
		return FetchDescriptor{}, false
	}
	if d.Expired(c.now()) {
		c.lru.Remove(locator)
		return FetchDescriptor{}, false
	}
	return d, true
}

func (c *MemoryCache) Set(_ context.Context, locator string, d FetchDescriptor) {
	c.lru.Add(locator, d)
}

// RedisCache shares descriptors between relay instances. Only Path and
// ExpiresAt are stored, so credentials in URL never reach Redis.
type RedisCache struct {
	client redis.Cmdable
	prefix string
	logger *zap.Logger
}

const redisOpTimeout = 2 * time.Second

// NewRedisCache stores descriptors under prefix+locator.
func NewRedisCache(client redis.Cmdable, prefix string, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{client: client, prefix: prefix, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, locator string) (FetchDescriptor, bool) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	raw, err := c.client.Get(ctx, c.prefix+locator).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("link cache get failed", zap.Error(err))
		}
		return FetchDescriptor{}, false
	}
	var d FetchDescriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		c.logger.Warn("link cache entry corrupt", zap.String("locator", locator), zap.Error(err))
		return FetchDescriptor{}, false
	}
	if d.Expired(time.Now()) {
		return FetchDescriptor{}, false
	}
	return d, true
}

func (c *RedisCache) Set(ctx context.Context, locator string, d FetchDescriptor) {
	ttl := time.Until(d.ExpiresAt)
	if ttl <= 0 || d.Path == "" {
		return
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := c.client.Set(ctx, c.prefix+locator, raw, ttl).Err(); err != nil {
		c.logger.Warn("link cache set failed", zap.Error(err))
	}
}

// Cached puts a Cache in front of another Resolver. Failures are never cached.
type Cached struct {
	next   Resolver
	cache  Cache
	linker Linker
}

// NewCached wraps next with cache. When next is a Linker, entries that come
// back without a URL get it rebuilt from their Path.
func NewCached(next Resolver, cache Cache) *Cached {
	c := &Cached{next: next, cache: cache}
	c.linker, _ = next.(Linker)
	return c
}

func (c *Cached) Resolve(ctx context.Context, locator string) (FetchDescriptor, error) {
	if d, ok := c.lookup(ctx, locator); ok {
		linkCacheHits.Inc()
		return d, nil
	}
	linkCacheMisses.Inc()
	d, err := c.next.Resolve(ctx, locator)
	if err != nil {
		var rerr *ResolutionError
		if errors.As(err, &rerr) {
			resolveFailures.WithLabelValues(rerr.Class.String()).Inc()
		}
		return FetchDescriptor{}, err
	}
	c.cache.Set(ctx, locator, d)
	return d, nil
}

func (c *Cached) lookup(ctx context.Context, locator string) (FetchDescriptor, bool) {
	d, ok := c.cache.Get(ctx, locator)
	if !ok {
		return FetchDescriptor{}, false
	}
	if d.URL == "" {
		if c.linker == nil || d.Path == "" {
			return FetchDescriptor{}, false
		}
		d.URL = c.linker.Link(d.Path)
	}
	return d, true
}
