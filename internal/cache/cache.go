// Package cache implements the pooled, Redis-backed query cache (component
// C2): connection pooling, SHA-256 parameter-hash keys, family invalidation
// via server-side cursor scans, active eviction under memory pressure, and
// hit/miss/set/delete statistics. It is grounded on the teacher's
// infrastructure/cache/cache.go API shape, rebuilt against
// github.com/go-redis/redis/v8 (present in the teacher's go.mod but never
// imported by the teacher's code) instead of an in-process map.
package cache

import (
	"context"
	"encoding/json"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/walletmemory/core/internal/logging"
	"github.com/walletmemory/core/internal/metrics"
	"github.com/walletmemory/core/internal/resilience"
)

// Config configures the cache pool.
type Config struct {
	URL              string
	Password         string
	MinPoolSize      int
	MaxPoolSize      int
	DefaultTTL       time.Duration
	EvictionIdle     time.Duration
	MemoryThresholds int64 // bytes of host memory in use (gopsutil VirtualMemory().Used) at which active eviction runs
	EvictionSample   int   // keys sampled per eviction pass, default 100
	EvictionMaxIter  int   // bounded passes per sampling tick, default 10
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Sets      uint64
	Deletes   uint64
	Errors    uint64
	HitRate   float64
}

// Cache is a pooled Redis-backed query cache.
type Cache struct {
	client  *redis.Client
	cfg     Config
	log     *logging.Logger
	breaker          *resilience.CircuitBreaker
	metrics          *metrics.Metrics
	metricsNamespace string

	hits, misses, sets, deletes, errs uint64

	stopEviction chan struct{}
}

// WithMetrics attaches a Metrics instance whose CacheHits/Misses counters
// are updated alongside the in-process Stats snapshot.
func (c *Cache) WithMetrics(m *metrics.Metrics, namespace string) *Cache {
	c.metrics = m
	c.metricsNamespace = namespace
	return c
}

// New constructs a Cache and its connection pool. MinPoolSize/MaxPoolSize
// follow the documented pool-acquire/release contract; go-redis enforces
// MaxPoolSize via PoolSize and uses MinIdleConns for the floor.
func New(cfg Config, log *logging.Logger, breaker *resilience.CircuitBreaker) *Cache {
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = 50
	}
	if cfg.MinPoolSize <= 0 {
		cfg.MinPoolSize = 10
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.EvictionIdle <= 0 {
		cfg.EvictionIdle = 10 * time.Minute
	}
	if cfg.EvictionSample <= 0 {
		cfg.EvictionSample = 100
	}
	if cfg.EvictionMaxIter <= 0 {
		cfg.EvictionMaxIter = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.URL,
		Password:     cfg.Password,
		PoolSize:     cfg.MaxPoolSize,
		MinIdleConns: cfg.MinPoolSize,
	})

	return &Cache{
		client:       client,
		cfg:          cfg,
		log:          log,
		breaker:      breaker,
		stopEviction: make(chan struct{}),
	}
}

func (c *Cache) withBreaker(ctx context.Context, fn func() error) error {
	if c.breaker == nil {
		return fn()
	}
	return c.breaker.Execute(ctx, fn)
}

// Get returns the cached value for key, unmarshalled into dest.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	var raw string
	err := c.withBreaker(ctx, func() error {
		var innerErr error
		raw, innerErr = c.client.Get(ctx, key).Result()
		return innerErr
	})
	if err == redis.Nil {
		atomic.AddUint64(&c.misses, 1)
		if c.metrics != nil {
			c.metrics.CacheMissesTotal.WithLabelValues(c.metricsNamespace).Inc()
		}
		return false, nil
	}
	if err != nil {
		atomic.AddUint64(&c.errs, 1)
		return false, err
	}
	atomic.AddUint64(&c.hits, 1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(c.metricsNamespace).Inc()
	}
	if dest != nil {
		if jsonErr := json.Unmarshal([]byte(raw), dest); jsonErr != nil {
			return false, jsonErr
		}
	}
	return true, nil
}

// Exists reports whether key is currently present.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	err := c.withBreaker(ctx, func() error {
		var innerErr error
		n, innerErr = c.client.Exists(ctx, key).Result()
		return innerErr
	})
	if err != nil {
		atomic.AddUint64(&c.errs, 1)
		return false, err
	}
	return n > 0, nil
}

// TTL returns the remaining time-to-live for key. A negative duration
// matches redis.Client.TTL's convention: -1 means "no expiry set", -2 means
// "key does not exist".
func (c *Cache) TTL(ctx context.Context, key string) (time.Duration, error) {
	var ttl time.Duration
	err := c.withBreaker(ctx, func() error {
		var innerErr error
		ttl, innerErr = c.client.TTL(ctx, key).Result()
		return innerErr
	})
	if err != nil {
		atomic.AddUint64(&c.errs, 1)
		return 0, err
	}
	return ttl, nil
}

// Set stores value under key with ttl (0 uses the configured default TTL).
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	err = c.withBreaker(ctx, func() error {
		return c.client.Set(ctx, key, raw, ttl).Err()
	})
	if err != nil {
		atomic.AddUint64(&c.errs, 1)
		return err
	}
	atomic.AddUint64(&c.sets, 1)
	return nil
}

// Invalidate deletes a single key.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	err := c.withBreaker(ctx, func() error {
		return c.client.Del(ctx, key).Err()
	})
	if err != nil {
		atomic.AddUint64(&c.errs, 1)
		return err
	}
	atomic.AddUint64(&c.deletes, 1)
	return nil
}

// InvalidateFamily deletes every key matching pattern (e.g. "wallet:<address>:*")
// using an incremental server-side cursor (SCAN) in batches of 100, so a
// large family never blocks Redis with a single KEYS call.
func (c *Cache) InvalidateFamily(ctx context.Context, pattern string) (int, error) {
	var cursor uint64
	var deleted int
	for {
		var keys []string
		scanErr := c.withBreaker(ctx, func() error {
			var innerErr error
			keys, cursor, innerErr = c.client.Scan(ctx, cursor, pattern, 100).Result()
			return innerErr
		})
		if scanErr != nil {
			atomic.AddUint64(&c.errs, 1)
			return deleted, scanErr
		}
		if len(keys) > 0 {
			if delErr := c.withBreaker(ctx, func() error {
				return c.client.Del(ctx, keys...).Err()
			}); delErr != nil {
				atomic.AddUint64(&c.errs, 1)
				return deleted, delErr
			}
			deleted += len(keys)
			atomic.AddUint64(&c.deletes, uint64(len(keys)))
		}
		if cursor == 0 {
			break
		}
	}
	return deleted, nil
}

// Warm pre-populates the cache from the given key/value map, writing every
// entry with ttl and stopping at the first failed Set.
func (c *Cache) Warm(ctx context.Context, entries map[string]interface{}, ttl time.Duration) error {
	for key, value := range entries {
		if err := c.Set(ctx, key, value, ttl); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns a snapshot of cache counters plus derived hit rate.
func (c *Cache) Stats() Stats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	total := hits + misses
	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Hits:    hits,
		Misses:  misses,
		Sets:    atomic.LoadUint64(&c.sets),
		Deletes: atomic.LoadUint64(&c.deletes),
		Errors:  atomic.LoadUint64(&c.errs),
		HitRate: rate,
	}
}

// StartActiveEviction launches a background loop sampling process memory via
// gopsutil; when the host's used memory reaches cfg.MemoryThresholds it
// samples keys and evicts the idlest of them that have been idle longer
// than cfg.EvictionIdle. Returns immediately;
// call Close to stop the loop.
func (c *Cache) StartActiveEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopEviction:
				return
			case <-ticker.C:
				c.sampleAndEvict(ctx)
			}
		}
	}()
}

func (c *Cache) sampleAndEvict(ctx context.Context) {
	if c.cfg.MemoryThresholds <= 0 {
		return
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		if c.log != nil {
			c.log.WithError(err).Warn("cache: memory sample failed")
		}
		return
	}
	// Active eviction: sample random keys, read each one's idle time, sort
	// descending by idle time and delete the top 20%. Looping lets a single
	// pass's deletions relieve pressure gradually rather than in one sweep;
	// bounded by EvictionMaxIter so a tick can never run unbounded.
	for iter := 0; iter < c.cfg.EvictionMaxIter; iter++ {
		vm, err = mem.VirtualMemory()
		if err != nil || int64(vm.Used) < c.cfg.MemoryThresholds {
			return
		}

		type sample struct {
			key  string
			idle time.Duration
		}
		samples := make([]sample, 0, c.cfg.EvictionSample)
		for i := 0; i < c.cfg.EvictionSample; i++ {
			key, err := c.client.RandomKey(ctx).Result()
			if err == redis.Nil {
				break
			}
			if err != nil {
				continue
			}
			idle, err := c.client.ObjectIdleTime(ctx, key).Result()
			if err != nil {
				continue
			}
			samples = append(samples, sample{key: key, idle: idle})
		}
		if len(samples) == 0 {
			return
		}

		sort.Slice(samples, func(i, j int) bool { return samples[i].idle > samples[j].idle })

		cut := len(samples) / 5 // top 20%
		if cut == 0 {
			cut = 1
		}
		for _, s := range samples[:cut] {
			if s.idle < c.cfg.EvictionIdle {
				continue
			}
			if err := c.client.Del(ctx, s.key).Err(); err == nil {
				atomic.AddUint64(&c.deletes, 1)
			}
		}
	}
}

// Close stops the eviction loop and closes the connection pool.
func (c *Cache) Close() error {
	close(c.stopEviction)
	return c.client.Close()
}
