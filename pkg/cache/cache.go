// Package cache is the content-addressed result cache: an in-memory LRU with
// per-entry TTL, optionally backed by a persistent tier.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/polyglot/pkg/logging"
	"github.com/pario-ai/polyglot/pkg/metrics"
	"github.com/pario-ai/polyglot/pkg/models"
)

// ErrCacheCorruption marks a stored entry that could not be decoded. It is
// logged and treated as a miss, never returned to callers.
var ErrCacheCorruption = errors.New("cache entry corrupted")

// DefaultCapacity is used when Options.Capacity is not positive.
const DefaultCapacity = 1000

// Tier is a slower second level consulted on memory misses.
type Tier interface {
	Load(fingerprint string) (payload []byte, expiresAt time.Time, ok bool, err error)
	Save(fingerprint string, payload []byte, createdAt, expiresAt time.Time) error
	Delete(fingerprint string) error
	Purge(expiredOnly bool) (int64, error)
}

// Options configures a Cache.
type Options struct {
	Capacity int
	TTL      time.Duration
	Tier     Tier
	Logger   *zap.Logger
}

type entry struct {
	key       string
	result    models.ConversionResult
	createdAt time.Time
	expiresAt time.Time
	elem      *list.Element
}

// Cache is safe for concurrent use. Concurrent writes to one fingerprint
// resolve last-writer-wins.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	lru      *list.List // front is most recently used
	capacity int
	ttl      time.Duration
	tier     Tier
	logger   *zap.Logger
	now      func() time.Time

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	expired   atomic.Uint64
	corrupted atomic.Uint64
}

// Option configures optional Cache behaviour.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a Cache.
func New(opts Options, extra ...Option) *Cache {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	c := &Cache{
		entries:  make(map[string]*entry),
		lru:      list.New(),
		capacity: opts.Capacity,
		ttl:      opts.TTL,
		tier:     opts.Tier,
		logger:   logging.OrNop(opts.Logger).Named("cache"),
		now:      time.Now,
	}
	for _, opt := range extra {
		opt(c)
	}
	return c
}

// Get returns a copy of the cached result tagged as a cache hit.
func (c *Cache) Get(fingerprint string) (models.ConversionResult, bool) {
	c.mu.Lock()
	e, ok := c.entries[fingerprint]
	if ok && !c.now().Before(e.expiresAt) {
		c.removeLocked(e)
		c.expired.Add(1)
		ok = false
	}
	if ok {
		c.lru.MoveToFront(e.elem)
		res := e.result.Clone()
		c.mu.Unlock()
		return c.hit(res), true
	}
	c.mu.Unlock()

	if c.tier != nil {
		if res, ok := c.loadFromTier(fingerprint); ok {
			return c.hit(res), true
		}
	}

	c.misses.Add(1)
	metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
	return models.ConversionResult{}, false
}

func (c *Cache) hit(res models.ConversionResult) models.ConversionResult {
	c.hits.Add(1)
	metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
	res.CacheHit = true
	return res
}

// Put stores a result under fingerprint. A non-positive ttl uses the default.
func (c *Cache) Put(fingerprint string, result models.ConversionResult, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.now()
	stored := result.Clone()
	stored.CacheHit = false

	c.mu.Lock()
	c.insertLocked(fingerprint, stored, now, now.Add(ttl))
	c.mu.Unlock()

	if c.tier == nil {
		return
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		c.logger.Error("encode cache entry", zap.String("fingerprint", fingerprint), zap.Error(err))
		return
	}
	if err := c.tier.Save(fingerprint, payload, now, now.Add(ttl)); err != nil {
		c.logger.Warn("persist cache entry", zap.String("fingerprint", fingerprint), zap.Error(err))
	}
}

// insertLocked adds or replaces an entry and evicts eagerly while over capacity.
func (c *Cache) insertLocked(key string, res models.ConversionResult, createdAt, expiresAt time.Time) {
	if e, ok := c.entries[key]; ok {
		e.result = res
		e.createdAt = createdAt
		e.expiresAt = expiresAt
		c.lru.MoveToFront(e.elem)
		return
	}

	e := &entry{key: key, result: res, createdAt: createdAt, expiresAt: expiresAt}
	e.elem = c.lru.PushFront(e)
	c.entries[key] = e

	for c.lru.Len() > c.capacity {
		back := c.lru.Back()
		c.removeLocked(back.Value.(*entry))
		c.evictions.Add(1)
	}
	metrics.CacheEntries.Set(float64(c.lru.Len()))
}

func (c *Cache) removeLocked(e *entry) {
	c.lru.Remove(e.elem)
	delete(c.entries, e.key)
	metrics.CacheEntries.Set(float64(c.lru.Len()))
}

// loadFromTier reads through to the persistent tier and promotes valid
// entries into memory.
func (c *Cache) loadFromTier(fingerprint string) (models.ConversionResult, bool) {
	payload, expiresAt, ok, err := c.tier.Load(fingerprint)
	if err != nil {
		c.logger.Warn("load cache entry", zap.String("fingerprint", fingerprint), zap.Error(err))
		return models.ConversionResult{}, false
	}
	now := c.now()
	if !ok || !now.Before(expiresAt) {
		return models.ConversionResult{}, false
	}

	res, err := decodeResult(payload)
	if err != nil {
		c.corrupted.Add(1)
		metrics.CacheLookupsTotal.WithLabelValues("corrupt").Inc()
		c.logger.Warn("discarding corrupted cache entry",
			zap.String("fingerprint", fingerprint), zap.Error(err))
		if err := c.tier.Delete(fingerprint); err != nil {
			c.logger.Warn("delete corrupted cache entry", zap.String("fingerprint", fingerprint), zap.Error(err))
		}
		return models.ConversionResult{}, false
	}

	c.mu.Lock()
	c.insertLocked(fingerprint, res, now, expiresAt)
	c.mu.Unlock()
	return res.Clone(), true
}

func decodeResult(payload []byte) (models.ConversionResult, error) {
	var res models.ConversionResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return res, fmt.Errorf("%w: %v", ErrCacheCorruption, err)
	}
	if res.Code == "" || res.Provider == "" || res.Confidence < 0 || res.Confidence > 100 {
		return res, fmt.Errorf("%w: incomplete result", ErrCacheCorruption)
	}
	return res, nil
}

// InvalidateExpired removes expired entries and returns how many were dropped
// from memory. Expired rows in the tier are purged as well.
func (c *Cache) InvalidateExpired() int {
	now := c.now()

	c.mu.Lock()
	var removed int
	for _, e := range c.entries {
		if !now.Before(e.expiresAt) {
			c.removeLocked(e)
			removed++
		}
	}
	c.mu.Unlock()
	c.expired.Add(uint64(removed))

	if c.tier != nil {
		if _, err := c.tier.Purge(true); err != nil {
			c.logger.Warn("purge expired tier entries", zap.Error(err))
		}
	}
	return removed
}

// Clear removes every entry from memory and the tier.
func (c *Cache) Clear() error {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.lru.Init()
	metrics.CacheEntries.Set(0)
	c.mu.Unlock()

	if c.tier != nil {
		if _, err := c.tier.Purge(false); err != nil {
			return fmt.Errorf("cache clear: %w", err)
		}
	}
	return nil
}

// Len returns the number of in-memory entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns cache performance metrics.
func (c *Cache) Stats() models.CacheStats {
	return models.CacheStats{
		Entries:   c.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Expired:   c.expired.Load(),
		Corrupted: c.corrupted.Load(),
	}
}

// StartSweeper runs InvalidateExpired every interval until ctx is done.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.InvalidateExpired(); n > 0 {
				c.logger.Debug("swept expired entries", zap.Int("removed", n))
			}
		case <-ctx.Done():
			return
		}
	}
}
