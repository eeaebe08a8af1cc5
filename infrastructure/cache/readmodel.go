package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"curetrack/infrastructure/metrics"
)

// Key prefixes for batch read models.
const (
	BatchListPrefix   = "batches:list:"
	BatchDetailPrefix = "batches:detail:"
)

// ReadModel memoizes serialized views. Implementations may be remote, so
// every method can fail; callers treat failures as misses.
type ReadModel interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	InvalidatePrefix(ctx context.Context, prefix string) error
	InvalidateKey(ctx context.Context, key string) error
}

// BatchListKey normalizes list query parameters into a cache key.
func BatchListKey(search, status string, page, limit int) string {
	return fmt.Sprintf("%s%s|%s|%d|%d", BatchListPrefix, strings.ToLower(strings.TrimSpace(search)), status, page, limit)
}

// BatchDetailKey is the cache key for one batch detail view.
func BatchDetailKey(batchID int64) string {
	return fmt.Sprintf("%s%d", BatchDetailPrefix, batchID)
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// LRUReadModel is an in-process ReadModel bounded by size and a maximum TTL.
// Per-entry TTLs shorter than the maximum are enforced on read.
type LRUReadModel struct {
	lru     *expirable.LRU[string, entry]
	maxTTL  time.Duration
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewLRUReadModel builds a cache holding at most size entries for at most maxTTL.
func NewLRUReadModel(size int, maxTTL time.Duration, m *metrics.Metrics) *LRUReadModel {
	if size <= 0 {
		size = 1024
	}
	if maxTTL <= 0 {
		maxTTL = time.Hour
	}
	return &LRUReadModel{
		lru:     expirable.NewLRU[string, entry](size, nil, maxTTL),
		maxTTL:  maxTTL,
		metrics: m,
		now:     time.Now,
	}
}

func (c *LRUReadModel) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := c.lru.Get(key)
	if ok && !c.now().Before(e.expiresAt) {
		c.lru.Remove(key)
		ok = false
	}
	if !ok {
		c.metrics.CacheMiss(family(key))
		return nil, false, nil
	}
	c.metrics.CacheHit(family(key))
	return e.value, true, nil
}

func (c *LRUReadModel) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 || ttl > c.maxTTL {
		ttl = c.maxTTL
	}
	c.lru.Add(key, entry{value: append([]byte(nil), value...), expiresAt: c.now().Add(ttl)})
	return nil
}

func (c *LRUReadModel) InvalidatePrefix(_ context.Context, prefix string) error {
	removed := 0
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) && c.lru.Remove(key) {
			removed++
		}
	}
	c.metrics.CacheInvalidated("prefix", removed)
	return nil
}

func (c *LRUReadModel) InvalidateKey(_ context.Context, key string) error {
	if c.lru.Remove(key) {
		c.metrics.CacheInvalidated("key", 1)
	}
	return nil
}

// Len reports the number of live entries.
func (c *LRUReadModel) Len() int {
	return c.lru.Len()
}

func family(key string) string {
	switch {
	case strings.HasPrefix(key, BatchListPrefix):
		return "list"
	case strings.HasPrefix(key, BatchDetailPrefix):
		return "detail"
	default:
		return "other"
	}
}
