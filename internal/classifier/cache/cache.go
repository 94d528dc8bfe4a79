// Package cache memoises two-strand search verdicts in Redis so repeated
// reads skip the index scan. Entries are keyed by the index fingerprint, so
// a rebuilt index never sees verdicts computed against another one.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/classifier"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/metrics"
)

const keyPrefix = "hit:"

// Store is the key-value backend. *redis.Client implements it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// HitCache is a classifier.HitCache backed by a Store. Backend failures
// are logged and treated as misses.
type HitCache struct {
	store   Store
	prefix  string
	ttl     time.Duration
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New returns a cache for the index identified by fingerprint.
func New(store Store, fingerprint string, ttl time.Duration, m *metrics.Metrics) *HitCache {
	return &HitCache{
		store:   store,
		prefix:  keyPrefix + fingerprint + ":",
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "hit-cache"),
	}
}

var _ classifier.HitCache = (*HitCache)(nil)

// Get returns the cached verdict for sequence.
func (c *HitCache) Get(ctx context.Context, sequence string) (classifier.Verdict, bool) {
	key := c.buildKey(sequence)
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Error("cache get failed", "key", key, "error", err)
		c.miss()
		return classifier.Verdict{}, false
	}
	if !ok {
		c.miss()
		return classifier.Verdict{}, false
	}
	var v classifier.Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return classifier.Verdict{}, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.HitCacheHits.Inc()
	}
	return v, true
}

// Set stores v for sequence.
func (c *HitCache) Set(ctx context.Context, sequence string, v classifier.Verdict) {
	key := c.buildKey(sequence)
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached verdict or runs compute once per key
// across concurrent callers and stores its result. The bool reports a
// cache hit.
func (c *HitCache) GetOrCompute(
	ctx context.Context,
	sequence string,
	compute func() (classifier.Verdict, error),
) (classifier.Verdict, bool, error) {
	if v, ok := c.Get(ctx, sequence); ok {
		return v, true, nil
	}
	val, err, _ := c.group.Do(c.buildKey(sequence), func() (any, error) {
		v, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, sequence, v)
		return v, nil
	})
	if err != nil {
		return classifier.Verdict{}, false, err
	}
	return val.(classifier.Verdict), false, nil
}

// Invalidate drops every entry of this index.
func (c *HitCache) Invalidate(ctx context.Context) error {
	deleted, err := c.store.FlushByPattern(ctx, c.prefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating hit cache: %w", err)
	}
	c.logger.Info("hit cache invalidated", "keys_deleted", deleted)
	return nil
}

// Stats returns the hit and miss counts.
func (c *HitCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *HitCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.HitCacheMisses.Inc()
	}
}

func (c *HitCache) buildKey(sequence string) string {
	sum := sha256.Sum256([]byte(sequence))
	return fmt.Sprintf("%s%x", c.prefix, sum)
}
