// Package cache memoises extraction results by content fingerprint and
// extractor version.
//
// The durable backing is the source of truth and is never evicted. An
// optional BoundedLayer sits in front of it purely to save reads.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"realestate-crawler/models"
	"realestate-crawler/storage"
	"realestate-crawler/utils"
)

// Outcome tells a caller how GetOrCompute produced its record.
type Outcome int

const (
	// Hit means the record was already cached.
	Hit Outcome = iota
	// Computed means this caller ran the computation.
	Computed
	// Shared means the computation that produced the record was joined by
	// more than one caller.
	Shared
)

func (o Outcome) String() string {
	switch o {
	case Hit:
		return "hit"
	case Computed:
		return "computed"
	case Shared:
		return "shared"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// ComputeFunc produces a record on a cache miss.
type ComputeFunc func(ctx context.Context) (models.PropertyRecord, error)

// Stats are cumulative counters since the cache was created.
type Stats struct {
	Hits     int64
	Misses   int64
	Computes int64
	Shared   int64
	Failures int64
}

// Cache is the extraction cache. It is safe for concurrent use and is meant
// to be created once per process and shared.
type Cache struct {
	backing storage.CacheBacking
	front   *BoundedLayer
	logger  *utils.Logger
	group   singleflight.Group
	now     func() time.Time

	hits, misses, computes, shared, failures atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithBoundedLayer puts a size-capped front layer before the backing.
func WithBoundedLayer(b *BoundedLayer) Option {
	return func(c *Cache) { c.front = b }
}

// WithLogger sets the logger.
func WithLogger(l *utils.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a Cache over backing.
func New(backing storage.CacheBacking, opts ...Option) *Cache {
	c := &Cache{backing: backing, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = utils.NewNopLogger()
	}
	return c
}

func key(hash, version string) string {
	return version + "/" + hash
}

// Lookup returns the cached record for (hash, version). ok is false on a miss.
func (c *Cache) Lookup(ctx context.Context, hash, version string) (rec models.PropertyRecord, ok bool, err error) {
	if c.front != nil {
		if r, found := c.front.get(hash, version); found {
			return *r, true, nil
		}
	}

	entry, err := c.backing.Get(ctx, hash, version)
	if errors.Is(err, models.ErrNotFound) {
		return models.PropertyRecord{}, false, nil
	}
	if err != nil {
		return models.PropertyRecord{}, false, fmt.Errorf("cache: lookup: %w", err)
	}

	if c.front != nil {
		if err := c.front.set(hash, version, entry.Record); err != nil {
			c.logger.Debug("[cache] front layer set failed: %v", err)
		}
	}
	return entry.Record, true, nil
}

// Store records rec for (hash, version). The first stored record for a key
// wins; later stores are ignored.
func (c *Cache) Store(ctx context.Context, hash, version string, rec models.PropertyRecord) error {
	err := c.backing.Put(ctx, models.ExtractionCacheEntry{
		ContentHash:      hash,
		ExtractorVersion: version,
		Record:           rec.Clone(),
		ExtractedAt:      c.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("cache: store: %w", err)
	}
	if c.front != nil {
		// Re-read so the front never disagrees with a record stored first by
		// someone else.
		if entry, err := c.backing.Get(ctx, hash, version); err == nil {
			if err := c.front.set(hash, version, entry.Record); err != nil {
				c.logger.Debug("[cache] front layer set failed: %v", err)
			}
		}
	}
	return nil
}

// GetOrCompute returns the cached record for (hash, version), computing and
// storing it with fn on a miss. Concurrent callers for the same key share one
// computation. A failed computation is not cached; every caller waiting on
// it receives the same *models.CacheComputeError. A computation stopped by
// the cancellation of the caller running it is started again for waiters
// whose own context is still live.
func (c *Cache) GetOrCompute(ctx context.Context, hash, version string, fn ComputeFunc) (models.PropertyRecord, Outcome, error) {
	rec, ok, err := c.Lookup(ctx, hash, version)
	if err != nil {
		return models.PropertyRecord{}, Computed, err
	}
	if ok {
		c.hits.Add(1)
		return rec, Hit, nil
	}
	c.misses.Add(1)

	for {
		ch := c.group.DoChan(key(hash, version), func() (any, error) {
			// Another flight may have finished between our lookup and now.
			if rec, ok, err := c.Lookup(ctx, hash, version); err == nil && ok {
				return rec, nil
			}

			c.computes.Add(1)
			rec, err := fn(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil, &abandonedError{err: ctx.Err()}
				}
				return nil, &models.CacheComputeError{ContentHash: hash, ExtractorVersion: version, Err: err}
			}
			if err := c.Store(ctx, hash, version, rec); err != nil {
				c.logger.Error("[cache] %v", err)
			}
			return rec, nil
		})

		select {
		case <-ctx.Done():
			return models.PropertyRecord{}, Computed, ctx.Err()
		case res := <-ch:
			outcome := Computed
			if res.Shared {
				outcome = Shared
				c.shared.Add(1)
			}
			var ab *abandonedError
			if errors.As(res.Err, &ab) {
				if err := ctx.Err(); err != nil {
					return models.PropertyRecord{}, outcome, err
				}
				c.logger.Debug("[cache] %s: computation abandoned by its caller, retrying", key(hash, version))
				continue
			}
			if res.Err != nil {
				c.failures.Add(1)
				return models.PropertyRecord{}, outcome, res.Err
			}
			return res.Val.(models.PropertyRecord).Clone(), outcome, nil
		}
	}
}

// abandonedError is returned by a flight whose running caller was cancelled.
// It never escapes GetOrCompute.
type abandonedError struct {
	err error
}

func (e *abandonedError) Error() string { return "cache: computation abandoned: " + e.err.Error() }

func (e *abandonedError) Unwrap() error { return e.err }

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Computes: c.computes.Load(),
		Shared:   c.shared.Load(),
		Failures: c.failures.Load(),
	}
}
