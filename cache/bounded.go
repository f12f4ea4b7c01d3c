package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"

	"realestate-crawler/models"
)

// BoundedLayer is a size-capped in-process front for the durable backing.
// Entries it drops are still in the backing, so eviction only costs a read.
type BoundedLayer struct {
	bc *bigcache.BigCache
}

// NewBoundedLayer creates a front layer capped at maxMB megabytes.
func NewBoundedLayer(ctx context.Context, maxMB int) (*BoundedLayer, error) {
	if maxMB < 1 {
		maxMB = 1
	}
	cfg := bigcache.Config{
		Shards:             64,
		LifeWindow:         7 * 24 * time.Hour,
		CleanWindow:        10 * time.Minute,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       2048,
		Verbose:            false,
		HardMaxCacheSize:   maxMB,
	}
	bc, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("cache: create bounded layer: %w", err)
	}
	return &BoundedLayer{bc: bc}, nil
}

func (b *BoundedLayer) get(hash, version string) (*models.PropertyRecord, bool) {
	data, err := b.bc.Get(key(hash, version))
	if err != nil {
		return nil, false
	}
	var rec models.PropertyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false
	}
	return &rec, true
}

func (b *BoundedLayer) set(hash, version string, rec models.PropertyRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.bc.Set(key(hash, version), data)
}

// Len returns the number of entries currently held.
func (b *BoundedLayer) Len() int {
	return b.bc.Len()
}

// Close releases the layer's background cleaner.
func (b *BoundedLayer) Close() error {
	return b.bc.Close()
}
