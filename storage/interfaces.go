package storage

import (
	"context"
	"iter"
	"time"

	"realestate-crawler/models"
)

// ContentStore is the append-only store of raw page content.
type ContentStore interface {
	// Put appends page. It reports false, without writing, when page carries
	// the same content hash as the latest stored page for that listing.
	Put(ctx context.Context, page models.RawPage) (bool, error)
	// GetLatest returns the most recently fetched page for a listing, or
	// models.ErrNotFound.
	GetLatest(ctx context.Context, site, listingID string) (*models.RawPage, error)
	// ListSince yields every page fetched at or after since, oldest first.
	ListSince(ctx context.Context, since time.Time) iter.Seq2[models.RawPage, error]
}

// ManifestStore persists crawl run ledgers.
type ManifestStore interface {
	BeginRun(ctx context.Context, runID string, sites []string, startedAt time.Time) error
	// Record stores the terminal status of one listing within a run. Recording
	// the same listing twice in a run replaces the earlier entry.
	Record(ctx context.Context, entry models.CrawlManifestEntry) error
	FinishRun(ctx context.Context, runID string, finishedAt time.Time, siteErrors map[string]string) error
	// LastFetched returns when a listing was last successfully fetched by any
	// run. ok is false if it never was.
	LastFetched(ctx context.Context, site, listingID string) (at time.Time, ok bool, err error)
	Entries(ctx context.Context, runID string) ([]models.CrawlManifestEntry, error)
	// LatestRun returns the most recently started run, or models.ErrNotFound.
	LatestRun(ctx context.Context) (*models.CrawlManifest, error)
}

// CacheBacking is the durable side of the extraction cache. Entries are
// never updated once written.
type CacheBacking interface {
	Get(ctx context.Context, contentHash, extractorVersion string) (*models.ExtractionCacheEntry, error)
	Put(ctx context.Context, entry models.ExtractionCacheEntry) error
}

// RecordWriter is the interface any processed-record sink must satisfy.
type RecordWriter interface {
	Write(ctx context.Context, records []models.PropertyRecord) error
	Close() error
}
