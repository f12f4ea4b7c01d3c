package storage

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"realestate-crawler/models"
)

// MemoryContentStore is an in-process ContentStore. It is used for tests and
// for dry runs where nothing should touch disk.
type MemoryContentStore struct {
	mu    sync.RWMutex
	pages []models.RawPage
	// latest maps a listing key to its newest index in pages.
	latest map[string]int
}

var _ ContentStore = (*MemoryContentStore)(nil)

// NewMemoryContentStore creates an empty MemoryContentStore.
func NewMemoryContentStore() *MemoryContentStore {
	return &MemoryContentStore{latest: make(map[string]int)}
}

func (m *MemoryContentStore) Put(ctx context.Context, page models.RawPage) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if page.ContentHash == "" {
		page.ContentHash = models.ContentHash(page.RawContent)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := page.Key()
	if i, ok := m.latest[key]; ok {
		prev := m.pages[i]
		if prev.ContentHash == page.ContentHash {
			return false, nil
		}
		if page.FetchedAt.Before(prev.FetchedAt) {
			m.pages = append(m.pages, page)
			return true, nil
		}
	}
	m.pages = append(m.pages, page)
	m.latest[key] = len(m.pages) - 1
	return true, nil
}

func (m *MemoryContentStore) GetLatest(ctx context.Context, site, listingID string) (*models.RawPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.latest[models.ListingKey(site, listingID)]
	if !ok {
		return nil, models.ErrNotFound
	}
	p := m.pages[i]
	return &p, nil
}

func (m *MemoryContentStore) ListSince(ctx context.Context, since time.Time) iter.Seq2[models.RawPage, error] {
	return func(yield func(models.RawPage, error) bool) {
		m.mu.RLock()
		var snapshot []models.RawPage
		for _, p := range m.pages {
			if !p.FetchedAt.Before(since) {
				snapshot = append(snapshot, p)
			}
		}
		m.mu.RUnlock()

		for _, p := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(models.RawPage{}, err)
				return
			}
			if !yield(p, nil) {
				return
			}
		}
	}
}

// Len returns the number of stored pages.
func (m *MemoryContentStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pages)
}

// MemoryManifestStore is an in-process ManifestStore.
type MemoryManifestStore struct {
	mu      sync.RWMutex
	runs    map[string]*models.CrawlManifest
	order   []string
	entries map[string]map[string]models.CrawlManifestEntry
}

var _ ManifestStore = (*MemoryManifestStore)(nil)

// NewMemoryManifestStore creates an empty MemoryManifestStore.
func NewMemoryManifestStore() *MemoryManifestStore {
	return &MemoryManifestStore{
		runs:    make(map[string]*models.CrawlManifest),
		entries: make(map[string]map[string]models.CrawlManifestEntry),
	}
}

func (m *MemoryManifestStore) BeginRun(_ context.Context, runID string, sites []string, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[runID] = &models.CrawlManifest{
		RunID:     runID,
		StartedAt: startedAt.UTC(),
		Sites:     append([]string(nil), sites...),
	}
	m.order = append(m.order, runID)
	m.entries[runID] = make(map[string]models.CrawlManifestEntry)
	return nil
}

func (m *MemoryManifestStore) Record(_ context.Context, e models.CrawlManifestEntry) error {
	if !e.Status.Valid() {
		return fmt.Errorf("memory: record %s: invalid status %q", e.Key(), e.Status)
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.entries[e.RunID]
	if !ok {
		return models.ErrNotFound
	}
	run[e.Key()] = e
	return nil
}

func (m *MemoryManifestStore) FinishRun(_ context.Context, runID string, finishedAt time.Time, siteErrors map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return models.ErrNotFound
	}
	run.FinishedAt = finishedAt.UTC()
	if len(siteErrors) > 0 {
		run.SiteErrors = make(map[string]string, len(siteErrors))
		for k, v := range siteErrors {
			run.SiteErrors[k] = v
		}
	}
	return nil
}

func (m *MemoryManifestStore) LastFetched(_ context.Context, site, listingID string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := models.ListingKey(site, listingID)
	var (
		latest time.Time
		found  bool
	)
	for _, run := range m.entries {
		e, ok := run[key]
		if !ok || e.Status != models.StatusFetched {
			continue
		}
		if !found || e.UpdatedAt.After(latest) {
			latest, found = e.UpdatedAt, true
		}
	}
	return latest, found, nil
}

func (m *MemoryManifestStore) Entries(_ context.Context, runID string) ([]models.CrawlManifestEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedEntries(runID), nil
}

func (m *MemoryManifestStore) LatestRun(_ context.Context) (*models.CrawlManifest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.order) == 0 {
		return nil, models.ErrNotFound
	}
	id := m.order[len(m.order)-1]
	man := *m.runs[id]
	man.Entries = m.sortedEntries(id)
	return &man, nil
}

func (m *MemoryManifestStore) sortedEntries(runID string) []models.CrawlManifestEntry {
	run := m.entries[runID]
	out := make([]models.CrawlManifestEntry, 0, len(run))
	for _, e := range run {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Site != out[j].Site {
			return out[i].Site < out[j].Site
		}
		return out[i].ListingID < out[j].ListingID
	})
	return out
}

// MemoryCacheBacking is an in-process CacheBacking.
type MemoryCacheBacking struct {
	mu      sync.RWMutex
	entries map[string]models.ExtractionCacheEntry
}

var _ CacheBacking = (*MemoryCacheBacking)(nil)

// NewMemoryCacheBacking creates an empty MemoryCacheBacking.
func NewMemoryCacheBacking() *MemoryCacheBacking {
	return &MemoryCacheBacking{entries: make(map[string]models.ExtractionCacheEntry)}
}

func cacheKey(hash, version string) string { return version + "/" + hash }

func (m *MemoryCacheBacking) Get(_ context.Context, contentHash, extractorVersion string) (*models.ExtractionCacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[cacheKey(contentHash, extractorVersion)]
	if !ok {
		return nil, models.ErrNotFound
	}
	e.Record = e.Record.Clone()
	return &e, nil
}

func (m *MemoryCacheBacking) Put(_ context.Context, entry models.ExtractionCacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := cacheKey(entry.ContentHash, entry.ExtractorVersion)
	if _, exists := m.entries[key]; exists {
		return nil
	}
	entry.Record = entry.Record.Clone()
	m.entries[key] = entry
	return nil
}

// Len returns the number of cached entries.
func (m *MemoryCacheBacking) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
