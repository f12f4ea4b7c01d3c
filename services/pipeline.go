// Package services wires the crawl, extraction and normalisation stages into
// runs and summarises the processed record store.
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"realestate-crawler/models"
	"realestate-crawler/storage"
	"realestate-crawler/utils"
)

// Crawler produces a manifest of fetched pages.
type Crawler interface {
	Run(ctx context.Context, sites []string) (*models.CrawlManifest, error)
}

// Extractor turns a raw page into a validated record.
type Extractor interface {
	Extract(ctx context.Context, page models.RawPage) (models.PropertyRecord, error)
}

// LocationResolver maps free text to a location node.
type LocationResolver interface {
	Resolve(raw string) (*models.LocationNode, error)
}

// DeadLetters is the reprocessing view of the failure sink. Each id names
// one failed listing.
type DeadLetters interface {
	List() ([]string, error)
	Read(id string) (*models.FailedExtraction, error)
	Remove(id string) error
}

// RunOptions selects what a pipeline run processes.
type RunOptions struct {
	// Sites are crawled first unless SkipCrawl is set.
	Sites     []string
	SkipCrawl bool
	// Since selects stored pages when SkipCrawl is set. Only the latest page
	// per listing is extracted.
	Since time.Time
	// ManifestCSV, when set, receives the run's manifest entries.
	ManifestCSV string
}

// RunSummary reports what a run did.
type RunSummary struct {
	RunID      string
	Manifest   *models.CrawlManifest
	Pages      int
	Extracted  int
	Unresolved int
	Merged     int
	// Failures maps a listing key to its extraction error.
	Failures map[string]string
}

// Pipeline runs crawl → extract → normalise → merge.
type Pipeline struct {
	crawler     Crawler
	content     storage.ContentStore
	extractor   Extractor
	locations   LocationResolver
	cleaner     *Cleaner
	records     storage.RecordStore
	sinks       []storage.RecordWriter
	concurrency int
	logger      *utils.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithSink adds a secondary record writer, such as Postgres. Sink failures
// are logged and do not fail the run.
func WithSink(w storage.RecordWriter) PipelineOption {
	return func(p *Pipeline) { p.sinks = append(p.sinks, w) }
}

// WithConcurrency bounds concurrent extractions.
func WithConcurrency(n int) PipelineOption {
	return func(p *Pipeline) { p.concurrency = max(n, 1) }
}

// WithPipelineLogger sets the logger.
func WithPipelineLogger(l *utils.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithCrawler enables the crawl stage.
func WithCrawler(c Crawler) PipelineOption {
	return func(p *Pipeline) { p.crawler = c }
}

// NewPipeline creates a Pipeline. known reports whether a location key
// exists and guards the record store against dangling keys.
func NewPipeline(content storage.ContentStore, extractor Extractor, locations LocationResolver, known func(string) bool, records storage.RecordStore, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		content:     content,
		extractor:   extractor,
		locations:   locations,
		records:     records,
		concurrency: 4,
		logger:      utils.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.cleaner = NewCleaner(p.logger, known)
	return p
}

// Run executes one pipeline run. Per-listing failures are reported in the
// summary; the error is non-nil only when the run itself could not finish.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	sum := &RunSummary{Failures: make(map[string]string)}

	var pages []models.RawPage
	if opts.SkipCrawl {
		var err error
		if pages, err = p.latestSince(ctx, opts.Since); err != nil {
			return sum, err
		}
	} else {
		if p.crawler == nil {
			return sum, errors.New("pipeline: no crawler configured")
		}
		manifest, err := p.crawler.Run(ctx, opts.Sites)
		if manifest != nil {
			sum.Manifest = manifest
			sum.RunID = manifest.RunID
			if opts.ManifestCSV != "" {
				if werr := WriteManifestCSV(opts.ManifestCSV, manifest); werr != nil {
					p.logger.Error("[pipeline] manifest report: %v", werr)
				}
			}
		}
		if err != nil {
			return sum, fmt.Errorf("pipeline: crawl: %w", err)
		}
		if pages, err = p.fetchedPages(ctx, manifest); err != nil {
			return sum, err
		}
	}
	sum.Pages = len(pages)
	p.logger.Info("[pipeline] extracting %d pages", len(pages))

	records, err := p.extractAll(ctx, pages, sum)
	if err != nil {
		return sum, err
	}
	return sum, p.store(ctx, records, sum)
}

// Reprocess retries every dead-lettered page. Pages that now extract are
// merged and their dead letter removed; the rest stay for inspection.
func (p *Pipeline) Reprocess(ctx context.Context, dl DeadLetters) (*RunSummary, error) {
	sum := &RunSummary{Failures: make(map[string]string)}

	ids, err := dl.List()
	if err != nil {
		return sum, fmt.Errorf("pipeline: list dead letters: %w", err)
	}

	pages := make([]models.RawPage, 0, len(ids))
	letters := make(map[string][]string, len(ids))
	for _, id := range ids {
		f, err := dl.Read(id)
		if err != nil {
			p.logger.Warn("[pipeline] dead letter %s: %v", id, err)
			continue
		}
		page := models.NewRawPage(f.Site, f.ListingID, f.URL, f.RawContent, f.FailedAt)
		if stored, err := p.content.GetLatest(ctx, f.Site, f.ListingID); err == nil && stored.ContentHash == page.ContentHash {
			page = *stored
		}
		pages = append(pages, page)
		letters[page.Key()] = append(letters[page.Key()], id)
	}
	sum.Pages = len(pages)

	records, err := p.extractAll(ctx, pages, sum)
	if err != nil {
		return sum, err
	}
	for _, r := range records {
		for _, id := range letters[r.Key()] {
			if err := dl.Remove(id); err != nil && !errors.Is(err, models.ErrNotFound) {
				p.logger.Warn("[pipeline] remove dead letter %s: %v", id, err)
			}
		}
	}
	return sum, p.store(ctx, records, sum)
}

// fetchedPages loads the page behind every fetched manifest entry, and
// behind skipped entries whose listing has no processed record yet.
func (p *Pipeline) fetchedPages(ctx context.Context, m *models.CrawlManifest) ([]models.RawPage, error) {
	var (
		pages     []models.RawPage
		processed map[string]bool
	)
	for _, e := range m.Entries {
		switch e.Status {
		case models.StatusFetched:
		case models.StatusSkipped:
			if processed == nil {
				var err error
				if processed, err = p.processedKeys(ctx); err != nil {
					return nil, err
				}
			}
			if processed[e.Key()] {
				continue
			}
		default:
			continue
		}

		page, err := p.content.GetLatest(ctx, e.Site, e.ListingID)
		if errors.Is(err, models.ErrNotFound) {
			p.logger.Warn("[pipeline] %s %s but not stored", e.Key(), e.Status)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("pipeline: load %s: %w", e.Key(), err)
		}
		pages = append(pages, *page)
	}
	return pages, nil
}

func (p *Pipeline) processedKeys(ctx context.Context) (map[string]bool, error) {
	all, err := p.records.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load records: %w", err)
	}
	keys := make(map[string]bool, len(all))
	for _, r := range all {
		keys[r.Key()] = true
	}
	return keys, nil
}

// latestSince returns the newest page per listing fetched at or after since.
func (p *Pipeline) latestSince(ctx context.Context, since time.Time) ([]models.RawPage, error) {
	latest := make(map[string]models.RawPage)
	for page, err := range p.content.ListSince(ctx, since) {
		if err != nil {
			return nil, fmt.Errorf("pipeline: list pages: %w", err)
		}
		if prev, ok := latest[page.Key()]; !ok || !page.FetchedAt.Before(prev.FetchedAt) {
			latest[page.Key()] = page
		}
	}

	pages := make([]models.RawPage, 0, len(latest))
	for _, page := range latest {
		pages = append(pages, page)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Key() < pages[j].Key() })
	return pages, nil
}

// extractAll extracts and locates pages concurrently. Failures are recorded
// in sum; only cancellation stops the batch.
func (p *Pipeline) extractAll(ctx context.Context, pages []models.RawPage, sum *RunSummary) ([]models.PropertyRecord, error) {
	var (
		mu      sync.Mutex
		records = make([]models.PropertyRecord, 0, len(pages))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, page := range pages {
		g.Go(func() error {
			rec, err := p.extractor.Extract(gctx, page)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				p.logger.Warn("[pipeline] %s: %v", page.Key(), err)
				mu.Lock()
				sum.Failures[page.Key()] = err.Error()
				mu.Unlock()
				return nil
			}

			resolved := p.locate(&rec)
			mu.Lock()
			defer mu.Unlock()
			records = append(records, rec)
			sum.Extracted++
			if !resolved {
				sum.Unresolved++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

// locate sets the location key and coordinates. An unresolvable location
// leaves the record uncategorized.
func (p *Pipeline) locate(rec *models.PropertyRecord) bool {
	rec.LocationKey = nil
	rec.Coordinates = nil

	node, err := p.locations.Resolve(rec.LocationRaw)
	if err != nil {
		p.logger.Debug("[pipeline] %s: %v", rec.Key(), err)
		return false
	}
	key := node.Key
	rec.LocationKey = &key
	if node.Coordinates != nil {
		c := *node.Coordinates
		rec.Coordinates = &c
	}
	return true
}

func (p *Pipeline) store(ctx context.Context, records []models.PropertyRecord, sum *RunSummary) error {
	records = p.cleaner.Clean(records)
	if len(records) == 0 {
		return nil
	}

	merged, err := p.records.Merge(ctx, records)
	if err != nil {
		return fmt.Errorf("pipeline: merge records: %w", err)
	}
	sum.Merged = merged
	p.logger.Info("[pipeline] %d records merged (%d changed)", len(records), merged)

	for _, w := range p.sinks {
		if err := w.Write(ctx, records); err != nil {
			p.logger.Error("[pipeline] sink write failed: %v", err)
		}
	}
	return nil
}

// WriteManifestCSV writes the manifest entries to a CSV file at path.
func WriteManifestCSV(path string, m *models.CrawlManifest) error {
	w, err := storage.NewManifestCSVWriter(path)
	if err != nil {
		return err
	}
	if err := w.WriteEntries(m.Entries); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
