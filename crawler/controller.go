// Package crawler drives site hooks through the session pool and records
// every discovered listing in the crawl manifest.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"realestate-crawler/models"
	"realestate-crawler/scraper"
	"realestate-crawler/storage"
	"realestate-crawler/utils"
)

// Config holds crawl limits.
type Config struct {
	// SiteConcurrency bounds concurrent listing fetches per site.
	SiteConcurrency int
	// SiteRPS paces fetch starts per site. Zero disables pacing.
	SiteRPS float64
	// FreshnessWindow skips listings fetched successfully within it.
	FreshnessWindow time.Duration
	// NavRetries bounds retries after a NavigationError.
	NavRetries int
	// RateLimitRetries bounds retries after a RateLimitedError.
	RateLimitRetries int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	// Filters are per-site search filters keyed by site name.
	Filters map[string]scraper.Filters
}

// Controller runs crawls. It is safe to reuse across runs.
type Controller struct {
	registry *scraper.Registry
	sessions *scraper.SessionPool
	content  storage.ContentStore
	manifest storage.ManifestStore
	cfg      Config
	logger   *utils.Logger
	now      func() time.Time
	newRunID func() string
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *utils.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New creates a Controller.
func New(registry *scraper.Registry, sessions *scraper.SessionPool, content storage.ContentStore, manifest storage.ManifestStore, cfg Config, opts ...Option) *Controller {
	if cfg.SiteConcurrency < 1 {
		cfg.SiteConcurrency = 1
	}
	c := &Controller{
		registry: registry,
		sessions: sessions,
		content:  content,
		manifest: manifest,
		cfg:      cfg,
		logger:   utils.NewNopLogger(),
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run crawls sites and returns the finalized manifest. Per-listing failures
// are recorded, not returned. The returned error is non-nil only for an
// unknown site, a manifest store failure, exhaustion of browser sessions
// (models.ErrNoSession) or cancellation; the manifest is still returned in
// the last two cases.
func (c *Controller) Run(ctx context.Context, sites []string) (*models.CrawlManifest, error) {
	hooks := make([]scraper.SiteHook, 0, len(sites))
	for _, name := range sites {
		h, err := c.registry.Get(name)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, h)
	}

	r := &run{
		Controller: c,
		id:         c.newRunID(),
		siteErrors: make(map[string]string),
	}
	r.logger = c.logger.With("run_id", r.id)
	// Manifest writes must land even after the run is cancelled.
	r.store = context.WithoutCancel(ctx)

	started := c.now().UTC()
	if err := c.manifest.BeginRun(r.store, r.id, sites, started); err != nil {
		return nil, fmt.Errorf("crawler: begin run: %w", err)
	}
	r.logger.Info("[crawler] run started for %v", sites)

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range hooks {
		g.Go(func() error { return r.crawlSite(gctx, h) })
	}
	runErr := g.Wait()
	if runErr == nil {
		runErr = ctx.Err()
	}

	if err := c.manifest.FinishRun(r.store, r.id, c.now().UTC(), r.siteErrors); err != nil {
		return nil, fmt.Errorf("crawler: finish run: %w", err)
	}
	entries, err := c.manifest.Entries(r.store, r.id)
	if err != nil {
		return nil, fmt.Errorf("crawler: read manifest: %w", err)
	}

	m := &models.CrawlManifest{
		RunID:      r.id,
		StartedAt:  started,
		FinishedAt: c.now().UTC(),
		Sites:      sites,
		Entries:    entries,
		SiteErrors: r.siteErrors,
	}
	counts := m.Counts()
	r.logger.Info("[crawler] run finished: %d fetched, %d skipped, %d failed",
		counts[models.StatusFetched], counts[models.StatusSkipped], counts[models.StatusFailed])
	return m, runErr
}

// run is the state of one Run call.
type run struct {
	*Controller
	id     string
	logger *utils.Logger
	store  context.Context

	mu         sync.Mutex
	siteErrors map[string]string
}

func (r *run) siteError(site string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.siteErrors[site] = err.Error()
}

// crawlSite discovers a site's listings, then fetches them on a paced
// worker pool. Only ErrNoSession is returned; it aborts the whole run.
func (r *run) crawlSite(ctx context.Context, hook scraper.SiteHook) error {
	site := hook.Name()
	log := r.logger.With("site", site)

	found, err := r.discover(ctx, hook, r.cfg.Filters[site])
	if err != nil {
		log.Warn("[crawler] discovery stopped after %d listings: %v", len(found), err)
		r.siteError(site, err)
	} else {
		log.Info("[crawler] discovered %d listings", len(found))
	}

	var (
		fatalOnce sync.Once
		fatal     error
	)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := utils.NewWorkerPool(r.cfg.SiteConcurrency, r.cfg.SiteRPS)
	started := utils.NewIDSet()
	for _, d := range found {
		entry := models.CrawlManifestEntry{RunID: r.id, Site: site, ListingID: d.ID}
		_ = pool.Submit(ctx, func(ctx context.Context) {
			started.Add(entry.ListingID)
			if err := r.process(ctx, hook, entry); scraper.IsNoSession(err) {
				fatalOnce.Do(func() {
					fatal = err
					cancel()
				})
			}
		})
	}
	pool.Wait()

	// Jobs the pool never ran still need a terminal status.
	for _, d := range found {
		if started.Contains(d.ID) {
			continue
		}
		cause := context.Cause(ctx)
		if fatal != nil {
			cause = fatal
		}
		entry := models.CrawlManifestEntry{RunID: r.id, Site: site, ListingID: d.ID}
		r.record(entry, models.StatusFailed, 0, fmt.Errorf("not attempted: %w", cause), "")
	}

	if fatal == nil && scraper.IsNoSession(err) {
		fatal = err
	}
	return fatal
}

// discover collects listing ids, resuming from the last cursor after
// throttling or layout errors. Ids found before a final error are kept.
func (r *run) discover(ctx context.Context, hook scraper.SiteHook, f scraper.Filters) ([]scraper.Discovered, error) {
	var (
		seen   = utils.NewIDSet()
		found  []scraper.Discovered
		cursor scraper.Cursor
		navs   int
		limits int
	)
	for {
		err := r.sessions.With(ctx, func(sess scraper.Session) error {
			for d, err := range hook.DiscoverListingIDs(ctx, sess, f, cursor) {
				if err != nil {
					return err
				}
				cursor = d.Cursor
				if seen.Add(d.ID) {
					found = append(found, d)
				}
			}
			return nil
		})
		if err == nil {
			return found, nil
		}

		wait, retry := r.backoff(err, &navs, &limits)
		if !retry || ctx.Err() != nil {
			return found, err
		}
		r.logger.Warn("[crawler] %s discovery: %v, resuming page %d in %v", hook.Name(), err, cursor.Page, wait)
		if err := utils.SleepContext(ctx, wait); err != nil {
			return found, err
		}
	}
}

// process gives one listing its terminal manifest status.
func (r *run) process(ctx context.Context, hook scraper.SiteHook, entry models.CrawlManifestEntry) error {
	if r.cfg.FreshnessWindow > 0 {
		last, ok, err := r.manifest.LastFetched(ctx, entry.Site, entry.ListingID)
		if err != nil {
			r.logger.Warn("[crawler] freshness check for %s: %v", entry.Key(), err)
		} else if ok && r.now().Sub(last) < r.cfg.FreshnessWindow {
			r.record(entry, models.StatusSkipped, 0, nil, "")
			return nil
		}
	}

	page, attempts, err := r.fetch(ctx, hook, entry.ListingID)
	if err == nil {
		if _, err = r.content.Put(r.store, page); err != nil {
			err = fmt.Errorf("store page: %w", err)
		}
	}
	if err != nil {
		r.logger.Warn("[crawler] %s failed after %d attempt(s): %v", entry.Key(), attempts, err)
		r.record(entry, models.StatusFailed, attempts, err, "")
		return err
	}
	r.record(entry, models.StatusFetched, attempts, nil, page.ContentHash)
	return nil
}

// fetch loads one listing, retrying navigation and throttling errors within
// their budgets.
func (r *run) fetch(ctx context.Context, hook scraper.SiteHook, id string) (models.RawPage, int, error) {
	var navs, limits int
	for attempt := 1; ; attempt++ {
		var page models.RawPage
		err := r.sessions.With(ctx, func(sess scraper.Session) error {
			var err error
			page, err = hook.FetchListing(ctx, sess, id)
			return err
		})
		if err == nil {
			return page, attempt, nil
		}
		if ctx.Err() != nil || scraper.IsNoSession(err) {
			return page, attempt, err
		}

		wait, retry := r.backoff(err, &navs, &limits)
		if !retry {
			return page, attempt, err
		}
		if err := utils.SleepContext(ctx, wait); err != nil {
			return page, attempt, err
		}
	}
}

// backoff decides whether err is retried and how long to wait first.
// Throttling honours the source's Retry-After.
func (r *run) backoff(err error, navs, limits *int) (time.Duration, bool) {
	switch {
	case scraper.IsNoSession(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return 0, false
	case models.IsRateLimited(err):
		if *limits >= r.cfg.RateLimitRetries {
			return 0, false
		}
		*limits++
		wait := utils.Backoff(r.cfg.BackoffBase, r.cfg.BackoffMax, *limits, 0.3)
		return max(wait, models.RetryAfter(err)), true
	case models.IsNavigation(err):
		if *navs >= r.cfg.NavRetries {
			return 0, false
		}
		*navs++
		return utils.Backoff(r.cfg.BackoffBase, r.cfg.BackoffMax, *navs, 0.3), true
	}
	return 0, false
}

func (r *run) record(entry models.CrawlManifestEntry, status models.CrawlStatus, attempts int, err error, hash string) {
	entry.Status = status
	entry.AttemptCount = attempts
	entry.ContentHash = hash
	entry.UpdatedAt = r.now().UTC()
	if err != nil {
		entry.LastError = err.Error()
	}
	if err := r.manifest.Record(r.store, entry); err != nil {
		r.logger.Error("[crawler] manifest record for %s: %v", entry.Key(), err)
	}
}
