package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"realestate-crawler/cache"
	"realestate-crawler/config"
	"realestate-crawler/crawler"
	"realestate-crawler/extract"
	"realestate-crawler/location"
	"realestate-crawler/scraper"
	"realestate-crawler/scraper/airbnb"
	"realestate-crawler/scraper/housing"
	"realestate-crawler/scraper/magicbricks"
	"realestate-crawler/services"
	"realestate-crawler/storage"
	"realestate-crawler/utils"
)

// settleDelay gives client-side rendering time to finish after navigation.
const settleDelay = 2 * time.Second

// app builds components from configuration. Everything it opens is closed
// by Close.
type app struct {
	cfg     *config.Config
	logger  *utils.Logger
	sites   *config.SitesFile
	db      *storage.SQLiteStore
	closers []func() error
}

func newApp(c *config.Config, l *utils.Logger) (*app, error) {
	sites, err := config.LoadSites(c.SitesFile)
	if err != nil {
		return nil, err
	}
	return &app{cfg: c, logger: l, sites: sites}, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for _, fn := range slices.Backward(a.closers) {
		errs = append(errs, fn())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) store() (*storage.SQLiteStore, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := storage.NewSQLiteStore(a.cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, db.Close)
	return db, nil
}

// siteNames returns args, or every enabled site when args is empty.
func (a *app) siteNames(args []string) []string {
	if len(args) > 0 {
		return args
	}
	var names []string
	for _, s := range a.sites.Enabled() {
		names = append(names, s.Name)
	}
	return names
}

// buildRegistry registers every known hook, applying base URL overrides
// from the sites file.
func buildRegistry(sites []config.SiteConfig) *scraper.Registry {
	base := make(map[string]string, len(sites))
	for _, s := range sites {
		base[s.Name] = s.BaseURL
	}
	return scraper.NewRegistry(
		housing.New(base[housing.Name]),
		magicbricks.New(base[magicbricks.Name]),
		airbnb.New(base[airbnb.Name]),
	)
}

func (a *app) controller() (*crawler.Controller, error) {
	db, err := a.store()
	if err != nil {
		return nil, err
	}

	browser, err := scraper.NewChromeBrowser(scraper.ChromeOptions{
		ExecPath:    a.cfg.ChromeBin,
		Headless:    a.cfg.Headless,
		PageTimeout: a.cfg.PageTimeout,
		Settle:      settleDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}
	a.closers = append(a.closers, browser.Close)

	pool := scraper.NewSessionPool(browser, a.cfg.MaxSessions, a.cfg.SessionAcquireTimeout)
	return crawler.New(buildRegistry(a.sites.Sites), pool, db.ContentStore(), db.ManifestStore(), crawler.Config{
		SiteConcurrency:  a.cfg.SiteConcurrency,
		SiteRPS:          a.cfg.SiteRPS,
		FreshnessWindow:  a.cfg.FreshnessWindow,
		NavRetries:       a.cfg.NavRetries,
		RateLimitRetries: a.cfg.RateLimitRetries,
		BackoffBase:      a.cfg.BackoffBase,
		BackoffMax:       a.cfg.BackoffMax,
		Filters:          crawler.FiltersFromConfig(a.sites.Sites),
	}, crawler.WithLogger(a.logger)), nil
}

func (a *app) cacheBacking() (storage.CacheBacking, error) {
	switch a.cfg.CacheBackend {
	case "memory":
		return storage.NewMemoryCacheBacking(), nil
	case "file":
		return cache.NewFileBacking(a.cfg.CacheDir), nil
	case "sqlite", "":
		db, err := a.store()
		if err != nil {
			return nil, err
		}
		return db.CacheBacking(), nil
	}
	return nil, fmt.Errorf("unknown CACHE_BACKEND %q (want memory, file or sqlite)", a.cfg.CacheBackend)
}

func (a *app) agent(ctx context.Context) (*extract.Agent, error) {
	backend, err := extract.NewOpenAIBackend(extract.OpenAIConfig{
		APIKey:  a.cfg.LLMAPIKey,
		BaseURL: a.cfg.LLMBaseURL,
		Model:   a.cfg.LLMModel,
		Timeout: a.cfg.LLMTimeout,
	})
	if err != nil {
		return nil, err
	}

	backing, err := a.cacheBacking()
	if err != nil {
		return nil, err
	}
	opts := []cache.Option{cache.WithLogger(a.logger)}
	if a.cfg.CacheMaxMB > 0 {
		layer, err := cache.NewBoundedLayer(ctx, a.cfg.CacheMaxMB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, layer.Close)
		opts = append(opts, cache.WithBoundedLayer(layer))
	}

	return extract.NewAgent(backend, cache.New(backing, opts...), a.agentConfig(),
		extract.WithFailureSink(a.deadLetter()),
		extract.WithLogger(a.logger),
	), nil
}

// agentConfig maps configuration onto the agent. LLM_RETRIES counts retries
// of one backend call after throttling or transport failures.
func (a *app) agentConfig() extract.AgentConfig {
	return extract.AgentConfig{
		Version:           a.cfg.ExtractorVersion,
		MaxRetries:        a.cfg.MaxRetries,
		Concurrency:       a.cfg.ExtractConcurrency,
		TransportAttempts: a.cfg.LLMRetries + 1,
		BackoffBase:       a.cfg.BackoffBase,
		BackoffMax:        a.cfg.BackoffMax,
	}
}

func (a *app) deadLetter() *storage.DeadLetter {
	return storage.NewDeadLetter(a.cfg.FailedDir)
}

func (a *app) hierarchy() (*location.Hierarchy, error) {
	return location.LoadFile(a.cfg.LocationsFile)
}

func (a *app) normalizer(h *location.Hierarchy) *location.Normalizer {
	return location.NewNormalizer(h, location.WithMaxDistance(a.cfg.FuzzyMaxDistance))
}

func (a *app) records() *storage.JSONRecordStore {
	return storage.NewJSONRecordStore(a.cfg.RecordsPath)
}

// pipeline wires the extraction pipeline; crawl adds the browser-backed
// crawler in front of it.
func (a *app) pipeline(ctx context.Context, crawl bool) (*services.Pipeline, error) {
	db, err := a.store()
	if err != nil {
		return nil, err
	}
	agent, err := a.agent(ctx)
	if err != nil {
		return nil, err
	}
	h, err := a.hierarchy()
	if err != nil {
		return nil, err
	}

	opts := []services.PipelineOption{
		services.WithConcurrency(a.cfg.ExtractConcurrency),
		services.WithPipelineLogger(a.logger),
	}
	if crawl {
		ctl, err := a.controller()
		if err != nil {
			return nil, err
		}
		opts = append(opts, services.WithCrawler(ctl))
	}
	if a.cfg.PostgresEnabled {
		pg, err := storage.NewPostgresWriter(ctx, a.cfg.DSN(), a.logger)
		if err != nil {
			a.logger.Error("PostgreSQL unavailable, continuing with the JSON store only: %v", err)
		} else {
			a.closers = append(a.closers, pg.Close)
			opts = append(opts, services.WithSink(pg))
		}
	}

	return services.NewPipeline(db.ContentStore(), agent, a.normalizer(h), h.Has, a.records(), opts...), nil
}

// manifestReportPath names a fresh manifest CSV under the reports dir.
func (a *app) manifestReportPath() string {
	return filepath.Join(a.cfg.ReportsDir, "manifest-"+time.Now().UTC().Format("20060102-150405")+".csv")
}
