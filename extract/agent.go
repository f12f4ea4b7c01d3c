package extract

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"realestate-crawler/cache"
	"realestate-crawler/models"
	"realestate-crawler/utils"
)

// DefaultMaxRetries is the number of repair requests after the first answer.
const DefaultMaxRetries = 3

// AgentConfig holds the Agent's limits.
type AgentConfig struct {
	// Version identifies the schema and prompt. Bumping it invalidates the
	// cache.
	Version string
	// MaxRetries bounds repair requests, so a page costs at most
	// MaxRetries+1 valid backend answers.
	MaxRetries int
	// Concurrency bounds in-flight backend submissions across all pages.
	Concurrency int
	// TransportAttempts bounds tries of one submission that fails with a
	// transport error or rate limit.
	TransportAttempts int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
}

// Agent converts raw pages into validated records.
type Agent struct {
	backend  Backend
	cache    *cache.Cache
	schema   *Schema
	cfg      AgentConfig
	sem      *semaphore.Weighted
	retry    utils.RetryConfig
	failures FailureSink
	logger   *utils.Logger
	now      func() time.Time

	submissions atomic.Int64
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithSchema replaces DefaultSchema.
func WithSchema(s *Schema) AgentOption {
	return func(a *Agent) { a.schema = s }
}

// WithFailureSink keeps pages that could not be extracted.
func WithFailureSink(f FailureSink) AgentOption {
	return func(a *Agent) { a.failures = f }
}

// WithLogger sets the logger.
func WithLogger(l *utils.Logger) AgentOption {
	return func(a *Agent) { a.logger = l }
}

// NewAgent creates an Agent. c is shared by every Agent in the process.
func NewAgent(backend Backend, c *cache.Cache, cfg AgentConfig, opts ...AgentOption) *Agent {
	if cfg.Version == "" {
		cfg.Version = "v1"
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.TransportAttempts < 1 {
		cfg.TransportAttempts = 1
	}

	a := &Agent{
		backend: backend,
		cache:   c,
		schema:  DefaultSchema(),
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		logger:  utils.NewNopLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.retry = utils.RetryConfig{
		MaxAttempts: cfg.TransportAttempts,
		BaseDelay:   cfg.BackoffBase,
		MaxDelay:    cfg.BackoffMax,
		Jitter:      0.2,
		Logger:      a.logger,
		Retryable:   transient,
		Hint:        models.RetryAfter,
	}
	return a
}

// Version returns the extractor version used as the cache key suffix.
func (a *Agent) Version() string {
	return a.cfg.Version
}

// Submissions returns the number of backend calls made so far.
func (a *Agent) Submissions() int64 {
	return a.submissions.Load()
}

// Extract returns the record for page. Unchanged content is served from the
// cache without calling the backend. Errors are *models.CacheComputeError
// wrapping either a *models.SchemaViolationError or a backend failure; either
// way the page is written to the failure sink unless ctx was cancelled.
func (a *Agent) Extract(ctx context.Context, page models.RawPage) (models.PropertyRecord, error) {
	hash := page.ContentHash
	if hash == "" {
		hash = models.ContentHash(models.NormaliseContent(page.RawContent))
	}

	rec, outcome, err := a.cache.GetOrCompute(ctx, hash, a.cfg.Version, func(ctx context.Context) (models.PropertyRecord, error) {
		return a.extractFresh(ctx, page, hash)
	})
	if err != nil {
		if ctx.Err() == nil {
			a.deadLetter(page, hash, err)
		}
		return models.PropertyRecord{}, err
	}
	a.logger.Debug("[extract] %s %s", page.Key(), outcome)

	// A cached record may have been produced from another listing with the
	// same content.
	rec.Site = page.Site
	rec.ListingID = page.ListingID
	rec.SourceURL = page.URL
	rec.ContentHash = hash
	rec.ScrapedDate = page.FetchedAt.UTC().Format(models.DateLayoutDate)
	return rec, nil
}

func (a *Agent) extractFresh(ctx context.Context, page models.RawPage, hash string) (models.PropertyRecord, error) {
	req := Request{Content: page.RawContent, URL: page.URL, Schema: a.schema}

	var (
		responses []string
		issues    []models.ValidationIssue
	)
	attempts := a.cfg.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := a.submit(ctx, req)
		if err != nil {
			return models.PropertyRecord{}, err
		}
		responses = append(responses, resp)

		var rec models.PropertyRecord
		rec, issues = Decode(resp, a.schema, page.FetchedAt)
		if len(issues) == 0 {
			return rec, nil
		}
		a.logger.Warn("[extract] %s: %d issue(s) on attempt %d/%d", page.Key(), len(issues), attempt, attempts)
		req.Previous = resp
		req.Issues = issues
	}

	return models.PropertyRecord{}, &models.SchemaViolationError{
		ContentHash:  hash,
		Attempts:     attempts,
		Issues:       issues,
		LastResponse: responses[len(responses)-1],
		Responses:    responses,
	}
}

// deadLetter keeps page in the failure sink. Every listing that failed is
// written, including those that shared another listing's computation.
func (a *Agent) deadLetter(page models.RawPage, hash string, cause error) {
	if a.failures == nil {
		return
	}
	f := models.FailedExtraction{
		Site:             page.Site,
		ListingID:        page.ListingID,
		URL:              page.URL,
		ContentHash:      hash,
		ExtractorVersion: a.cfg.Version,
		RawContent:       page.RawContent,
		Error:            cause.Error(),
		FailedAt:         a.now().UTC(),
	}
	var sve *models.SchemaViolationError
	if errors.As(cause, &sve) {
		f.Responses = sve.Responses
		f.Issues = sve.Issues
	}
	if err := a.failures.Write(f); err != nil {
		a.logger.Error("[extract] dead letter for %s: %v", page.Key(), err)
	}
}

// submit makes one backend call, retrying transport failures. The
// concurrency slot is held only while a request is in flight.
func (a *Agent) submit(ctx context.Context, req Request) (string, error) {
	var out string
	err := a.retry.Do(ctx, "extract submit", func(ctx context.Context) error {
		if err := a.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer a.sem.Release(1)

		a.submissions.Add(1)
		resp, err := a.backend.Submit(ctx, req)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("backend: %w", err)
	}
	return out, nil
}
