package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realestate-crawler/config"
	"realestate-crawler/models"
	"realestate-crawler/scraper"
	"realestate-crawler/scraper/scrapertest"
	"realestate-crawler/storage"
)

const base = "https://plots.test"

var now = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func plotSpec(name string) scraper.SiteSpec {
	return scraper.SiteSpec{
		Name: name,
		SearchURL: func(f scraper.Filters, page int) string {
			return fmt.Sprintf("%s/%s/search?page=%d", base, name, page)
		},
		ResultsSelector: "#results",
		LinkSelector:    "a",
		IDFromURL: func(u *url.URL) (string, bool) {
			return strings.CutPrefix(u.Path, "/"+name+"/listing/")
		},
		ListingURL:     func(id string) string { return fmt.Sprintf("%s/%s/listing/%s", base, name, id) },
		DetailSelector: "main",
	}
}

func results(site string, ids ...string) string {
	var b strings.Builder
	b.WriteString(`<div id="results">`)
	for _, id := range ids {
		fmt.Fprintf(&b, `<a href="/%s/listing/%s">%s</a>`, site, id, id)
	}
	b.WriteString(`</div>`)
	return b.String()
}

func searchURL(site string, page int) string {
	return fmt.Sprintf("%s/%s/search?page=%d", base, site, page)
}

func listingURL(site, id string) string {
	return fmt.Sprintf("%s/%s/listing/%s", base, site, id)
}

func detail(id string) string {
	return fmt.Sprintf(`<main><h1>Plot %s</h1><p>₹ %s L</p></main>`, id, id)
}

type fixture struct {
	browser  *scrapertest.Browser
	content  *storage.MemoryContentStore
	manifest *storage.MemoryManifestStore
	cfg      Config
	sessions int
	timeout  time.Duration
}

func newFixture() *fixture {
	return &fixture{
		browser:  scrapertest.NewBrowser(),
		content:  storage.NewMemoryContentStore(),
		manifest: storage.NewMemoryManifestStore(),
		cfg: Config{
			SiteConcurrency:  2,
			NavRetries:       1,
			RateLimitRetries: 3,
			BackoffBase:      time.Millisecond,
			BackoffMax:       5 * time.Millisecond,
		},
		sessions: 3,
		timeout:  time.Second,
	}
}

func (f *fixture) controller(sites ...string) *Controller {
	hooks := make([]scraper.SiteHook, 0, len(sites))
	for _, s := range sites {
		hooks = append(hooks, scraper.NewPagedHook(plotSpec(s)))
	}
	pool := scraper.NewSessionPool(f.browser, f.sessions, f.timeout)
	c := New(scraper.NewRegistry(hooks...), pool, f.content, f.manifest, f.cfg, WithClock(func() time.Time { return now }))
	c.newRunID = func() string { return "run-1" }
	return c
}

// site serves two result pages and a detail page for every id.
func (f *fixture) site(name string, ids ...string) {
	f.browser.SetPage(searchURL(name, 1), results(name, ids...))
	f.browser.SetPage(searchURL(name, 2), results(name))
	for _, id := range ids {
		f.browser.SetPage(listingURL(name, id), detail(id))
	}
}

func statuses(m *models.CrawlManifest) map[string]models.CrawlStatus {
	out := make(map[string]models.CrawlStatus, len(m.Entries))
	for _, e := range m.Entries {
		out[e.Key()] = e.Status
	}
	return out
}

func TestRunFetchesEveryDiscoveredListing(t *testing.T) {
	f := newFixture()
	f.site("alpha", "1", "2", "3")
	f.site("beta", "9")

	m, err := f.controller("alpha", "beta").Run(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)

	assert.Equal(t, "run-1", m.RunID)
	assert.Equal(t, map[string]models.CrawlStatus{
		"alpha:1": models.StatusFetched,
		"alpha:2": models.StatusFetched,
		"alpha:3": models.StatusFetched,
		"beta:9":  models.StatusFetched,
	}, statuses(m))
	assert.Equal(t, 4, f.content.Len())
	assert.Empty(t, m.SiteErrors)

	page, err := f.content.GetLatest(context.Background(), "alpha", "2")
	require.NoError(t, err)
	for _, e := range m.Entries {
		if e.Key() == "alpha:2" {
			assert.Equal(t, page.ContentHash, e.ContentHash)
			assert.Equal(t, 1, e.AttemptCount)
		}
	}
	assert.Zero(t, f.browser.Open(), "all sessions released")
}

func TestRunSkipsFreshListings(t *testing.T) {
	f := newFixture()
	f.site("alpha", "1", "2")
	f.cfg.FreshnessWindow = time.Hour

	require.NoError(t, f.manifest.BeginRun(context.Background(), "old", []string{"alpha"}, now.Add(-2*time.Hour)))
	require.NoError(t, f.manifest.Record(context.Background(), models.CrawlManifestEntry{
		RunID: "old", Site: "alpha", ListingID: "1", Status: models.StatusFetched, UpdatedAt: now.Add(-30 * time.Minute),
	}))

	m, err := f.controller("alpha").Run(context.Background(), []string{"alpha"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkipped, statuses(m)["alpha:1"])
	assert.Equal(t, models.StatusFetched, statuses(m)["alpha:2"])
	assert.NotContains(t, f.browser.Navigations(), listingURL("alpha", "1"))
}

func TestRunRetriesRateLimits(t *testing.T) {
	f := newFixture()
	f.site("alpha", "1")
	limited := &models.RateLimitedError{Source: "alpha", RetryAfter: 2 * time.Millisecond}
	f.browser.FailNext(listingURL("alpha", "1"), limited, limited)

	m, err := f.controller("alpha").Run(context.Background(), []string{"alpha"})
	require.NoError(t, err)
	require.Len(t, m.Entries, 1)
	assert.Equal(t, models.StatusFetched, m.Entries[0].Status)
	assert.Equal(t, 3, m.Entries[0].AttemptCount)
}

func TestRunMarksExhaustedNavigationFailed(t *testing.T) {
	f := newFixture()
	f.site("alpha", "1", "2")
	drift := &models.NavigationError{Site: "alpha", Selector: "main"}
	f.browser.FailNext(listingURL("alpha", "2"), drift, drift, drift)

	m, err := f.controller("alpha").Run(context.Background(), []string{"alpha"})
	require.NoError(t, err)

	st := statuses(m)
	assert.Equal(t, models.StatusFetched, st["alpha:1"])
	assert.Equal(t, models.StatusFailed, st["alpha:2"])
	for _, e := range m.Entries {
		if e.ListingID == "2" {
			assert.Equal(t, 2, e.AttemptCount, "one try plus NavRetries")
			assert.Contains(t, e.LastError, "main")
		}
	}
}

func TestRunResumesDiscoveryFromCursor(t *testing.T) {
	f := newFixture()
	f.site("alpha", "1")
	f.browser.SetPage(searchURL("alpha", 2), results("alpha", "2"))
	f.browser.SetPage(searchURL("alpha", 3), results("alpha"))
	f.browser.SetPage(listingURL("alpha", "2"), detail("2"))
	f.browser.FailNext(searchURL("alpha", 2), &models.RateLimitedError{Source: "alpha"})

	m, err := f.controller("alpha").Run(context.Background(), []string{"alpha"})
	require.NoError(t, err)
	assert.Len(t, m.Entries, 2)
	assert.Equal(t, models.StatusFetched, statuses(m)["alpha:2"])

	pageOne := 0
	for _, u := range f.browser.Navigations() {
		if u == searchURL("alpha", 1) {
			pageOne++
		}
	}
	assert.Equal(t, 2, pageOne, "resumes at the page of the last yielded id")
}

func TestRunRecordsDiscoveryFailureAsSiteError(t *testing.T) {
	f := newFixture()
	f.site("beta", "9")
	f.browser.SetPage(searchURL("alpha", 1), `<div id="redesigned"></div>`)

	m, err := f.controller("alpha", "beta").Run(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.Contains(t, m.SiteErrors, "alpha")
	assert.Equal(t, map[string]models.CrawlStatus{"beta:9": models.StatusFetched}, statuses(m))

	run, err := f.manifest.LatestRun(context.Background())
	require.NoError(t, err)
	assert.Contains(t, run.SiteErrors, "alpha")
}

func TestRunUnknownSite(t *testing.T) {
	f := newFixture()
	_, err := f.controller("alpha").Run(context.Background(), []string{"zillow"})
	assert.ErrorIs(t, err, models.ErrUnknownSite)

	_, err = f.manifest.LatestRun(context.Background())
	assert.ErrorIs(t, err, models.ErrNotFound, "no run is started")
}

func TestRunAbortsWhenSessionsRunOut(t *testing.T) {
	f := newFixture()
	f.site("alpha", "1", "2", "3")
	f.browser.OpenErr = errors.New("chrome crashed")

	m, err := f.controller("alpha").Run(context.Background(), []string{"alpha"})
	require.ErrorIs(t, err, models.ErrNoSession)
	require.NotNil(t, m)
	assert.Contains(t, m.SiteErrors, "alpha")
}

func TestRunGivesEveryListingOneStatusWhenCancelled(t *testing.T) {
	f := newFixture()
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprint(i + 1)
	}
	f.site("alpha", ids...)
	f.cfg.SiteConcurrency = 1
	f.browser.Latency = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	m, err := f.controller("alpha").Run(ctx, []string{"alpha"})
	require.Error(t, err)
	require.NotNil(t, m)

	seen := make(map[string]int)
	for _, e := range m.Entries {
		seen[e.ListingID]++
		assert.True(t, e.Status.Valid())
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "listing %s", id)
	}
	assert.Equal(t, len(ids), len(seen))
	assert.Less(t, m.Counts()[models.StatusFetched], len(ids))
}

func TestFiltersFromConfig(t *testing.T) {
	got := FiltersFromConfig([]config.SiteConfig{{
		Name:     "housing",
		MaxPages: 3,
		Filters:  config.SiteFilters{Location: "Vizag", PropertyType: "plot", MinPrice: 1e6, MaxPrice: 5.5e6, SortByDate: true},
	}})
	assert.Equal(t, scraper.Filters{
		Location: "Vizag", PropertyType: "plot", MinPrice: 1000000, MaxPrice: 5500000, SortByDate: true, MaxPages: 3,
	}, got["housing"])
}
