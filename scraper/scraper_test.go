package scraper_test

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realestate-crawler/models"
	"realestate-crawler/scraper"
	"realestate-crawler/scraper/scrapertest"
)

const base = "https://example.test"

func testSpec() scraper.SiteSpec {
	return scraper.SiteSpec{
		Name: "example",
		SearchURL: func(f scraper.Filters, page int) string {
			return fmt.Sprintf("%s/search/%s?page=%d", base, scraper.Slug(f.Location), page)
		},
		Setup: func(f scraper.Filters) []scraper.FilterAction {
			if !f.SortByDate {
				return nil
			}
			return []scraper.FilterAction{{Selector: "#sort-date"}}
		},
		ResultsSelector: "#results",
		LinkSelector:    "a.listing",
		IDFromURL: func(u *url.URL) (string, bool) {
			id, ok := strings.CutPrefix(u.Path, "/listing/")
			return id, ok && id != ""
		},
		ListingURL:     func(id string) string { return base + "/listing/" + id },
		DetailSelector: "main",
	}
}

func resultsPage(ids ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><button id="sort-date">Newest</button><div id="results">`)
	for _, id := range ids {
		fmt.Fprintf(&b, `<a class="listing" href="/listing/%s#photos">Plot %s</a>`, id, id)
	}
	b.WriteString(`<a class="listing" href="/about">not a listing</a></div></body></html>`)
	return b.String()
}

func collect(t *testing.T, seq func(func(scraper.Discovered, error) bool)) ([]scraper.Discovered, error) {
	t.Helper()
	var out []scraper.Discovered
	for d, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
	return out, nil
}

func ids(ds []scraper.Discovered) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.ID)
	}
	return out
}

func openSession(t *testing.T, b *scrapertest.Browser) scraper.Session {
	t.Helper()
	sess, err := b.OpenSession(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestPagedHookDiscoversUntilEmptyPage(t *testing.T) {
	b := scrapertest.NewBrowser()
	b.SetPage(base+"/search/vizag?page=1", resultsPage("1", "2", "2"))
	b.SetPage(base+"/search/vizag?page=2", resultsPage("3"))
	b.SetPage(base+"/search/vizag?page=3", resultsPage())

	h := scraper.NewPagedHook(testSpec())
	got, err := collect(t, h.DiscoverListingIDs(context.Background(), openSession(t, b), scraper.Filters{Location: "Vizag", SortByDate: true}, scraper.Cursor{}))
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2", "3"}, ids(got))
	assert.Equal(t, base+"/listing/1", got[0].URL)
	assert.Equal(t, scraper.Cursor{Page: 2, URL: base + "/search/vizag?page=2"}, got[2].Cursor)
	assert.Len(t, b.Actions(), 3, "filters are applied on every result page")
}

func TestPagedHookHonoursMaxPagesAndCursor(t *testing.T) {
	b := scrapertest.NewBrowser()
	for p := 1; p <= 4; p++ {
		b.SetPage(fmt.Sprintf("%s/search/vizag?page=%d", base, p), resultsPage(fmt.Sprint(p)))
	}
	h := scraper.NewPagedHook(testSpec())
	sess := openSession(t, b)

	got, err := collect(t, h.DiscoverListingIDs(context.Background(), sess, scraper.Filters{Location: "vizag", MaxPages: 2}, scraper.Cursor{}))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids(got))

	got, err = collect(t, h.DiscoverListingIDs(context.Background(), sess, scraper.Filters{Location: "vizag", MaxPages: 4}, scraper.Cursor{Page: 3}))
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "4"}, ids(got))
}

func TestPagedHookStopsWhenConsumerStops(t *testing.T) {
	b := scrapertest.NewBrowser()
	b.SetPage(base+"/search/vizag?page=1", resultsPage("1", "2"))
	h := scraper.NewPagedHook(testSpec())

	for d, err := range h.DiscoverListingIDs(context.Background(), openSession(t, b), scraper.Filters{Location: "vizag"}, scraper.Cursor{}) {
		require.NoError(t, err)
		assert.Equal(t, "1", d.ID)
		break
	}
	assert.Len(t, b.Navigations(), 1)
}

func TestPagedHookReportsLayoutDrift(t *testing.T) {
	b := scrapertest.NewBrowser()
	b.SetPage(base+"/search/vizag?page=1", `<html><body><div id="new-layout"></div></body></html>`)
	h := scraper.NewPagedHook(testSpec())

	_, err := collect(t, h.DiscoverListingIDs(context.Background(), openSession(t, b), scraper.Filters{Location: "vizag"}, scraper.Cursor{}))
	var nav *models.NavigationError
	require.ErrorAs(t, err, &nav)
	assert.Equal(t, "#results", nav.Selector)
}

func TestPagedHookPassesThroughRateLimits(t *testing.T) {
	b := scrapertest.NewBrowser()
	url1 := base + "/search/vizag?page=1"
	b.SetPage(url1, resultsPage("1"))
	b.FailNext(url1, &models.RateLimitedError{Source: "example", RetryAfter: time.Second})
	h := scraper.NewPagedHook(testSpec())

	_, err := collect(t, h.DiscoverListingIDs(context.Background(), openSession(t, b), scraper.Filters{Location: "vizag"}, scraper.Cursor{}))
	assert.True(t, models.IsRateLimited(err))
}

func TestPagedHookFetchListing(t *testing.T) {
	b := scrapertest.NewBrowser()
	b.SetPage(base+"/search/vizag?page=1", resultsPage("7"))
	b.SetPage(base+"/listing/7", `<html><body><nav>menu</nav><main><h1>Plot 7</h1><p>₹ 24 L</p></main></body></html>`)
	b.SetPage(base+"/listing/8", `<html><body><main><script>x</script></main></body></html>`)

	h := scraper.NewPagedHook(testSpec())
	at := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	h.SetClock(func() time.Time { return at })
	sess := openSession(t, b)

	_, err := collect(t, h.DiscoverListingIDs(context.Background(), sess, scraper.Filters{Location: "vizag"}, scraper.Cursor{}))
	require.NoError(t, err)

	page, err := h.FetchListing(context.Background(), sess, "7")
	require.NoError(t, err)
	assert.Equal(t, "example", page.Site)
	assert.Equal(t, "7", page.ListingID)
	assert.Equal(t, base+"/listing/7", page.URL)
	assert.Equal(t, "# Plot 7\n\n₹ 24 L", page.RawContent)
	assert.Equal(t, models.ContentHash(page.RawContent), page.ContentHash)
	assert.Equal(t, at, page.FetchedAt)

	_, err = h.FetchListing(context.Background(), sess, "8")
	assert.True(t, models.IsNavigation(err), "an empty listing page is layout drift")
}

func TestSessionPoolBoundsConcurrency(t *testing.T) {
	b := scrapertest.NewBrowser()
	pool := scraper.NewSessionPool(b, 2, time.Second)

	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pool.With(context.Background(), func(scraper.Session) error {
				time.Sleep(10 * time.Millisecond)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, b.MaxOpen())
	assert.Zero(t, b.Open(), "every session is released")
}

func TestSessionPoolReleasesOnError(t *testing.T) {
	b := scrapertest.NewBrowser()
	pool := scraper.NewSessionPool(b, 1, time.Second)
	boom := errors.New("navigation blew up")

	err := pool.With(context.Background(), func(scraper.Session) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, b.Open())

	_, release, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	release()
	release()
	assert.Zero(t, b.Open())
}

func TestSessionPoolAcquireTimeout(t *testing.T) {
	b := scrapertest.NewBrowser()
	pool := scraper.NewSessionPool(b, 1, 20*time.Millisecond)

	_, release, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	_, _, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, models.ErrNoSession)
	assert.True(t, scraper.IsNoSession(err))
}

func TestSessionPoolBrowserFailureIsNoSession(t *testing.T) {
	b := scrapertest.NewBrowser()
	b.OpenErr = errors.New("chrome not found")
	pool := scraper.NewSessionPool(b, 1, time.Second)

	_, _, err := pool.Acquire(context.Background())
	assert.ErrorIs(t, err, models.ErrNoSession)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry(t *testing.T) {
	r := scraper.NewRegistry(scraper.NewPagedHook(testSpec()))

	h, err := r.Get("example")
	require.NoError(t, err)
	assert.Equal(t, "example", h.Name())

	_, err = r.Get("zillow")
	assert.ErrorIs(t, err, models.ErrUnknownSite)
	assert.Equal(t, []string{"example"}, r.Names())
}
