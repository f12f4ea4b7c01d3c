package airbnb

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"realestate-crawler/scraper"
)

const (
	Name           = "airbnb"
	DefaultBaseURL = "https://www.airbnb.com"
	// fallbackLocation is searched when no location filter is set.
	fallbackLocation = "Bangkok"
)

var roomPattern = regexp.MustCompile(`^/rooms/(\d+)`)

// New returns the hook. An empty baseURL means DefaultBaseURL.
func New(baseURL string) *scraper.PagedHook {
	return scraper.NewPagedHook(Spec(baseURL))
}

// Spec describes Airbnb search results. Pagination follows the "Next" link,
// since result offsets are opaque.
func Spec(baseURL string) scraper.SiteSpec {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}

	return scraper.SiteSpec{
		Name: Name,
		SearchURL: func(f scraper.Filters, _ int) string {
			location := f.Location
			if location == "" {
				location = fallbackLocation
			}
			q := url.Values{}
			if f.MinPrice > 0 {
				q.Set("price_min", strconv.FormatInt(f.MinPrice, 10))
			}
			if f.MaxPrice > 0 {
				q.Set("price_max", strconv.FormatInt(f.MaxPrice, 10))
			}
			u := base + "/s/" + url.PathEscape(location) + "/homes"
			if enc := q.Encode(); enc != "" {
				u += "?" + enc
			}
			return u
		},
		ResultsSelector: "main",
		LinkSelector:    `[itemprop="itemListElement"] a[href*="/rooms/"], [data-testid="card-container"] a[href*="/rooms/"]`,
		IDFromURL: func(u *url.URL) (string, bool) {
			m := roomPattern.FindStringSubmatch(u.Path)
			if m == nil {
				return "", false
			}
			return m[1], true
		},
		ListingURL: func(id string) string {
			return base + "/rooms/" + id
		},
		DetailSelector: "main",
		NextSelector:   `a[aria-label="Next"], [data-testid="pagination-next-button"]`,
	}
}
