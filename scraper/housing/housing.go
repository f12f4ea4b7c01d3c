// Package housing is the housing.com site hook.
package housing

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"realestate-crawler/scraper"
)

const (
	Name           = "housing"
	DefaultBaseURL = "https://housing.com"
)

// idPattern matches listing paths such as /in/buy/resale/page/3412345-plot-in-duvvada.
var idPattern = regexp.MustCompile(`/page/(\d+)`)

var propertyTypes = map[string]string{
	"plot":              "plot",
	"apartment":         "apartment",
	"villa":             "villa",
	"independent_house": "independent-house",
	"commercial":        "commercial",
}

// New returns the hook. An empty baseURL means DefaultBaseURL.
func New(baseURL string) *scraper.PagedHook {
	return scraper.NewPagedHook(Spec(baseURL))
}

// Spec describes housing.com search results. Filters are carried in the
// search URL.
func Spec(baseURL string) scraper.SiteSpec {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}

	return scraper.SiteSpec{
		Name: Name,
		SearchURL: func(f scraper.Filters, page int) string {
			q := url.Values{}
			if t, ok := propertyTypes[f.PropertyType]; ok {
				q.Set("property_type", t)
			}
			if f.MinPrice > 0 {
				q.Set("min_price", strconv.FormatInt(f.MinPrice, 10))
			}
			if f.MaxPrice > 0 {
				q.Set("max_price", strconv.FormatInt(f.MaxPrice, 10))
			}
			if f.SortByDate {
				q.Set("sort", "date_added")
			}
			if page > 1 {
				q.Set("page", strconv.Itoa(page))
			}

			u := fmt.Sprintf("%s/in/buy/searches/%s", base, scraper.Slug(f.Location))
			if enc := q.Encode(); enc != "" {
				u += "?" + enc
			}
			return u
		},
		ResultsSelector: `div[data-q="search-results"]`,
		LinkSelector:    `article a[href*="/page/"]`,
		IDFromURL: func(u *url.URL) (string, bool) {
			m := idPattern.FindStringSubmatch(u.Path)
			if m == nil {
				return "", false
			}
			return m[1], true
		},
		ListingURL: func(id string) string {
			return base + "/in/buy/resale/page/" + id
		},
		DetailSelector: "main",
	}
}
