// Package magicbricks is the magicbricks.com site hook.
package magicbricks

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"realestate-crawler/scraper"
)

const (
	Name           = "magicbricks"
	DefaultBaseURL = "https://www.magicbricks.com"
)

// Sort menu on the result page; the fourth entry is "Most Recent".
const (
	sortMenu   = ".mb-srp__tabs__sortby--title"
	sortList   = ".mb-srp__tabs__sortby__dd"
	sortRecent = ".mb-srp__tabs__sortby__dd ul > li:nth-child(4)"
)

var idPattern = regexp.MustCompile(`pdpid-([0-9a-z]+)`)

var propertyTypes = map[string]string{
	"plot":              "Residential-Plot",
	"apartment":         "Multistorey-Apartment,Builder-Floor-Apartment,Penthouse,Studio-Apartment",
	"villa":             "Villa",
	"independent_house": "Residential-House",
	"commercial":        "Commercial-Office-Space,Commercial-Shop,Commercial-Land",
	"agricultural_land": "Agricultural-Land",
}

// New returns the hook. An empty baseURL means DefaultBaseURL.
func New(baseURL string) *scraper.PagedHook {
	return scraper.NewPagedHook(Spec(baseURL))
}

// Spec describes magicbricks.com search results. Location, type and budget
// go in the URL; date sorting is applied through the sort menu.
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
				q.Set("proptype", t)
			}
			if f.Location != "" {
				q.Set("cityName", f.Location)
			}
			if f.MinPrice > 0 {
				q.Set("BudgetMin", strconv.FormatInt(f.MinPrice, 10))
			}
			if f.MaxPrice > 0 {
				q.Set("BudgetMax", strconv.FormatInt(f.MaxPrice, 10))
			}
			if page > 1 {
				q.Set("page", strconv.Itoa(page))
			}
			return base + "/property-for-sale/residential-real-estate?" + q.Encode()
		},
		Setup: func(f scraper.Filters) []scraper.FilterAction {
			if !f.SortByDate {
				return nil
			}
			return []scraper.FilterAction{
				{Selector: sortMenu, WaitFor: sortList},
				{Selector: sortRecent},
			}
		},
		ResultsSelector: ".mb-srp__list",
		LinkSelector:    `a[href*="pdpid-"]`,
		IDFromURL: func(u *url.URL) (string, bool) {
			m := idPattern.FindStringSubmatch(strings.ToLower(u.Path))
			if m == nil {
				return "", false
			}
			return m[1], true
		},
		ListingURL: func(id string) string {
			return base + "/propertyDetails/pdpid-" + id
		},
		DetailSelector: ".mb-ldp",
	}
}
