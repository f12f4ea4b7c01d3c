package crawler

import (
	"math"

	"realestate-crawler/config"
	"realestate-crawler/scraper"
)

// FiltersFromConfig maps configured sites to the search filters their hooks
// understand.
func FiltersFromConfig(sites []config.SiteConfig) map[string]scraper.Filters {
	out := make(map[string]scraper.Filters, len(sites))
	for _, s := range sites {
		out[s.Name] = scraper.Filters{
			Location:     s.Filters.Location,
			PropertyType: s.Filters.PropertyType,
			MinPrice:     int64(math.Round(s.Filters.MinPrice)),
			MaxPrice:     int64(math.Round(s.Filters.MaxPrice)),
			SortByDate:   s.Filters.SortByDate,
			MaxPages:     s.MaxPages,
		}
	}
	return out
}
