package services

import (
	"math"
	"slices"
	"strings"
	"unicode"

	"realestate-crawler/models"
	"realestate-crawler/utils"
)

// Cleaner is the last gate before the record store. It drops records that
// break the store's invariants and collapses duplicates of one listing.
type Cleaner struct {
	logger *utils.Logger
	// known reports whether a location key exists. Nil accepts any key.
	known func(key string) bool
}

// NewCleaner creates a Cleaner with the given logger.
func NewCleaner(logger *utils.Logger, known func(key string) bool) *Cleaner {
	return &Cleaner{logger: logger, known: known}
}

// Clean returns valid records, one per (site, listing id). When a listing
// appears more than once the record with the latest scrape date wins, then
// the later one in input order.
func (c *Cleaner) Clean(records []models.PropertyRecord) []models.PropertyRecord {
	index := make(map[string]int, len(records))
	result := make([]models.PropertyRecord, 0, len(records))

	for _, r := range records {
		if r.Site == "" || strings.TrimSpace(r.ListingID) == "" {
			c.logger.Warn("[cleaner] Dropping record without listing key: %q", r.Title)
			continue
		}
		if !validAmount(r.Price) || !validAmount(r.Area) {
			c.logger.Warn("[cleaner] Dropping %s: price %.2f area %.2f", r.Key(), r.Price, r.Area)
			continue
		}

		r = r.Clone()
		r.Title = normaliseText(r.Title)
		r.Description = normaliseText(r.Description)
		r.LocationRaw = normaliseText(r.LocationRaw)
		r.Amenities = cleanAmenities(r.Amenities)
		if r.LocationKey != nil && c.known != nil && !c.known(*r.LocationKey) {
			c.logger.Warn("[cleaner] %s: unknown location key %q, marking uncategorized", r.Key(), *r.LocationKey)
			r.LocationKey = nil
			r.Coordinates = nil
		}

		if i, dup := index[r.Key()]; dup {
			if r.ScrapedDate >= result[i].ScrapedDate {
				c.logger.Debug("[cleaner] Duplicate %s replaced", r.Key())
				result[i] = r
			}
			continue
		}
		index[r.Key()] = len(result)
		result = append(result, r)
	}

	c.logger.Info("[cleaner] Cleaned %d → %d records (dropped %d)",
		len(records), len(result), len(records)-len(result))
	return result
}

func validAmount(f float64) bool {
	return f >= 0 && !math.IsNaN(f) && !math.IsInf(f, 0)
}

func cleanAmenities(in []string) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		if a = normaliseText(a); a != "" {
			out = append(out, a)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}
