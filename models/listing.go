package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode"
)

// RawPage holds unprocessed page content exactly as a site hook rendered it.
// It is immutable once written; a later fetch of the same listing produces a
// new RawPage with a later FetchedAt.
type RawPage struct {
	Site        string    `json:"site"`
	ListingID   string    `json:"listing_id"`
	URL         string    `json:"url"`
	FetchedAt   time.Time `json:"fetched_at"`
	RawContent  string    `json:"raw_content"`
	ContentHash string    `json:"content_hash"`
}

// NewRawPage builds a RawPage and fills in its content fingerprint.
func NewRawPage(site, listingID, url, content string, fetchedAt time.Time) RawPage {
	content = NormaliseContent(content)
	return RawPage{
		Site:        site,
		ListingID:   listingID,
		URL:         url,
		FetchedAt:   fetchedAt.UTC(),
		RawContent:  content,
		ContentHash: ContentHash(content),
	}
}

// Key returns the site-scoped listing key used for dedup and merging.
func (p RawPage) Key() string {
	return ListingKey(p.Site, p.ListingID)
}

// ListingKey joins a site and a listing id into a single key.
func ListingKey(site, listingID string) string {
	return site + ":" + listingID
}

// ContentHash returns the hex SHA-256 of content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

var unicodeReplacer = strings.NewReplacer(
	"•", "-",      // bullet
	"·", "-",      // middle dot
	"–", "-",      // en dash
	"—", "-",      // em dash
	"\u00a0", " ", // no-break space
)

// NormaliseContent maps listing punctuation to ASCII, trims trailing
// whitespace on each line and drops runs of blank lines, so that cosmetic
// re-renders of the same page hash identically.
func NormaliseContent(s string) string {
	s = unicodeReplacer.Replace(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if line == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// Coordinates is a latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Units in which PropertyRecord numerics are declared.
const (
	CurrencyINR    = "INR"
	AreaUnitSqFt   = "sqft"
	DateLayoutDate = "2006-01-02"
)

// PropertyRecord is the cleaned, schema-validated listing ready for the
// processed record store. Price is in Currency, Area in AreaUnit; both are
// never negative. A nil LocationKey means "uncategorized".
type PropertyRecord struct {
	ListingID       string       `json:"listing_id"`
	Site            string       `json:"site"`
	Title           string       `json:"title"`
	Price           float64      `json:"price"`
	Currency        string       `json:"currency"`
	Area            float64      `json:"area"`
	AreaUnit        string       `json:"area_unit"`
	PricePerArea    float64      `json:"price_per_area,omitempty"`
	BedroomCount    *int         `json:"bedroom_count,omitempty"`
	PropertyType    string       `json:"property_type,omitempty"`
	TransactionType string       `json:"transaction_type,omitempty"`
	OwnershipType   string       `json:"ownership_type,omitempty"`
	Facing          string       `json:"facing,omitempty"`
	Description     string       `json:"description,omitempty"`
	LocationRaw     string       `json:"location_raw"`
	LocationKey     *string      `json:"location_key"`
	Coordinates     *Coordinates `json:"coordinates,omitempty"`
	Amenities       []string     `json:"amenities"`
	ListedAt        *time.Time   `json:"listed_at,omitempty"`
	SourceURL       string       `json:"source_url"`
	ContentHash     string       `json:"content_hash"`
	ScrapedDate     string       `json:"scraped_date"`
}

// Key returns the site-scoped listing key.
func (r PropertyRecord) Key() string {
	return ListingKey(r.Site, r.ListingID)
}

// Clone returns a deep copy so cached records are never shared mutably.
func (r PropertyRecord) Clone() PropertyRecord {
	out := r
	if r.BedroomCount != nil {
		n := *r.BedroomCount
		out.BedroomCount = &n
	}
	if r.LocationKey != nil {
		k := *r.LocationKey
		out.LocationKey = &k
	}
	if r.Coordinates != nil {
		c := *r.Coordinates
		out.Coordinates = &c
	}
	if r.ListedAt != nil {
		t := *r.ListedAt
		out.ListedAt = &t
	}
	out.Amenities = append([]string(nil), r.Amenities...)
	return out
}

// ExtractionCacheEntry memoises a structured record for one
// (ContentHash, ExtractorVersion) pair. Entries are never mutated.
type ExtractionCacheEntry struct {
	ContentHash      string         `json:"content_hash"`
	ExtractorVersion string         `json:"extractor_version"`
	Record           PropertyRecord `json:"record"`
	ExtractedAt      time.Time      `json:"extracted_at"`
}
