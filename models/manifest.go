package models

import (
	"sort"
	"time"
)

// CrawlStatus is the terminal outcome of one discovered listing.
type CrawlStatus string

const (
	StatusFetched CrawlStatus = "fetched"
	StatusSkipped CrawlStatus = "skipped"
	StatusFailed  CrawlStatus = "failed"
)

// Valid reports whether s is one of the terminal statuses.
func (s CrawlStatus) Valid() bool {
	switch s {
	case StatusFetched, StatusSkipped, StatusFailed:
		return true
	}
	return false
}

// CrawlManifestEntry records what happened to one listing in one run.
type CrawlManifestEntry struct {
	RunID        string      `json:"run_id"`
	Site         string      `json:"site"`
	ListingID    string      `json:"listing_id"`
	Status       CrawlStatus `json:"status"`
	AttemptCount int         `json:"attempt_count"`
	LastError    string      `json:"last_error,omitempty"`
	ContentHash  string      `json:"content_hash,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Key returns the site-scoped listing key.
func (e CrawlManifestEntry) Key() string {
	return ListingKey(e.Site, e.ListingID)
}

// CrawlManifest is the finalized ledger of a crawl run.
type CrawlManifest struct {
	RunID      string               `json:"run_id"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Sites      []string             `json:"sites"`
	Entries    []CrawlManifestEntry `json:"entries"`
	// SiteErrors holds discovery failures that stopped a site early.
	SiteErrors map[string]string `json:"site_errors,omitempty"`
}

// Counts tallies entries by status.
func (m *CrawlManifest) Counts() map[CrawlStatus]int {
	out := make(map[CrawlStatus]int, 3)
	for _, e := range m.Entries {
		out[e.Status]++
	}
	return out
}

// Fetched returns the entries whose page was written during this run.
func (m *CrawlManifest) Fetched() []CrawlManifestEntry {
	var out []CrawlManifestEntry
	for _, e := range m.Entries {
		if e.Status == StatusFetched {
			out = append(out, e)
		}
	}
	return out
}

// SortEntries orders entries by site then listing id for stable output.
func (m *CrawlManifest) SortEntries() {
	sort.Slice(m.Entries, func(i, j int) bool {
		if m.Entries[i].Site != m.Entries[j].Site {
			return m.Entries[i].Site < m.Entries[j].Site
		}
		return m.Entries[i].ListingID < m.Entries[j].ListingID
	})
}
