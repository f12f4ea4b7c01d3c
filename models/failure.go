package models

import "time"

// FailedExtraction is the dead-letter record kept for a page the extraction
// backend could not turn into a valid record. Raw content is preserved so the
// page can be reprocessed after a schema or prompt change.
type FailedExtraction struct {
	Site             string            `json:"site"`
	ListingID        string            `json:"listing_id"`
	URL              string            `json:"url"`
	ContentHash      string            `json:"content_hash"`
	ExtractorVersion string            `json:"extractor_version"`
	RawContent       string            `json:"raw_content"`
	Responses        []string          `json:"responses,omitempty"`
	Issues           []ValidationIssue `json:"issues,omitempty"`
	Error            string            `json:"error"`
	FailedAt         time.Time         `json:"failed_at"`
}
