package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"realestate-crawler/models"
)

// ManifestCSVWriter exports crawl manifest entries for operators.
// It is safe for concurrent use.
type ManifestCSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewManifestCSVWriter creates (or truncates) the CSV file at the given path
// and writes the header row. Intermediate directories are created
// automatically.
func NewManifestCSVWriter(path string) (*ManifestCSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)

	if err := w.Write([]string{
		"run_id", "site", "listing_id", "status", "attempts", "last_error", "content_hash", "updated_at",
	}); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &ManifestCSVWriter{file: f, writer: w}, nil
}

// WriteEntries appends one row per manifest entry.
func (c *ManifestCSVWriter) WriteEntries(entries []models.CrawlManifestEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range entries {
		row := []string{
			e.RunID,
			e.Site,
			e.ListingID,
			string(e.Status),
			strconv.Itoa(e.AttemptCount),
			e.LastError,
			e.ContentHash,
			e.UpdatedAt.Format(time.RFC3339),
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *ManifestCSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}
