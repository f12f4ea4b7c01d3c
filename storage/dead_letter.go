package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"realestate-crawler/models"
)

// DeadLetter keeps failed extractions on disk, one JSON file per listing and
// content hash, so they can be inspected and reprocessed.
type DeadLetter struct {
	dir string
}

// NewDeadLetter returns a DeadLetter writing under dir.
func NewDeadLetter(dir string) *DeadLetter {
	return &DeadLetter{dir: dir}
}

// DeadLetterID names the dead letter of one listing's content.
func DeadLetterID(site, listingID, contentHash string) string {
	return idSafe(site) + "_" + idSafe(listingID) + "_" + idSafe(contentHash)
}

// idSafe keeps letters, digits, dots and dashes; anything else becomes a dash.
func idSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		}
		return '-'
	}, s)
}

// Write stores f, replacing any earlier failure for the same listing and
// content.
func (d *DeadLetter) Write(f models.FailedExtraction) error {
	if f.Site == "" || f.ListingID == "" || f.ContentHash == "" {
		return fmt.Errorf("dead letter: missing identity for %s (hash %q)", models.ListingKey(f.Site, f.ListingID), f.ContentHash)
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("dead letter: create dir: %w", err)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("dead letter: encode: %w", err)
	}
	if err := WriteFileAtomic(d.path(DeadLetterID(f.Site, f.ListingID, f.ContentHash)), data); err != nil {
		return fmt.Errorf("dead letter: %w", err)
	}
	return nil
}

// Read returns the failure recorded under id, or models.ErrNotFound.
func (d *DeadLetter) Read(id string) (*models.FailedExtraction, error) {
	data, err := os.ReadFile(d.path(id))
	if os.IsNotExist(err) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("dead letter: read: %w", err)
	}
	var f models.FailedExtraction
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("dead letter: decode %s: %w", id, err)
	}
	return &f, nil
}

// Remove deletes the failure recorded under id. Missing files are ignored.
func (d *DeadLetter) Remove(id string) error {
	err := os.Remove(d.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("dead letter: remove: %w", err)
	}
	return nil
}

// List returns the ids currently held, sorted.
func (d *DeadLetter) List() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dead letter: list: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		out = append(out, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(out)
	return out, nil
}

func (d *DeadLetter) path(id string) string {
	return filepath.Join(d.dir, filepath.Base(id)+".json")
}
