package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"realestate-crawler/models"
)

// RecordStore is the processed record store. Records are keyed by
// (site, listing id) and a later record replaces an earlier one.
type RecordStore interface {
	// Merge upserts records and returns how many were added or changed.
	Merge(ctx context.Context, records []models.PropertyRecord) (int, error)
	All(ctx context.Context) ([]models.PropertyRecord, error)
}

// JSONRecordStore keeps processed records in a single JSON array file. The
// file is rewritten through a temp file and rename, so readers never observe
// a half-written array.
type JSONRecordStore struct {
	mu   sync.Mutex
	path string
}

var (
	_ RecordStore  = (*JSONRecordStore)(nil)
	_ RecordWriter = (*JSONRecordStore)(nil)
)

// NewJSONRecordStore returns a store backed by the file at path. The file is
// created on first merge.
func NewJSONRecordStore(path string) *JSONRecordStore {
	return &JSONRecordStore{path: path}
}

// Path returns the backing file path.
func (s *JSONRecordStore) Path() string {
	return s.path
}

func (s *JSONRecordStore) Merge(ctx context.Context, records []models.PropertyRecord) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load()
	if err != nil {
		return 0, err
	}

	byKey := make(map[string]models.PropertyRecord, len(existing)+len(records))
	for _, r := range existing {
		byKey[r.Key()] = r
	}

	changed := 0
	for _, r := range records {
		if r.Site == "" || r.ListingID == "" {
			return 0, fmt.Errorf("records: merge: record without site or listing id (%q)", r.Title)
		}
		prev, ok := byKey[r.Key()]
		if !ok || !sameRecord(prev, r) {
			changed++
		}
		byKey[r.Key()] = r
	}
	if changed == 0 && len(existing) > 0 {
		return 0, nil
	}

	merged := make([]models.PropertyRecord, 0, len(byKey))
	for _, r := range byKey {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Site != merged[j].Site {
			return merged[i].Site < merged[j].Site
		}
		return merged[i].ListingID < merged[j].ListingID
	})

	if err := s.save(merged); err != nil {
		return 0, err
	}
	return changed, nil
}

// Write satisfies RecordWriter so the JSON file can sit next to other sinks.
func (s *JSONRecordStore) Write(ctx context.Context, records []models.PropertyRecord) error {
	_, err := s.Merge(ctx, records)
	return err
}

func (s *JSONRecordStore) All(ctx context.Context) ([]models.PropertyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *JSONRecordStore) Close() error { return nil }

func (s *JSONRecordStore) load() ([]models.PropertyRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("records: read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var out []models.PropertyRecord
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("records: decode %s: %w", s.path, err)
	}
	return out, nil
}

func (s *JSONRecordStore) save(records []models.PropertyRecord) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("records: create dir: %w", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("records: encode: %w", err)
	}
	return WriteFileAtomic(s.path, data)
}

// sameRecord compares two records by their serialized form.
func sameRecord(a, b models.PropertyRecord) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}

// WriteFileAtomic writes data to a sibling temp file and renames it over path.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
