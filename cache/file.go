package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"realestate-crawler/models"
	"realestate-crawler/storage"
)

// FileBacking stores one JSON file per entry under dir/<version>/<hash>.json.
type FileBacking struct {
	dir string
}

var _ storage.CacheBacking = (*FileBacking)(nil)

// NewFileBacking returns a FileBacking rooted at dir.
func NewFileBacking(dir string) *FileBacking {
	return &FileBacking{dir: dir}
}

func (f *FileBacking) path(hash, version string) string {
	return filepath.Join(f.dir, filepath.Base(version), filepath.Base(hash)+".json")
}

func (f *FileBacking) Get(ctx context.Context, hash, version string) (*models.ExtractionCacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path(hash, version))
	if os.IsNotExist(err) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("file cache: read: %w", err)
	}
	var entry models.ExtractionCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("file cache: decode %s: %w", hash, err)
	}
	return &entry, nil
}

func (f *FileBacking) Put(ctx context.Context, entry models.ExtractionCacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := f.path(entry.ContentHash, entry.ExtractorVersion)
	if _, err := os.Stat(p); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("file cache: create dir: %w", err)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("file cache: encode: %w", err)
	}
	if err := storage.WriteFileAtomic(p, data); err != nil {
		return fmt.Errorf("file cache: %w", err)
	}
	return nil
}
