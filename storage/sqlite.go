package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"realestate-crawler/models"
	"realestate-crawler/storage/migrations"
)

// listPageSize bounds how many rows ListSince holds open at once.
const listPageSize = 200

// SQLiteStore is the durable pipeline store. It backs the content store,
// the crawl manifest and the extraction cache through wrapper types.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the database at path and runs pending
// migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// ContentStore returns the raw page store backed by this database.
func (s *SQLiteStore) ContentStore() ContentStore {
	return &sqliteContentStore{db: s.db}
}

// ManifestStore returns the crawl manifest store backed by this database.
func (s *SQLiteStore) ManifestStore() ManifestStore {
	return &sqliteManifestStore{db: s.db}
}

// CacheBacking returns the extraction cache table as a cache backing.
func (s *SQLiteStore) CacheBacking() CacheBacking {
	return &sqliteCacheBacking{db: s.db}
}

func (s *SQLiteStore) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(body)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

func toUnix(t time.Time) int64 { return t.UTC().UnixNano() }

func fromUnix(n int64) time.Time { return time.Unix(0, n).UTC() }

// ==================== Content Store ====================

type sqliteContentStore struct {
	db *sql.DB
}

var _ ContentStore = (*sqliteContentStore)(nil)

func (c *sqliteContentStore) Put(ctx context.Context, page models.RawPage) (bool, error) {
	if page.ContentHash == "" {
		page.ContentHash = models.ContentHash(page.RawContent)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("sqlite: begin put: %w", err)
	}
	defer tx.Rollback()

	var latest string
	err = tx.QueryRowContext(ctx, `
		SELECT content_hash FROM raw_pages
		WHERE site = ? AND listing_id = ?
		ORDER BY fetched_at DESC, id DESC
		LIMIT 1
	`, page.Site, page.ListingID).Scan(&latest)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("sqlite: read latest hash: %w", err)
	}
	if latest == page.ContentHash {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO raw_pages (site, listing_id, url, fetched_at, content_hash, raw_content)
		VALUES (?, ?, ?, ?, ?, ?)
	`, page.Site, page.ListingID, page.URL, toUnix(page.FetchedAt), page.ContentHash, page.RawContent)
	if err != nil {
		return false, fmt.Errorf("sqlite: insert page %s: %w", page.Key(), err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("sqlite: commit put: %w", err)
	}
	return true, nil
}

func (c *sqliteContentStore) GetLatest(ctx context.Context, site, listingID string) (*models.RawPage, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT site, listing_id, url, fetched_at, content_hash, raw_content
		FROM raw_pages
		WHERE site = ? AND listing_id = ?
		ORDER BY fetched_at DESC, id DESC
		LIMIT 1
	`, site, listingID)

	page, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get latest %s: %w", models.ListingKey(site, listingID), err)
	}
	return &page, nil
}

// ListSince pages through matching rows by id so no read transaction stays
// open while the caller processes a page.
func (c *sqliteContentStore) ListSince(ctx context.Context, since time.Time) iter.Seq2[models.RawPage, error] {
	return func(yield func(models.RawPage, error) bool) {
		var lastID int64
		for {
			batch, err := c.listBatch(ctx, toUnix(since), lastID)
			if err != nil {
				yield(models.RawPage{}, err)
				return
			}
			for _, r := range batch {
				if !yield(r.page, nil) {
					return
				}
				lastID = r.id
			}
			if len(batch) < listPageSize {
				return
			}
		}
	}
}

type pageRow struct {
	id   int64
	page models.RawPage
}

func (c *sqliteContentStore) listBatch(ctx context.Context, since, afterID int64) ([]pageRow, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, site, listing_id, url, fetched_at, content_hash, raw_content
		FROM raw_pages
		WHERE fetched_at >= ? AND id > ?
		ORDER BY id
		LIMIT ?
	`, since, afterID, listPageSize)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list pages: %w", err)
	}
	defer rows.Close()

	var out []pageRow
	for rows.Next() {
		var r pageRow
		var fetched int64
		if err := rows.Scan(&r.id, &r.page.Site, &r.page.ListingID, &r.page.URL,
			&fetched, &r.page.ContentHash, &r.page.RawContent); err != nil {
			return nil, fmt.Errorf("sqlite: scan page: %w", err)
		}
		r.page.FetchedAt = fromUnix(fetched)
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanPage(row *sql.Row) (models.RawPage, error) {
	var p models.RawPage
	var fetched int64
	if err := row.Scan(&p.Site, &p.ListingID, &p.URL, &fetched, &p.ContentHash, &p.RawContent); err != nil {
		return models.RawPage{}, err
	}
	p.FetchedAt = fromUnix(fetched)
	return p, nil
}

// ==================== Manifest Store ====================

type sqliteManifestStore struct {
	db *sql.DB
}

var _ ManifestStore = (*sqliteManifestStore)(nil)

func (m *sqliteManifestStore) BeginRun(ctx context.Context, runID string, sites []string, startedAt time.Time) error {
	sitesJSON, err := json.Marshal(sites)
	if err != nil {
		return fmt.Errorf("sqlite: marshal sites: %w", err)
	}
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO crawl_runs (run_id, sites, started_at) VALUES (?, ?, ?)
	`, runID, string(sitesJSON), toUnix(startedAt))
	if err != nil {
		return fmt.Errorf("sqlite: begin run %s: %w", runID, err)
	}
	return nil
}

func (m *sqliteManifestStore) Record(ctx context.Context, e models.CrawlManifestEntry) error {
	if !e.Status.Valid() {
		return fmt.Errorf("sqlite: record %s: invalid status %q", e.Key(), e.Status)
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO manifest_entries (run_id, site, listing_id, status, attempt_count, last_error, content_hash, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, site, listing_id) DO UPDATE SET
			status = excluded.status,
			attempt_count = excluded.attempt_count,
			last_error = excluded.last_error,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at
	`, e.RunID, e.Site, e.ListingID, string(e.Status), e.AttemptCount, e.LastError, e.ContentHash, toUnix(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: record %s: %w", e.Key(), err)
	}
	return nil
}

func (m *sqliteManifestStore) FinishRun(ctx context.Context, runID string, finishedAt time.Time, siteErrors map[string]string) error {
	if siteErrors == nil {
		siteErrors = map[string]string{}
	}
	errsJSON, err := json.Marshal(siteErrors)
	if err != nil {
		return fmt.Errorf("sqlite: marshal site errors: %w", err)
	}
	res, err := m.db.ExecContext(ctx, `
		UPDATE crawl_runs SET finished_at = ?, site_errors = ? WHERE run_id = ?
	`, toUnix(finishedAt), string(errsJSON), runID)
	if err != nil {
		return fmt.Errorf("sqlite: finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: finish run %s: %w", runID, models.ErrNotFound)
	}
	return nil
}

func (m *sqliteManifestStore) LastFetched(ctx context.Context, site, listingID string) (time.Time, bool, error) {
	var at sql.NullInt64
	err := m.db.QueryRowContext(ctx, `
		SELECT MAX(updated_at) FROM manifest_entries
		WHERE site = ? AND listing_id = ? AND status = 'fetched'
	`, site, listingID).Scan(&at)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("sqlite: last fetched %s: %w", models.ListingKey(site, listingID), err)
	}
	if !at.Valid {
		return time.Time{}, false, nil
	}
	return fromUnix(at.Int64), true, nil
}

func (m *sqliteManifestStore) Entries(ctx context.Context, runID string) ([]models.CrawlManifestEntry, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT run_id, site, listing_id, status, attempt_count, last_error, content_hash, updated_at
		FROM manifest_entries
		WHERE run_id = ?
		ORDER BY site, listing_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: entries %s: %w", runID, err)
	}
	defer rows.Close()

	var out []models.CrawlManifestEntry
	for rows.Next() {
		var e models.CrawlManifestEntry
		var status string
		var updated int64
		if err := rows.Scan(&e.RunID, &e.Site, &e.ListingID, &status, &e.AttemptCount,
			&e.LastError, &e.ContentHash, &updated); err != nil {
			return nil, fmt.Errorf("sqlite: scan entry: %w", err)
		}
		e.Status = models.CrawlStatus(status)
		e.UpdatedAt = fromUnix(updated)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (m *sqliteManifestStore) LatestRun(ctx context.Context) (*models.CrawlManifest, error) {
	var (
		man        models.CrawlManifest
		sitesJSON  string
		errsJSON   string
		started    int64
		finishedAt sql.NullInt64
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT run_id, sites, started_at, finished_at, site_errors
		FROM crawl_runs
		ORDER BY started_at DESC
		LIMIT 1
	`).Scan(&man.RunID, &sitesJSON, &started, &finishedAt, &errsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: latest run: %w", err)
	}

	man.StartedAt = fromUnix(started)
	if finishedAt.Valid {
		man.FinishedAt = fromUnix(finishedAt.Int64)
	}
	if err := json.Unmarshal([]byte(sitesJSON), &man.Sites); err != nil {
		return nil, fmt.Errorf("sqlite: decode run sites: %w", err)
	}
	if err := json.Unmarshal([]byte(errsJSON), &man.SiteErrors); err != nil {
		return nil, fmt.Errorf("sqlite: decode site errors: %w", err)
	}
	if len(man.SiteErrors) == 0 {
		man.SiteErrors = nil
	}

	man.Entries, err = m.Entries(ctx, man.RunID)
	if err != nil {
		return nil, err
	}
	return &man, nil
}

// ==================== Cache Backing ====================

type sqliteCacheBacking struct {
	db *sql.DB
}

var _ CacheBacking = (*sqliteCacheBacking)(nil)

func (c *sqliteCacheBacking) Get(ctx context.Context, contentHash, extractorVersion string) (*models.ExtractionCacheEntry, error) {
	var (
		record    string
		extracted int64
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT record, extracted_at FROM extraction_cache
		WHERE content_hash = ? AND extractor_version = ?
	`, contentHash, extractorVersion).Scan(&record, &extracted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: cache get: %w", err)
	}

	entry := &models.ExtractionCacheEntry{
		ContentHash:      contentHash,
		ExtractorVersion: extractorVersion,
		ExtractedAt:      fromUnix(extracted),
	}
	if err := json.Unmarshal([]byte(record), &entry.Record); err != nil {
		return nil, fmt.Errorf("sqlite: decode cached record: %w", err)
	}
	return entry, nil
}

// Put keeps the first entry written for a key.
func (c *sqliteCacheBacking) Put(ctx context.Context, entry models.ExtractionCacheEntry) error {
	record, err := json.Marshal(entry.Record)
	if err != nil {
		return fmt.Errorf("sqlite: encode cached record: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO extraction_cache (content_hash, extractor_version, record, extracted_at)
		VALUES (?, ?, ?, ?)
	`, entry.ContentHash, entry.ExtractorVersion, string(record), toUnix(entry.ExtractedAt))
	if err != nil {
		return fmt.Errorf("sqlite: cache put: %w", err)
	}
	return nil
}
