package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"realestate-crawler/models"
	"realestate-crawler/utils"
)

const pgColumns = 18

// PostgresWriter mirrors processed records into PostgreSQL for downstream
// consumers. Rows are upserted by (site, listing_id).
type PostgresWriter struct {
	db *sql.DB
}

var _ RecordWriter = (*PostgresWriter)(nil)

// NewPostgresWriter opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresWriter.
func NewPostgresWriter(ctx context.Context, dsn string, logger *utils.Logger) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	retry := utils.RetryConfig{
		MaxAttempts: 10,
		BaseDelay:   2 * time.Second,
		MaxDelay:    2 * time.Second,
		Logger:      logger,
	}
	if err := retry.Do(ctx, "postgres ping", db.PingContext); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	pw := &PostgresWriter{db: db}
	if err := pw.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return pw, nil
}

func (pw *PostgresWriter) migrate(ctx context.Context) error {
	_, err := pw.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS property_records (
			id               SERIAL PRIMARY KEY,
			site             VARCHAR(50)   NOT NULL,
			listing_id       TEXT          NOT NULL,
			title            TEXT          NOT NULL DEFAULT '',
			price            NUMERIC(16,2) NOT NULL DEFAULT 0,
			area_sqft        NUMERIC(14,2) NOT NULL DEFAULT 0,
			price_per_sqft   NUMERIC(14,2) NOT NULL DEFAULT 0,
			bedroom_count    INTEGER,
			property_type    TEXT          NOT NULL DEFAULT '',
			transaction_type TEXT          NOT NULL DEFAULT '',
			facing           TEXT          NOT NULL DEFAULT '',
			location_raw     TEXT          NOT NULL DEFAULT '',
			location_key     TEXT,
			lat              DOUBLE PRECISION,
			lon              DOUBLE PRECISION,
			amenities        TEXT[]        NOT NULL DEFAULT '{}',
			source_url       TEXT          NOT NULL DEFAULT '',
			content_hash     TEXT          NOT NULL DEFAULT '',
			updated_at       TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
			UNIQUE (site, listing_id)
		);

		CREATE INDEX IF NOT EXISTS idx_property_records_price    ON property_records(price);
		CREATE INDEX IF NOT EXISTS idx_property_records_location ON property_records(location_key);
		CREATE INDEX IF NOT EXISTS idx_property_records_site     ON property_records(site);
	`)
	return err
}

// Write upserts all records in batches.
func (pw *PostgresWriter) Write(ctx context.Context, records []models.PropertyRecord) error {
	if len(records) == 0 {
		return nil
	}

	const batchSize = 50
	for i := 0; i < len(records); i += batchSize {
		end := min(i+batchSize, len(records))
		query, args := buildUpsert(dedupeByKey(records[i:end]))
		if _, err := pw.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("postgres: upsert batch at %d: %w", i, err)
		}
	}
	return nil
}

// dedupeByKey keeps the last record per key; Postgres rejects an upsert that
// touches the same row twice.
func dedupeByKey(batch []models.PropertyRecord) []models.PropertyRecord {
	idx := make(map[string]int, len(batch))
	out := make([]models.PropertyRecord, 0, len(batch))
	for _, r := range batch {
		if i, ok := idx[r.Key()]; ok {
			out[i] = r
			continue
		}
		idx[r.Key()] = len(out)
		out = append(out, r)
	}
	return out
}

func buildUpsert(batch []models.PropertyRecord) (string, []any) {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]any, 0, len(batch)*pgColumns)

	for idx, r := range batch {
		base := idx * pgColumns
		ph := make([]string, pgColumns)
		for c := range ph {
			ph[c] = fmt.Sprintf("$%d", base+c+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(ph, ",")+")")

		var lat, lon sql.NullFloat64
		if r.Coordinates != nil {
			lat = sql.NullFloat64{Float64: r.Coordinates.Lat, Valid: true}
			lon = sql.NullFloat64{Float64: r.Coordinates.Lon, Valid: true}
		}
		var beds sql.NullInt64
		if r.BedroomCount != nil {
			beds = sql.NullInt64{Int64: int64(*r.BedroomCount), Valid: true}
		}
		var locKey sql.NullString
		if r.LocationKey != nil {
			locKey = sql.NullString{String: *r.LocationKey, Valid: true}
		}
		amenities := r.Amenities
		if amenities == nil {
			amenities = []string{}
		}

		valueArgs = append(valueArgs,
			r.Site, r.ListingID, r.Title, r.Price, r.Area, r.PricePerArea, beds,
			r.PropertyType, r.TransactionType, r.Facing, r.LocationRaw, locKey,
			lat, lon, pq.Array(amenities), r.SourceURL, r.ContentHash, time.Now().UTC())
	}

	query := fmt.Sprintf(`
		INSERT INTO property_records (site, listing_id, title, price, area_sqft, price_per_sqft, bedroom_count,
			property_type, transaction_type, facing, location_raw, location_key,
			lat, lon, amenities, source_url, content_hash, updated_at)
		VALUES %s
		ON CONFLICT (site, listing_id) DO UPDATE SET
			title = EXCLUDED.title,
			price = EXCLUDED.price,
			area_sqft = EXCLUDED.area_sqft,
			price_per_sqft = EXCLUDED.price_per_sqft,
			bedroom_count = EXCLUDED.bedroom_count,
			property_type = EXCLUDED.property_type,
			transaction_type = EXCLUDED.transaction_type,
			facing = EXCLUDED.facing,
			location_raw = EXCLUDED.location_raw,
			location_key = EXCLUDED.location_key,
			lat = EXCLUDED.lat,
			lon = EXCLUDED.lon,
			amenities = EXCLUDED.amenities,
			source_url = EXCLUDED.source_url,
			content_hash = EXCLUDED.content_hash,
			updated_at = EXCLUDED.updated_at
	`, strings.Join(valueStrings, ","))

	return query, valueArgs
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}

// FetchAll retrieves all stored records ordered by site and listing id.
func (pw *PostgresWriter) FetchAll(ctx context.Context) ([]models.PropertyRecord, error) {
	rows, err := pw.db.QueryContext(ctx, `
		SELECT site, listing_id, title, price, area_sqft, price_per_sqft, bedroom_count,
			property_type, transaction_type, facing, location_raw, location_key,
			lat, lon, amenities, source_url, content_hash
		FROM property_records
		ORDER BY site, listing_id
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch all: %w", err)
	}
	defer rows.Close()

	var out []models.PropertyRecord
	for rows.Next() {
		var (
			r        models.PropertyRecord
			beds     sql.NullInt64
			locKey   sql.NullString
			lat, lon sql.NullFloat64
		)
		if err := rows.Scan(
			&r.Site, &r.ListingID, &r.Title, &r.Price, &r.Area, &r.PricePerArea, &beds,
			&r.PropertyType, &r.TransactionType, &r.Facing, &r.LocationRaw, &locKey,
			&lat, &lon, pq.Array(&r.Amenities), &r.SourceURL, &r.ContentHash,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		r.Currency = models.CurrencyINR
		r.AreaUnit = models.AreaUnitSqFt
		if beds.Valid {
			n := int(beds.Int64)
			r.BedroomCount = &n
		}
		if locKey.Valid {
			k := locKey.String
			r.LocationKey = &k
		}
		if lat.Valid && lon.Valid {
			r.Coordinates = &models.Coordinates{Lat: lat.Float64, Lon: lon.Float64}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
