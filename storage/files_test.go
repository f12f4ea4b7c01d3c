package storage

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realestate-crawler/models"
)

func strPtr(s string) *string { return &s }

func TestJSONRecordStoreMergeSupersedesByKey(t *testing.T) {
	ctx := context.Background()
	store := NewJSONRecordStore(filepath.Join(t.TempDir(), "out", "properties.json"))

	n, err := store.Merge(ctx, []models.PropertyRecord{
		{Site: "housing", ListingID: "2", Title: "Plot B", Price: 100},
		{Site: "housing", ListingID: "1", Title: "Plot A", Price: 50, LocationKey: strPtr("duvvada")},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.Merge(ctx, []models.PropertyRecord{
		{Site: "housing", ListingID: "1", Title: "Plot A", Price: 45, LocationKey: strPtr("duvvada")},
		{Site: "magicbricks", ListingID: "1", Title: "Other site, same id"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "housing:1", all[0].Key())
	assert.Equal(t, 45.0, all[0].Price)
	assert.Equal(t, "magicbricks:1", all[2].Key())

	n, err = store.Merge(ctx, []models.PropertyRecord{all[0]})
	require.NoError(t, err)
	assert.Zero(t, n, "identical record is not a change")
}

func TestJSONRecordStoreWritesNullLocationKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "properties.json")
	store := NewJSONRecordStore(path)

	_, err := store.Merge(context.Background(), []models.PropertyRecord{{Site: "s", ListingID: "1", LocationRaw: "somewhere"}})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"location_key": null`)
}

func TestJSONRecordStoreRejectsKeylessRecord(t *testing.T) {
	store := NewJSONRecordStore(filepath.Join(t.TempDir(), "properties.json"))
	_, err := store.Merge(context.Background(), []models.PropertyRecord{{Title: "orphan"}})
	assert.Error(t, err)
}

func TestJSONRecordStoreAllOnMissingFile(t *testing.T) {
	store := NewJSONRecordStore(filepath.Join(t.TempDir(), "none.json"))
	all, err := store.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestManifestCSVWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "manifest.csv")
	w, err := NewManifestCSVWriter(path)
	require.NoError(t, err)

	err = w.WriteEntries([]models.CrawlManifestEntry{
		{RunID: "r1", Site: "housing", ListingID: "1", Status: models.StatusFetched, AttemptCount: 1, UpdatedAt: time.Now()},
		{RunID: "r1", Site: "housing", ListingID: "2", Status: models.StatusFailed, AttemptCount: 3, LastError: "selector, missing"},
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "status", rows[0][3])
	assert.Equal(t, "failed", rows[2][3])
	assert.Equal(t, "selector, missing", rows[2][5])
}

func TestDeadLetterRoundTrip(t *testing.T) {
	dl := NewDeadLetter(filepath.Join(t.TempDir(), "failed"))

	require.NoError(t, dl.Write(models.FailedExtraction{
		Site: "housing", ListingID: "7", ContentHash: "deadbeef",
		RawContent: "raw", Responses: []string{"{}"},
		Issues: []models.ValidationIssue{{Field: "price", Message: "required"}},
		Error:  "schema violation",
	}))

	ids, err := dl.List()
	require.NoError(t, err)
	id := DeadLetterID("housing", "7", "deadbeef")
	assert.Equal(t, []string{id}, ids)

	f, err := dl.Read(id)
	require.NoError(t, err)
	assert.Equal(t, "raw", f.RawContent)
	assert.Equal(t, "price", f.Issues[0].Field)

	require.NoError(t, dl.Remove(id))
	_, err = dl.Read(id)
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.Error(t, dl.Write(models.FailedExtraction{Site: "housing"}))
	assert.Error(t, dl.Write(models.FailedExtraction{Site: "housing", ContentHash: "deadbeef"}))
}

func TestDeadLetterKeepsEveryListingWithSameContent(t *testing.T) {
	dl := NewDeadLetter(filepath.Join(t.TempDir(), "failed"))

	for _, id := range []string{"7", "8", "8"} {
		require.NoError(t, dl.Write(models.FailedExtraction{
			Site: "housing", ListingID: id, ContentHash: "deadbeef", RawContent: "same page",
		}))
	}

	ids, err := dl.List()
	require.NoError(t, err)
	require.Len(t, ids, 2)

	var listings []string
	for _, id := range ids {
		f, err := dl.Read(id)
		require.NoError(t, err)
		listings = append(listings, f.ListingID)
	}
	assert.Equal(t, []string{"7", "8"}, listings)
}

func TestDeadLetterIDIsFileSafe(t *testing.T) {
	assert.Equal(t, "magicbricks_a-b-c_ff00", DeadLetterID("magicbricks", "a/b c", "ff00"))
}

func TestBuildUpsertDedupesAndNumbersPlaceholders(t *testing.T) {
	beds := 3
	batch := dedupeByKey([]models.PropertyRecord{
		{Site: "housing", ListingID: "1", Title: "old"},
		{Site: "housing", ListingID: "2", BedroomCount: &beds},
		{Site: "housing", ListingID: "1", Title: "new"},
	})
	require.Len(t, batch, 2)
	assert.Equal(t, "new", batch[0].Title)

	query, args := buildUpsert(batch)
	assert.Len(t, args, 2*pgColumns)
	assert.Contains(t, query, "$36")
	assert.NotContains(t, query, "$37")
	assert.Contains(t, query, "ON CONFLICT (site, listing_id) DO UPDATE")
}

func TestPostgresWriterIntegration(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	pw, err := NewPostgresWriter(ctx, dsn, nil)
	require.NoError(t, err)
	defer pw.Close()

	rec := models.PropertyRecord{
		Site: "it", ListingID: "1", Title: "Plot", Price: 10, Area: 1800,
		Amenities: []string{"park"}, LocationKey: strPtr("duvvada"),
		Coordinates: &models.Coordinates{Lat: 17.7, Lon: 83.2},
	}
	require.NoError(t, pw.Write(ctx, []models.PropertyRecord{rec}))
	rec.Price = 12
	require.NoError(t, pw.Write(ctx, []models.PropertyRecord{rec}))

	all, err := pw.FetchAll(ctx)
	require.NoError(t, err)
	for _, r := range all {
		if r.Key() == "it:1" {
			assert.Equal(t, 12.0, r.Price)
			assert.Equal(t, []string{"park"}, r.Amenities)
			return
		}
	}
	t.Fatal("upserted record not found")
}
