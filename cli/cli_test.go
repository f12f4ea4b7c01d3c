package cli

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realestate-crawler/config"
	"realestate-crawler/models"
	"realestate-crawler/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DataDir:          dir,
		SQLitePath:       filepath.Join(dir, "pipeline.db"),
		RecordsPath:      filepath.Join(dir, "properties.json"),
		FailedDir:        filepath.Join(dir, "failed"),
		ReportsDir:       filepath.Join(dir, "reports"),
		CacheBackend:     "memory",
		ExtractorVersion: "v1",
		MaxRetries:       1,
		SitesFile:        "../configs/sites.yaml",
		LocationsFile:    "../configs/locations.yaml",
		FuzzyMaxDistance: 2,
		LLMRetries:       8,
		LogLevel:         "error",
	}
}

func execute(t *testing.T, c *config.Config, args ...string) (string, error) {
	t.Helper()
	prev := loadConfig
	loadConfig = func() *config.Config { return c }
	t.Cleanup(func() {
		loadConfig = prev
		extractSince, extractReprocess, reportFromPostgres = 0, false, false
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBuildRegistryRegistersEveryHook(t *testing.T) {
	sites, err := config.LoadSites("../configs/sites.yaml")
	require.NoError(t, err)

	r := buildRegistry(sites.Sites)
	assert.Equal(t, []string{"airbnb", "housing", "magicbricks"}, r.Names())
}

func TestSiteNamesDefaultsToEnabledSites(t *testing.T) {
	a, err := newApp(testConfig(t), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"housing", "magicbricks"}, a.siteNames(nil))
	assert.Equal(t, []string{"airbnb"}, a.siteNames([]string{"airbnb"}))
}

func TestLocationsResolvesArguments(t *testing.T) {
	out, err := execute(t, testConfig(t), "locations", "Duvvada, Visakhapatnam", "Timbuktu")
	require.NoError(t, err)

	assert.Contains(t, out, `"Duvvada, Visakhapatnam" → visakhapatnam/duvvada`)
	assert.Contains(t, out, `"Timbuktu" → uncategorised`)
}

func TestLocationsListsHierarchy(t *testing.T) {
	out, err := execute(t, testConfig(t), "locations")
	require.NoError(t, err)

	assert.Contains(t, out, "Visakhapatnam (visakhapatnam)\n")
	assert.Contains(t, out, "\n  Gajuwaka (visakhapatnam/gajuwaka)\n")
	assert.Contains(t, out, "\n    Duvvada (visakhapatnam/duvvada)\n")
}

func TestReportReadsJSONStore(t *testing.T) {
	c := testConfig(t)
	key := "visakhapatnam/duvvada"
	_, err := storage.NewJSONRecordStore(c.RecordsPath).Merge(context.Background(), []models.PropertyRecord{
		{Site: "housing", ListingID: "1", Title: "Plot A", Price: 2_500_000, Area: 1000, LocationKey: &key, ScrapedDate: "2026-10-01"},
		{Site: "magicbricks", ListingID: "9", Title: "Plot B", Price: 1_500_000, Area: 500, ScrapedDate: "2026-10-02"},
	})
	require.NoError(t, err)

	out, err := execute(t, c, "report")
	require.NoError(t, err)

	assert.Contains(t, out, "PROPERTY STORE INSIGHTS")
	assert.Contains(t, out, "Total records   : \033[1m2\033[0m")
	assert.Contains(t, out, key)
}

func TestExtractRequiresAPIKey(t *testing.T) {
	_, err := execute(t, testConfig(t), "extract")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key is required")
}

func TestUnknownCacheBackend(t *testing.T) {
	c := testConfig(t)
	c.CacheBackend = "redis"
	a, err := newApp(c, nil)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.cacheBacking()
	assert.ErrorContains(t, err, `unknown CACHE_BACKEND "redis"`)
}

func TestAgentConfigUsesRetryBudget(t *testing.T) {
	c := testConfig(t)
	c.LLMRetries = 5
	a, err := newApp(c, nil)
	require.NoError(t, err)

	ac := a.agentConfig()
	assert.Equal(t, 6, ac.TransportAttempts)
	assert.Equal(t, c.MaxRetries, ac.MaxRetries)
}
