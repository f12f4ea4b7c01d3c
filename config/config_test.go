package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATA_DIR", "/tmp/pipeline")

	cfg, found := Load()
	assert.False(t, found)
	assert.Equal(t, filepath.Join("/tmp/pipeline", "pipeline.db"), cfg.SQLitePath)
	assert.Equal(t, 24*time.Hour, cfg.FreshnessWindow)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 8, cfg.LLMRetries)
	assert.Equal(t, "sqlite", cfg.CacheBackend)
	assert.True(t, cfg.Headless)
}

func TestLoadFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	env := "SITE_CONCURRENCY=7\nFRESHNESS_WINDOW=6h\nSITE_RPS=1.5\nHEADLESS=false\nCACHE_BACKEND=File\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600))
	for _, k := range []string{"SITE_CONCURRENCY", "FRESHNESS_WINDOW", "SITE_RPS", "HEADLESS", "CACHE_BACKEND"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg, found := Load()
	assert.True(t, found)
	assert.Equal(t, 7, cfg.SiteConcurrency)
	assert.Equal(t, 6*time.Hour, cfg.FreshnessWindow)
	assert.Equal(t, 1.5, cfg.SiteRPS)
	assert.False(t, cfg.Headless)
	assert.Equal(t, "file", cfg.CacheBackend)
}

func TestGetEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("X_INT", "abc")
	t.Setenv("X_DUR", "soon")
	assert.Equal(t, 4, getEnvInt("X_INT", 4))
	assert.Equal(t, time.Second, getEnvDuration("X_DUR", time.Second))
}

func TestDSN(t *testing.T) {
	cfg := &Config{
		PostgresHost: "db", PostgresPort: "5433", PostgresUser: "u",
		PostgresPassword: "p", PostgresDB: "d", PostgresSSLMode: "disable",
	}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=d sslmode=disable", cfg.DSN())
}

func TestParseSites(t *testing.T) {
	data := []byte(`
sites:
  - name: housing
    enabled: true
    filters:
      location: Visakhapatnam
      property_type: plot
      max_price: 5000000
  - name: magicbricks
    enabled: false
    max_pages: 3
`)
	f, err := ParseSites(data)
	require.NoError(t, err)
	require.Len(t, f.Sites, 2)
	assert.Equal(t, 1, f.Sites[0].MaxPages)
	assert.Equal(t, 3, f.Sites[1].MaxPages)
	assert.Equal(t, "Visakhapatnam", f.Sites[0].Filters.Location)

	enabled := f.Enabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, "housing", enabled[0].Name)

	named := f.Enabled("magicbricks")
	require.Len(t, named, 1)
	assert.Equal(t, "magicbricks", named[0].Name)
}

func TestParseSitesRejectsBadInput(t *testing.T) {
	tests := map[string]string{
		"no name":   "sites:\n  - enabled: true\n",
		"duplicate": "sites:\n  - name: a\n  - name: a\n",
		"bad range": "sites:\n  - name: a\n    filters:\n      min_price: 10\n      max_price: 5\n",
		"not yaml":  "sites: [",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSites([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestLoadSitesMissingFileFallsBack(t *testing.T) {
	f, err := LoadSites(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, f.Enabled())
}
