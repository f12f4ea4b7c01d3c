package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresEnabled  bool
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	DataDir     string
	SQLitePath  string
	RecordsPath string
	FailedDir   string
	ReportsDir  string

	CacheBackend     string // memory | file | sqlite
	CacheDir         string
	CacheMaxMB       int
	ExtractorVersion string

	SiteConcurrency    int
	SiteRPS            float64
	ExtractConcurrency int
	MaxRetries         int
	NavRetries         int
	RateLimitRetries   int
	BackoffBase        time.Duration
	BackoffMax         time.Duration
	FreshnessWindow    time.Duration

	MaxSessions           int
	SessionAcquireTimeout time.Duration
	PageTimeout           time.Duration
	ChromeBin             string
	Headless              bool

	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string
	LLMTimeout time.Duration
	LLMRetries int

	SitesFile        string
	LocationsFile    string
	FuzzyMaxDistance int

	LogLevel string
}

// Load reads the .env file (if any) and returns a populated Config struct.
// The returned bool reports whether a .env file was found.
func Load() (*Config, bool) {
	found := godotenv.Load() == nil

	dataDir := getEnv("DATA_DIR", "./data")

	return &Config{
		PostgresEnabled:  getEnvBool("POSTGRES_ENABLED", false),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "scraper"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "scraper123"),
		PostgresDB:       getEnv("POSTGRES_DB", "property_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		DataDir:     dataDir,
		SQLitePath:  getEnv("SQLITE_PATH", filepath.Join(dataDir, "pipeline.db")),
		RecordsPath: getEnv("RECORDS_PATH", filepath.Join(dataDir, "properties.json")),
		FailedDir:   getEnv("FAILED_DIR", filepath.Join(dataDir, "failed")),
		ReportsDir:  getEnv("REPORTS_DIR", filepath.Join(dataDir, "reports")),

		CacheBackend:     strings.ToLower(getEnv("CACHE_BACKEND", "sqlite")),
		CacheDir:         getEnv("CACHE_DIR", filepath.Join(dataDir, "cache")),
		CacheMaxMB:       getEnvInt("CACHE_MAX_MB", 64),
		ExtractorVersion: getEnv("EXTRACTOR_VERSION", "v1"),

		SiteConcurrency:    getEnvInt("SITE_CONCURRENCY", 2),
		SiteRPS:            getEnvFloat("SITE_RPS", 0.5),
		ExtractConcurrency: getEnvInt("EXTRACT_CONCURRENCY", 4),
		MaxRetries:         getEnvInt("MAX_RETRIES", 3),
		NavRetries:         getEnvInt("NAV_RETRIES", 3),
		RateLimitRetries:   getEnvInt("RATE_LIMIT_RETRIES", 8),
		BackoffBase:        getEnvDuration("BACKOFF_BASE", 2*time.Second),
		BackoffMax:         getEnvDuration("BACKOFF_MAX", 2*time.Minute),
		FreshnessWindow:    getEnvDuration("FRESHNESS_WINDOW", 24*time.Hour),

		MaxSessions:           getEnvInt("MAX_SESSIONS", 3),
		SessionAcquireTimeout: getEnvDuration("SESSION_ACQUIRE_TIMEOUT", 2*time.Minute),
		PageTimeout:           getEnvDuration("PAGE_TIMEOUT", 90*time.Second),
		ChromeBin:             getEnv("CHROME_BIN", ""),
		Headless:              getEnvBool("HEADLESS", true),

		LLMAPIKey:  getEnv("LLM_API_KEY", os.Getenv("OPENAI_API_KEY")),
		LLMBaseURL: getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMModel:   getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMTimeout: getEnvDuration("LLM_TIMEOUT", 120*time.Second),
		LLMRetries: getEnvInt("LLM_RETRIES", 8),

		SitesFile:        getEnv("SITES_FILE", "./configs/sites.yaml"),
		LocationsFile:    getEnv("LOCATIONS_FILE", "./configs/locations.yaml"),
		FuzzyMaxDistance: getEnvInt("FUZZY_MAX_DISTANCE", 2),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}, found
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}
