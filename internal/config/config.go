// Package config provides configuration management for the ad discovery
// pipeline. It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Meta       MetaConfig
	Search     SearchConfig
	Sites      SitesConfig
	Catalog    CatalogConfig
	Redis      RedisConfig
	Classifier ClassifierConfig
	Logging    LoggingConfig
}

// MetaConfig holds ad-archive API configuration
type MetaConfig struct {
	BaseURL           string
	AccessTokens      []string // one entry per credential, comma separated in env
	Proxies           []string // optional, aligned by index with AccessTokens
	RequestsPerSecond float64
	Timeout           time.Duration
	PageLimit         int // initial page size, halved on protocol pushback
	PageLimitFloor    int
	BatchSize         int // page ids per exact-count request
	KeywordDelay      time.Duration
	BatchDelay        time.Duration
	PageDelay         time.Duration
}

// SearchConfig holds keyword search thresholds and locale defaults
type SearchConfig struct {
	Countries      []string
	Languages      []string
	MinAdsInitial  int // preliminary filter after keyword search
	MinAdsTracking int // threshold for tracked-page persistence
	MinAdsExport   int // threshold for the exported ad list
}

// SitesConfig holds website fetching and CMS detection configuration
type SitesConfig struct {
	Workers      int
	Timeout      time.Duration
	ProbeTimeout time.Duration
	MaxAttempts  int
	ProxyURL     string // optional scraping proxy, tried before direct access
}

// CatalogConfig holds sitemap counting budgets
type CatalogConfig struct {
	MaxSitemaps     int
	MaxProducts     int
	ProductsPerPage int
	MaxJSONPages    int
}

// RedisConfig holds scan-cache Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
	EntryTTL       time.Duration
	Freshness      time.Duration
}

// ClassifierConfig holds the external niche-classifier configuration.
// An empty APIKey disables classification.
type ClassifierConfig struct {
	APIKey    string
	Endpoint  string
	BatchSize int
	Timeout   time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional, env vars can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Meta: MetaConfig{
			BaseURL:           getEnv("META_BASE_URL", "https://graph.facebook.com/v24.0"),
			AccessTokens:      getEnvAsList("META_ACCESS_TOKENS"),
			Proxies:           getEnvAsList("META_PROXIES"),
			RequestsPerSecond: getEnvAsFloat("META_REQUESTS_PER_SECOND", 2.0),
			Timeout:           getEnvAsDuration("META_TIMEOUT", 20*time.Second),
			PageLimit:         getEnvAsInt("META_PAGE_LIMIT", 500),
			PageLimitFloor:    getEnvAsInt("META_PAGE_LIMIT_FLOOR", 100),
			BatchSize:         getEnvAsInt("META_BATCH_SIZE", 10),
			KeywordDelay:      getEnvAsDuration("META_KEYWORD_DELAY", 1500*time.Millisecond),
			BatchDelay:        getEnvAsDuration("META_BATCH_DELAY", 500*time.Millisecond),
			PageDelay:         getEnvAsDuration("META_PAGE_DELAY", 300*time.Millisecond),
		},
		Search: SearchConfig{
			Countries:      getEnvAsListDefault("SEARCH_COUNTRIES", []string{"FR"}),
			Languages:      getEnvAsListDefault("SEARCH_LANGUAGES", []string{"fr"}),
			MinAdsInitial:  getEnvAsInt("SEARCH_MIN_ADS_INITIAL", 1),
			MinAdsTracking: getEnvAsInt("SEARCH_MIN_ADS_TRACKING", 10),
			MinAdsExport:   getEnvAsInt("SEARCH_MIN_ADS_EXPORT", 20),
		},
		Sites: SitesConfig{
			Workers:      getEnvAsInt("SITES_WORKERS", 8),
			Timeout:      getEnvAsDuration("SITES_TIMEOUT", 25*time.Second),
			ProbeTimeout: getEnvAsDuration("SITES_PROBE_TIMEOUT", 10*time.Second),
			MaxAttempts:  getEnvAsInt("SITES_MAX_ATTEMPTS", 3),
			ProxyURL:     getEnv("SITES_PROXY_URL", ""),
		},
		Catalog: CatalogConfig{
			MaxSitemaps:     getEnvAsInt("CATALOG_MAX_SITEMAPS", 10),
			MaxProducts:     getEnvAsInt("CATALOG_MAX_PRODUCTS", 5000),
			ProductsPerPage: getEnvAsInt("CATALOG_PRODUCTS_PER_PAGE", 250),
			MaxJSONPages:    getEnvAsInt("CATALOG_MAX_JSON_PAGES", 10),
		},
		Redis: RedisConfig{
			Host:           getEnv("REDIS_HOST", "localhost"),
			Port:           getEnv("REDIS_PORT", "6379"),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getEnvAsInt("REDIS_DB", 0),
			MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			EntryTTL:       getEnvAsDuration("SCAN_CACHE_TTL", 7*24*time.Hour),
			Freshness:      getEnvAsDuration("SCAN_CACHE_FRESHNESS", 24*time.Hour),
		},
		Classifier: ClassifierConfig{
			APIKey:    getEnv("CLASSIFIER_API_KEY", ""),
			Endpoint:  getEnv("CLASSIFIER_ENDPOINT", ""),
			BatchSize: getEnvAsInt("CLASSIFIER_BATCH_SIZE", 20),
			Timeout:   getEnvAsDuration("CLASSIFIER_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the loaded configuration for fatal problems.
// A pipeline without a single access token cannot do anything useful.
func (c *Config) Validate() error {
	if len(c.Meta.AccessTokens) == 0 {
		return fmt.Errorf("no access tokens configured, set META_ACCESS_TOKENS")
	}
	if c.Meta.PageLimitFloor <= 0 || c.Meta.PageLimit < c.Meta.PageLimitFloor {
		return fmt.Errorf("invalid page limits: limit=%d floor=%d", c.Meta.PageLimit, c.Meta.PageLimitFloor)
	}
	if c.Sites.Workers <= 0 {
		return fmt.Errorf("invalid worker count: %d", c.Sites.Workers)
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated environment variable, dropping blanks
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnvAsListDefault is getEnvAsList with a fallback when unset or empty
func getEnvAsListDefault(key string, defaultValue []string) []string {
	if values := getEnvAsList(key); len(values) > 0 {
		return values
	}
	return defaultValue
}
