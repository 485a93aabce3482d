package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	// Delivery gateway settings
	GatewayURL   string
	GatewayToken string

	// Fetcher settings
	FetcherKind   string // "rss" or "html"
	FetchTimeout  time.Duration
	MaxArticles   int
	SearchLang    string // hl query parameter for Google News
	SearchCountry string // gl query parameter for Google News

	// URL shortener settings
	ShortURLAPIURL string
	ShortURLAPIKey string

	// Result cache settings
	CacheTTL time.Duration

	// Storage settings
	DataDir                string
	SubscribersPath        string
	SentNewsPath           string
	DefaultSubscribersPath string

	// Scheduler settings
	DeliverySpec        string
	RefillSpec          string
	PurgeSpec           string
	LedgerRetentionDays int
	SendTimeout         time.Duration

	// Monitoring HTTP settings
	RateLimitWindow time.Duration
	RateLimitMax    int

	// App settings
	Debug bool
}

func Load() (*Config, error) {
	cfg := &Config{
		// Default values
		FetcherKind:            "rss",
		FetchTimeout:           30 * time.Second,
		MaxArticles:            20,
		SearchLang:             "es-419",
		SearchCountry:          "PE",
		CacheTTL:               1 * time.Hour,
		DataDir:                "temp",
		DefaultSubscribersPath: "configs/subscribers.yaml",
		DeliverySpec:           "@every 1m",
		RefillSpec:             "@every 1h",
		PurgeSpec:              "@every 24h",
		LedgerRetentionDays:    20,
		SendTimeout:            60 * time.Second,
		RateLimitWindow:        15 * time.Minute,
		RateLimitMax:           100,
	}

	// Load from environment
	cfg.GatewayURL = os.Getenv("GATEWAY_URL")
	cfg.GatewayToken = os.Getenv("GATEWAY_TOKEN")
	cfg.ShortURLAPIURL = os.Getenv("SHORTURL_API_URL")
	cfg.ShortURLAPIKey = os.Getenv("SHORTURL_API_KEY")

	cfg.FetcherKind = getEnvOrDefault("FETCHER", cfg.FetcherKind)
	cfg.SearchLang = getEnvOrDefault("SEARCH_LANG", cfg.SearchLang)
	cfg.SearchCountry = getEnvOrDefault("SEARCH_COUNTRY", cfg.SearchCountry)
	cfg.DataDir = getEnvOrDefault("DATA_DIR", cfg.DataDir)
	cfg.DefaultSubscribersPath = getEnvOrDefault("DEFAULT_SUBSCRIBERS_PATH", cfg.DefaultSubscribersPath)
	cfg.DeliverySpec = getEnvOrDefault("DELIVERY_SPEC", cfg.DeliverySpec)
	cfg.RefillSpec = getEnvOrDefault("REFILL_SPEC", cfg.RefillSpec)
	cfg.PurgeSpec = getEnvOrDefault("PURGE_SPEC", cfg.PurgeSpec)

	cfg.MaxArticles = getEnvIntOrDefault("MAX_ARTICLES", cfg.MaxArticles)
	cfg.LedgerRetentionDays = getEnvIntOrDefault("LEDGER_RETENTION_DAYS", cfg.LedgerRetentionDays)
	cfg.RateLimitMax = getEnvIntOrDefault("RATE_LIMIT_MAX", cfg.RateLimitMax)

	if v := getEnvIntOrDefault("FETCH_TIMEOUT_SECONDS", 0); v > 0 {
		cfg.FetchTimeout = time.Duration(v) * time.Second
	}
	if v := getEnvIntOrDefault("SEND_TIMEOUT_SECONDS", 0); v > 0 {
		cfg.SendTimeout = time.Duration(v) * time.Second
	}
	if v := getEnvIntOrDefault("CACHE_TTL_MINUTES", 0); v > 0 {
		cfg.CacheTTL = time.Duration(v) * time.Minute
	}

	if debug := os.Getenv("DEBUG"); debug == "true" {
		cfg.Debug = true
	}

	cfg.SubscribersPath = filepath.Join(cfg.DataDir, "subscribers.json")
	cfg.SentNewsPath = filepath.Join(cfg.DataDir, "sent_news.json")

	return cfg, cfg.Validate()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func (c *Config) Validate() error {
	if c.GatewayURL == "" {
		return fmt.Errorf("GATEWAY_URL is required")
	}
	if c.FetcherKind != "rss" && c.FetcherKind != "html" {
		return fmt.Errorf("FETCHER must be 'rss' or 'html'")
	}
	if c.LedgerRetentionDays < 1 {
		return fmt.Errorf("LEDGER_RETENTION_DAYS must be positive")
	}
	return nil
}
