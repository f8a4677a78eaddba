package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the crawler.
type Config struct {
	Keyword     string
	Locations   []string
	MaxResults  int
	Workers     int
	OutFile     string
	Headless    bool
	ChromePath  string
	Proxies     []string
	UserAgent   string
	MetricsAddr string
	RedisURL    string
	BaseURL     string

	// Browser pool
	MinBrowsers         int
	MaxBrowsers         int
	MaxPagesPerBrowser  int
	BrowserTTL          time.Duration
	IdleTimeout         time.Duration
	AcquireTimeout      time.Duration
	AcquirePoll         time.Duration
	MaintenanceInterval time.Duration

	// Retry
	MaxRetries      int
	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMultiplier float64

	// Circuit breaker
	BreakerThreshold    int
	BreakerResetTimeout time.Duration

	// Crawl
	NavigationTimeout time.Duration
	DetailTimeout     time.Duration
	DetailConcurrency int
	StallLimit        int
	MaxScrollAttempts int
	CellSlack         int
	Overfetch         float64
	CacheTTL          time.Duration
	GeocodeTTL        time.Duration
	ChallengeCooldown time.Duration
	RequestsPerSecond float64
	DelayMin          time.Duration
	DelayMax          time.Duration
	QueryConnector    string
	ExtraQualifiers   []string
	GlobalTimeout     time.Duration

	// PostgreSQL
	Persist    bool
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
}

// Default returns a Config populated with sensible defaults, overridden by
// the process environment.
func Default() Config {
	return Config{
		Keyword:     getEnv("CRAWL_KEYWORD", ""),
		Locations:   getEnvList("CRAWL_LOCATIONS", nil),
		MaxResults:  getEnvInt("CRAWL_MAX_RESULTS", 50),
		Workers:     getEnvInt("CRAWL_WORKERS", 1),
		OutFile:     getEnv("CRAWL_OUT_FILE", "leads.json"),
		Headless:    getEnvBool("CHROME_HEADLESS", true),
		ChromePath:  getEnv("CHROME_PATH", ""),
		Proxies:     getEnvList("CRAWL_PROXIES", nil),
		UserAgent:   getEnv("CRAWL_USER_AGENT", ""),
		MetricsAddr: getEnv("METRICS_ADDR", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		BaseURL:     getEnv("MAPS_BASE_URL", "https://www.google.com/maps/search/"),

		MinBrowsers:         getEnvInt("POOL_MIN_BROWSERS", 1),
		MaxBrowsers:         getEnvInt("POOL_MAX_BROWSERS", 4),
		MaxPagesPerBrowser:  getEnvInt("POOL_MAX_PAGES_PER_BROWSER", 50),
		BrowserTTL:          getEnvDuration("POOL_BROWSER_TTL", 30*time.Minute),
		IdleTimeout:         getEnvDuration("POOL_IDLE_TIMEOUT", 5*time.Minute),
		AcquireTimeout:      getEnvDuration("POOL_ACQUIRE_TIMEOUT", 30*time.Second),
		AcquirePoll:         getEnvDuration("POOL_ACQUIRE_POLL", 500*time.Millisecond),
		MaintenanceInterval: getEnvDuration("POOL_MAINTENANCE_INTERVAL", time.Minute),

		MaxRetries:      getEnvInt("RETRY_MAX", 3),
		RetryInitial:    getEnvDuration("RETRY_INITIAL_DELAY", time.Second),
		RetryMax:        getEnvDuration("RETRY_MAX_DELAY", 10*time.Second),
		RetryMultiplier: getEnvFloat("RETRY_MULTIPLIER", 2),

		BreakerThreshold:    getEnvInt("BREAKER_THRESHOLD", 5),
		BreakerResetTimeout: getEnvDuration("BREAKER_RESET_TIMEOUT", time.Minute),

		NavigationTimeout: getEnvDuration("CRAWL_NAVIGATION_TIMEOUT", 45*time.Second),
		DetailTimeout:     getEnvDuration("CRAWL_DETAIL_TIMEOUT", 35*time.Second),
		DetailConcurrency: getEnvInt("CRAWL_DETAIL_CONCURRENCY", 3),
		StallLimit:        getEnvInt("CRAWL_STALL_LIMIT", 5),
		MaxScrollAttempts: getEnvInt("CRAWL_MAX_SCROLLS", 40),
		CellSlack:         getEnvInt("CRAWL_CELL_SLACK", 5),
		Overfetch:         getEnvFloat("CRAWL_OVERFETCH", 1.5),
		CacheTTL:          getEnvDuration("CACHE_TTL", 24*time.Hour),
		GeocodeTTL:        getEnvDuration("GEOCODE_TTL", 30*24*time.Hour),
		ChallengeCooldown: getEnvDuration("CRAWL_CHALLENGE_COOLDOWN", 30*time.Second),
		RequestsPerSecond: getEnvFloat("CRAWL_RPS", 1),
		DelayMin:          getEnvDuration("CRAWL_DELAY_MIN", 800*time.Millisecond),
		DelayMax:          getEnvDuration("CRAWL_DELAY_MAX", 2500*time.Millisecond),
		QueryConnector:    getEnv("CRAWL_QUERY_CONNECTOR", "en"),
		ExtraQualifiers:   getEnvList("CRAWL_QUALIFIERS", []string{"centro", "cerca", "mejores"}),
		GlobalTimeout:     getEnvDuration("CRAWL_GLOBAL_TIMEOUT", 90*time.Minute),

		Persist:    getEnvBool("DB_PERSIST", false),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBUser:     getEnv("DB_USER", "leads"),
		DBPassword: getEnv("DB_PASSWORD", "leads"),
		DBName:     getEnv("DB_NAME", "leads"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

// Validate reports the first set of settings the crawler cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.MinBrowsers < 0 {
		errs = append(errs, errors.New("POOL_MIN_BROWSERS must not be negative"))
	}
	if c.MaxBrowsers < 1 {
		errs = append(errs, errors.New("POOL_MAX_BROWSERS must be at least 1"))
	}
	if c.MinBrowsers > c.MaxBrowsers {
		errs = append(errs, fmt.Errorf("POOL_MIN_BROWSERS (%d) exceeds POOL_MAX_BROWSERS (%d)", c.MinBrowsers, c.MaxBrowsers))
	}
	// Detail pages lease their own instances while the crawl keeps its search page.
	if c.DetailConcurrency < 1 {
		errs = append(errs, errors.New("CRAWL_DETAIL_CONCURRENCY must be at least 1"))
	} else if c.MaxBrowsers <= c.DetailConcurrency {
		errs = append(errs, fmt.Errorf("POOL_MAX_BROWSERS (%d) must exceed CRAWL_DETAIL_CONCURRENCY (%d)", c.MaxBrowsers, c.DetailConcurrency))
	}
	if c.MaxPagesPerBrowser < 1 {
		errs = append(errs, errors.New("POOL_MAX_PAGES_PER_BROWSER must be at least 1"))
	}
	if c.BreakerThreshold < 1 {
		errs = append(errs, errors.New("BREAKER_THRESHOLD must be at least 1"))
	}
	if c.RetryMultiplier < 1 {
		errs = append(errs, errors.New("RETRY_MULTIPLIER must be >= 1"))
	}
	if c.RetryMax < c.RetryInitial {
		errs = append(errs, errors.New("RETRY_MAX_DELAY must be >= RETRY_INITIAL_DELAY"))
	}
	if c.GlobalTimeout < 0 {
		errs = append(errs, errors.New("CRAWL_GLOBAL_TIMEOUT must not be negative (0 disables it)"))
	}
	if c.DelayMax < c.DelayMin {
		errs = append(errs, errors.New("CRAWL_DELAY_MAX must be >= CRAWL_DELAY_MIN"))
	}
	return errors.Join(errs...)
}

func getEnv(key string, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
