package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is built once in main and handed to constructors by value.
// No package keeps its own copy of the environment.
type Config struct {
	AppPort string

	PostgresDSN string
	RedisAddr   string

	NaverClientID     string
	NaverClientSecret string
	NaverBaseURL      string

	// Broad keyword used by the API source when collecting "latest":
	// the search API has no headline endpoint, so we search a generic
	// keyword sorted by date instead.
	LatestKeyword string

	RequestDelay time.Duration // between paginated API calls and between keywords

	RecencyWindow     time.Duration
	RecencyMaxRecords int
	RetryAttempts     int
	RetryDelay        time.Duration

	RenderServiceURL string // optional headless-render sidecar, empty = disabled

	WatchlistCronSpec string
	LatestCronSpec    string

	BasicAuthUser string
	BasicAuthPass string
}

func Load() *Config {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		AppPort:     getEnv("APP_PORT", "9000"),
		PostgresDSN: getEnv("POSTGRES_DSN", "host=localhost user=newsgather password=newsgather dbname=newsgather port=5432 sslmode=disable TimeZone=UTC"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6380"),

		NaverClientID:     getEnv("NAVER_CLIENT_ID", ""),
		NaverClientSecret: getEnv("NAVER_CLIENT_SECRET", ""),
		NaverBaseURL:      getEnv("NAVER_BASE_URL", "https://openapi.naver.com/v1/search/news.json"),
		LatestKeyword:     getEnv("LATEST_KEYWORD", "뉴스"),

		RequestDelay: getDuration("REQUEST_DELAY", time.Second),

		RecencyWindow:     getDuration("RECENCY_WINDOW", time.Hour),
		RecencyMaxRecords: getInt("RECENCY_MAX_RECORDS", 1000),
		RetryAttempts:     getInt("RETRY_ATTEMPTS", 3),
		RetryDelay:        getDuration("RETRY_DELAY", time.Second),

		RenderServiceURL: getEnv("RENDER_SERVICE_URL", ""),

		WatchlistCronSpec: getEnv("WATCHLIST_CRON_SPEC", "*/30 * * * *"),
		LatestCronSpec:    getEnv("LATEST_CRON_SPEC", "0 * * * *"),

		BasicAuthUser: getEnv("APP_BASIC_USER", ""),
		BasicAuthPass: getEnv("APP_BASIC_PASS", ""),
	}

	log.Printf("config loaded: port=%s recency=%s watchlist_cron=%q", cfg.AppPort, cfg.RecencyWindow, cfg.WatchlistCronSpec)
	return cfg
}

// Validate fails fast on broken settings before anything is constructed.
// Naver credentials are only required when the API source is enabled;
// crawl-only setups pass useAPI=false.
func (c *Config) Validate(useAPI bool) error {
	if useAPI && (c.NaverClientID == "" || c.NaverClientSecret == "") {
		return fmt.Errorf("config: NAVER_CLIENT_ID / NAVER_CLIENT_SECRET are required when the API source is enabled")
	}
	if c.RecencyMaxRecords <= 0 {
		return fmt.Errorf("config: RECENCY_MAX_RECORDS must be positive, got %d", c.RecencyMaxRecords)
	}
	if c.RetryAttempts <= 0 {
		return fmt.Errorf("config: RETRY_ATTEMPTS must be positive, got %d", c.RetryAttempts)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("warn: %s=%q is not an integer, using %d", key, v, def)
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("warn: %s=%q is not a duration, using %s", key, v, def)
		return def
	}
	return d
}
