package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ModeAPI     = "api"
	ModeBrowser = "browser"

	CacheMemory = "memory"
	CacheRedis  = "redis"
)

type Config struct {
	Server    ServerConfig
	Operation OperationConfig
	JobAPI    JobAPIConfig
	Browser   BrowserConfig
	Scraper   ScraperConfig
	Cache     CacheConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// OperationConfig holds the resilience knobs shared by both fetch paths.
type OperationConfig struct {
	MaxAttempts              int
	BaseDelay                time.Duration
	RequestTimeout           time.Duration
	OperationTimeout         time.Duration
	PollInterval             time.Duration
	MaxPollAttempts          int
	MaxConsecutivePollErrors int
	CacheTTL                 time.Duration
	MaxRequestsPerSession    int
	SessionRotationInterval  time.Duration
	RateLimitMin             time.Duration
	RateLimitMax             time.Duration
}

type JobAPIConfig struct {
	BaseURL   string
	Token     string
	DatasetID string
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	Humanize       bool
}

type ScraperConfig struct {
	Mode        string
	UserAgents  []string
	ProxyServer string
}

type CacheConfig struct {
	Backend   string
	KeyPrefix string
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	ResultStream string
	MaxStreamLen int64
}

type DatabaseConfig struct {
	Enabled           bool
	URL               string
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	SSLMode           string
	MaxConns          int32
	RelayPollInterval time.Duration
	RelayBatchSize    int
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads .env files (default ".env") when present, then the
// environment.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 6*time.Minute),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", []string{"*"}),
		},
		Operation: OperationConfig{
			MaxAttempts:              getIntOrDefault("SCRAPER_MAX_ATTEMPTS", 3),
			BaseDelay:                getDurationOrDefault("SCRAPER_BASE_DELAY", time.Second),
			RequestTimeout:           getDurationOrDefault("SCRAPER_REQUEST_TIMEOUT", 30*time.Second),
			OperationTimeout:         getDurationOrDefault("SCRAPER_OPERATION_TIMEOUT", 5*time.Minute),
			PollInterval:             getDurationOrDefault("JOB_POLL_INTERVAL", 15*time.Second),
			MaxPollAttempts:          getIntOrDefault("JOB_MAX_POLL_ATTEMPTS", 20),
			MaxConsecutivePollErrors: getIntOrDefault("JOB_MAX_CONSECUTIVE_POLL_ERRORS", 5),
			CacheTTL:                 getDurationOrDefault("CACHE_TTL", time.Hour),
			MaxRequestsPerSession:    getIntOrDefault("SESSION_MAX_REQUESTS", 50),
			SessionRotationInterval:  getDurationOrDefault("SESSION_ROTATION_INTERVAL", 30*time.Minute),
			RateLimitMin:             getDurationOrDefault("SCRAPER_RATE_LIMIT_MIN", 2*time.Second),
			RateLimitMax:             getDurationOrDefault("SCRAPER_RATE_LIMIT_MAX", 5*time.Second),
		},
		JobAPI: JobAPIConfig{
			BaseURL:   getEnvOrDefault("JOB_API_BASE_URL", ""),
			Token:     getEnvOrDefault("JOB_API_TOKEN", ""),
			DatasetID: getEnvOrDefault("JOB_API_DATASET_ID", ""),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "en-US,en;q=0.9"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "America/New_York"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-US"),
			Humanize:       getBoolOrDefault("BROWSER_HUMANIZE", true),
		},
		Scraper: ScraperConfig{
			Mode:        getEnvOrDefault("SCRAPER_MODE", ModeAPI),
			UserAgents:  getStringSliceOrDefault("SCRAPER_USER_AGENTS", defaultUserAgents()),
			ProxyServer: getEnvOrDefault("SCRAPER_PROXY", ""),
		},
		Cache: CacheConfig{
			Backend:   getEnvOrDefault("CACHE_BACKEND", CacheMemory),
			KeyPrefix: getEnvOrDefault("CACHE_KEY_PREFIX", "review-cache:"),
		},
		Redis: RedisConfig{
			Addr:         getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:     getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:           getIntOrDefault("REDIS_DB", 0),
			ResultStream: getEnvOrDefault("REDIS_RESULT_STREAM", "stream:review_results"),
			MaxStreamLen: int64(getIntOrDefault("REDIS_MAX_STREAM_LEN", 10000)),
		},
		Database: DatabaseConfig{
			Enabled:           getBoolOrDefault("DB_ENABLED", false),
			URL:               getEnvOrDefault("DATABASE_URL", ""),
			Host:              getEnvOrDefault("DB_HOST", "localhost"),
			Port:              getIntOrDefault("DB_PORT", 5432),
			User:              getEnvOrDefault("DB_USER", "postgres"),
			Password:          getEnvOrDefault("DB_PASSWORD", ""),
			DBName:            getEnvOrDefault("DB_NAME", "review_scraper"),
			SSLMode:           getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns:          int32(getIntOrDefault("DB_MAX_CONNS", 10)),
			RelayPollInterval: getDurationOrDefault("OUTBOX_POLL_INTERVAL", 5*time.Second),
			RelayBatchSize:    getIntOrDefault("OUTBOX_BATCH_SIZE", 100),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	op := c.Operation

	if op.MaxAttempts < 1 {
		return fmt.Errorf("SCRAPER_MAX_ATTEMPTS must be at least 1")
	}
	if op.BaseDelay < 0 {
		return fmt.Errorf("SCRAPER_BASE_DELAY cannot be negative")
	}
	if op.RateLimitMin > op.RateLimitMax {
		return fmt.Errorf("SCRAPER_RATE_LIMIT_MIN cannot be greater than SCRAPER_RATE_LIMIT_MAX")
	}
	if op.PollInterval <= 0 {
		return fmt.Errorf("JOB_POLL_INTERVAL must be positive")
	}
	if op.MaxPollAttempts < 1 {
		return fmt.Errorf("JOB_MAX_POLL_ATTEMPTS must be at least 1")
	}
	if op.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}

	switch c.Scraper.Mode {
	case ModeAPI:
		if c.JobAPI.BaseURL == "" {
			return fmt.Errorf("JOB_API_BASE_URL is required in %s mode", ModeAPI)
		}
		if c.JobAPI.Token == "" {
			return fmt.Errorf("JOB_API_TOKEN is required in %s mode", ModeAPI)
		}
	case ModeBrowser:
	default:
		return fmt.Errorf("SCRAPER_MODE must be %q or %q, got %q", ModeAPI, ModeBrowser, c.Scraper.Mode)
	}

	switch c.Cache.Backend {
	case CacheMemory, CacheRedis:
	default:
		return fmt.Errorf("CACHE_BACKEND must be %q or %q, got %q", CacheMemory, CacheRedis, c.Cache.Backend)
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

func defaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}
