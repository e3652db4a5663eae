package config

import (
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	HTTPAddr             string
	StoreDriver          string
	DatabaseURL          string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	JWTSecret string

	LogMode  string
	LogLevel string

	// views
	ThrottleInterval  time.Duration
	DashboardDebounce time.Duration
	BucketCap         int
	BusinessTimezone  string
	PhaseCacheTTL     time.Duration

	// change feed
	FeedPollInterval time.Duration
	FeedBatchSize    int
	RedisAddr        string
	RedisChannel     string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		StoreDriver:          strings.ToLower(getenv("STORE_DRIVER", DriverPostgres)),
		CORSAllowCredentials: getenv("CORS_ALLOW_CREDENTIALS", "false") == "true",
		LogMode:              getenv("LOG_MODE", "development"),
		LogLevel:             getenv("LOG_LEVEL", "info"),
		BusinessTimezone:     getenv("BUSINESS_TIMEZONE", "America/New_York"),
		RedisAddr:            getenv("REDIS_ADDR", ""),
		RedisChannel:         getenv("REDIS_CHANNEL", "paintops:changes"),
	}

	switch cfg.StoreDriver {
	case DriverPostgres:
		cfg.DatabaseURL = mustGetenv("DATABASE_URL")
	case DriverMemory:
	default:
		return cfg, errors.Newf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	origins := strings.Split(getenv("CORS_ALLOWED_ORIGINS", ""), ",")
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	var err error
	if cfg.ThrottleInterval, err = getDuration("VIEW_THROTTLE_INTERVAL", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.DashboardDebounce, err = getDuration("DASHBOARD_DEBOUNCE", 500*time.Millisecond); err != nil {
		return cfg, err
	}
	if cfg.PhaseCacheTTL, err = getDuration("PHASE_CACHE_TTL", 0); err != nil {
		return cfg, err
	}
	if cfg.FeedPollInterval, err = getDuration("FEED_POLL_INTERVAL", 800*time.Millisecond); err != nil {
		return cfg, err
	}
	if cfg.BucketCap, err = getInt("DASHBOARD_BUCKET_CAP", 4); err != nil {
		return cfg, err
	}
	if cfg.FeedBatchSize, err = getInt("FEED_BATCH_SIZE", 100); err != nil {
		return cfg, err
	}

	if _, err := time.LoadLocation(cfg.BusinessTimezone); err != nil {
		return cfg, errors.Wrapf(err, "invalid BUSINESS_TIMEZONE %q", cfg.BusinessTimezone)
	}

	cfg.JWTSecret = mustGetenv("JWT_SECRET")
	return cfg, nil
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func mustGetenv(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		panic("missing env: " + key)
	}
	return v
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := getenv(key, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	if d < 0 {
		return 0, errors.Newf("invalid %s: negative duration", key)
	}
	return d, nil
}

func getInt(key string, def int) (int, error) {
	v := getenv(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.Newf("invalid %s: want a positive integer, got %q", key, v)
	}
	return n, nil
}
