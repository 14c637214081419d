package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the publishq server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Quota    QuotaConfig
	Jobs     JobsConfig
	YouTube  YouTubeConfig
	Assets   AssetsConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	RateLimitPerMinute int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// QuotaConfig sets the per-client daily budget for each platform, in platform cost units.
type QuotaConfig struct {
	Timezone       string
	Location       *time.Location
	YouTubeDaily   int64
	TikTokDaily    int64
	InstagramDaily int64
}

type JobsConfig struct {
	SweepInterval  time.Duration
	StaleThreshold time.Duration
	PollInterval   time.Duration
}

type YouTubeConfig struct {
	APIBaseURL             string
	UploadBaseURL          string
	ChunkSize              int64
	ChunkRetries           int
	ProcessingPollInterval time.Duration
	RequestsPerSecond      float64
	StaleThreshold         time.Duration
}

type AssetsConfig struct {
	FetchTimeout time.Duration
}

// uploadChunkAlign is the granularity YouTube requires for non-final resumable chunks.
const uploadChunkAlign = 256 * 1024

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:               envInt("PUBLISHQ_PORT", 8080),
			Env:                envString("PUBLISHQ_ENV", "development"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Quota: QuotaConfig{
			Timezone:       envString("QUOTA_WINDOW_TIMEZONE", "America/Los_Angeles"),
			YouTubeDaily:   envInt64("QUOTA_YOUTUBE_DAILY_UNITS", 10000),
			TikTokDaily:    envInt64("QUOTA_TIKTOK_DAILY_UNITS", 1000),
			InstagramDaily: envInt64("QUOTA_INSTAGRAM_DAILY_UNITS", 1000),
		},
		Jobs: JobsConfig{
			SweepInterval:  envDuration("SWEEP_INTERVAL", time.Minute),
			StaleThreshold: envDuration("STALE_THRESHOLD", 30*time.Minute),
			PollInterval:   envDuration("POLL_INTERVAL", 5*time.Second),
		},
		YouTube: YouTubeConfig{
			APIBaseURL:             envString("YOUTUBE_API_BASE_URL", "https://www.googleapis.com/youtube/v3"),
			UploadBaseURL:          envString("YOUTUBE_UPLOAD_BASE_URL", "https://www.googleapis.com/upload/youtube/v3"),
			ChunkSize:              envInt64("YOUTUBE_CHUNK_SIZE_BYTES", 8*1024*1024),
			ChunkRetries:           envInt("YOUTUBE_CHUNK_RETRIES", 3),
			ProcessingPollInterval: envDuration("YOUTUBE_PROCESSING_POLL_INTERVAL", 15*time.Second),
			RequestsPerSecond:      envFloat("YOUTUBE_REQUESTS_PER_SECOND", 5),
			StaleThreshold:         envDuration("YOUTUBE_STALE_THRESHOLD", 0),
		},
		Assets: AssetsConfig{
			FetchTimeout: envDuration("ASSET_FETCH_TIMEOUT", 10*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Limit returns the configured daily budget for platform.
func (q QuotaConfig) Limit(platform string) int64 {
	switch platform {
	case "youtube":
		return q.YouTubeDaily
	case "tiktok":
		return q.TikTokDaily
	case "instagram":
		return q.InstagramDaily
	default:
		return 0
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	loc, err := time.LoadLocation(c.Quota.Timezone)
	if err != nil {
		return fmt.Errorf("QUOTA_WINDOW_TIMEZONE %q is not a valid time zone: %w", c.Quota.Timezone, err)
	}
	c.Quota.Location = loc

	if c.Quota.YouTubeDaily < 0 || c.Quota.TikTokDaily < 0 || c.Quota.InstagramDaily < 0 {
		return fmt.Errorf("quota daily units must not be negative")
	}

	if c.Jobs.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.Jobs.SweepInterval)
	}
	if c.Jobs.StaleThreshold <= 0 {
		return fmt.Errorf("STALE_THRESHOLD must be positive, got %s", c.Jobs.StaleThreshold)
	}

	for name, u := range map[string]string{
		"YOUTUBE_API_BASE_URL":    c.YouTube.APIBaseURL,
		"YOUTUBE_UPLOAD_BASE_URL": c.YouTube.UploadBaseURL,
	} {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("%s must start with http:// or https://, got %q", name, u)
		}
	}

	if c.YouTube.ChunkSize <= 0 || c.YouTube.ChunkSize%uploadChunkAlign != 0 {
		return fmt.Errorf("YOUTUBE_CHUNK_SIZE_BYTES must be a positive multiple of %d, got %d", uploadChunkAlign, c.YouTube.ChunkSize)
	}
	if c.YouTube.RequestsPerSecond <= 0 {
		return fmt.Errorf("YOUTUBE_REQUESTS_PER_SECOND must be positive")
	}
	if c.YouTube.StaleThreshold == 0 {
		c.YouTube.StaleThreshold = c.Jobs.StaleThreshold
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
