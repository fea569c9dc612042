package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultPort            = "8080"
	defaultSessionTTL      = 24 * time.Hour
	defaultPendingCacheTTL = 5 * time.Minute
	defaultRelayRate       = 4.0 // chunk requests per second per user
	defaultRelayBurst      = 8
)

// Config captures server runtime configuration.
type Config struct {
	Port        string
	DatabaseURL string
	APIKey      string

	// YouTube credentials. Absence is not a startup failure; it becomes
	// a hard failure when a session initiate is attempted.
	YouTubeClientID     string
	YouTubeClientSecret string
	YouTubeRefreshToken string
	YouTubeChannelID    string

	SessionTTL      time.Duration
	PendingCacheTTL time.Duration
	RelayRate       float64
	RelayBurst      int
}

// Load reads environment variables into a Config structure. A local
// .env file is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("MATCHVIDEO_PORT", defaultPort),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		APIKey:              os.Getenv("MATCHVIDEO_API_KEY"),
		YouTubeClientID:     os.Getenv("YOUTUBE_CLIENT_ID"),
		YouTubeClientSecret: os.Getenv("YOUTUBE_CLIENT_SECRET"),
		YouTubeRefreshToken: os.Getenv("YOUTUBE_REFRESH_TOKEN"),
		YouTubeChannelID:    os.Getenv("YOUTUBE_CHANNEL_ID"),
		SessionTTL:          parseDuration("MATCHVIDEO_SESSION_TTL", defaultSessionTTL),
		PendingCacheTTL:     parseDuration("MATCHVIDEO_PENDING_CACHE_TTL", defaultPendingCacheTTL),
		RelayRate:           parseFloat("MATCHVIDEO_RELAY_RATE", defaultRelayRate),
		RelayBurst:          parseInt("MATCHVIDEO_RELAY_BURST", defaultRelayBurst),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("MATCHVIDEO_API_KEY is required")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.PendingCacheTTL <= 0 {
		cfg.PendingCacheTTL = defaultPendingCacheTTL
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func parseInt(key string, fallback int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(key string, fallback float64) float64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseDuration(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	dur, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return dur
}
