package config

import (
	"encoding/base64"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DevelopmentJWTSecret signs tokens outside production when JWT_SECRET is
// unset. The backend and the socket router share it so that proxied calls
// authenticate in a local setup.
const DevelopmentJWTSecret = "development-secret"

// Config holds all configuration for the HTTP backend.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	// Auth
	JWTSecret string

	// TokenKey seals integration access tokens at rest (32 bytes).
	TokenKey []byte

	// Meta Graph API
	MetaAppID        string
	MetaAppSecret    string
	MetaGraphURL     string
	MetaGraphVersion string
	MetaRedirectURI  string

	// WebSocket fan-out from the HTTP backend (optional)
	ConnectionsTable  string
	WebSocketEndpoint string

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations

	AllowedOrigins []string
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		SQLitePath:         getEnv("SQLITE_PATH", "./data/nimbleai.db"),
		RedisURL:           os.Getenv("REDIS_URL"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		MetaAppID:          os.Getenv("META_APP_ID"),
		MetaAppSecret:      os.Getenv("META_APP_SECRET"),
		MetaGraphURL:       getEnv("META_GRAPH_URL", "https://graph.facebook.com"),
		MetaGraphVersion:   getEnv("META_GRAPH_VERSION", "v19.0"),
		MetaRedirectURI:    os.Getenv("META_REDIRECT_URI"),
		ConnectionsTable:   os.Getenv("CONNECTIONS_TABLE"),
		WebSocketEndpoint:  os.Getenv("WEBSOCKET_ENDPOINT"),
		AutoBlockEnabled:   getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
		RateLimitWhitelist: splitList(os.Getenv("RATE_LIMIT_WHITELIST")),
		AllowedOrigins:     splitList(getEnv("ALLOWED_ORIGINS", "*")),
	}

	if key := os.Getenv("TOKEN_ENCRYPTION_KEY"); key != "" {
		decoded, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			panic("TOKEN_ENCRYPTION_KEY must be base64-encoded")
		}
		cfg.TokenKey = decoded
	}

	// In production, require database, redis and secrets
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
		if cfg.RedisURL == "" {
			panic("REDIS_URL is required in production")
		}
		if cfg.JWTSecret == "" {
			panic("JWT_SECRET is required in production")
		}
		if len(cfg.TokenKey) == 0 {
			panic("TOKEN_ENCRYPTION_KEY is required in production")
		}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = DevelopmentJWTSecret
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// FanOutEnabled reports whether the backend can push to connected sockets.
func (c *Config) FanOutEnabled() bool {
	return c.ConnectionsTable != "" && c.WebSocketEndpoint != ""
}

// RouterConfig holds configuration for the WebSocket router Lambda.
type RouterConfig struct {
	Env               string
	ConnectionsTable  string
	WebSocketEndpoint string
	BackendURL        string
	JWTSecret         string
	ConnectionTTL     time.Duration
	FetchLimit        int
	BackendTimeout    time.Duration
}

// LoadRouter reads the WebSocket router configuration.
func LoadRouter() *RouterConfig {
	_ = godotenv.Load()

	cfg := &RouterConfig{
		Env:               getEnv("ENV", "development"),
		ConnectionsTable:  os.Getenv("CONNECTIONS_TABLE"),
		WebSocketEndpoint: os.Getenv("WEBSOCKET_ENDPOINT"),
		BackendURL:        os.Getenv("BACKEND_URL"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		ConnectionTTL:     getDuration("CONNECTION_TTL", 2*time.Hour),
		FetchLimit:        getInt("FETCH_LIMIT", 100),
		BackendTimeout:    getDuration("BACKEND_TIMEOUT", 10*time.Second),
	}

	if cfg.ConnectionsTable == "" {
		panic("CONNECTIONS_TABLE is required")
	}
	if cfg.BackendURL == "" {
		panic("BACKEND_URL is required")
	}
	if cfg.WebSocketEndpoint == "" {
		panic("WEBSOCKET_ENDPOINT is required")
	}
	if cfg.JWTSecret == "" {
		if cfg.Env == "production" {
			panic("JWT_SECRET is required in production")
		}
		cfg.JWTSecret = DevelopmentJWTSecret
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

// splitList parses a comma-separated list, dropping empty entries.
func splitList(value string) []string {
	var out []string
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
