package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Store      StoreConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Session    SessionConfig
	Identity   IdentityConfig
	DNS        DNSConfig
	Onboarding OnboardingConfig
	Enrichment EnrichmentConfig
	AWS        AWSConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	RunWorker          bool   // run the affiliation retry worker inside the API process
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Driver string // postgres or memory
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings. Empty Addr disables the MX cache and the retry queue.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SessionConfig holds the identity provider session token settings.
type SessionConfig struct {
	Secret string
	Issuer string
}

// IdentityConfig holds the identity provider backend API and webhook settings.
type IdentityConfig struct {
	APIURL        string
	SecretKey     string
	WebhookSecret string
}

// DNSConfig holds DNS-over-HTTPS resolver settings.
type DNSConfig struct {
	ResolverURL string
	Timeout     time.Duration
	CacheTTL    time.Duration
	NegativeTTL time.Duration
}

// OnboardingConfig holds affiliation rules.
type OnboardingConfig struct {
	RequireVerifiedEmail bool
}

// EnrichmentConfig holds Gemini company lookup settings. Empty APIKey disables enrichment.
type EnrichmentConfig struct {
	APIKey  string
	BaseURL string
	Models  []string
	Timeout time.Duration
}

// AWSConfig holds AWS credentials and the attachments bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	AttachmentsBucket    string
	PresignExpireMinutes int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			RunWorker:          getEnvBool("RUN_WORKER", true),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "helpdesk"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Session: SessionConfig{
			Secret: getEnv("SESSION_JWT_SECRET", ""),
			Issuer: getEnv("SESSION_JWT_ISSUER", ""),
		},
		Identity: IdentityConfig{
			APIURL:        getEnv("IDENTITY_API_URL", "https://api.clerk.com"),
			SecretKey:     getEnv("IDENTITY_SECRET_KEY", ""),
			WebhookSecret: getEnv("IDENTITY_WEBHOOK_SECRET", ""),
		},
		DNS: DNSConfig{
			ResolverURL: getEnv("DNS_RESOLVER_URL", "https://cloudflare-dns.com/dns-query"),
			Timeout:     time.Duration(getEnvInt("DNS_TIMEOUT_MS", 5000)) * time.Millisecond,
			CacheTTL:    time.Duration(getEnvInt("DNS_CACHE_TTL_SEC", 3600)) * time.Second,
			NegativeTTL: time.Duration(getEnvInt("DNS_NEGATIVE_CACHE_TTL_SEC", 600)) * time.Second,
		},
		Onboarding: OnboardingConfig{
			RequireVerifiedEmail: getEnvBool("ONBOARDING_REQUIRE_VERIFIED_EMAIL", true),
		},
		Enrichment: EnrichmentConfig{
			APIKey:  getEnv("GEMINI_API_KEY", ""),
			BaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
			Models:  splitTrim(getEnv("GEMINI_MODELS", "gemini-2.5-flash,gemini-2.0-flash,gemini-flash-latest"), ","),
			Timeout: time.Duration(getEnvInt("ENRICHMENT_TIMEOUT_MS", 5000)) * time.Millisecond,
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			AttachmentsBucket:    getEnv("AWS_S3_ATTACHMENTS_BUCKET", "helpdesk-ticket-attachments"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
	}

	switch cfg.Store.Driver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.Store.Driver)
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
