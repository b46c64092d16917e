package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the full service configuration, built from environment variables
// with development defaults so main stays lean.
type Config struct {
	Addr        string
	OTC         OTCConfig
	Session     SessionConfig
	Escalation  EscalationConfig
	Redis       RedisConfig
	PostgresDSN string
}

// OTCConfig governs one-time code issuance and verification.
type OTCConfig struct {
	TTL             time.Duration
	MaxAttempts     int
	LockoutDuration time.Duration
	// HashPepper keys the code digest so a leaked store dump cannot be
	// brute-forced offline against the short code alphabet.
	HashPepper string
}

// SessionConfig governs signed session credentials.
type SessionConfig struct {
	SigningKey string
	Issuer     string
	TTL        time.Duration
}

// EscalationConfig governs the CEO-approval workflow.
type EscalationConfig struct {
	PendingTTL    time.Duration
	SweepInterval time.Duration
}

// RedisConfig carries connection settings for the Redis-backed stores.
// An empty URL means Redis is not configured and in-memory stores are used.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Addr: envString("TRUSTGATE_ADDR", ":8080"),
		OTC: OTCConfig{
			TTL:             envDuration("OTC_TTL", 300*time.Second),
			MaxAttempts:     envInt("OTC_MAX_ATTEMPTS", 5),
			LockoutDuration: envDuration("OTC_LOCKOUT_DURATION", 15*time.Minute),
			HashPepper:      envString("OTC_HASH_PEPPER", "dev-pepper-change-in-production"),
		},
		Session: SessionConfig{
			// Use a default for development - should be overridden in production
			SigningKey: envString("SESSION_SIGNING_KEY", "dev-secret-key-change-in-production"),
			Issuer:     envString("SESSION_ISSUER", "trustgate"),
			TTL:        envDuration("SESSION_TTL", 60*time.Minute),
		},
		Escalation: EscalationConfig{
			PendingTTL:    envDuration("ESCALATION_PENDING_TTL", 24*time.Hour),
			SweepInterval: envDuration("ESCALATION_SWEEP_INTERVAL", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
