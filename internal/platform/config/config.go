package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures process-level configuration for the signing service.
type Server struct {
	Addr                string
	LogLevel            string
	DatabaseURL         string
	TokenSigningKey     string
	TokenTTL            time.Duration
	IdempotencyTTL      time.Duration
	MaxPartiesPerWindow int
	PartyWindow         time.Duration
	SaveRetries         int
	SigningProviderURL  string
	SigningTimeout      time.Duration
	SigningMaxAttempts  int
	RosterPolicy        string
	CleanupInterval     time.Duration
}

const (
	defaultTokenTTL       = 7 * 24 * time.Hour
	defaultIdempotencyTTL = 24 * time.Hour
	defaultPartyWindow    = time.Minute
	defaultSigningTimeout = 10 * time.Second
)

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	cfg := Server{
		Addr:                envOr("SIGNET_ADDR", ":8080"),
		LogLevel:            envOr("SIGNET_LOG_LEVEL", "info"),
		DatabaseURL:         os.Getenv("SIGNET_DATABASE_URL"),
		TokenSigningKey:     envOr("SIGNET_TOKEN_SIGNING_KEY", "dev-secret-key-change-in-production"),
		TokenTTL:            envDuration("SIGNET_TOKEN_TTL", defaultTokenTTL),
		IdempotencyTTL:      envDuration("SIGNET_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		MaxPartiesPerWindow: envInt("SIGNET_MAX_PARTIES_PER_WINDOW", 25),
		PartyWindow:         envDuration("SIGNET_PARTY_WINDOW", defaultPartyWindow),
		SaveRetries:         envInt("SIGNET_SAVE_RETRIES", 3),
		SigningProviderURL:  os.Getenv("SIGNET_SIGNING_PROVIDER_URL"),
		SigningTimeout:      envDuration("SIGNET_SIGNING_TIMEOUT", defaultSigningTimeout),
		SigningMaxAttempts:  envInt("SIGNET_SIGNING_MAX_ATTEMPTS", 4),
		RosterPolicy:        envOr("SIGNET_ROSTER_POLICY", "reject"),
		CleanupInterval:     envDuration("SIGNET_CLEANUP_INTERVAL", 15*time.Minute),
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
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

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
