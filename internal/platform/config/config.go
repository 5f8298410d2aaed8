package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration sourced from the environment so
// main stays lean. Postgres, Redis, and Kafka are all optional: absent, the
// process runs on in-memory stores, which is the single-instance mode.
type Server struct {
	Addr string

	PostgresDSN string
	RedisURL    string

	JWTSigningKey string
	JWTIssuer     string
	TokenTTL      time.Duration

	AuthRateLimit  RateLimit
	KafkaBrokers   []string
	AuditTopic     string
	RequestTimeout time.Duration
}

// RateLimit holds the wallet-auth attempt limiter knobs.
type RateLimit struct {
	MaxAttempts   int
	Window        time.Duration
	SweepInterval time.Duration
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	return Server{
		Addr:          envOr("VERICRED_ADDR", ":8080"),
		PostgresDSN:   os.Getenv("VERICRED_POSTGRES_DSN"),
		RedisURL:      os.Getenv("VERICRED_REDIS_URL"),
		JWTSigningKey: envOr("VERICRED_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:     envOr("VERICRED_JWT_ISSUER", "vericred"),
		TokenTTL:      envDurationOr("VERICRED_TOKEN_TTL", time.Hour),
		AuthRateLimit: RateLimit{
			MaxAttempts:   envIntOr("VERICRED_AUTH_MAX_ATTEMPTS", 5),
			Window:        envDurationOr("VERICRED_AUTH_WINDOW", 15*time.Minute),
			SweepInterval: envDurationOr("VERICRED_AUTH_SWEEP_INTERVAL", time.Minute),
		},
		KafkaBrokers:   splitList(os.Getenv("VERICRED_KAFKA_BROKERS")),
		AuditTopic:     envOr("VERICRED_AUDIT_TOPIC", "vericred.audit"),
		RequestTimeout: envDurationOr("VERICRED_REQUEST_TIMEOUT", 30*time.Second),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
