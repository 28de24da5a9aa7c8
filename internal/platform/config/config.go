package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures process-level configuration. Everything comes from the
// environment so main stays lean and deployments stay 12-factor.
type Config struct {
	Addr string

	// PostgresDSN selects the durable session/tenant/plan stores. Empty
	// means in-memory stores (dev and tests).
	PostgresDSN string

	// RedisURL selects the volatile stores (verification codes,
	// availability cache). Empty means in-memory fallbacks.
	RedisURL string

	// KafkaBrokers enables the audit sink when non-empty.
	KafkaBrokers []string
	AuditTopic   string

	// SendGridKey enables the SendGrid mailer; empty falls back to the
	// console mailer.
	SendGridKey string
	EmailFrom   string

	// BaseDomain is the apex under which school subdomains are issued.
	BaseDomain string

	JWTSigningKey      string
	OnboardingTokenTTL time.Duration

	// AutosaveDelay is how long a session mutation may sit unflushed
	// before the coalesced save fires. Matches the wizard's one second
	// of inactivity.
	AutosaveDelay time.Duration

	// AvailabilityCacheTTL bounds how long a negative availability
	// result may be served without re-checking.
	AvailabilityCacheTTL time.Duration

	CodeTTL            time.Duration
	CodeResendCooldown time.Duration
	CodeMaxAttempts    int
}

// FromEnv builds a Config from environment variables with dev defaults.
func FromEnv() Config {
	return Config{
		Addr:                 envOr("EXAMTRACK_ADDR", ":8080"),
		PostgresDSN:          os.Getenv("EXAMTRACK_POSTGRES_DSN"),
		RedisURL:             os.Getenv("EXAMTRACK_REDIS_URL"),
		KafkaBrokers:         splitNonEmpty(os.Getenv("EXAMTRACK_KAFKA_BROKERS")),
		AuditTopic:           envOr("EXAMTRACK_AUDIT_TOPIC", "examtrack.registration.audit"),
		SendGridKey:          os.Getenv("EXAMTRACK_SENDGRID_KEY"),
		EmailFrom:            envOr("EXAMTRACK_EMAIL_FROM", "no-reply@examtrack.app"),
		BaseDomain:           envOr("EXAMTRACK_BASE_DOMAIN", "examtrack.app"),
		JWTSigningKey:        envOr("EXAMTRACK_JWT_SIGNING_KEY", "dev-secret-change-in-production"),
		OnboardingTokenTTL:   envDurationOr("EXAMTRACK_ONBOARDING_TOKEN_TTL", 24*time.Hour),
		AutosaveDelay:        envDurationOr("EXAMTRACK_AUTOSAVE_DELAY", time.Second),
		AvailabilityCacheTTL: envDurationOr("EXAMTRACK_AVAILABILITY_CACHE_TTL", 2*time.Second),
		CodeTTL:              envDurationOr("EXAMTRACK_CODE_TTL", 10*time.Minute),
		CodeResendCooldown:   envDurationOr("EXAMTRACK_CODE_RESEND_COOLDOWN", time.Minute),
		CodeMaxAttempts:      envIntOr("EXAMTRACK_CODE_MAX_ATTEMPTS", 5),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDurationOr(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envIntOr(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
