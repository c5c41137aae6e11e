package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Sentinel categories for main() exit codes: parse failures exit 2,
// invariant failures exit 1.
var (
	ErrParse     = errors.New("configuration parse error")
	ErrInvariant = errors.New("startup invariant failed")
)

// Secrets that have ever shipped in an example file or compose manifest.
// A signing secret equal to any of these refuses to start the process.
var defaultSecretSentinels = []string{
	"changeme",
	"secret",
	"hourglass-dev-secret",
	"insecure-local-signing-secret",
}

const minSigningSecretBytes = 32

// SMTPConfig holds outbound mail settings. An empty Host selects the
// log-only dev mailer.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	TLSMode  string // "starttls" (587) or "tls" (465)
}

// Config is the single configuration struct for the process. It is read
// once at startup; nothing re-reads the environment at request time.
type Config struct {
	Env      string
	Port     string
	LogLevel string // debug, info, warn, error; empty picks the env default

	DatabaseURL string
	DBMaxConns  int32

	SigningSecret          string
	BootstrapAdminPassword string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ServiceTokenTTL time.Duration

	RateLimitEnabled bool
	RateLimitBurst   int
	RateLimitPerMin  int

	SMTP               SMTPConfig
	AdminRecipients    []string
	ApproverRecipients []string

	PasswordScanHour int // wall-clock hour (UTC) for the daily expiry scan
	LedgerGCInterval time.Duration

	SentryDSN string
}

// Load reads configuration from environment variables. Defaults are applied
// where the value is optional; malformed values are parse errors.
func Load() (Config, error) {
	cfg := Config{
		Env:                    getEnv("APP_ENV", "development"),
		Port:                   getEnv("PORT", "8080"),
		LogLevel:               strings.ToLower(os.Getenv("LOG_LEVEL")),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		SigningSecret:          os.Getenv("SIGNING_SECRET"),
		BootstrapAdminPassword: os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),
		AdminRecipients:        splitList(os.Getenv("NOTIFY_ADMIN_RCPTS")),
		ApproverRecipients:     splitList(os.Getenv("NOTIFY_APPROVER_RCPTS")),
		SentryDSN:              os.Getenv("SENTRY_DSN"),
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			User:     os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("SMTP_FROM"),
			TLSMode:  getEnv("SMTP_TLS_MODE", "starttls"),
		},
	}

	var err error
	if cfg.DBMaxConns, err = getEnvInt32("DB_MAX_CONNS", 20); err != nil {
		return cfg, err
	}
	if cfg.AccessTokenTTL, err = getEnvDuration("ACCESS_TOKEN_TTL", 24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.RefreshTokenTTL, err = getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.ServiceTokenTTL, err = getEnvDuration("SERVICE_TOKEN_TTL", 30*24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.RateLimitEnabled, err = getEnvBool("RATE_LIMIT_ENABLED", true); err != nil {
		return cfg, err
	}
	if cfg.RateLimitBurst, err = getEnvIntOpt("RATE_LIMIT_BURST", 5); err != nil {
		return cfg, err
	}
	if cfg.RateLimitPerMin, err = getEnvIntOpt("RATE_LIMIT_PER_MIN", 5); err != nil {
		return cfg, err
	}
	if cfg.PasswordScanHour, err = getEnvIntOpt("PASSWORD_SCAN_HOUR", 6); err != nil {
		return cfg, err
	}
	if cfg.PasswordScanHour < 0 || cfg.PasswordScanHour > 23 {
		return cfg, fmt.Errorf("%w: PASSWORD_SCAN_HOUR must be 0-23", ErrParse)
	}
	if cfg.LedgerGCInterval, err = getEnvDuration("LEDGER_GC_INTERVAL", time.Hour); err != nil {
		return cfg, err
	}
	if smtpPort, err := getEnvIntOpt("SMTP_PORT", 587); err != nil {
		return cfg, err
	} else {
		cfg.SMTP.Port = smtpPort
	}

	return cfg, nil
}

// Validate enforces the startup invariants: the signing secret must exist,
// carry at least 256 bits of material and differ from every known default;
// the admin bootstrap password must be present.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%w: DATABASE_URL is required", ErrInvariant)
	}
	if c.SigningSecret == "" {
		return fmt.Errorf("%w: SIGNING_SECRET is required", ErrInvariant)
	}
	if len(c.SigningSecret) < minSigningSecretBytes {
		return fmt.Errorf("%w: SIGNING_SECRET must be at least %d bytes", ErrInvariant, minSigningSecretBytes)
	}
	for _, sentinel := range defaultSecretSentinels {
		if c.SigningSecret == sentinel {
			return fmt.Errorf("%w: SIGNING_SECRET equals a known default", ErrInvariant)
		}
	}
	if c.BootstrapAdminPassword == "" {
		return fmt.Errorf("%w: BOOTSTRAP_ADMIN_PASSWORD is required", ErrInvariant)
	}
	return nil
}

func getEnv(name, defaultVal string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(name string, defaultVal bool) (bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return defaultVal, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrParse, name, err)
	}
	return parsed, nil
}

func getEnvIntOpt(name string, defaultVal int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return defaultVal, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrParse, name, err)
	}
	return parsed, nil
}

func getEnvInt32(name string, defaultVal int32) (int32, error) {
	v, err := getEnvIntOpt(name, int(defaultVal))
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}

func getEnvDuration(name string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return defaultVal, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrParse, name, err)
	}
	return parsed, nil
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
