// Package config reads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"store-backend/internal/auth"
	"store-backend/internal/observability"
	"store-backend/internal/session"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Options struct {
	LoadDotEnv bool
	// DotEnvFiles defaults to ".env".
	DotEnvFiles []string
}

type DBConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type Config struct {
	AppEnv    string
	Port      string
	LogLevel  string
	SentryDSN string

	DatabaseURL string
	DB          DBConfig

	Tokens auth.TokenConfig
	// RefreshSecretDerived is set when REFRESH_TOKEN_SECRET was not configured.
	RefreshSecretDerived bool
	BcryptCost           int

	Lockout        auth.LockoutConfig
	APIRateLimit   auth.RateLimitConfig
	LoginRateLimit auth.RateLimitConfig

	CounterBackend string
	SessionBackend string
	RedisURL       string
	RedisPrefix    string

	Session          session.Config
	AccessCookieName string
	AccessQueryParam string

	AdminOperators []string
	// TrustedProxies lists the proxy addresses (IPs or CIDRs) whose X-Forwarded-For
	// header is honored when resolving client addresses.
	TrustedProxies []string
	AdminEmail     string
	AdminPassword  string

	CronSecret       string
	CleanupBatchSize int
}

func (c Config) Production() bool {
	return c.AppEnv == "production"
}

func Load(options Options) (Config, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load(options.DotEnvFiles...)
	}

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return Config{}, err
	}
	accessSecret := envOrDefault("ACCESS_TOKEN_SECRET", strings.TrimSpace(os.Getenv("JWT_SECRET")))
	if accessSecret == "" {
		return Config{}, errors.New("missing required env: ACCESS_TOKEN_SECRET")
	}
	refreshSecret := strings.TrimSpace(os.Getenv("REFRESH_TOKEN_SECRET"))
	secureDefault := envOrDefault("APP_ENV", "development") == "production"

	cfg := Config{
		AppEnv:      envOrDefault("APP_ENV", "development"),
		Port:        envOrDefault("PORT", "8080"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		SentryDSN:   strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		DatabaseURL: databaseURL,
		DB: DBConfig{
			MaxOpenConns:    envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
			ConnMaxIdleTime: envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),
		},
		Tokens: auth.TokenConfig{
			AccessSecret:  accessSecret,
			RefreshSecret: refreshSecret,
			AccessTTL:     envHoursOrDefault("ACCESS_TOKEN_TTL_HOURS", 168),
			RefreshTTL:    envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 720),
		},
		RefreshSecretDerived: refreshSecret == "",
		BcryptCost:           envIntOrDefault("BCRYPT_COST", 10),
		Lockout: auth.LockoutConfig{
			MaxAttempts:  envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
			LockDuration: envMinutesOrDefault("LOGIN_LOCK_MINUTES", 15),
			Retention:    envHoursOrDefault("LOGIN_ATTEMPT_RETENTION_HOURS", 24),
		},
		APIRateLimit: auth.RateLimitConfig{
			Name:   "api",
			Max:    envIntOrDefault("RATE_LIMIT_MAX", 100),
			Window: envSecondsOrDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		},
		LoginRateLimit: auth.RateLimitConfig{
			Name:   "login",
			Max:    envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
			Window: envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
		},
		CounterBackend: strings.ToLower(envOrDefault("COUNTER_BACKEND", BackendMemory)),
		SessionBackend: strings.ToLower(envOrDefault("SESSION_BACKEND", BackendMemory)),
		RedisURL:       strings.TrimSpace(os.Getenv("REDIS_URL")),
		RedisPrefix:    envOrDefault("REDIS_KEY_PREFIX", "store"),
		Session: session.Config{
			CookieName: envOrDefault("SESSION_COOKIE_NAME", "sid"),
			TTL:        envHoursOrDefault("SESSION_TTL_HOURS", 24),
			Secure:     EnvBoolOrDefault("COOKIE_SECURE", secureDefault),
		},
		AccessCookieName: envOrDefault("ACCESS_TOKEN_COOKIE_NAME", "access_token"),
		AccessQueryParam: envOrDefault("ACCESS_TOKEN_QUERY_PARAM", "token"),
		AdminOperators:   envList("ADMIN_OPERATORS"),
		TrustedProxies:   envList("TRUSTED_PROXIES"),
		AdminEmail:       strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),
		AdminPassword:    os.Getenv("ADMIN_PASSWORD"),
		CronSecret:       strings.TrimSpace(os.Getenv("CRON_SECRET")),
		CleanupBatchSize: envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", 500),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Production() && c.RefreshSecretDerived {
		return errors.New("REFRESH_TOKEN_SECRET is required in production")
	}
	if c.Tokens.RefreshSecret != "" && c.Tokens.RefreshSecret == c.Tokens.AccessSecret {
		return errors.New("REFRESH_TOKEN_SECRET must differ from ACCESS_TOKEN_SECRET")
	}
	if c.Tokens.RefreshTTL <= c.Tokens.AccessTTL {
		return fmt.Errorf("REFRESH_TOKEN_TTL_HOURS (%s) must exceed ACCESS_TOKEN_TTL_HOURS (%s)", c.Tokens.RefreshTTL, c.Tokens.AccessTTL)
	}

	if _, err := observability.NewClientIPResolver(c.TrustedProxies); err != nil {
		return fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}

	switch c.CounterBackend {
	case BackendMemory, BackendPostgres:
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when COUNTER_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unknown COUNTER_BACKEND: %s", c.CounterBackend)
	}

	switch c.SessionBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when SESSION_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unknown SESSION_BACKEND: %s", c.SessionBackend)
	}

	return nil
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func envList(name string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}
	out := make([]string, 0)
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
