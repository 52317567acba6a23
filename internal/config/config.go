// Package config loads the service settings from the environment. A .env
// file in the working directory is read first when present; variables
// already set in the environment win.
package config

import (
	"encoding/hex"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	authcore "github.com/eis-1/electrical-supplier-website-sub001"
	"github.com/joho/godotenv"
)

type Config struct {
	Server ServerConfig
	DB     DBConfig
	Redis  RedisConfig
	Log    LogConfig
	Auth   authcore.Config
}

type ServerConfig struct {
	Port            string
	AllowedOrigins  string
	CookieSecure    bool
	CookieDomain    string
	ShutdownTimeout time.Duration
}

// DBConfig.SessionStore selects where refresh records live: "redis" (the
// default) or "sql".
type DBConfig struct {
	Driver       string
	DSN          string
	SessionStore string
}

// RedisConfig.URL may be "embedded" to run an in-process miniredis, which is
// only meant for local development.
type RedisConfig struct {
	URL string
}

type LogConfig struct {
	Level string
}

// Load reads envFiles (default ".env") if they exist, then the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	auth := authcore.DefaultConfig()
	auth.ProductionMode = getEnvAsBool("PRODUCTION", false)

	auth.JWT.AccessTTL = getEnvAsDuration("JWT_ACCESS_TTL", auth.JWT.AccessTTL)
	auth.JWT.RefreshTTL = getEnvAsDuration("JWT_REFRESH_TTL", auth.JWT.RefreshTTL)
	auth.JWT.SigningMethod = strings.ToLower(getEnv("JWT_SIGNING_METHOD", auth.JWT.SigningMethod))
	auth.JWT.Issuer = getEnv("JWT_ISSUER", auth.JWT.Issuer)
	auth.JWT.Audience = getEnv("JWT_AUDIENCE", auth.JWT.Audience)
	switch auth.JWT.SigningMethod {
	case "ed25519":
		auth.JWT.PrivateKey = getEnvAsKey("JWT_PRIVATE_KEY")
		auth.JWT.PublicKey = getEnvAsKey("JWT_PUBLIC_KEY")
	default:
		auth.JWT.PrivateKey = getEnvAsKey("JWT_SECRET")
	}

	auth.Vault.MasterKey = getEnvAsKey("TWO_FACTOR_ENCRYPTION_KEY")
	auth.TOTP.Issuer = getEnv("TOTP_ISSUER", auth.TOTP.Issuer)

	auth.RateLimit.Global.Max = getEnvAsInt("RATE_LIMIT_GLOBAL_MAX", auth.RateLimit.Global.Max)
	auth.RateLimit.Global.Window = getEnvAsDuration("RATE_LIMIT_GLOBAL_WINDOW", auth.RateLimit.Global.Window)
	auth.RateLimit.Auth.Max = getEnvAsInt("RATE_LIMIT_AUTH_MAX", auth.RateLimit.Auth.Max)
	auth.RateLimit.Auth.Window = getEnvAsDuration("RATE_LIMIT_AUTH_WINDOW", auth.RateLimit.Auth.Window)
	auth.RateLimit.TwoFactor.Max = getEnvAsInt("RATE_LIMIT_2FA_MAX", auth.RateLimit.TwoFactor.Max)
	auth.RateLimit.TwoFactor.Window = getEnvAsDuration("RATE_LIMIT_2FA_WINDOW", auth.RateLimit.TwoFactor.Window)
	auth.RateLimit.Quote.Max = getEnvAsInt("RATE_LIMIT_QUOTE_MAX", auth.RateLimit.Quote.Max)
	auth.RateLimit.Quote.Window = getEnvAsDuration("RATE_LIMIT_QUOTE_WINDOW", auth.RateLimit.Quote.Window)

	auth.Abuse.MinElapsed = getEnvAsDuration("QUOTE_MIN_ELAPSED", auth.Abuse.MinElapsed)
	auth.Abuse.MaxElapsed = getEnvAsDuration("QUOTE_MAX_ELAPSED", auth.Abuse.MaxElapsed)
	auth.Abuse.DuplicateWindow = getEnvAsDuration("QUOTE_DUPLICATE_WINDOW", auth.Abuse.DuplicateWindow)
	auth.Abuse.DailyCap = int64(getEnvAsInt("QUOTE_DAILY_CAP", int(auth.Abuse.DailyCap)))
	auth.Abuse.Timezone = getEnv("QUOTE_TIMEZONE", auth.Abuse.Timezone)

	auth.Timeouts.Store = getEnvAsDuration("STORE_TIMEOUT", auth.Timeouts.Store)

	return &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			AllowedOrigins:  getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			CookieSecure:    getEnvAsBool("COOKIE_SECURE", auth.ProductionMode),
			CookieDomain:    getEnv("COOKIE_DOMAIN", ""),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		DB: DBConfig{
			Driver:       getEnv("DATABASE_DRIVER", "sqlite"),
			DSN:          getEnv("DATABASE_URL", "file:authcore.db"),
			SessionStore: strings.ToLower(getEnv("SESSION_STORE", "redis")),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "embedded"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: auth,
	}, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvAsKey accepts hex (as printed by authctl keygen) or raw bytes.
func getEnvAsKey(key string) []byte {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return nil
	}
	if decoded, err := hex.DecodeString(value); err == nil && len(decoded) >= 32 {
		return decoded
	}
	return []byte(value)
}
