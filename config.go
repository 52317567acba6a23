package authcore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eis-1/electrical-supplier-website-sub001/internal/rate"
)

// Config is the full engine configuration. Start from [DefaultConfig] and
// override what differs; [Config.Validate] runs inside [Builder.Build].
type Config struct {
	JWT            JWTConfig
	Session        SessionConfig
	TOTP           TOTPConfig
	Vault          VaultConfig
	Password       PasswordConfig
	RateLimit      RateLimitConfig
	Abuse          AbuseConfig
	Audit          AuditConfig
	Metrics        MetricsConfig
	Timeouts       TimeoutConfig
	ProductionMode bool
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access-token signing and the refresh-token lifetime.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the Redis refresh record store. Retention is how
// long a record is kept after it expires so replays are still detected.
type SessionConfig struct {
	RedisPrefix string
	Retention   time.Duration
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig controls the second factor.
type TOTPConfig struct {
	Issuer               string
	Period               uint
	Digits               int
	Skew                 uint
	Algorithm            string // SHA1 (default), SHA256, SHA512
	ChallengeTTL         time.Duration
	ChallengeMaxAttempts int
	ChallengeRedisPrefix string
	BackupCodeCount      int
	BackupCodeLength     int
	// EnforceReplayProtection refuses a code whose time step was already
	// accepted for the account.
	EnforceReplayProtection bool
}

// VaultConfig holds the process-wide key that seals TOTP secrets and keys
// backup code hashes. It must be at least 32 bytes.
type VaultConfig struct {
	MasterKey []byte
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig holds one fixed-window policy per scope. A zero Max
// disables the scope.
type RateLimitConfig struct {
	Global    rate.Policy
	Auth      rate.Policy
	TwoFactor rate.Policy
	Quote     rate.Policy
}

func (c RateLimitConfig) policies() map[rate.Scope]rate.Policy {
	return map[rate.Scope]rate.Policy{
		rate.ScopeGlobal:    c.Global,
		rate.ScopeAuth:      c.Auth,
		rate.ScopeTwoFactor: c.TwoFactor,
		rate.ScopeQuote:     c.Quote,
	}
}

// AbuseConfig holds the lead-submission heuristics. Timezone names the IANA
// zone whose midnight resets the daily cap.
type AbuseConfig struct {
	MinElapsed      time.Duration
	MaxElapsed      time.Duration
	DuplicateWindow time.Duration
	DailyCap        int64
	Timezone        string
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// TimeoutConfig bounds every call to an external store.
type TimeoutConfig struct {
	Store time.Duration
}

// DefaultConfig returns settings suitable for production once keys are set.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "authcore",
		},
		Session: SessionConfig{
			RedisPrefix: "arr",
			Retention:   30 * 24 * time.Hour,
		},
		TOTP: TOTPConfig{
			Issuer:                  "Electrical Supplier",
			Period:                  30,
			Digits:                  6,
			Skew:                    1,
			Algorithm:               "SHA1",
			ChallengeTTL:            5 * time.Minute,
			ChallengeMaxAttempts:    5,
			ChallengeRedisPrefix:    "ach",
			BackupCodeCount:         10,
			BackupCodeLength:        10,
			EnforceReplayProtection: true,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		RateLimit: RateLimitConfig{
			Global:    rate.Policy{Max: 300, Window: 15 * time.Minute},
			Auth:      rate.Policy{Max: 5, Window: 15 * time.Minute},
			TwoFactor: rate.Policy{Max: 5, Window: 15 * time.Minute},
			Quote:     rate.Policy{Max: 5, Window: time.Hour},
		},
		Abuse: AbuseConfig{
			MinElapsed:      1500 * time.Millisecond,
			MaxElapsed:      time.Hour,
			DuplicateWindow: 10 * time.Minute,
			DailyCap:        5,
			Timezone:        "UTC",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		Timeouts: TimeoutConfig{
			Store: 2 * time.Second,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.Vault.MasterKey = cloneBytes(cfg.Vault.MasterKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate rejects configurations the engine cannot run with. ProductionMode
// adds stricter floors.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be greater than AccessTTL")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}

	// Session
	if c.Session.Retention < 0 {
		return errors.New("Session Retention must be >= 0")
	}

	// TOTP
	if c.TOTP.Issuer == "" {
		return errors.New("TOTP Issuer is required")
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period < 15 {
		return errors.New("TOTP Period must be >= 15 seconds")
	}
	if c.TOTP.ChallengeTTL <= 0 {
		return errors.New("TOTP ChallengeTTL must be > 0")
	}
	if c.TOTP.ChallengeMaxAttempts <= 0 {
		return errors.New("TOTP ChallengeMaxAttempts must be > 0")
	}
	if c.TOTP.BackupCodeCount <= 0 {
		return errors.New("TOTP BackupCodeCount must be > 0")
	}
	if c.TOTP.BackupCodeLength < 8 || c.TOTP.BackupCodeLength%2 != 0 {
		return errors.New("TOTP BackupCodeLength must be an even number >= 8")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256, or SHA512")
	}

	// Vault
	if len(c.Vault.MasterKey) < 32 {
		return errors.New("Vault MasterKey must be at least 32 bytes")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Rate limits
	for scope, p := range c.RateLimit.policies() {
		if p.Max < 0 {
			return fmt.Errorf("RateLimit %s Max must be >= 0", scope)
		}
		if p.Max > 0 && p.Window <= 0 {
			return fmt.Errorf("RateLimit %s Window must be > 0", scope)
		}
	}

	// Abuse
	if c.Abuse.MinElapsed < 0 {
		return errors.New("Abuse MinElapsed must be >= 0")
	}
	if c.Abuse.MaxElapsed <= c.Abuse.MinElapsed {
		return errors.New("Abuse MaxElapsed must be greater than MinElapsed")
	}
	if c.Abuse.DuplicateWindow < 0 {
		return errors.New("Abuse DuplicateWindow must be >= 0")
	}
	if c.Abuse.DailyCap < 0 {
		return errors.New("Abuse DailyCap must be >= 0")
	}
	if _, err := time.LoadLocation(c.Abuse.Timezone); err != nil {
		return fmt.Errorf("Abuse Timezone invalid: %w", err)
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	if c.Timeouts.Store <= 0 {
		return errors.New("Timeouts Store must be > 0")
	}

	if c.ProductionMode {
		if c.JWT.AccessTTL > 15*time.Minute {
			return errors.New("ProductionMode requires JWT AccessTTL <= 15m")
		}
		if c.JWT.RefreshTTL > 30*24*time.Hour {
			return errors.New("ProductionMode requires JWT RefreshTTL <= 30d")
		}
		if c.Password.Memory < 64*1024 {
			return errors.New("ProductionMode requires Password Memory >= 65536 KB")
		}
		if c.Password.Time < 2 {
			return errors.New("ProductionMode requires Password Time >= 2")
		}
		if c.TOTP.Skew > 2 {
			return errors.New("ProductionMode requires TOTP Skew <= 2")
		}
		if !c.TOTP.EnforceReplayProtection {
			return errors.New("ProductionMode requires TOTP EnforceReplayProtection")
		}
		if c.TOTP.BackupCodeCount < 8 {
			return errors.New("ProductionMode requires TOTP BackupCodeCount >= 8")
		}
		if c.RateLimit.Auth.Max == 0 || c.RateLimit.TwoFactor.Max == 0 {
			return errors.New("ProductionMode requires auth and two-factor rate limits")
		}
	}

	return nil
}

// LintSeverity ranks a [LintWarning].
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

// LintWarning is an advisory about a valid but questionable setting.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// Lint returns advisories for settings that pass Validate but weaken the
// deployment. It never fails.
func (c *Config) Lint() []LintWarning {
	var out []LintWarning
	add := func(code string, sev LintSeverity, msg string) {
		out = append(out, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if c.JWT.AccessTTL > 30*time.Minute {
		add("access_ttl_long", LintWarn, "access tokens cannot be revoked; keep AccessTTL short")
	}
	if c.Session.Retention < c.JWT.RefreshTTL {
		add("retention_short", LintWarn, "Session Retention shorter than RefreshTTL weakens reuse detection")
	}
	if c.TOTP.Skew > 1 {
		add("totp_skew_wide", LintInfo, "TOTP Skew above 1 widens the replay window")
	}
	if !c.TOTP.EnforceReplayProtection {
		add("totp_replay_off", LintHigh, "TOTP codes can be replayed within their time step")
	}
	if c.RateLimit.Quote.Max == 0 {
		add("quote_unlimited", LintWarn, "quote submissions are not rate limited")
	}
	if c.Audit.Enabled && c.Audit.DropIfFull {
		add("audit_drop", LintInfo, "audit events are dropped when the buffer is full")
	}
	if !c.Audit.Enabled {
		add("audit_off", LintHigh, "audit is disabled; token reuse will go unreported")
	}
	return out
}
