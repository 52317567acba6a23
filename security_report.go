package authcore

import (
	"time"

	"github.com/eis-1/electrical-supplier-website-sub001/internal/rate"
)

// SecurityReport summarises the security posture of a running engine. It
// holds no key material and is safe to print.
type SecurityReport struct {
	ProductionMode     bool
	SigningAlgorithm   string
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	RefreshRetention   time.Duration
	Argon2             PasswordConfigReport
	TOTPReplayBlocked  bool
	TOTPSkew           uint
	ChallengeTTL       time.Duration
	ChallengeAttempts  int
	BackupCodeCount    int
	RateLimits         map[rate.Scope]rate.Policy
	QuoteDailyCap      int64
	QuoteTimezone      string
	AuditEnabled       bool
	AuditDropsWhenFull bool
	Lint               []LintWarning
}

type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	return e.config.Report()
}

// Report builds the [SecurityReport] for c without starting an engine.
func (c *Config) Report() SecurityReport {
	return SecurityReport{
		ProductionMode:   c.ProductionMode,
		SigningAlgorithm: c.JWT.SigningMethod,
		AccessTTL:        c.JWT.AccessTTL,
		RefreshTTL:       c.JWT.RefreshTTL,
		RefreshRetention: c.Session.Retention,
		Argon2: PasswordConfigReport{
			Memory:      c.Password.Memory,
			Time:        c.Password.Time,
			Parallelism: c.Password.Parallelism,
			SaltLength:  c.Password.SaltLength,
			KeyLength:   c.Password.KeyLength,
		},
		TOTPReplayBlocked:  c.TOTP.EnforceReplayProtection,
		TOTPSkew:           c.TOTP.Skew,
		ChallengeTTL:       c.TOTP.ChallengeTTL,
		ChallengeAttempts:  c.TOTP.ChallengeMaxAttempts,
		BackupCodeCount:    c.TOTP.BackupCodeCount,
		RateLimits:         c.RateLimit.policies(),
		QuoteDailyCap:      c.Abuse.DailyCap,
		QuoteTimezone:      c.Abuse.Timezone,
		AuditEnabled:       c.Audit.Enabled,
		AuditDropsWhenFull: c.Audit.Enabled && c.Audit.DropIfFull,
		Lint:               c.Lint(),
	}
}
