package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/eis-1/electrical-supplier-website-sub001/internal/abuse"
	internalaudit "github.com/eis-1/electrical-supplier-website-sub001/internal/audit"
	"github.com/eis-1/electrical-supplier-website-sub001/internal/rate"
	"github.com/eis-1/electrical-supplier-website-sub001/internal/stores"
	"github.com/eis-1/electrical-supplier-website-sub001/internal/vault"
	"github.com/eis-1/electrical-supplier-website-sub001/jwt"
	"github.com/eis-1/electrical-supplier-website-sub001/password"
	"github.com/eis-1/electrical-supplier-website-sub001/permission"
	"github.com/eis-1/electrical-supplier-website-sub001/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const dummyPassword = "authcore-timing-equaliser"

// Builder assembles an [Engine]. A Builder is single use.
//
// Redis backs refresh records, rate counters and login challenges unless a
// store is supplied explicitly. Without Redis, counters and challenges fall
// back to in-process stores that are only accurate for a single instance.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	accounts   AccountStore
	quotes     QuoteStore
	sessions   session.Store
	counters   rate.Store
	challenges stores.ChallengeStore
	roles      *permission.RoleManager

	auditSink AuditSink
	logger    *zap.Logger

	built bool
}

func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithAccountStore(s AccountStore) *Builder {
	b.accounts = s
	return b
}

// WithQuoteStore enables lead submission. Without it SubmitQuote returns
// ErrEngineNotReady.
func (b *Builder) WithQuoteStore(s QuoteStore) *Builder {
	b.quotes = s
	return b
}

// WithSessionStore overrides the Redis refresh record store, for example
// with the SQL store from the store package.
func (b *Builder) WithSessionStore(s session.Store) *Builder {
	b.sessions = s
	return b
}

func (b *Builder) WithRateStore(s rate.Store) *Builder {
	b.counters = s
	return b
}

func (b *Builder) WithChallengeStore(s stores.ChallengeStore) *Builder {
	b.challenges = s
	return b
}

// WithRoleManager replaces the default role table.
func (b *Builder) WithRoleManager(rm *permission.RoleManager) *Builder {
	b.roles = rm
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.accounts == nil {
		return nil, errors.New("account store required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// -------- STORES --------
	sessions := b.sessions
	if sessions == nil {
		if b.redis == nil {
			return nil, errors.New("redis client or session store required")
		}
		sessions = session.NewRedisStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.Retention)
	}

	counters := b.counters
	if counters == nil {
		if b.redis != nil {
			counters = rate.NewRedisStore(b.redis)
		} else {
			if cfg.ProductionMode {
				return nil, errors.New("ProductionMode requires a shared rate limit store")
			}
			logger.Warn("rate limit counters are in-process; limits are per instance")
			counters = rate.NewMemoryStore()
		}
	}

	challenges := b.challenges
	if challenges == nil {
		if b.redis != nil {
			challenges = stores.NewRedisChallengeStore(b.redis, cfg.TOTP.ChallengeRedisPrefix)
		} else {
			if cfg.ProductionMode {
				return nil, errors.New("ProductionMode requires a shared challenge store")
			}
			challenges = stores.NewMemoryChallengeStore()
		}
	}

	// -------- ROLE MANAGER --------
	roles := b.roles
	if roles == nil {
		rm, err := permission.DefaultRoleManager()
		if err != nil {
			return nil, err
		}
		roles = rm
	}

	// -------- CRYPTO --------
	v, err := vault.New(cloneBytes(cfg.Vault.MasterKey))
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	dummyHash, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		RequireIAT:    true,
	})
	if err != nil {
		return nil, err
	}

	// -------- ABUSE --------
	loc, err := time.LoadLocation(cfg.Abuse.Timezone)
	if err != nil {
		return nil, fmt.Errorf("abuse timezone: %w", err)
	}
	var screener *abuse.Screener
	if b.quotes != nil {
		screener = abuse.NewScreener(abuse.Config{
			MinElapsed:      cfg.Abuse.MinElapsed,
			MaxElapsed:      cfg.Abuse.MaxElapsed,
			DuplicateWindow: cfg.Abuse.DuplicateWindow,
			DailyCap:        int(cfg.Abuse.DailyCap),
			Location:        loc,
		}, b.quotes)
	}

	engine := &Engine{
		config:     cfg,
		accounts:   b.accounts,
		quotes:     b.quotes,
		sessions:   sessions,
		challenges: challenges,
		guard:      rate.NewGuard(counters, cfg.RateLimit.policies(), cfg.Timeouts.Store),
		screener:   screener,
		location:   loc,
		roles:      roles,
		vault:      v,
		hasher:     hasher,
		dummyHash:  dummyHash,
		jwtManager: jm,
		totp:       newTOTPManager(cfg.TOTP),
		metrics:    NewMetrics(cfg.Metrics),
		logger:     logger,
		now:        time.Now,
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink, func() { engine.metricInc(MetricAuditDropped) })

	b.built = true
	return engine, nil
}
