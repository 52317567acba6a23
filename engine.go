package authcore

import (
	"context"
	"errors"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/eis-1/electrical-supplier-website-sub001/internal"
	"github.com/eis-1/electrical-supplier-website-sub001/internal/abuse"
	internalaudit "github.com/eis-1/electrical-supplier-website-sub001/internal/audit"
	"github.com/eis-1/electrical-supplier-website-sub001/internal/rate"
	"github.com/eis-1/electrical-supplier-website-sub001/internal/stores"
	"github.com/eis-1/electrical-supplier-website-sub001/internal/vault"
	"github.com/eis-1/electrical-supplier-website-sub001/jwt"
	"github.com/eis-1/electrical-supplier-website-sub001/password"
	"github.com/eis-1/electrical-supplier-website-sub001/permission"
	"github.com/eis-1/electrical-supplier-website-sub001/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine runs the login protocol, issues and rotates credentials, manages
// second factors and screens lead submissions. It is safe for concurrent use.
type Engine struct {
	config     Config
	accounts   AccountStore
	quotes     QuoteStore
	sessions   session.Store
	challenges stores.ChallengeStore
	guard      *rate.Guard
	screener   *abuse.Screener
	location   *time.Location
	roles      *permission.RoleManager
	vault      *vault.Vault
	hasher     *password.Hasher
	dummyHash  string
	jwtManager *jwt.Manager
	totp       *totpManager
	audit      *internalaudit.Dispatcher
	metrics    *Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:      map[MetricID]uint64{},
			Histograms:    map[MetricID][]uint64{},
			HistogramSums: map[MetricID]time.Duration{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observe(id MetricID, start time.Time) {
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(id, time.Since(start))
	}
}

// bounded applies the store timeout to one external call.
func (e *Engine) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.Timeouts.Store <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.config.Timeouts.Store)
}

func (e *Engine) storeFailure(err error) error {
	e.metricInc(MetricBackendUnavailable)
	if errors.Is(err, ErrBackendUnavailable) {
		return err
	}
	return backendErr(err)
}

// allow counts one hit against scope. Denials become a *RateLimitError and
// counter store failures become ErrBackendUnavailable.
func (e *Engine) allow(ctx context.Context, scope rate.Scope, identifiers ...string) error {
	d, err := e.guard.Allow(ctx, scope, identifiers...)
	if err != nil {
		return e.storeFailure(err)
	}
	if d.Allowed {
		return nil
	}
	e.emitRateLimit(ctx, string(scope), d)
	return &RateLimitError{Scope: string(scope), RetryAfter: d.RetryAfter}
}

// AllowRequest counts one hit against the global scope for the client IP
// carried by ctx. HTTP middleware calls it for every request.
func (e *Engine) AllowRequest(ctx context.Context) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return e.allow(ctx, rate.ScopeGlobal, clientIPFromContext(ctx))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func principalOf(acc *Account) Principal {
	return Principal{ID: acc.ID, Email: acc.Email, Role: acc.Role}
}

// Login runs the password step. With 2FA disabled it returns tokens; with
// 2FA enabled it records a short-lived challenge and returns only the
// account id. Unknown emails and wrong passwords both yield
// ErrInvalidCredentials after comparable work.
func (e *Engine) Login(ctx context.Context, email, pass string) (*LoginResult, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observe(MetricLoginLatency, start)

	if err := e.allow(ctx, rate.ScopeAuth, clientIPFromContext(ctx)); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
		}
		return nil, err
	}

	email = normalizeEmail(email)
	acc, err := e.findByEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		_, _ = e.hasher.Verify(pass, e.dummyHash)
		return nil, e.failLogin(ctx, "", "unknown_account")
	}
	if err != nil {
		return nil, err
	}

	ok, err := e.hasher.Verify(pass, acc.PasswordHash)
	if err != nil {
		e.logger.Error("password hash unreadable", zap.String("account_id", acc.ID), zap.Error(err))
		return nil, e.failLogin(ctx, acc.ID, "hash_unreadable")
	}
	if !ok {
		return nil, e.failLogin(ctx, acc.ID, "password_mismatch")
	}
	e.upgradeHash(ctx, acc, pass)

	if acc.TwoFactor == TwoFactorEnabled {
		now := e.now()
		sctx, cancel := e.bounded(ctx)
		err := e.challenges.Save(sctx, &stores.Challenge{
			AccountID: acc.ID,
			ExpiresAt: now.Add(e.config.TOTP.ChallengeTTL).Unix(),
		}, e.config.TOTP.ChallengeTTL)
		cancel()
		if err != nil {
			return nil, e.storeFailure(err)
		}
		e.metricInc(MetricTwoFactorRequired)
		e.emitAudit(ctx, auditEventTwoFactorRequired, true, acc.ID, "", nil, nil)
		return &LoginResult{
			RequiresTwoFactor: true,
			AccountID:         acc.ID,
			Principal:         Principal{ID: acc.ID},
		}, nil
	}

	tokens, err := e.issueTokens(ctx, acc)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, acc.ID, "", nil, func() map[string]string {
		return map[string]string{"method": "password"}
	})
	return &LoginResult{AccountID: acc.ID, Principal: principalOf(acc), Tokens: tokens}, nil
}

func (e *Engine) failLogin(ctx context.Context, accountID, reason string) error {
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, accountID, "", ErrInvalidCredentials, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return ErrInvalidCredentials
}

// upgradeHash replaces a legacy or outdated hash after a successful login.
// Failure is logged and otherwise ignored.
func (e *Engine) upgradeHash(ctx context.Context, acc *Account, pass string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.hasher.NeedsUpgrade(acc.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.hasher.Hash(pass)
	if err != nil {
		e.logger.Warn("password rehash failed", zap.String("account_id", acc.ID), zap.Error(err))
		return
	}
	sctx, cancel := e.bounded(ctx)
	defer cancel()
	if err := e.accounts.UpdatePasswordHash(sctx, acc.ID, hash); err != nil {
		e.logger.Warn("password hash upgrade not stored", zap.String("account_id", acc.ID), zap.Error(err))
		return
	}
	acc.PasswordHash = hash
}

func (e *Engine) findByEmail(ctx context.Context, email string) (*Account, error) {
	sctx, cancel := e.bounded(ctx)
	defer cancel()
	acc, err := e.accounts.FindAccountByEmail(sctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, e.storeFailure(err)
	}
	return acc, nil
}

func (e *Engine) findByID(ctx context.Context, id string) (*Account, error) {
	sctx, cancel := e.bounded(ctx)
	defer cancel()
	acc, err := e.accounts.FindAccountByID(sctx, id)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, e.storeFailure(err)
	}
	return acc, nil
}

// issueTokens signs an access token and persists a fresh refresh record.
func (e *Engine) issueTokens(ctx context.Context, acc *Account) (*TokenPair, error) {
	access, accessExp, err := e.jwtManager.CreateAccess(acc.ID, string(acc.Role))
	if err != nil {
		return nil, err
	}

	id, err := internal.NewRecordID()
	if err != nil {
		return nil, err
	}
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}
	now := e.now()
	refreshExp := now.Add(e.config.JWT.RefreshTTL)

	sctx, cancel := e.bounded(ctx)
	defer cancel()
	err = e.sessions.Create(sctx, &session.Record{
		ID:         id.String(),
		AccountID:  acc.ID,
		Role:       string(acc.Role),
		SecretHash: internal.HashRefreshSecret(secret),
		IssuedAt:   now.Unix(),
		ExpiresAt:  refreshExp.Unix(),
	})
	if err != nil {
		return nil, e.storeFailure(err)
	}

	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     internal.EncodeRefreshToken(id, secret),
		RefreshExpiresAt: time.Unix(refreshExp.Unix(), 0),
	}, nil
}

// Refresh redeems a refresh token and returns a new pair. The presented
// record is revoked and its successor created in one atomic step, so of
// two concurrent redemptions exactly one succeeds. Presenting an already
// redeemed token is rejected like any invalid token and reported as
// token_reuse_suspected.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observe(MetricRefreshLatency, start)

	id, secret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		return nil, e.failRefresh(ctx, "", "malformed")
	}

	nextID, err := internal.NewRecordID()
	if err != nil {
		return nil, err
	}
	nextSecret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}
	now := e.now()
	refreshExp := now.Add(e.config.JWT.RefreshTTL)

	sctx, cancel := e.bounded(ctx)
	succ, err := e.sessions.Rotate(sctx, id.String(), internal.HashRefreshSecret(secret), session.Successor{
		ID:         nextID.String(),
		SecretHash: internal.HashRefreshSecret(nextSecret),
		ExpiresAt:  refreshExp.Unix(),
	}, now)
	cancel()
	switch {
	case err == nil:
	case errors.Is(err, session.ErrRevoked):
		if !e.rotatedAway(ctx, id.String()) {
			return nil, e.failRefresh(ctx, id.String(), "revoked")
		}
		e.metricInc(MetricRefreshReuseDetected)
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventTokenReuseSuspected, false, "", id.String(), ErrTokenReuseSuspected, nil)
		return nil, ErrInvalidOrExpiredToken
	case errors.Is(err, session.ErrNotFound):
		return nil, e.failRefresh(ctx, id.String(), "not_found")
	case errors.Is(err, session.ErrExpired):
		return nil, e.failRefresh(ctx, id.String(), "expired")
	case errors.Is(err, session.ErrSecretMismatch):
		return nil, e.failRefresh(ctx, id.String(), "secret_mismatch")
	default:
		e.metricInc(MetricRefreshFailure)
		return nil, e.storeFailure(err)
	}

	access, accessExp, err := e.jwtManager.CreateAccess(succ.AccountID, succ.Role)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, succ.AccountID, succ.ID, nil, func() map[string]string {
		return map[string]string{"replaced": id.String()}
	})
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     internal.EncodeRefreshToken(nextID, nextSecret),
		RefreshExpiresAt: time.Unix(refreshExp.Unix(), 0),
	}, nil
}

// rotatedAway reports whether the revoked record id was redeemed for a
// successor. A record revoked by logout has no successor. Lookup failures
// count as rotated so a theft signal is never lost.
func (e *Engine) rotatedAway(ctx context.Context, id string) bool {
	sctx, cancel := e.bounded(ctx)
	defer cancel()
	rec, err := e.sessions.Get(sctx, id)
	if err != nil {
		return true
	}
	return rec.ReplacedBy != ""
}

func (e *Engine) failRefresh(ctx context.Context, tokenID, reason string) error {
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshInvalid, false, "", tokenID, ErrInvalidOrExpiredToken, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return ErrInvalidOrExpiredToken
}

// Logout revokes the session behind a refresh token. A token that is
// already revoked, expired or unknown is treated as logged out.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	id, secret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		return ErrInvalidOrExpiredToken
	}

	sctx, cancel := e.bounded(ctx)
	rec, err := e.sessions.Revoke(sctx, id.String(), internal.HashRefreshSecret(secret), e.now())
	cancel()
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrExpired), errors.Is(err, session.ErrRevoked):
		return nil
	case errors.Is(err, session.ErrSecretMismatch):
		return ErrInvalidOrExpiredToken
	default:
		return e.storeFailure(err)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, rec.AccountID, rec.ID, nil, nil)
	return nil
}

// RevokeAll revokes every active refresh record of the account and returns
// how many were revoked. Access tokens already issued stay valid until they
// expire.
func (e *Engine) RevokeAll(ctx context.Context, accountID string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	if accountID == "" {
		return 0, ErrInvalidRequest
	}
	sctx, cancel := e.bounded(ctx)
	n, err := e.sessions.RevokeAllForAccount(sctx, accountID, e.now())
	cancel()
	if err != nil {
		return 0, e.storeFailure(err)
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, accountID, "", nil, func() map[string]string {
		return map[string]string{"revoked": strconv.Itoa(n)}
	})
	return n, nil
}

// Authenticate verifies an access token by signature and expiry only. The
// returned principal carries no email.
func (e *Engine) Authenticate(accessToken string) (*Principal, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		return nil, ErrUnauthorized
	}
	role := permission.Role(claims.Role)
	if !role.Valid() {
		return nil, ErrUnauthorized
	}
	return &Principal{ID: claims.AccountID(), Role: role}, nil
}

// Can reports whether role holds capability.
func (e *Engine) Can(role permission.Role, capability permission.Capability) bool {
	if e == nil || e.roles == nil {
		return false
	}
	return e.roles.Can(role, capability)
}

func (e *Engine) Capabilities(role permission.Role) []permission.Capability {
	if e == nil || e.roles == nil {
		return nil
	}
	return e.roles.Capabilities(role)
}

// Profile loads the current public view of an account.
func (e *Engine) Profile(ctx context.Context, accountID string) (*Principal, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}
	acc, err := e.findByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	p := principalOf(acc)
	return &p, nil
}

// CreateAccount registers an account with 2FA disabled.
func (e *Engine) CreateAccount(ctx context.Context, email, pass string, role permission.Role) (*Principal, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidRequest
	}
	if !role.Valid() {
		return nil, ErrInvalidRequest
	}
	if len(pass) < password.MinLength || len(pass) > password.MaxLength {
		return nil, ErrPasswordPolicy
	}

	hash, err := e.hasher.Hash(pass)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	acc := &Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		TwoFactor:    TwoFactorDisabled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	sctx, cancel := e.bounded(ctx)
	err = e.accounts.CreateAccount(sctx, acc)
	cancel()
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			e.emitAudit(ctx, auditEventAccountCreated, false, "", "", err, nil)
			return nil, ErrAccountExists
		}
		return nil, e.storeFailure(err)
	}

	e.emitAudit(ctx, auditEventAccountCreated, true, acc.ID, "", nil, func() map[string]string {
		return map[string]string{"role": string(role)}
	})
	p := principalOf(acc)
	return &p, nil
}
