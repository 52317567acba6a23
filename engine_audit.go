package authcore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/eis-1/electrical-supplier-website-sub001/internal/abuse"
	"github.com/eis-1/electrical-supplier-website-sub001/internal/rate"
)

const (
	auditEventLoginSuccess           = "login_success"
	auditEventLoginFailure           = "login_failure"
	auditEventTwoFactorRequired      = "two_factor_required"
	auditEventTwoFactorFailure       = "two_factor_failure"
	auditEventChallengeExhausted     = "two_factor_attempts_exceeded"
	auditEventTwoFactorVerified      = "two_factor_verified"
	auditEventTwoFactorSetup         = "two_factor_setup_requested"
	auditEventTwoFactorEnabled       = "two_factor_enabled"
	auditEventTwoFactorDisabled      = "two_factor_disabled"
	auditEventTOTPReplay             = "totp_replay_rejected"
	auditEventBackupCodeUsed         = "backup_code_used"
	auditEventBackupCodeFailed       = "backup_code_failed"
	auditEventBackupCodesRegenerated = "backup_codes_regenerated"
	auditEventRefreshSuccess         = "refresh_success"
	auditEventRefreshInvalid         = "refresh_invalid"
	auditEventTokenReuseSuspected    = "token_reuse_suspected"
	auditEventLogout                 = "logout"
	auditEventLogoutAll              = "logout_all"
	auditEventPasswordChangeSuccess  = "password_change_success"
	auditEventPasswordChangeFailure  = "password_change_failure"
	auditEventAccountCreated         = "account_created"
	auditEventRateLimitTriggered     = "rate_limit_triggered"
	auditEventSpamRejected           = "spam_rejected"
	auditEventQuoteDuplicate         = "quote_duplicate"
	auditEventQuoteAccepted          = "quote_accepted"
)

// AuditErrorCode is the stable error label carried by audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrInvalidTwoFactor   AuditErrorCode = "invalid_two_factor_code"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrTokenReuse         AuditErrorCode = "token_reuse"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrSpam               AuditErrorCode = "spam_rejected"
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrPasswordReuse      AuditErrorCode = "password_reuse"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrTwoFactorState     AuditErrorCode = "two_factor_state"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	tokenID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["request_id"] = rid
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		AccountID: accountID,
		TokenID:   tokenID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope string, d rate.Decision) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", ErrRateLimited, func() map[string]string {
		return map[string]string{
			"scope":       scope,
			"count":       strconv.FormatInt(d.Count, 10),
			"limit":       strconv.Itoa(d.Limit),
			"retry_after": strconv.FormatInt(int64(d.RetryAfter/time.Millisecond), 10) + "ms",
		}
	})
}

// emitSpam reports a screener rejection. Duplicates get their own event type
// so they can be told apart from hostile traffic.
func (e *Engine) emitSpam(ctx context.Context, rej *abuse.Rejection) {
	eventType := auditEventSpamRejected
	if rej.Stage == abuse.StageDuplicate {
		eventType = auditEventQuoteDuplicate
	}
	e.emitAudit(ctx, eventType, false, "", "", ErrSpamRejected, func() map[string]string {
		return map[string]string{
			"stage":       string(rej.Stage),
			"identifier":  rej.Identifier,
			"measurement": rej.Measurement,
			"hostile":     strconv.FormatBool(rej.Hostile),
		}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrInvalidTwoFactorCode):
		return auditErrInvalidTwoFactor
	case errors.Is(err, ErrTokenReuseSuspected):
		return auditErrTokenReuse
	case errors.Is(err, ErrInvalidOrExpiredToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrSpamRejected):
		return auditErrSpam
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrForbidden):
		return auditErrUnauthorized
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrAccountExists):
		return auditErrDuplicate
	case errors.Is(err, ErrTwoFactorAlreadyEnabled),
		errors.Is(err, ErrTwoFactorNotPending),
		errors.Is(err, ErrTwoFactorNotEnabled):
		return auditErrTwoFactorState
	case errors.Is(err, ErrBackendUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
