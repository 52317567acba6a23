package authcore

import (
	"context"
	"errors"

	"github.com/eis-1/electrical-supplier-website-sub001/internal/rate"
	"github.com/eis-1/electrical-supplier-website-sub001/internal/stores"
	"github.com/eis-1/electrical-supplier-website-sub001/internal/vault"
	"go.uber.org/zap"
)

// CompleteLogin is the second login step. It needs the live challenge left
// by [Engine.Login] and either a TOTP code or, when useBackupCode is set, a
// backup code. Every failure is reported as ErrInvalidTwoFactorCode; too
// many failures discard the challenge and the caller must start over.
func (e *Engine) CompleteLogin(ctx context.Context, accountID, code string, useBackupCode bool) (*LoginResult, error) {
	if e == nil || e.accounts == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}
	if accountID == "" {
		return nil, ErrInvalidTwoFactorCode
	}
	if err := e.allow(ctx, rate.ScopeTwoFactor, clientIPFromContext(ctx), accountID); err != nil {
		return nil, err
	}

	sctx, cancel := e.bounded(ctx)
	ch, err := e.challenges.Get(sctx, accountID)
	cancel()
	switch {
	case err == nil:
	case errors.Is(err, stores.ErrChallengeNotFound), errors.Is(err, stores.ErrChallengeExpired):
		return nil, e.failSecondFactor(ctx, accountID, "no_challenge")
	default:
		return nil, e.storeFailure(err)
	}
	if ch.ExpiresAt <= e.now().Unix() {
		e.discardChallenge(ctx, accountID)
		return nil, e.failSecondFactor(ctx, accountID, "challenge_expired")
	}

	acc, err := e.findByID(ctx, accountID)
	if errors.Is(err, ErrAccountNotFound) {
		e.discardChallenge(ctx, accountID)
		return nil, e.failSecondFactor(ctx, accountID, "unknown_account")
	}
	if err != nil {
		return nil, err
	}
	if acc.TwoFactor != TwoFactorEnabled {
		e.discardChallenge(ctx, accountID)
		return nil, e.failSecondFactor(ctx, accountID, "two_factor_disabled")
	}

	ok, err := e.verifySecondFactor(ctx, acc, code, useBackupCode)
	if err != nil {
		return nil, err
	}
	if !ok {
		sctx, cancel := e.bounded(ctx)
		burned, ferr := e.challenges.RecordFailure(sctx, accountID, e.config.TOTP.ChallengeMaxAttempts)
		cancel()
		if ferr != nil && !errors.Is(ferr, stores.ErrChallengeNotFound) {
			e.logger.Warn("challenge failure not recorded", zap.String("account_id", accountID), zap.Error(ferr))
		}
		if burned {
			e.metricInc(MetricChallengeAttemptsExceeded)
			e.emitAudit(ctx, auditEventChallengeExhausted, false, accountID, "", ErrInvalidTwoFactorCode, nil)
		}
		return nil, e.failSecondFactor(ctx, accountID, "code_rejected")
	}

	// A concurrent request may have completed the same challenge.
	sctx, cancel = e.bounded(ctx)
	won, err := e.challenges.Consume(sctx, accountID)
	cancel()
	if err != nil {
		return nil, e.storeFailure(err)
	}
	if !won {
		return nil, e.failSecondFactor(ctx, accountID, "challenge_consumed")
	}

	tokens, err := e.issueTokens(ctx, acc)
	if err != nil {
		return nil, err
	}

	method := "totp"
	if useBackupCode {
		method = "backup_code"
	}
	e.metricInc(MetricTwoFactorSuccess)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, acc.ID, "", nil, func() map[string]string {
		return map[string]string{"method": method}
	})
	return &LoginResult{AccountID: acc.ID, Principal: principalOf(acc), Tokens: tokens}, nil
}

// VerifySecondFactor checks a TOTP or backup code for the account with this
// email and never issues credentials. A successful code is spent exactly as
// it would be at login. Unknown accounts and accounts without 2FA fail the
// same way as a wrong code.
func (e *Engine) VerifySecondFactor(ctx context.Context, email, code string, useBackupCode bool) (bool, error) {
	if e == nil || e.accounts == nil {
		return false, ErrEngineNotReady
	}
	email = normalizeEmail(email)
	if err := e.allow(ctx, rate.ScopeTwoFactor, clientIPFromContext(ctx), email); err != nil {
		return false, err
	}

	acc, err := e.findByEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		return false, e.failSecondFactor(ctx, "", "unknown_account")
	}
	if err != nil {
		return false, err
	}
	if acc.TwoFactor != TwoFactorEnabled {
		return false, e.failSecondFactor(ctx, acc.ID, "two_factor_disabled")
	}

	ok, err := e.verifySecondFactor(ctx, acc, code, useBackupCode)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, e.failSecondFactor(ctx, acc.ID, "code_rejected")
	}

	e.metricInc(MetricTwoFactorSuccess)
	e.emitAudit(ctx, auditEventTwoFactorVerified, true, acc.ID, "", nil, nil)
	return true, nil
}

func (e *Engine) failSecondFactor(ctx context.Context, accountID, reason string) error {
	e.metricInc(MetricTwoFactorFailure)
	e.emitAudit(ctx, auditEventTwoFactorFailure, false, accountID, "", ErrInvalidTwoFactorCode, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return ErrInvalidTwoFactorCode
}

func (e *Engine) discardChallenge(ctx context.Context, accountID string) {
	sctx, cancel := e.bounded(ctx)
	defer cancel()
	if _, err := e.challenges.Consume(sctx, accountID); err != nil {
		e.logger.Warn("challenge cleanup failed", zap.String("account_id", accountID), zap.Error(err))
	}
}

// verifySecondFactor checks one code for an enabled account. It returns
// (false, nil) for any rejected code and an error only when a store fails.
func (e *Engine) verifySecondFactor(ctx context.Context, acc *Account, code string, useBackupCode bool) (bool, error) {
	if useBackupCode {
		return e.consumeBackupCode(ctx, acc, code)
	}
	return e.verifyTOTP(ctx, acc, code)
}

// verifyTOTP accepts each time step at most once per account when replay
// protection is on; the conditional counter update decides between
// concurrent callers presenting the same code.
func (e *Engine) verifyTOTP(ctx context.Context, acc *Account, code string) (bool, error) {
	secret, err := e.vault.OpenSecret(acc.ID, acc.TOTPSecret)
	if err != nil {
		e.logger.Error("totp secret cannot be opened", zap.String("account_id", acc.ID), zap.Error(err))
		return false, nil
	}

	ok, counter, err := e.totp.VerifyCode(string(secret), code, e.now())
	if err != nil {
		e.logger.Error("totp verification failed", zap.String("account_id", acc.ID), zap.Error(err))
		return false, nil
	}
	if !ok {
		return false, nil
	}

	if !e.config.TOTP.EnforceReplayProtection {
		return true, nil
	}
	if counter <= acc.TOTPLastCounter {
		e.rejectReplay(ctx, acc.ID)
		return false, nil
	}
	sctx, cancel := e.bounded(ctx)
	advanced, err := e.accounts.AdvanceTOTPCounter(sctx, acc.ID, counter)
	cancel()
	if err != nil {
		return false, e.storeFailure(err)
	}
	if !advanced {
		e.rejectReplay(ctx, acc.ID)
		return false, nil
	}
	acc.TOTPLastCounter = counter
	return true, nil
}

func (e *Engine) rejectReplay(ctx context.Context, accountID string) {
	e.metricInc(MetricTOTPReplayRejected)
	e.emitAudit(ctx, auditEventTOTPReplay, false, accountID, "", ErrInvalidTwoFactorCode, nil)
}

// consumeBackupCode marks a matching unused code as used in one conditional
// write. Malformed input never reaches the store.
func (e *Engine) consumeBackupCode(ctx context.Context, acc *Account, code string) (bool, error) {
	canonical := vault.CanonicalizeBackupCode(code)
	if !vault.ValidBackupCodeShape(canonical, e.config.TOTP.BackupCodeLength) {
		e.metricInc(MetricBackupCodeFailed)
		e.emitAudit(ctx, auditEventBackupCodeFailed, false, acc.ID, "", ErrInvalidTwoFactorCode, func() map[string]string {
			return map[string]string{"reason": "malformed"}
		})
		return false, nil
	}

	sctx, cancel := e.bounded(ctx)
	ok, err := e.accounts.ConsumeBackupCode(sctx, acc.ID, e.vault.HashBackupCode(acc.ID, canonical), e.now().UTC())
	cancel()
	if err != nil {
		return false, e.storeFailure(err)
	}
	if !ok {
		e.metricInc(MetricBackupCodeFailed)
		e.emitAudit(ctx, auditEventBackupCodeFailed, false, acc.ID, "", ErrInvalidTwoFactorCode, func() map[string]string {
			return map[string]string{"reason": "no_match"}
		})
		return false, nil
	}

	e.metricInc(MetricBackupCodeUsed)
	e.emitAudit(ctx, auditEventBackupCodeUsed, true, acc.ID, "", nil, nil)
	return true, nil
}
