package authcore

import (
	"context"
	"errors"

	"github.com/eis-1/electrical-supplier-website-sub001/internal/rate"
	"github.com/eis-1/electrical-supplier-website-sub001/internal/vault"
	"go.uber.org/zap"
)

// SetupTwoFactor starts TOTP enrollment: a fresh secret is sealed and stored
// as pending, and the provisioning data is returned once. Calling it again
// before enabling replaces the pending secret.
func (e *Engine) SetupTwoFactor(ctx context.Context, accountID string) (*TwoFactorSetup, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}
	if err := e.allow(ctx, rate.ScopeTwoFactor, clientIPFromContext(ctx), accountID); err != nil {
		return nil, err
	}

	acc, err := e.findByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc.TwoFactor == TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	setup, err := e.totp.Generate(acc.Email)
	if err != nil {
		return nil, err
	}
	sealed, err := e.vault.SealSecret(acc.ID, []byte(setup.Secret))
	if err != nil {
		return nil, err
	}

	sctx, cancel := e.bounded(ctx)
	err = e.accounts.SetPendingTOTP(sctx, acc.ID, sealed)
	cancel()
	if err != nil {
		if errors.Is(err, ErrTwoFactorAlreadyEnabled) {
			return nil, ErrTwoFactorAlreadyEnabled
		}
		return nil, e.storeFailure(err)
	}

	e.emitAudit(ctx, auditEventTwoFactorSetup, true, acc.ID, "", nil, nil)
	return setup, nil
}

// EnableTwoFactor confirms a pending enrollment with a code from the
// authenticator and returns the plaintext backup codes. They are not
// retrievable afterwards.
func (e *Engine) EnableTwoFactor(ctx context.Context, accountID, code string) ([]string, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}
	if err := e.allow(ctx, rate.ScopeTwoFactor, clientIPFromContext(ctx), accountID); err != nil {
		return nil, err
	}

	acc, err := e.findByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	switch acc.TwoFactor {
	case TwoFactorEnabled:
		return nil, ErrTwoFactorAlreadyEnabled
	case TwoFactorPending:
	default:
		return nil, ErrTwoFactorNotPending
	}

	secret, err := e.vault.OpenSecret(acc.ID, acc.TOTPSecret)
	if err != nil {
		e.logger.Error("pending totp secret cannot be opened", zap.String("account_id", acc.ID), zap.Error(err))
		return nil, ErrTwoFactorNotPending
	}
	ok, counter, err := e.totp.VerifyCode(string(secret), code, e.now())
	if err != nil || !ok {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, acc.ID, "", ErrInvalidTwoFactorCode, func() map[string]string {
			return map[string]string{"reason": "enrollment_code"}
		})
		return nil, ErrInvalidTwoFactorCode
	}

	codes, err := vault.GenerateBackupCodes(e.config.TOTP.BackupCodeCount, e.config.TOTP.BackupCodeLength)
	if err != nil {
		return nil, err
	}

	sctx, cancel := e.bounded(ctx)
	err = e.accounts.EnableTOTP(sctx, acc.ID, counter, e.vault.HashBackupCodes(acc.ID, codes))
	cancel()
	if err != nil {
		if errors.Is(err, ErrTwoFactorNotPending) {
			return nil, ErrTwoFactorNotPending
		}
		return nil, e.storeFailure(err)
	}

	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, acc.ID, "", nil, nil)
	return codes, nil
}

// DisableTwoFactor turns 2FA off after a valid TOTP or backup code. The
// secret and every backup code are discarded.
func (e *Engine) DisableTwoFactor(ctx context.Context, accountID, code string, useBackupCode bool) error {
	if e == nil || e.accounts == nil {
		return ErrEngineNotReady
	}
	if err := e.allow(ctx, rate.ScopeTwoFactor, clientIPFromContext(ctx), accountID); err != nil {
		return err
	}

	acc, err := e.findByID(ctx, accountID)
	if err != nil {
		return err
	}
	if acc.TwoFactor != TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}

	ok, err := e.verifySecondFactor(ctx, acc, code, useBackupCode)
	if err != nil {
		return err
	}
	if !ok {
		return e.failSecondFactor(ctx, acc.ID, "disable_code")
	}

	sctx, cancel := e.bounded(ctx)
	err = e.accounts.DisableTOTP(sctx, acc.ID)
	cancel()
	if err != nil {
		return e.storeFailure(err)
	}

	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, acc.ID, "", nil, nil)
	return nil
}

// TwoFactorStatus reports the enrollment state and how many backup codes
// are left.
func (e *Engine) TwoFactorStatus(ctx context.Context, accountID string) (*TwoFactorStatus, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}
	acc, err := e.findByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	status := &TwoFactorStatus{
		Enabled: acc.TwoFactor == TwoFactorEnabled,
		Pending: acc.TwoFactor == TwoFactorPending,
	}
	if !status.Enabled {
		return status, nil
	}

	sctx, cancel := e.bounded(ctx)
	n, err := e.accounts.CountUnusedBackupCodes(sctx, acc.ID)
	cancel()
	if err != nil {
		return nil, e.storeFailure(err)
	}
	status.BackupCodesRemaining = n
	return status, nil
}
