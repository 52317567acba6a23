package authcore

import (
	"context"
	"errors"
	"strconv"

	"github.com/eis-1/electrical-supplier-website-sub001/internal/rate"
	"github.com/eis-1/electrical-supplier-website-sub001/password"
	"go.uber.org/zap"
)

// ChangePassword replaces the account password after checking the current
// one, then revokes every refresh record so other devices must log in again.
// The returned count is the number of sessions revoked.
func (e *Engine) ChangePassword(ctx context.Context, accountID, oldPassword, newPassword string) (int, error) {
	if e == nil || e.accounts == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	if err := e.allow(ctx, rate.ScopeAuth, clientIPFromContext(ctx), accountID); err != nil {
		return 0, err
	}
	if len(newPassword) < password.MinLength || len(newPassword) > password.MaxLength {
		return 0, e.failPasswordChange(ctx, accountID, ErrPasswordPolicy)
	}
	if newPassword == oldPassword {
		return 0, e.failPasswordChange(ctx, accountID, ErrPasswordReuse)
	}

	acc, err := e.findByID(ctx, accountID)
	if err != nil {
		return 0, err
	}
	ok, err := e.hasher.Verify(oldPassword, acc.PasswordHash)
	if err != nil {
		e.logger.Error("password hash unreadable", zap.String("account_id", acc.ID), zap.Error(err))
		return 0, e.failPasswordChange(ctx, acc.ID, ErrInvalidCredentials)
	}
	if !ok {
		return 0, e.failPasswordChange(ctx, acc.ID, ErrInvalidCredentials)
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return 0, err
	}
	sctx, cancel := e.bounded(ctx)
	err = e.accounts.UpdatePasswordHash(sctx, acc.ID, hash)
	cancel()
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return 0, ErrAccountNotFound
		}
		return 0, e.storeFailure(err)
	}

	sctx, cancel = e.bounded(ctx)
	revoked, err := e.sessions.RevokeAllForAccount(sctx, acc.ID, e.now())
	cancel()
	if err != nil {
		// The new hash is stored; surface the failure so the caller retries
		// the revocation with RevokeAll.
		e.logger.Error("session revocation after password change failed", zap.String("account_id", acc.ID), zap.Error(err))
		return 0, e.storeFailure(err)
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, acc.ID, "", nil, func() map[string]string {
		return map[string]string{"revoked": strconv.Itoa(revoked)}
	})
	return revoked, nil
}

func (e *Engine) failPasswordChange(ctx context.Context, accountID string, err error) error {
	e.metricInc(MetricPasswordChangeFailure)
	e.emitAudit(ctx, auditEventPasswordChangeFailure, false, accountID, "", err, nil)
	return err
}
