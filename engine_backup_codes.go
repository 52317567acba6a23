package authcore

import (
	"context"

	"github.com/eis-1/electrical-supplier-website-sub001/internal/rate"
	"github.com/eis-1/electrical-supplier-website-sub001/internal/vault"
)

// RegenerateBackupCodes replaces every backup code of the account with a new
// batch and returns it in plaintext. A current TOTP code is required; a
// backup code cannot be used to mint new ones.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, accountID, totpCode string) ([]string, error) {
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
	if acc.TwoFactor != TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}

	ok, err := e.verifyTOTP(ctx, acc, totpCode)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, e.failSecondFactor(ctx, acc.ID, "regenerate_code")
	}

	codes, err := vault.GenerateBackupCodes(e.config.TOTP.BackupCodeCount, e.config.TOTP.BackupCodeLength)
	if err != nil {
		return nil, err
	}

	sctx, cancel := e.bounded(ctx)
	err = e.accounts.ReplaceBackupCodes(sctx, acc.ID, e.vault.HashBackupCodes(acc.ID, codes))
	cancel()
	if err != nil {
		return nil, e.storeFailure(err)
	}

	e.metricInc(MetricBackupCodesRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesRegenerated, true, acc.ID, "", nil, nil)
	return codes, nil
}
