package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	authcore "github.com/eis-1/electrical-supplier-website-sub001"
	"github.com/eis-1/electrical-supplier-website-sub001/permission"
	"gorm.io/gorm"
)

// Accounts implements authcore.AccountStore.
type Accounts struct {
	db *gorm.DB
}

func NewAccounts(db *gorm.DB) *Accounts {
	return &Accounts{db: db}
}

var _ authcore.AccountStore = (*Accounts)(nil)

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", authcore.ErrBackendUnavailable, err)
}

func (s *Accounts) CreateAccount(ctx context.Context, acc *authcore.Account) error {
	rec := accountRecord{
		ID:              acc.ID,
		Email:           strings.ToLower(acc.Email),
		PasswordHash:    acc.PasswordHash,
		Role:            string(acc.Role),
		TwoFactor:       string(acc.TwoFactor),
		TOTPSecret:      acc.TOTPSecret,
		TOTPLastCounter: acc.TOTPLastCounter,
		CreatedAt:       acc.CreatedAt,
		UpdatedAt:       acc.UpdatedAt,
	}
	if rec.TwoFactor == "" {
		rec.TwoFactor = string(authcore.TwoFactorDisabled)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&accountRecord{}).Where("email = ?", rec.Email).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return authcore.ErrAccountExists
		}
		return tx.Create(&rec).Error
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, authcore.ErrAccountExists), errors.Is(err, gorm.ErrDuplicatedKey):
		return authcore.ErrAccountExists
	default:
		return unavailable(err)
	}
}

func (s *Accounts) FindAccountByEmail(ctx context.Context, email string) (*authcore.Account, error) {
	var rec accountRecord
	err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).Take(&rec).Error
	if err != nil {
		return nil, notFoundOr(err)
	}
	return rec.toAccount(), nil
}

func (s *Accounts) FindAccountByID(ctx context.Context, id string) (*authcore.Account, error) {
	var rec accountRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if err != nil {
		return nil, notFoundOr(err)
	}
	return rec.toAccount(), nil
}

func (s *Accounts) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	res := s.db.WithContext(ctx).Model(&accountRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"password_hash": hash, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return unavailable(res.Error)
	}
	if res.RowsAffected == 0 {
		return authcore.ErrAccountNotFound
	}
	return nil
}

func (s *Accounts) SetPendingTOTP(ctx context.Context, id, sealedSecret string) error {
	res := s.db.WithContext(ctx).Model(&accountRecord{}).
		Where("id = ? AND two_factor <> ?", id, string(authcore.TwoFactorEnabled)).
		Updates(map[string]interface{}{
			"two_factor":  string(authcore.TwoFactorPending),
			"totp_secret": sealedSecret,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return unavailable(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.FindAccountByID(ctx, id); err != nil {
			return err
		}
		return authcore.ErrTwoFactorAlreadyEnabled
	}
	return nil
}

// EnableTOTP flips pending to enabled and installs the backup codes in one
// transaction. The state check is part of the UPDATE so two concurrent
// confirmations cannot both install codes.
func (s *Accounts) EnableTOTP(ctx context.Context, id string, counter int64, backupCodeHashes []string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&accountRecord{}).
			Where("id = ? AND two_factor = ?", id, string(authcore.TwoFactorPending)).
			Updates(map[string]interface{}{
				"two_factor":        string(authcore.TwoFactorEnabled),
				"totp_last_counter": counter,
				"updated_at":        time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return authcore.ErrTwoFactorNotPending
		}
		return replaceCodes(tx, id, backupCodeHashes)
	})
	if err != nil && !errors.Is(err, authcore.ErrTwoFactorNotPending) {
		return unavailable(err)
	}
	return err
}

func (s *Accounts) DisableTOTP(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&accountRecord{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"two_factor":        string(authcore.TwoFactorDisabled),
				"totp_secret":       "",
				"totp_last_counter": 0,
				"updated_at":        time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return authcore.ErrAccountNotFound
		}
		return tx.Where("account_id = ?", id).Delete(&backupCodeRecord{}).Error
	})
	if err != nil && !errors.Is(err, authcore.ErrAccountNotFound) {
		return unavailable(err)
	}
	return err
}

func (s *Accounts) AdvanceTOTPCounter(ctx context.Context, id string, counter int64) (bool, error) {
	res := s.db.WithContext(ctx).Model(&accountRecord{}).
		Where("id = ? AND totp_last_counter < ?", id, counter).
		Update("totp_last_counter", counter)
	if res.Error != nil {
		return false, unavailable(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Accounts) ConsumeBackupCode(ctx context.Context, id, codeHash string, usedAt time.Time) (bool, error) {
	usedAt = usedAt.UTC()
	res := s.db.WithContext(ctx).Model(&backupCodeRecord{}).
		Where("account_id = ? AND code_hash = ? AND used = ?", id, codeHash, false).
		Updates(map[string]interface{}{"used": true, "used_at": &usedAt})
	if res.Error != nil {
		return false, unavailable(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Accounts) ReplaceBackupCodes(ctx context.Context, id string, codeHashes []string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return replaceCodes(tx, id, codeHashes)
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Accounts) CountUnusedBackupCodes(ctx context.Context, id string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&backupCodeRecord{}).
		Where("account_id = ? AND used = ?", id, false).
		Count(&n).Error
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

func replaceCodes(tx *gorm.DB, accountID string, hashes []string) error {
	if err := tx.Where("account_id = ?", accountID).Delete(&backupCodeRecord{}).Error; err != nil {
		return err
	}
	if len(hashes) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]backupCodeRecord, 0, len(hashes))
	for _, h := range hashes {
		rows = append(rows, backupCodeRecord{AccountID: accountID, CodeHash: h, CreatedAt: now})
	}
	return tx.Create(&rows).Error
}

func notFoundOr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return authcore.ErrAccountNotFound
	}
	return unavailable(err)
}

func (r *accountRecord) toAccount() *authcore.Account {
	return &authcore.Account{
		ID:              r.ID,
		Email:           r.Email,
		PasswordHash:    r.PasswordHash,
		Role:            permission.Role(r.Role),
		TwoFactor:       authcore.TwoFactorState(r.TwoFactor),
		TOTPSecret:      r.TOTPSecret,
		TOTPLastCounter: r.TOTPLastCounter,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}
