package store

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/eis-1/electrical-supplier-website-sub001/session"
	"gorm.io/gorm"
)

// Sessions implements session.Store on SQL. Rows are kept forever, so a
// replayed token is recognised for as long as the table exists.
type Sessions struct {
	db *gorm.DB
}

func NewSessions(db *gorm.DB) *Sessions {
	return &Sessions{db: db}
}

var _ session.Store = (*Sessions)(nil)

func sessionUnavailable(err error) error {
	return fmt.Errorf("%w: %v", session.ErrUnavailable, err)
}

func (s *Sessions) Create(ctx context.Context, rec *session.Record) error {
	row := refreshRecord{
		ID:         rec.ID,
		AccountID:  rec.AccountID,
		Role:       rec.Role,
		SecretHash: hex.EncodeToString(rec.SecretHash[:]),
		IssuedAt:   rec.IssuedAt,
		ExpiresAt:  rec.ExpiresAt,
		RevokedAt:  rec.RevokedAt,
		ReplacedBy: rec.ReplacedBy,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return sessionUnavailable(err)
	}
	return nil
}

func (s *Sessions) Get(ctx context.Context, id string) (*session.Record, error) {
	var row refreshRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, session.ErrNotFound
		}
		return nil, sessionUnavailable(err)
	}
	return row.toRecord()
}

// Rotate checks the presented record and swaps in its successor inside one
// transaction. The revoking UPDATE is conditional on revoked_at = 0; when a
// concurrent rotation commits first it matches no row and this call reports
// ErrRevoked.
func (s *Sessions) Rotate(ctx context.Context, id string, secretHash [32]byte, next session.Successor, now time.Time) (*session.Record, error) {
	var succ *session.Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := checkPresented(tx, id, secretHash, now)
		if err != nil {
			return err
		}

		res := tx.Model(&refreshRecord{}).
			Where("id = ? AND revoked_at = 0", id).
			Updates(map[string]interface{}{"revoked_at": now.Unix(), "replaced_by": next.ID})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return session.ErrRevoked
		}

		succRow := refreshRecord{
			ID:         next.ID,
			AccountID:  row.AccountID,
			Role:       row.Role,
			SecretHash: hex.EncodeToString(next.SecretHash[:]),
			IssuedAt:   now.Unix(),
			ExpiresAt:  next.ExpiresAt,
		}
		if err := tx.Create(&succRow).Error; err != nil {
			return err
		}
		succ = &session.Record{
			ID:         next.ID,
			AccountID:  row.AccountID,
			Role:       row.Role,
			SecretHash: next.SecretHash,
			IssuedAt:   now.Unix(),
			ExpiresAt:  next.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return succ, nil
}

func (s *Sessions) Revoke(ctx context.Context, id string, secretHash [32]byte, now time.Time) (*session.Record, error) {
	var out *session.Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := checkPresented(tx, id, secretHash, now)
		if err != nil {
			return err
		}
		res := tx.Model(&refreshRecord{}).
			Where("id = ? AND revoked_at = 0", id).
			Update("revoked_at", now.Unix())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return session.ErrRevoked
		}
		out = &session.Record{
			ID:         id,
			AccountID:  row.AccountID,
			Role:       row.Role,
			SecretHash: secretHash,
			RevokedAt:  now.Unix(),
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (s *Sessions) RevokeAllForAccount(ctx context.Context, accountID string, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).Model(&refreshRecord{}).
		Where("account_id = ? AND revoked_at = 0 AND expires_at > ?", accountID, now.Unix()).
		Update("revoked_at", now.Unix())
	if res.Error != nil {
		return 0, sessionUnavailable(res.Error)
	}
	return int(res.RowsAffected), nil
}

// checkPresented applies the checks in the same order as the Redis store:
// existence, secret, revocation, expiry.
func checkPresented(tx *gorm.DB, id string, secretHash [32]byte, now time.Time) (*refreshRecord, error) {
	var row refreshRecord
	if err := tx.Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, session.ErrNotFound
		}
		return nil, err
	}
	presented := hex.EncodeToString(secretHash[:])
	if subtle.ConstantTimeCompare([]byte(presented), []byte(row.SecretHash)) != 1 {
		return nil, session.ErrSecretMismatch
	}
	if row.RevokedAt != 0 {
		return nil, session.ErrRevoked
	}
	if row.ExpiresAt <= now.Unix() {
		return nil, session.ErrExpired
	}
	return &row, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrSecretMismatch),
		errors.Is(err, session.ErrRevoked),
		errors.Is(err, session.ErrExpired):
		return err
	default:
		return sessionUnavailable(err)
	}
}

func (r *refreshRecord) toRecord() (*session.Record, error) {
	raw, err := hex.DecodeString(r.SecretHash)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("%w: corrupt secret hash for %s", session.ErrUnavailable, r.ID)
	}
	rec := &session.Record{
		ID:         r.ID,
		AccountID:  r.AccountID,
		Role:       r.Role,
		IssuedAt:   r.IssuedAt,
		ExpiresAt:  r.ExpiresAt,
		RevokedAt:  r.RevokedAt,
		ReplacedBy: r.ReplacedBy,
	}
	copy(rec.SecretHash[:], raw)
	return rec, nil
}
