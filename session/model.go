package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for the presented id.
	ErrNotFound = errors.New("refresh record not found")
	// ErrExpired is returned when the record exists but is past its expiry.
	ErrExpired = errors.New("refresh record expired")
	// ErrSecretMismatch is returned when the presented secret does not hash to
	// the stored value. The record is left untouched.
	ErrSecretMismatch = errors.New("refresh secret mismatch")
	// ErrRevoked is returned when a correctly-signed but already revoked record
	// is presented again. Callers treat this as possible token theft.
	ErrRevoked = errors.New("refresh record already revoked")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("session backend unavailable")
)

// Record is one issued refresh token. Records are never rewritten except to
// mark them revoked, so a rotation chain can be walked through ReplacedBy.
type Record struct {
	ID         string
	AccountID  string
	Role       string
	SecretHash [32]byte
	IssuedAt   int64
	ExpiresAt  int64
	RevokedAt  int64
	ReplacedBy string
}

// Revoked reports whether the record has been redeemed or revoked.
func (r *Record) Revoked() bool {
	return r.RevokedAt != 0
}

// Active reports whether the record can still be redeemed at now.
func (r *Record) Active(now time.Time) bool {
	return !r.Revoked() && now.Unix() < r.ExpiresAt
}

// Successor carries the fields of the record that replaces a redeemed one.
// Account and role are copied from the redeemed record by the store.
type Successor struct {
	ID         string
	SecretHash [32]byte
	ExpiresAt  int64
}

// Store persists refresh token records.
//
// Rotate must be a single atomic step: of two concurrent calls for the same
// id, exactly one returns a successor and the other observes ErrRevoked.
// A call that fails for any reason leaves the presented record unchanged.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Rotate(ctx context.Context, id string, secretHash [32]byte, next Successor, now time.Time) (*Record, error)
	Revoke(ctx context.Context, id string, secretHash [32]byte, now time.Time) (*Record, error)
	RevokeAllForAccount(ctx context.Context, accountID string, now time.Time) (int, error)
}
