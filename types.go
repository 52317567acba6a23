package authcore

import (
	"context"
	"time"

	"github.com/eis-1/electrical-supplier-website-sub001/internal/abuse"
	"github.com/eis-1/electrical-supplier-website-sub001/permission"
)

// TwoFactorState is the TOTP lifecycle of an account.
type TwoFactorState string

const (
	TwoFactorDisabled TwoFactorState = "disabled"
	TwoFactorPending  TwoFactorState = "pending"
	TwoFactorEnabled  TwoFactorState = "enabled"
)

// Account is the identity record as seen by the engine. TOTPSecret holds the
// vault-sealed secret and is only set while TwoFactor is pending or enabled.
// TOTPLastCounter is the last accepted time step, used to refuse replays.
type Account struct {
	ID              string
	Email           string
	PasswordHash    string
	Role            permission.Role
	TwoFactor       TwoFactorState
	TOTPSecret      string
	TOTPLastCounter int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AccountStore is the persistence collaborator for accounts and their
// backup codes. Lookups return ErrAccountNotFound when nothing matches.
//
// ConsumeBackupCode and AdvanceTOTPCounter must each be a single
// conditional write: of two concurrent callers at most one sees true.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *Account) error
	FindAccountByEmail(ctx context.Context, email string) (*Account, error)
	FindAccountByID(ctx context.Context, id string) (*Account, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error

	// SetPendingTOTP stores a sealed secret and moves the account to
	// pending. It fails with ErrTwoFactorAlreadyEnabled if 2FA is on.
	SetPendingTOTP(ctx context.Context, id, sealedSecret string) error
	// EnableTOTP moves a pending account to enabled, records counter as the
	// last used step and replaces the backup codes. It fails with
	// ErrTwoFactorNotPending if the account is not pending.
	EnableTOTP(ctx context.Context, id string, counter int64, backupCodeHashes []string) error
	// DisableTOTP clears the secret and deletes every backup code.
	DisableTOTP(ctx context.Context, id string) error
	// AdvanceTOTPCounter stores counter if it is greater than the stored
	// one and reports whether it did.
	AdvanceTOTPCounter(ctx context.Context, id string, counter int64) (bool, error)

	// ConsumeBackupCode marks the unused code with this hash as used and
	// reports whether a row changed.
	ConsumeBackupCode(ctx context.Context, id, codeHash string, usedAt time.Time) (bool, error)
	ReplaceBackupCodes(ctx context.Context, id string, codeHashes []string) error
	CountUnusedBackupCodes(ctx context.Context, id string) (int, error)
}

// Quote is an accepted lead submission.
type Quote struct {
	ID         string
	Name       string
	Email      string
	Phone      string
	Company    string
	Message    string
	ContactKey string
	ClientIP   string
	CreatedAt  time.Time
}

// QuoteInput is a lead submission as received from the public form.
// RenderedAt is the time the form was served, as reported by the client.
type QuoteInput struct {
	Name       string
	Email      string
	Phone      string
	Company    string
	Message    string
	Honeypot   string
	RenderedAt time.Time
}

// QuoteStore is the persistence collaborator for leads. It also answers the
// history questions the abuse screener asks.
type QuoteStore interface {
	abuse.History
	CreateQuote(ctx context.Context, quote *Quote) error
	ListQuotes(ctx context.Context, limit, offset int) ([]Quote, int64, error)
}

// Principal is the public view of an authenticated account.
type Principal struct {
	ID    string
	Email string
	Role  permission.Role
}

// TokenPair is the credential set issued after a completed login or a
// refresh. RefreshToken must never be logged or put in a URL.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// LoginResult is the outcome of a login step. When RequiresTwoFactor is
// true, Tokens is nil and the caller must complete the second step with
// AccountID.
type LoginResult struct {
	RequiresTwoFactor bool
	AccountID         string
	Principal         Principal
	Tokens            *TokenPair
}

// TwoFactorSetup is returned once when enrollment starts.
type TwoFactorSetup struct {
	Secret     string
	OTPAuthURL string
	QRCodePNG  []byte
}

// TwoFactorStatus reports an account's 2FA state.
type TwoFactorStatus struct {
	Enabled              bool
	Pending              bool
	BackupCodesRemaining int
}
