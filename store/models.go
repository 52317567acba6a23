package store

import "time"

type accountRecord struct {
	ID              string    `gorm:"type:varchar(36);primaryKey"`
	Email           string    `gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash    string    `gorm:"type:text;not null"`
	Role            string    `gorm:"type:varchar(20);not null"`
	TwoFactor       string    `gorm:"type:varchar(10);not null;default:'disabled'"`
	TOTPSecret      string    `gorm:"column:totp_secret;type:text"`
	TOTPLastCounter int64     `gorm:"column:totp_last_counter;not null;default:0"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (accountRecord) TableName() string { return "accounts" }

type backupCodeRecord struct {
	ID        uint       `gorm:"primaryKey"`
	AccountID string     `gorm:"type:varchar(36);index;not null"`
	CodeHash  string     `gorm:"type:varchar(64);not null"`
	Used      bool       `gorm:"not null;default:false"`
	UsedAt    *time.Time
	CreatedAt time.Time  `gorm:"not null"`
}

func (backupCodeRecord) TableName() string { return "backup_codes" }

// refreshRecord mirrors session.Record. Times are unix seconds so the
// expiry and revocation checks compare integers on every dialect.
type refreshRecord struct {
	ID         string `gorm:"type:varchar(26);primaryKey"`
	AccountID  string `gorm:"type:varchar(36);index;not null"`
	Role       string `gorm:"type:varchar(20);not null"`
	SecretHash string `gorm:"type:varchar(64);not null"`
	IssuedAt   int64  `gorm:"not null"`
	ExpiresAt  int64  `gorm:"not null"`
	RevokedAt  int64  `gorm:"not null;default:0"`
	ReplacedBy string `gorm:"type:varchar(26)"`
}

func (refreshRecord) TableName() string { return "refresh_records" }

type quoteRecord struct {
	ID         string    `gorm:"type:varchar(36);primaryKey"`
	Name       string    `gorm:"type:varchar(200);not null"`
	Email      string    `gorm:"type:varchar(255);not null"`
	Phone      string    `gorm:"type:varchar(40)"`
	Company    string    `gorm:"type:varchar(200)"`
	Message    string    `gorm:"type:text"`
	ContactKey string    `gorm:"type:varchar(64);index:idx_quotes_contact_created,priority:1;not null"`
	ClientIP   string    `gorm:"type:varchar(64)"`
	CreatedAt  time.Time `gorm:"index:idx_quotes_contact_created,priority:2;not null"`
}

func (quoteRecord) TableName() string { return "quotes" }
