package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table. One row per user, created lazily
// on first touch.
type Account struct {
	UserID       string    `gorm:"primaryKey"`
	BalanceCents int64     `gorm:"not null;default:0"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

// TransactionRow mirrors the transactions table. The auto-increment ID
// preserves insertion order within a second; TransactionID is the public
// identifier.
type TransactionRow struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement"`
	TransactionID string    `gorm:"type:uuid;not null;uniqueIndex:uniq_transactions_transaction_id"`
	UserID        string    `gorm:"not null;index:idx_transactions_user_id"`
	Kind          string    `gorm:"not null"`
	AmountCents   int64     `gorm:"not null"`
	Description   string    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (TransactionRow) TableName() string { return "transactions" }

func (row *TransactionRow) BeforeCreate(tx *gorm.DB) error {
	if row.TransactionID == "" {
		row.TransactionID = uuid.NewString()
	}
	return nil
}

// CooldownRow mirrors the cooldowns table, one row per (user, action).
type CooldownRow struct {
	UserID      string    `gorm:"primaryKey"`
	ActionKey   string    `gorm:"primaryKey"`
	LastClaimAt time.Time `gorm:"not null"`
}

func (CooldownRow) TableName() string { return "cooldowns" }

// VIPRow mirrors the vip_entitlements table. Profile holds the cosmetic
// payload as JSON so markers can grow without schema churn.
type VIPRow struct {
	UserID    string         `gorm:"primaryKey"`
	ExpiresAt time.Time      `gorm:"not null"`
	Profile   datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

func (VIPRow) TableName() string { return "vip_entitlements" }

// AdminGrantRow mirrors the admin_grants table.
type AdminGrantRow struct {
	UserID    string    `gorm:"primaryKey"`
	GrantedBy string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (AdminGrantRow) TableName() string { return "admin_grants" }

// Models lists every table for schema migration.
func Models() []any {
	return []any{&Account{}, &TransactionRow{}, &CooldownRow{}, &VIPRow{}, &AdminGrantRow{}}
}
