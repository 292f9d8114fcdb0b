package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PeriodStatus string

const (
	PeriodStatusActive    PeriodStatus = "active"
	PeriodStatusCompleted PeriodStatus = "completed"
)

// UsagePeriod is one billing window for an account. A partial unique index
// on (user_id) WHERE status = 'active' guarantees at most one active period
// per user; see database.Migrate. Rows are never deleted.
type UsagePeriod struct {
	gorm.Model
	UserID         uuid.UUID    `gorm:"type:uuid;index;not null"`
	PeriodStart    time.Time    `gorm:"not null"`
	PeriodEnd      time.Time    `gorm:"not null"`
	TokenLimit     int64        `gorm:"not null"`
	TokensUsed     int64        `gorm:"not null;default:0"`
	ReportCount    int          `gorm:"not null;default:0"`
	ChatTokensUsed int64        `gorm:"not null;default:0"`
	Status         PeriodStatus `gorm:"index;default:'active'"`
}

// UsageEvent records that a usage increment with a given idempotency key has
// been applied. The unique index on the key is the synchronization point for
// at-most-once accounting; rows are purged after the retention window.
type UsageEvent struct {
	gorm.Model
	IdempotencyKey string    `gorm:"uniqueIndex;size:128;not null"`
	UserID         uuid.UUID `gorm:"type:uuid;index"`
	ReportID       *uint     `gorm:"index"`
	Tokens         int64
	Kind           string `gorm:"size:16;default:'report'"`
}

// Subscription mirrors the Stripe subscription that funds an account's
// quota. Billing-aligned usage periods take their boundaries from here.
type Subscription struct {
	gorm.Model
	UserID               uuid.UUID `gorm:"type:uuid;index"`
	StripeSubscriptionID string    `gorm:"uniqueIndex"`
	StripeCustomerID     string    `gorm:"index"`
	Status               string    `gorm:"index"`
	PriceTier            string
	CurrentPeriodStart   time.Time
	CurrentPeriodEnd     time.Time
	MonthlyTokenQuota    int64
}
