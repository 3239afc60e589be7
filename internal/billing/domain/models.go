// Package domain contains persistence models for the billing ledger.
// A Billing never stores a status column; its current status is derived
// from the append-only history.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// BillingStatus is a derived lifecycle state, recorded only in history rows.
type BillingStatus string

const (
	BillingStatusPending BillingStatus = "PENDING"
	BillingStatusPaid    BillingStatus = "PAID"
	BillingStatusFailed  BillingStatus = "FAILED"
	BillingStatusOverdue BillingStatus = "OVERDUE"
	BillingStatusVoid    BillingStatus = "VOID"
)

// BillingType tags what the money is owed for.
type BillingType string

const (
	BillingTypeSession  BillingType = "SESSION"
	BillingTypeProduct  BillingType = "PRODUCT"
	BillingTypeBusiness BillingType = "BUSINESS"
	BillingTypeOther    BillingType = "OTHER"
)

// History sources identify which flow appended a status fact.
const (
	SourceBillingCreated = "BILLING_CREATED"
	SourcePaymentIntent  = "PAYMENT_INTENT"
	SourceManualUpdate   = "MANUAL_UPDATE"
	SourceRecurringCycle = "RECURRING_CYCLE"
	SourceOverdueSweep   = "OVERDUE_SWEEP"
	SourceVoid           = "VOID"
)

// Billing is a money-owed fact. Created once; corrections happen through
// history inserts, never updates. Deleted only as checkout compensation
// before any payment settles.
type Billing struct {
	ID              snowflake.ID      `gorm:"primaryKey"`
	RecipientID     snowflake.ID      `gorm:"not null;index"`
	CreatedBy       snowflake.ID      `gorm:"not null"`
	BusinessID      snowflake.ID      `gorm:"not null;index"`
	Type            BillingType       `gorm:"type:text;not null"`
	Amount          decimal.Decimal   `gorm:"type:numeric(14,2);not null"`
	Currency        string            `gorm:"type:text;not null"`
	IssueDate       time.Time         `gorm:"not null"`
	DueDate         time.Time         `gorm:"not null;index"`
	IsCashable      bool              `gorm:"not null;default:false"`
	PaymentIntentID *string           `gorm:"type:text"`
	Timezone        string            `gorm:"type:text"`
	Metadata        datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Billing) TableName() string { return "billings" }

// BillingLineItem is an optional priced line under one billing.
type BillingLineItem struct {
	ID          snowflake.ID    `gorm:"primaryKey"`
	BillingID   snowflake.ID    `gorm:"not null;index"`
	Description string          `gorm:"type:text;not null"`
	Quantity    int             `gorm:"not null"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	CreatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingLineItem) TableName() string { return "billing_line_items" }

// BillingHistory is an append-only status fact. Rows are immutable after
// insert. Current billing status = the row with the maximum created_at
// (highest id wins a tie).
type BillingHistory struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	BillingID   snowflake.ID      `gorm:"not null;index:ix_billing_histories_billing_created,priority:1"`
	Status      BillingStatus     `gorm:"type:text;not null"`
	Source      string            `gorm:"type:text;not null"`
	Message     string            `gorm:"type:text"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb"`
	AttemptedAt time.Time         `gorm:"not null"`
	PaidBy      *snowflake.ID     `gorm:""`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index:ix_billing_histories_billing_created,priority:2"`
}

// TableName sets the database table name.
func (BillingHistory) TableName() string { return "billing_histories" }
