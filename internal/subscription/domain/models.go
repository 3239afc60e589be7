// Package domain contains platform-scoped subscription models. Like the
// billing ledger, subscription state is history-derived; the isActive
// flag is an index hint, never the source of truth for entitlements.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Frequency string

const (
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
	FrequencyYearly  Frequency = "YEARLY"
)

// Period returns the end of one billing cycle starting at from.
func (f Frequency) Period(from time.Time) (time.Time, error) {
	switch f {
	case FrequencyWeekly:
		return from.AddDate(0, 0, 7), nil
	case FrequencyMonthly:
		return from.AddDate(0, 1, 0), nil
	case FrequencyYearly:
		return from.AddDate(1, 0, 0), nil
	default:
		return time.Time{}, ErrInvalidFrequency
	}
}

type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "ACTIVE"
	StatusInactive SubscriptionStatus = "INACTIVE"
)

// History sources.
const (
	SourceSubscriptionCreated = "BUSINESS_SUBSCRIPTION_CREATED"
	SourcePaymentConfirmed    = "PAYMENT_CONFIRMED"
	SourceManual              = "MANUAL"
	SourceRecurringCycle      = "RECURRING_CYCLE"
)

// Plan is a sellable subscription tier.
type Plan struct {
	ID              snowflake.ID               `gorm:"primaryKey"`
	Name            string                     `gorm:"type:text;not null"`
	Price           decimal.Decimal            `gorm:"type:numeric(14,2);not null"`
	Currency        string                     `gorm:"type:text;not null"`
	DiscountPercent decimal.Decimal            `gorm:"type:numeric(6,3);not null;default:0"`
	Frequencies     datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	Modules         datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	AutoRenew       bool                       `gorm:"not null;default:false"`
	CreatedAt       time.Time                  `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time                  `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// BusinessSubscription links one business to one plan for one cadence.
type BusinessSubscription struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	BusinessID snowflake.ID `gorm:"not null;index"`
	PlanID     snowflake.ID `gorm:"not null"`
	Frequency  Frequency    `gorm:"type:text;not null"`
	Timezone   string       `gorm:"type:text"`
	IsActive   bool         `gorm:"not null;default:false;index"`
	StartDate  time.Time    `gorm:"not null"`
	EndDate    time.Time    `gorm:"not null"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BusinessSubscription) TableName() string { return "business_subscriptions" }

// BusinessSubscriptionHistory is the append-only activation trail.
type BusinessSubscriptionHistory struct {
	ID             snowflake.ID       `gorm:"primaryKey"`
	SubscriptionID snowflake.ID       `gorm:"not null;index:ix_subscription_histories_sub_created,priority:1"`
	Status         SubscriptionStatus `gorm:"type:text;not null"`
	Source         string             `gorm:"type:text;not null"`
	Message        string             `gorm:"type:text"`
	Metadata       datatypes.JSONMap  `gorm:"type:jsonb"`
	OccurredAt     time.Time          `gorm:"not null"`
	StartDate      time.Time          `gorm:""`
	EndDate        time.Time          `gorm:""`
	CreatedAt      time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP;index:ix_subscription_histories_sub_created,priority:2"`
}

// TableName sets the database table name.
func (BusinessSubscriptionHistory) TableName() string {
	return "business_subscription_histories"
}

// BusinessSubscriptionBilling joins one billing cycle to its subscription.
type BusinessSubscriptionBilling struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	SubscriptionID snowflake.ID `gorm:"not null;index"`
	BillingID      snowflake.ID `gorm:"not null;uniqueIndex"`
	Frequency      Frequency    `gorm:"type:text;not null"`
	Timezone       string       `gorm:"type:text"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BusinessSubscriptionBilling) TableName() string {
	return "business_subscription_billings"
}

type CreateRequest struct {
	BusinessID snowflake.ID `json:"business_id"`
	PlanID     snowflake.ID `json:"plan_id"`
	Frequency  Frequency    `json:"frequency"`
	Timezone   string       `json:"timezone,omitempty"`
}

type CreatePlanRequest struct {
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	Currency        string          `json:"currency"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Frequencies     []string        `json:"frequencies"`
	Modules         []string        `json:"modules"`
	AutoRenew       bool            `json:"auto_renew"`
}

type Service interface {
	CreatePlan(ctx context.Context, req CreatePlanRequest) (*Plan, error)
	GetPlan(ctx context.Context, id snowflake.ID) (*Plan, error)

	// Create records the subscription with an ACTIVE-intent history row.
	// It does not activate; activation happens only after payment.
	Create(ctx context.Context, req CreateRequest) (*BusinessSubscription, error)
	// Activate is the real state transition, safe under retry. It
	// provisions tenant resources once, deactivates siblings, activates
	// the target, and emits business.activated.
	Activate(ctx context.Context, id snowflake.ID, source string, metadata map[string]any) error
	Deactivate(ctx context.Context, id snowflake.ID, source, message string) error

	Get(ctx context.Context, id snowflake.ID) (*BusinessSubscription, error)
	Status(ctx context.Context, id snowflake.ID) (SubscriptionStatus, error)
	Current(ctx context.Context, businessID snowflake.ID) (*BusinessSubscription, error)
	// Features returns the plan's module list only when the history-derived
	// status is ACTIVE, regardless of the isActive flag.
	Features(ctx context.Context, businessID snowflake.ID) ([]string, error)
	HasModuleAccess(ctx context.Context, businessID snowflake.ID, module string) (bool, error)
	MissingModules(ctx context.Context, businessID snowflake.ID, required []string) ([]string, error)
}

// CycleScheduler is how the subscription ledger asks for a recurring
// cycle without depending on the scheduler package.
type CycleScheduler interface {
	ScheduleCycle(ctx context.Context, sub *BusinessSubscription) error
}

type Repository interface {
	InsertPlan(ctx context.Context, db *gorm.DB, plan *Plan) error
	FindPlan(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)

	Insert(ctx context.Context, db *gorm.DB, sub *BusinessSubscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*BusinessSubscription, error)
	// FindActiveByBusiness returns the most recent isActive row, nil when
	// none.
	FindActiveByBusiness(ctx context.Context, db *gorm.DB, businessID snowflake.ID) (*BusinessSubscription, error)
	// DeactivateSiblings flips isActive off for every other subscription
	// of the business.
	DeactivateSiblings(ctx context.Context, db *gorm.DB, businessID, exceptID snowflake.ID) error
	SetActive(ctx context.Context, db *gorm.DB, id snowflake.ID, active bool) error

	AppendHistory(ctx context.Context, db *gorm.DB, history *BusinessSubscriptionHistory) error
	LatestHistory(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*BusinessSubscriptionHistory, error)

	InsertCycleBilling(ctx context.Context, db *gorm.DB, record *BusinessSubscriptionBilling) error
}

var (
	ErrSubscriptionNotFound      = errors.New("subscription_not_found")
	ErrPlanNotFound              = errors.New("plan_not_found")
	ErrInvalidFrequency          = errors.New("invalid_frequency")
	ErrInvalidPlan               = errors.New("invalid_plan")
	ErrActiveSubscriptionExists  = errors.New("active_subscription_exists")
	ErrFrequencyNotOffered       = errors.New("frequency_not_offered")
)
