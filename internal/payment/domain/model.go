// Package domain defines the payment-processor capability surface. One
// implementation exists per vendor; business logic resolves an adapter
// from tenant configuration exactly once per call and never branches on
// vendor type beyond that point.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	identitydomain "github.com/smallbiznis/tally/internal/identity/domain"
)

// Intent statuses reported by processors. Only StatusSucceeded settles a
// billing; everything else is a failure for the triggering request.
const (
	StatusSucceeded      = "succeeded"
	StatusRequiresAction = "requires_action"
	StatusProcessing     = "processing"
	StatusCanceled       = "canceled"
	StatusFailed         = "failed"
)

// Customer is the processor-side identity for a platform user.
type Customer struct {
	ID    string
	Email string
}

// CardInfo is the confirmable payment-method metadata. A nil CardInfo
// means the method cannot be charged.
type CardInfo struct {
	Brand    string
	Last4    string
	ExpMonth int
	ExpYear  int
}

// PaymentIntent is one attempted charge.
type PaymentIntent struct {
	ID     string
	Status string
	Amount int64
}

// CreateIntentRequest crosses the adapter boundary in integer minor units
// to avoid floating-point drift.
type CreateIntentRequest struct {
	AmountMinorUnits int64
	Currency         string
	CustomerID       string
	PaymentMethodID  string
	Confirm          bool
	Metadata         map[string]string
}

// Processor is the per-vendor capability interface.
type Processor interface {
	Provider() string
	CreateOrGetCustomer(ctx context.Context, user *identitydomain.User, tenantID snowflake.ID) (*Customer, error)
	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string, setAsDefault bool) error
	GetCardInfo(ctx context.Context, paymentMethodID string) (*CardInfo, error)
	CreatePaymentIntent(ctx context.Context, req CreateIntentRequest) (*PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, intentID string) (*PaymentIntent, error)
}

// AdapterConfig is the tenant-scoped processor configuration blob.
type AdapterConfig struct {
	BusinessID snowflake.ID
	Config     map[string]any
}

// Factory builds a Processor from tenant configuration.
type Factory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Processor, error)
}

// ProcessorCustomer maps a platform user to a processor-side customer.
// Tenant-scoped; one row per (user, provider).
type ProcessorCustomer struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	UserID     snowflake.ID `gorm:"not null;uniqueIndex:ux_processor_customers_user_provider,priority:1"`
	Provider   string       `gorm:"type:text;not null;uniqueIndex:ux_processor_customers_user_provider,priority:2"`
	CustomerID string       `gorm:"type:text;not null"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ProcessorCustomer) TableName() string { return "processor_customers" }

var (
	ErrProviderNotFound  = errors.New("payment_provider_not_found")
	ErrInvalidConfig     = errors.New("invalid_provider_config")
	ErrInvalidCustomer   = errors.New("invalid_customer")
	ErrCardUnavailable   = errors.New("card_info_unavailable")
	ErrProcessorFailure  = errors.New("payment_processor_failure")
	ErrIntentNotFound    = errors.New("payment_intent_not_found")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrMissingPaymentRef = errors.New("missing_payment_reference")
)
