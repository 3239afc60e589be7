package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type LineItemInput struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type CreateBillingRequest struct {
	RecipientID snowflake.ID     `json:"recipient_id"`
	CreatedBy   snowflake.ID     `json:"created_by"`
	BusinessID  snowflake.ID     `json:"business_id"`
	Type        BillingType      `json:"type"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Currency    string           `json:"currency"`
	IssueDate   *time.Time       `json:"issue_date,omitempty"`
	DueDate     *time.Time       `json:"due_date,omitempty"`
	IsCashable  bool             `json:"is_cashable"`
	Timezone    string           `json:"timezone,omitempty"`
	LineItems   []LineItemInput  `json:"line_items,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	Source      string           `json:"-"`
}

type CreatePaymentIntentRequest struct {
	BillingID         snowflake.ID `json:"billing_id"`
	PayerID           snowflake.ID `json:"payer_id"`
	PaymentMethodID   string       `json:"payment_method_id"`
	SavePaymentMethod bool         `json:"save_payment_method"`
	Timezone          string       `json:"timezone,omitempty"`
}

type UpdateStatusRequest struct {
	BillingID snowflake.ID  `json:"billing_id"`
	Status    BillingStatus `json:"status"`
	ActorID   snowflake.ID  `json:"actor_id"`
	Message   string        `json:"message,omitempty"`
}

type StatusResponse struct {
	Status BillingStatus `json:"status"`
	PaidAt *time.Time    `json:"paid_at,omitempty"`
}

type CheckPaymentResponse struct {
	HasPaid bool `json:"has_paid"`
}

// Service is the billing ledger. Every operation resolves its data store
// from the tenant carried by ctx.
type Service interface {
	Create(ctx context.Context, req CreateBillingRequest) (Billing, error)
	CreatePaymentIntent(ctx context.Context, req CreatePaymentIntentRequest) (PaymentIntentResult, error)
	CheckPayment(ctx context.Context, billingID snowflake.ID) (CheckPaymentResponse, error)
	Status(ctx context.Context, billingID snowflake.ID) (StatusResponse, error)
	UpdateStatus(ctx context.Context, req UpdateStatusRequest) error
	Void(ctx context.Context, billingID, actorID snowflake.ID, message string) error
	// Delete is the compensating hard delete used by checkout rollback.
	// Refused once any PAID history exists.
	Delete(ctx context.Context, billingID snowflake.ID) error
	// MarkOverdue appends OVERDUE history for unpaid billings past due.
	MarkOverdue(ctx context.Context, asOf time.Time, limit int) (int, error)
}

type PaymentIntentResult struct {
	BillingID       snowflake.ID  `json:"billing_id"`
	PaymentIntentID string        `json:"payment_intent_id"`
	Status          BillingStatus `json:"status"`
}

var (
	ErrBillingNotFound   = errors.New("billing_not_found")
	ErrRecipientNotFound = errors.New("recipient_not_found")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidLineItems  = errors.New("invalid_line_items")
	ErrInvalidCurrency   = errors.New("invalid_currency")
	ErrAlreadyPaid       = errors.New("billing_already_paid")
	ErrPaymentFailed     = errors.New("payment_failed")
	ErrNotCashable       = errors.New("billing_not_cashable")
	ErrForbidden         = errors.New("forbidden")
	ErrBillingSettled    = errors.New("billing_already_settled")
	ErrInvalidStatus     = errors.New("invalid_status")
)
