// Package domain contains tenant-scoped order models. An order is the
// purchase record produced by checkout; its money side lives in the
// billing ledger.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type OrderStatus string

const (
	OrderStatusDraft     OrderStatus = "DRAFT"
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusCanceled  OrderStatus = "CANCELED"
)

// Order references the billing that settles it. BillingID stays nil for
// the short window between order creation and billing creation.
type Order struct {
	ID         snowflake.ID    `gorm:"primaryKey"`
	BusinessID snowflake.ID    `gorm:"not null;index"`
	BuyerID    snowflake.ID    `gorm:"not null;index"`
	BillingID  *snowflake.ID   `gorm:"uniqueIndex"`
	Status     OrderStatus     `gorm:"type:text;not null"`
	Total      decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Currency   string          `gorm:"type:text;not null"`
	CreatedAt  time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Order) TableName() string { return "orders" }

// OrderLineItem snapshots the variant price at purchase time.
type OrderLineItem struct {
	ID        snowflake.ID    `gorm:"primaryKey"`
	OrderID   snowflake.ID    `gorm:"not null;index"`
	VariantID snowflake.ID    `gorm:"not null"`
	Name      string          `gorm:"type:text;not null"`
	Quantity  int             `gorm:"not null"`
	UnitPrice decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	CreatedAt time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OrderLineItem) TableName() string { return "order_line_items" }

// OrderHistory is an append-only trail of order state changes.
type OrderHistory struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrderID   snowflake.ID `gorm:"not null;index"`
	Status    OrderStatus  `gorm:"type:text;not null"`
	Message   string       `gorm:"type:text"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OrderHistory) TableName() string { return "order_histories" }

// CartItem is a pending purchase line. Cleared only after the whole
// checkout chain succeeds.
type CartItem struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	UserID    snowflake.ID `gorm:"not null;index"`
	VariantID snowflake.ID `gorm:"not null"`
	Quantity  int          `gorm:"not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CartItem) TableName() string { return "cart_items" }

type CheckoutRequest struct {
	BusinessID        snowflake.ID `json:"business_id"`
	BuyerID           snowflake.ID `json:"buyer_id"`
	Currency          string       `json:"currency"`
	PaymentMethodID   string       `json:"payment_method_id"`
	SavePaymentMethod bool         `json:"save_payment_method"`
	Timezone          string       `json:"timezone,omitempty"`
}

type CheckoutResult struct {
	Order           *Order `json:"order"`
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
}

type Service interface {
	AddToCart(ctx context.Context, userID, variantID snowflake.ID, quantity int) error
	GetCart(ctx context.Context, userID snowflake.ID) ([]CartItem, error)
	// Checkout drains the buyer's cart through the order/billing/payment
	// chain. The order is created first; every later failure compensates
	// by hard-deleting the records created so far, and the cart survives
	// any failure.
	Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
	GetOrder(ctx context.Context, id snowflake.ID) (*Order, []OrderLineItem, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order, items []OrderLineItem) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	ListItems(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]OrderLineItem, error)
	// SetStatus updates the live row; the matching history row is the
	// caller's responsibility.
	SetStatus(ctx context.Context, db *gorm.DB, orderID snowflake.ID, status OrderStatus, billingID *snowflake.ID) error
	AppendHistory(ctx context.Context, db *gorm.DB, history *OrderHistory) error
	// Delete removes the order, its line items and its history.
	// Compensation path only.
	Delete(ctx context.Context, db *gorm.DB, orderID snowflake.ID) error

	ListCart(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]CartItem, error)
	UpsertCartItem(ctx context.Context, db *gorm.DB, item *CartItem) error
	ClearCart(ctx context.Context, db *gorm.DB, userID snowflake.ID) error
}

var (
	ErrOrderNotFound = errors.New("order_not_found")
	ErrEmptyCheckout = errors.New("empty_checkout")
	ErrInvalidBuyer  = errors.New("invalid_buyer")
	ErrInvalidCart   = errors.New("invalid_cart_item")
)
