package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, billing *Billing, items []BillingLineItem) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Billing, error)
	ListItems(ctx context.Context, db *gorm.DB, billingID snowflake.ID) ([]BillingLineItem, error)
	SetPaymentIntentID(ctx context.Context, db *gorm.DB, id snowflake.ID, intentID string) error
	AppendHistory(ctx context.Context, db *gorm.DB, history *BillingHistory) error
	// LatestHistory returns the row with the maximum created_at for the
	// billing; highest id breaks ties.
	LatestHistory(ctx context.Context, db *gorm.DB, billingID snowflake.ID) (*BillingHistory, error)
	HasStatus(ctx context.Context, db *gorm.DB, billingID snowflake.ID, status BillingStatus) (bool, error)
	// Delete removes the billing, its line items and its history.
	Delete(ctx context.Context, db *gorm.DB, billingID snowflake.ID) error
	// ListOverdueCandidates returns ids of billings past due whose
	// derived status is still PENDING or FAILED.
	ListOverdueCandidates(ctx context.Context, db *gorm.DB, asOf time.Time, limit int) ([]snowflake.ID, error)
}
