// Package domain contains recipient tax settings.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// TaxSetting stores a recipient-specific tax rate (percent). Absence of a
// row means no tax.
type TaxSetting struct {
	ID          snowflake.ID    `gorm:"primaryKey"`
	RecipientID snowflake.ID    `gorm:"not null;uniqueIndex"`
	RatePercent decimal.Decimal `gorm:"type:numeric(6,3);not null"`
	CreatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TaxSetting) TableName() string { return "tax_settings" }

var ErrInvalidRate = errors.New("invalid_tax_rate")

type Service interface {
	// GetTaxRate returns the recipient's configured rate percent, zero
	// when none is configured.
	GetTaxRate(ctx context.Context, recipientID snowflake.ID) (decimal.Decimal, error)
	SetTaxRate(ctx context.Context, recipientID snowflake.ID, ratePercent decimal.Decimal) error
}
