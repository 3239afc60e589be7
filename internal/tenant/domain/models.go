// Package domain contains persistence models for businesses and their
// tenant stores.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Business is a platform-level tenant record. TenantID names the isolated
// store; it is empty until a paid subscription provisions one.
type Business struct {
	ID              snowflake.ID      `gorm:"primaryKey"`
	Name            string            `gorm:"type:text;not null"`
	OwnerUserID     snowflake.ID      `gorm:"not null;index"`
	TenantID        *snowflake.ID     `gorm:"uniqueIndex"`
	PaymentProvider string            `gorm:"type:text"`
	ProviderConfig  datatypes.JSONMap `gorm:"type:jsonb"`
	ProvisionedAt   *time.Time        `gorm:""`
	CreatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Business) TableName() string { return "businesses" }

// Repository reads and mutates business rows on the platform store.
type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Business, error)
	FindByTenantID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*Business, error)
	Insert(ctx context.Context, db *gorm.DB, business *Business) error
	// MarkProvisioned flips ProvisionedAt once; reports whether this call
	// won the flip.
	MarkProvisioned(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	AssignTenantID(ctx context.Context, db *gorm.DB, id, tenantID snowflake.ID) error
	// ListProvisioned returns businesses with a live tenant store.
	ListProvisioned(ctx context.Context, db *gorm.DB) ([]Business, error)
}

var (
	ErrBusinessNotFound       = errors.New("business_not_found")
	ErrNoProcessorConfigured  = errors.New("payment_processor_not_configured")
	ErrTenantStoreUnavailable = errors.New("tenant_store_unavailable")
)
