// Package domain contains tenant-scoped product catalog models.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product groups sellable variants under one business.
type Product struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	BusinessID  snowflake.ID `gorm:"not null;index"`
	Name        string       `gorm:"type:text;not null"`
	Description string       `gorm:"type:text"`
	IsActive    bool         `gorm:"not null;default:true"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Product) TableName() string { return "products" }

// ProductVariant is the purchasable unit carrying price and stock.
type ProductVariant struct {
	ID        snowflake.ID    `gorm:"primaryKey"`
	ProductID snowflake.ID    `gorm:"not null;index"`
	Name      string          `gorm:"type:text;not null"`
	SKU       string          `gorm:"type:text;uniqueIndex"`
	Price     decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Quantity  int             `gorm:"not null;default:0"`
	CreatedAt time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ProductVariant) TableName() string { return "product_variants" }

type CreateProductRequest struct {
	BusinessID  snowflake.ID         `json:"business_id"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Variants    []CreateVariantInput `json:"variants"`
}

type CreateVariantInput struct {
	Name     string          `json:"name"`
	SKU      string          `json:"sku,omitempty"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

type Service interface {
	CreateProduct(ctx context.Context, req CreateProductRequest) (*Product, error)
	GetProduct(ctx context.Context, id snowflake.ID) (*Product, []ProductVariant, error)
	GetVariant(ctx context.Context, id snowflake.ID) (*ProductVariant, error)
	SetProductActive(ctx context.Context, id snowflake.ID, active bool) error
	// DeductQuantity atomically reserves stock for one variant. Fails the
	// whole call when stock is short or the product is inactive.
	DeductQuantity(ctx context.Context, variantID snowflake.ID, quantity int) error
	// RestoreQuantity returns previously reserved stock. Compensation path.
	RestoreQuantity(ctx context.Context, variantID snowflake.ID, quantity int) error
}

// Repository mutates catalog rows on a tenant store.
type Repository interface {
	InsertProduct(ctx context.Context, db *gorm.DB, product *Product, variants []ProductVariant) error
	FindProduct(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Product, error)
	FindVariant(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ProductVariant, error)
	ListVariants(ctx context.Context, db *gorm.DB, productID snowflake.ID) ([]ProductVariant, error)
	SetProductActive(ctx context.Context, db *gorm.DB, id snowflake.ID, active bool) error
	// DeductQuantity decrements stock only when enough remains; reports
	// whether the decrement happened.
	DeductQuantity(ctx context.Context, db *gorm.DB, variantID snowflake.ID, quantity int) (bool, error)
	RestoreQuantity(ctx context.Context, db *gorm.DB, variantID snowflake.ID, quantity int) error
}

var (
	ErrProductNotFound      = errors.New("product_not_found")
	ErrVariantNotFound      = errors.New("variant_not_found")
	ErrInactiveProduct      = errors.New("inactive_product")
	ErrInvalidQuantity      = errors.New("invalid_quantity")
	ErrInvalidProduct       = errors.New("invalid_product")
	ErrInsufficientQuantity = errors.New("Insufficient variant quantity")
)
