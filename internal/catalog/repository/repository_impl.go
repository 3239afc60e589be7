package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/tally/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() catalogdomain.Repository {
	return &repo{}
}

func (r *repo) InsertProduct(ctx context.Context, db *gorm.DB, product *catalogdomain.Product, variants []catalogdomain.ProductVariant) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(product).Error; err != nil {
			return err
		}
		if len(variants) == 0 {
			return nil
		}
		return tx.Create(&variants).Error
	})
}

func (r *repo) FindProduct(ctx context.Context, db *gorm.DB, id snowflake.ID) (*catalogdomain.Product, error) {
	var product catalogdomain.Product
	err := db.WithContext(ctx).Where("id = ?", id).First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &product, nil
}

func (r *repo) FindVariant(ctx context.Context, db *gorm.DB, id snowflake.ID) (*catalogdomain.ProductVariant, error) {
	var variant catalogdomain.ProductVariant
	err := db.WithContext(ctx).Where("id = ?", id).First(&variant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &variant, nil
}

func (r *repo) ListVariants(ctx context.Context, db *gorm.DB, productID snowflake.ID) ([]catalogdomain.ProductVariant, error) {
	var variants []catalogdomain.ProductVariant
	err := db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("id").
		Find(&variants).Error
	if err != nil {
		return nil, err
	}
	return variants, nil
}

func (r *repo) SetProductActive(ctx context.Context, db *gorm.DB, id snowflake.ID, active bool) error {
	return db.WithContext(ctx).Exec(
		`UPDATE products SET is_active = ?, updated_at = ? WHERE id = ?`,
		active,
		time.Now().UTC(),
		id,
	).Error
}

// DeductQuantity relies on a conditional UPDATE so two concurrent buyers
// of the last unit cannot both win.
func (r *repo) DeductQuantity(ctx context.Context, db *gorm.DB, variantID snowflake.ID, quantity int) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE product_variants SET quantity = quantity - ?, updated_at = ? WHERE id = ? AND quantity >= ?`,
		quantity,
		time.Now().UTC(),
		variantID,
		quantity,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) RestoreQuantity(ctx context.Context, db *gorm.DB, variantID snowflake.ID, quantity int) error {
	return db.WithContext(ctx).Exec(
		`UPDATE product_variants SET quantity = quantity + ?, updated_at = ? WHERE id = ?`,
		quantity,
		time.Now().UTC(),
		variantID,
	).Error
}
