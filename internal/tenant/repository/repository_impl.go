package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	tenantdomain "github.com/smallbiznis/tally/internal/tenant/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() tenantdomain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*tenantdomain.Business, error) {
	var business tenantdomain.Business
	err := db.WithContext(ctx).Where("id = ?", id).First(&business).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &business, nil
}

func (r *repo) FindByTenantID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*tenantdomain.Business, error) {
	var business tenantdomain.Business
	err := db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&business).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &business, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, business *tenantdomain.Business) error {
	return db.WithContext(ctx).Create(business).Error
}

func (r *repo) MarkProvisioned(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE businesses SET provisioned_at = ?, updated_at = ? WHERE id = ? AND provisioned_at IS NULL`,
		at,
		at,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ListProvisioned(ctx context.Context, db *gorm.DB) ([]tenantdomain.Business, error) {
	var businesses []tenantdomain.Business
	err := db.WithContext(ctx).
		Where("tenant_id IS NOT NULL AND provisioned_at IS NOT NULL").
		Order("id").
		Find(&businesses).Error
	if err != nil {
		return nil, err
	}
	return businesses, nil
}

func (r *repo) AssignTenantID(ctx context.Context, db *gorm.DB, id, tenantID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE businesses SET tenant_id = ?, updated_at = ? WHERE id = ? AND tenant_id IS NULL`,
		tenantID,
		time.Now().UTC(),
		id,
	).Error
}
