package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallbiznis/tally/internal/billing/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() billingdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, billing *billingdomain.Billing, items []billingdomain.BillingLineItem) error {
	if err := db.WithContext(ctx).Create(billing).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&items).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*billingdomain.Billing, error) {
	var billing billingdomain.Billing
	err := db.WithContext(ctx).Where("id = ?", id).First(&billing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &billing, nil
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, billingID snowflake.ID) ([]billingdomain.BillingLineItem, error) {
	var items []billingdomain.BillingLineItem
	err := db.WithContext(ctx).
		Where("billing_id = ?", billingID).
		Order("id").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) SetPaymentIntentID(ctx context.Context, db *gorm.DB, id snowflake.ID, intentID string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billings SET payment_intent_id = ?, updated_at = ? WHERE id = ?`,
		intentID,
		time.Now().UTC(),
		id,
	).Error
}

func (r *repo) AppendHistory(ctx context.Context, db *gorm.DB, history *billingdomain.BillingHistory) error {
	return db.WithContext(ctx).Create(history).Error
}

func (r *repo) LatestHistory(ctx context.Context, db *gorm.DB, billingID snowflake.ID) (*billingdomain.BillingHistory, error) {
	var history billingdomain.BillingHistory
	err := db.WithContext(ctx).
		Where("billing_id = ?", billingID).
		Order("created_at DESC").
		Order("id DESC").
		First(&history).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &history, nil
}

func (r *repo) HasStatus(ctx context.Context, db *gorm.DB, billingID snowflake.ID, status billingdomain.BillingStatus) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM billing_histories WHERE billing_id = ? AND status = ?`,
		billingID,
		status,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, billingID snowflake.ID) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM billing_histories WHERE billing_id = ?`, billingID).Error; err != nil {
			return err
		}
		if err := tx.Exec(`DELETE FROM billing_line_items WHERE billing_id = ?`, billingID).Error; err != nil {
			return err
		}
		return tx.Exec(`DELETE FROM billings WHERE id = ?`, billingID).Error
	})
}

func (r *repo) ListOverdueCandidates(ctx context.Context, db *gorm.DB, asOf time.Time, limit int) ([]snowflake.ID, error) {
	if limit <= 0 {
		limit = 50
	}

	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT b.id
		 FROM billings b
		 JOIN billing_histories h ON h.billing_id = b.id
		 WHERE b.due_date < ?
		   AND h.id = (
		     SELECT h2.id FROM billing_histories h2
		     WHERE h2.billing_id = b.id
		     ORDER BY h2.created_at DESC, h2.id DESC
		     LIMIT 1
		   )
		   AND h.status IN (?, ?)
		 ORDER BY b.due_date
		 LIMIT ?`,
		asOf,
		billingdomain.BillingStatusPending,
		billingdomain.BillingStatusFailed,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
