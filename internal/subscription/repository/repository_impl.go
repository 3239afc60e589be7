package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/tally/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) InsertPlan(ctx context.Context, db *gorm.DB, plan *subscriptiondomain.Plan) error {
	return db.WithContext(ctx).Create(plan).Error
}

func (r *repo) FindPlan(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Plan, error) {
	var plan subscriptiondomain.Plan
	err := db.WithContext(ctx).Where("id = ?", id).First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.BusinessSubscription) error {
	return db.WithContext(ctx).Create(sub).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.BusinessSubscription, error) {
	var sub subscriptiondomain.BusinessSubscription
	err := db.WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repo) FindActiveByBusiness(ctx context.Context, db *gorm.DB, businessID snowflake.ID) (*subscriptiondomain.BusinessSubscription, error) {
	var sub subscriptiondomain.BusinessSubscription
	err := db.WithContext(ctx).
		Where("business_id = ? AND is_active = ?", businessID, true).
		Order("updated_at DESC").
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repo) DeactivateSiblings(ctx context.Context, db *gorm.DB, businessID, exceptID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE business_subscriptions SET is_active = ?, updated_at = ? WHERE business_id = ? AND id <> ?`,
		false,
		time.Now().UTC(),
		businessID,
		exceptID,
	).Error
}

func (r *repo) SetActive(ctx context.Context, db *gorm.DB, id snowflake.ID, active bool) error {
	return db.WithContext(ctx).Exec(
		`UPDATE business_subscriptions SET is_active = ?, updated_at = ? WHERE id = ?`,
		active,
		time.Now().UTC(),
		id,
	).Error
}

func (r *repo) AppendHistory(ctx context.Context, db *gorm.DB, history *subscriptiondomain.BusinessSubscriptionHistory) error {
	return db.WithContext(ctx).Create(history).Error
}

func (r *repo) LatestHistory(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*subscriptiondomain.BusinessSubscriptionHistory, error) {
	var history subscriptiondomain.BusinessSubscriptionHistory
	err := db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
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

func (r *repo) InsertCycleBilling(ctx context.Context, db *gorm.DB, record *subscriptiondomain.BusinessSubscriptionBilling) error {
	return db.WithContext(ctx).Create(record).Error
}
