package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/tally/internal/order/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() orderdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *orderdomain.Order, items []orderdomain.OrderLineItem) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		return tx.Create(&items).Error
	})
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*orderdomain.Order, error) {
	var order orderdomain.Order
	err := db.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]orderdomain.OrderLineItem, error) {
	var items []orderdomain.OrderLineItem
	err := db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) SetStatus(ctx context.Context, db *gorm.DB, orderID snowflake.ID, status orderdomain.OrderStatus, billingID *snowflake.ID) error {
	if billingID != nil {
		return db.WithContext(ctx).Exec(
			`UPDATE orders SET status = ?, billing_id = ?, updated_at = ? WHERE id = ?`,
			status,
			*billingID,
			time.Now().UTC(),
			orderID,
		).Error
	}
	return db.WithContext(ctx).Exec(
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`,
		status,
		time.Now().UTC(),
		orderID,
	).Error
}

func (r *repo) AppendHistory(ctx context.Context, db *gorm.DB, history *orderdomain.OrderHistory) error {
	return db.WithContext(ctx).Create(history).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, orderID snowflake.ID) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM order_histories WHERE order_id = ?`, orderID).Error; err != nil {
			return err
		}
		if err := tx.Exec(`DELETE FROM order_line_items WHERE order_id = ?`, orderID).Error; err != nil {
			return err
		}
		return tx.Exec(`DELETE FROM orders WHERE id = ?`, orderID).Error
	})
}

func (r *repo) ListCart(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]orderdomain.CartItem, error) {
	var items []orderdomain.CartItem
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpsertCartItem(ctx context.Context, db *gorm.DB, item *orderdomain.CartItem) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE cart_items SET quantity = quantity + ? WHERE user_id = ? AND variant_id = ?`,
		item.Quantity,
		item.UserID,
		item.VariantID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return db.WithContext(ctx).Create(item).Error
}

func (r *repo) ClearCart(ctx context.Context, db *gorm.DB, userID snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM cart_items WHERE user_id = ?`, userID).Error
}
