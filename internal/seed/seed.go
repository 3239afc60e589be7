// Package seed bootstraps the platform store with a default operator
// account so a fresh deployment is usable immediately.
package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	identitydomain "github.com/smallbiznis/tally/internal/identity/domain"
	"gorm.io/gorm"
)

const (
	defaultAdminEmail = "admin@tally.local"
	defaultAdminName  = "Tally Admin"
)

// EnsureDefaultAdmin seeds the platform super admin for startup bootstrap.
func EnsureDefaultAdmin(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user identitydomain.User
		err := tx.WithContext(ctx).
			Where("email = ?", defaultAdminEmail).
			First(&user).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		user = identitydomain.User{
			ID:        node.Generate(),
			Email:     strings.ToLower(defaultAdminEmail),
			Name:      defaultAdminName,
			Role:      identitydomain.RoleSuperAdmin,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.WithContext(ctx).Create(&user).Error
	})
}
