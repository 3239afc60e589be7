// Package domain contains persistence models for platform users.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Role is the coarse platform role carried by a user.
type Role string

const (
	RoleMember     Role = "MEMBER"
	RoleOwner      Role = "OWNER"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// User is a platform-level identity. A copy is mirrored into a tenant
// store when the tenant is provisioned.
type User struct {
	ID                     snowflake.ID `gorm:"primaryKey"`
	Email                  string       `gorm:"type:text;not null;uniqueIndex"`
	Name                   string       `gorm:"type:text;not null"`
	Role                   Role         `gorm:"type:text;not null;default:MEMBER"`
	DefaultPaymentMethodID *string      `gorm:"type:text"`
	CreatedAt              time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// IsSuperAdmin reports whether the user may override ledger state.
func (u *User) IsSuperAdmin() bool {
	return u != nil && u.Role == RoleSuperAdmin
}

// Service resolves users and their stored payment preferences.
type Service interface {
	// GetUser returns (nil, nil) when the user does not exist.
	GetUser(ctx context.Context, id snowflake.ID) (*User, error)
	SetDefaultPaymentMethod(ctx context.Context, id snowflake.ID, paymentMethodID string) error
	// MirrorToTenant copies the user into the given tenant store with an
	// elevated role. Safe to call when the copy already exists.
	MirrorToTenant(ctx context.Context, tenantDB *gorm.DB, id snowflake.ID) error
}

var (
	ErrInvalidUser = errors.New("invalid_user")
	ErrUserMissing = errors.New("user_not_found")
)
