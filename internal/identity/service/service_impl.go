package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	identitydomain "github.com/smallbiznis/tally/internal/identity/domain"
	"github.com/smallbiznis/tally/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p ServiceParam) identitydomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("identity.service"),
	}
}

// GetUser implements domain.Service. Returns (nil, nil) when missing.
func (s *Service) GetUser(ctx context.Context, id snowflake.ID) (*identitydomain.User, error) {
	if id == 0 {
		return nil, identitydomain.ErrInvalidUser
	}

	var user identitydomain.User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (s *Service) SetDefaultPaymentMethod(ctx context.Context, id snowflake.ID, paymentMethodID string) error {
	if id == 0 {
		return identitydomain.ErrInvalidUser
	}
	paymentMethodID = strings.TrimSpace(paymentMethodID)
	if paymentMethodID == "" {
		return identitydomain.ErrInvalidUser
	}

	return s.db.WithContext(ctx).Exec(
		`UPDATE users SET default_payment_method_id = ?, updated_at = ? WHERE id = ?`,
		paymentMethodID,
		time.Now().UTC(),
		id,
	).Error
}

// MirrorToTenant copies the user into the tenant store with the owner
// role. A second call is a no-op.
func (s *Service) MirrorToTenant(ctx context.Context, tenantDB *gorm.DB, id snowflake.ID) error {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if user == nil {
		return identitydomain.ErrUserMissing
	}

	mirrored := *user
	mirrored.Role = identitydomain.RoleOwner

	err = tenantDB.WithContext(ctx).Create(&mirrored).Error
	if err != nil && db.IsDuplicateKeyErr(err) {
		return nil
	}
	return err
}

// Module wires the identity service.
var Module = fx.Module("identity.service",
	fx.Provide(NewService),
)
