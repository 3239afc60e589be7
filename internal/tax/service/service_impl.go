package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	taxdomain "github.com/smallbiznis/tally/internal/tax/domain"
	"github.com/smallbiznis/tally/internal/tenant/router"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Log    *zap.Logger
	GenID  *snowflake.Node
	Router *router.Router
}

type Service struct {
	log    *zap.Logger
	genID  *snowflake.Node
	router *router.Router
}

func NewService(p Params) taxdomain.Service {
	return &Service{
		log:    p.Log.Named("tax.service"),
		genID:  p.GenID,
		router: p.Router,
	}
}

func (s *Service) GetTaxRate(ctx context.Context, recipientID snowflake.ID) (decimal.Decimal, error) {
	store, err := s.router.Resolve(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	var setting taxdomain.TaxSetting
	err = store.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		First(&setting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return setting.RatePercent, nil
}

func (s *Service) SetTaxRate(ctx context.Context, recipientID snowflake.ID, ratePercent decimal.Decimal) error {
	if ratePercent.IsNegative() {
		return taxdomain.ErrInvalidRate
	}

	store, err := s.router.Resolve(ctx)
	if err != nil {
		return err
	}

	res := store.WithContext(ctx).Exec(
		`UPDATE tax_settings SET rate_percent = ?, updated_at = CURRENT_TIMESTAMP WHERE recipient_id = ?`,
		ratePercent,
		recipientID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	setting := taxdomain.TaxSetting{
		ID:          s.genID.Generate(),
		RecipientID: recipientID,
		RatePercent: ratePercent,
	}
	return store.WithContext(ctx).Create(&setting).Error
}

var Module = fx.Module("tax.service",
	fx.Provide(NewService),
)
