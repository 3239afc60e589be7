package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tally/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/tally/internal/payment/domain"
	tenantdomain "github.com/smallbiznis/tally/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ResolverParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Registry *adapters.Registry
	Tenants  tenantdomain.Repository
}

// Resolver turns a business's stored processor configuration into a live
// adapter. This is the single point where vendor selection happens.
type Resolver struct {
	db       *gorm.DB
	log      *zap.Logger
	registry *adapters.Registry
	tenants  tenantdomain.Repository
}

func NewResolver(p ResolverParam) *Resolver {
	return &Resolver{
		db:       p.DB,
		log:      p.Log.Named("payment.resolver"),
		registry: p.Registry,
		tenants:  p.Tenants,
	}
}

// ForBusiness resolves the adapter configured for one business. Returns
// ErrNoProcessorConfigured when the business has no processor set and an
// online payment is attempted.
func (r *Resolver) ForBusiness(ctx context.Context, businessID snowflake.ID) (paymentdomain.Processor, error) {
	business, err := r.tenants.FindByID(ctx, r.db, businessID)
	if err != nil {
		return nil, err
	}
	if business == nil {
		return nil, tenantdomain.ErrBusinessNotFound
	}
	return r.ForBusinessRecord(business)
}

// ForBusinessRecord resolves an adapter from an already-loaded business.
func (r *Resolver) ForBusinessRecord(business *tenantdomain.Business) (paymentdomain.Processor, error) {
	if business.PaymentProvider == "" {
		return nil, tenantdomain.ErrNoProcessorConfigured
	}
	return r.registry.NewAdapter(business.PaymentProvider, paymentdomain.AdapterConfig{
		BusinessID: business.ID,
		Config:     map[string]any(business.ProviderConfig),
	})
}
