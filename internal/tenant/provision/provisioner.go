// Package provision builds the isolated store for a business the first
// time it activates a paid subscription.
package provision

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallbiznis/tally/internal/billing/domain"
	catalogdomain "github.com/smallbiznis/tally/internal/catalog/domain"
	identitydomain "github.com/smallbiznis/tally/internal/identity/domain"
	orderdomain "github.com/smallbiznis/tally/internal/order/domain"
	paymentdomain "github.com/smallbiznis/tally/internal/payment/domain"
	taxdomain "github.com/smallbiznis/tally/internal/tax/domain"
	tenantdomain "github.com/smallbiznis/tally/internal/tenant/domain"
	"github.com/smallbiznis/tally/internal/tenant/router"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// tenantModels are migrated into every newly provisioned store.
func tenantModels() []any {
	return []any{
		&identitydomain.User{},
		&billingdomain.Billing{},
		&billingdomain.BillingLineItem{},
		&billingdomain.BillingHistory{},
		&paymentdomain.ProcessorCustomer{},
		&taxdomain.TaxSetting{},
		&catalogdomain.Product{},
		&catalogdomain.ProductVariant{},
		&orderdomain.Order{},
		&orderdomain.OrderLineItem{},
		&orderdomain.OrderHistory{},
		&orderdomain.CartItem{},
	}
}

type Params struct {
	fx.In

	Log        *zap.Logger
	DB         *gorm.DB
	GenID      *snowflake.Node
	Router     *router.Router
	Businesses tenantdomain.Repository
	Identity   identitydomain.Service
}

// Provisioner creates tenant stores. CreateTenantResources is safe to
// call more than once for the same business; only the first caller does
// the work.
type Provisioner struct {
	log        *zap.Logger
	db         *gorm.DB
	genID      *snowflake.Node
	router     *router.Router
	businesses tenantdomain.Repository
	identity   identitydomain.Service
}

func New(p Params) *Provisioner {
	return &Provisioner{
		log:        p.Log.Named("tenant.provisioner"),
		db:         p.DB,
		genID:      p.GenID,
		router:     p.Router,
		businesses: p.Businesses,
		identity:   p.Identity,
	}
}

// CreateTenantResources opens the business's tenant store, migrates the
// tenant schema, and mirrors the owner into it. Returns the tenant id in
// every successful call, including repeats.
func (p *Provisioner) CreateTenantResources(ctx context.Context, businessID snowflake.ID) (snowflake.ID, error) {
	business, err := p.businesses.FindByID(ctx, p.db, businessID)
	if err != nil {
		return 0, err
	}
	if business == nil {
		return 0, tenantdomain.ErrBusinessNotFound
	}

	if business.ProvisionedAt != nil && business.TenantID != nil {
		return *business.TenantID, nil
	}

	tenantID := p.genID.Generate()
	if business.TenantID != nil {
		tenantID = *business.TenantID
	} else if err := p.businesses.AssignTenantID(ctx, p.db, business.ID, tenantID); err != nil {
		return 0, err
	}

	store, err := p.router.Tenant(tenantID)
	if err != nil {
		return 0, tenantdomain.ErrTenantStoreUnavailable
	}

	if err := store.WithContext(ctx).AutoMigrate(tenantModels()...); err != nil {
		p.log.Error("tenant schema migration failed",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err),
		)
		return 0, err
	}

	if err := p.identity.MirrorToTenant(ctx, store, business.OwnerUserID); err != nil {
		return 0, err
	}

	won, err := p.businesses.MarkProvisioned(ctx, p.db, business.ID, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if won {
		p.log.Info("tenant provisioned",
			zap.String("business_id", business.ID.String()),
			zap.String("tenant_id", tenantID.String()),
		)
	}
	return tenantID, nil
}
