// Package migration keeps the platform store schema current. Tally is
// fully usable out of the box for local and self-hosted environments:
// all platform tables are created automatically on startup. Tenant
// stores are migrated separately by the provisioner when a business is
// first activated.
package migration

import (
	"errors"

	billingdomain "github.com/smallbiznis/tally/internal/billing/domain"
	catalogdomain "github.com/smallbiznis/tally/internal/catalog/domain"
	identitydomain "github.com/smallbiznis/tally/internal/identity/domain"
	orderdomain "github.com/smallbiznis/tally/internal/order/domain"
	paymentdomain "github.com/smallbiznis/tally/internal/payment/domain"
	"github.com/smallbiznis/tally/internal/scheduler"
	subscriptiondomain "github.com/smallbiznis/tally/internal/subscription/domain"
	taxdomain "github.com/smallbiznis/tally/internal/tax/domain"
	tenantdomain "github.com/smallbiznis/tally/internal/tenant/domain"
	"gorm.io/gorm"
)

// platformModels covers everything the platform store owns: identities,
// businesses, plans, subscription state, and the recurring cycle queue.
// It also carries the billing, catalog, and order tables so requests
// without a tenant (pre-provisioning subscription billings) land in the
// platform store transparently.
func platformModels() []any {
	return []any{
		&identitydomain.User{},
		&tenantdomain.Business{},
		&subscriptiondomain.Plan{},
		&subscriptiondomain.BusinessSubscription{},
		&subscriptiondomain.BusinessSubscriptionHistory{},
		&subscriptiondomain.BusinessSubscriptionBilling{},
		&scheduler.CycleSchedule{},
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

// RunMigrations applies the platform schema to db.
func RunMigrations(db *gorm.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}
	return db.AutoMigrate(platformModels()...)
}
