package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/config"
	"github.com/smallbiznis/tally/internal/events"
	identitydomain "github.com/smallbiznis/tally/internal/identity/domain"
	identityservice "github.com/smallbiznis/tally/internal/identity/service"
	"github.com/smallbiznis/tally/internal/migration"
	subscriptiondomain "github.com/smallbiznis/tally/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/tally/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/tally/internal/subscription/service"
	tenantdomain "github.com/smallbiznis/tally/internal/tenant/domain"
	"github.com/smallbiznis/tally/internal/tenant/provision"
	tenantrepo "github.com/smallbiznis/tally/internal/tenant/repository"
	"github.com/smallbiznis/tally/internal/tenant/router"
	"github.com/smallbiznis/tally/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type subscriptionFixture struct {
	db       *gorm.DB
	svc      subscriptiondomain.Service
	node     *snowflake.Node
	clk      *clock.FakeClock
	owner    identitydomain.User
	business tenantdomain.Business
}

func memoryOpener(t *testing.T) router.Opener {
	return func(cfg db.Config) (*gorm.DB, error) {
		store, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
		if err != nil {
			return nil, err
		}
		sqlDB, err := store.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		return store, nil
	}
}

func setupSubscription(t *testing.T) *subscriptionFixture {
	t.Helper()

	platform, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := platform.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, migration.RunMigrations(platform))

	node, err := snowflake.NewNode(8)
	require.NoError(t, err)

	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	rt := router.New(router.Params{
		Config: config.Config{},
		Log:    log,
		DB:     platform,
		Opener: memoryOpener(t),
	})
	identitySvc := identityservice.NewService(identityservice.ServiceParam{DB: platform, Log: log})
	businesses := tenantrepo.Provide()

	provisioner := provision.New(provision.Params{
		Log:        log,
		DB:         platform,
		GenID:      node,
		Router:     rt,
		Businesses: businesses,
		Identity:   identitySvc,
	})

	svc := subscriptionservice.NewService(subscriptionservice.Params{
		Log:         log,
		GenID:       node,
		Clock:       clk,
		DB:          platform,
		Repo:        subscriptionrepo.Provide(),
		Provisioner: provisioner,
		Bus:         events.NewSyncBus(log),
	})

	owner := identitydomain.User{
		ID:    node.Generate(),
		Email: "owner@example.com",
		Name:  "Owner",
	}
	require.NoError(t, platform.Create(&owner).Error)

	business := tenantdomain.Business{
		ID:          node.Generate(),
		Name:        "Acme",
		OwnerUserID: owner.ID,
	}
	require.NoError(t, platform.Create(&business).Error)

	return &subscriptionFixture{
		db:       platform,
		svc:      svc,
		node:     node,
		clk:      clk,
		owner:    owner,
		business: business,
	}
}

func (f *subscriptionFixture) createPlan(t *testing.T, modules []string) *subscriptiondomain.Plan {
	t.Helper()

	plan, err := f.svc.CreatePlan(context.Background(), subscriptiondomain.CreatePlanRequest{
		Name:        "Pro",
		Price:       decimal.RequireFromString("49.90"),
		Currency:    "USD",
		Frequencies: []string{"MONTHLY", "YEARLY"},
		Modules:     modules,
	})
	require.NoError(t, err)
	return plan
}

func (f *subscriptionFixture) activeCount(t *testing.T, businessID snowflake.ID) int64 {
	t.Helper()

	var count int64
	require.NoError(t, f.db.Model(&subscriptiondomain.BusinessSubscription{}).
		Where("business_id = ? AND is_active = ?", businessID, true).
		Count(&count).Error)
	return count
}

func TestCreatePlanValidation(t *testing.T) {
	f := setupSubscription(t)

	_, err := f.svc.CreatePlan(context.Background(), subscriptiondomain.CreatePlanRequest{
		Name:  "",
		Price: decimal.RequireFromString("10"),
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidPlan)

	_, err = f.svc.CreatePlan(context.Background(), subscriptiondomain.CreatePlanRequest{
		Name:  "Pro",
		Price: decimal.RequireFromString("-1"),
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidPlan)
}

func TestCreateSubscriptionFrequencyMustBeOffered(t *testing.T) {
	f := setupSubscription(t)
	plan := f.createPlan(t, nil)

	_, err := f.svc.Create(context.Background(), subscriptiondomain.CreateRequest{
		BusinessID: f.business.ID,
		PlanID:     plan.ID,
		Frequency:  subscriptiondomain.FrequencyWeekly,
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrFrequencyNotOffered)
}

func TestCreateSubscriptionSetsPeriodEnd(t *testing.T) {
	f := setupSubscription(t)
	plan := f.createPlan(t, nil)

	sub, err := f.svc.Create(context.Background(), subscriptiondomain.CreateRequest{
		BusinessID: f.business.ID,
		PlanID:     plan.ID,
		Frequency:  subscriptiondomain.FrequencyMonthly,
	})
	require.NoError(t, err)
	assert.False(t, sub.IsActive)
	assert.Equal(t, f.clk.Now(), sub.StartDate)
	assert.Equal(t, f.clk.Now().AddDate(0, 1, 0), sub.EndDate)

	// Recorded but not entitled: the flag path sees nothing active.
	features, err := f.svc.Features(context.Background(), f.business.ID)
	require.NoError(t, err)
	assert.Empty(t, features)
}

func TestActivateProvisionsTenantOnce(t *testing.T) {
	f := setupSubscription(t)
	ctx := context.Background()
	plan := f.createPlan(t, []string{"billing", "catalog"})

	sub, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		BusinessID: f.business.ID,
		PlanID:     plan.ID,
		Frequency:  subscriptiondomain.FrequencyMonthly,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Activate(ctx, sub.ID, subscriptiondomain.SourcePaymentConfirmed, nil))

	var business tenantdomain.Business
	require.NoError(t, f.db.First(&business, "id = ?", f.business.ID).Error)
	require.NotNil(t, business.TenantID)
	require.NotNil(t, business.ProvisionedAt)
	firstTenantID := *business.TenantID

	// Retrying activation must not provision a second store.
	require.NoError(t, f.svc.Activate(ctx, sub.ID, subscriptiondomain.SourcePaymentConfirmed, nil))
	require.NoError(t, f.db.First(&business, "id = ?", f.business.ID).Error)
	assert.Equal(t, firstTenantID, *business.TenantID)

	assert.Equal(t, int64(1), f.activeCount(t, f.business.ID))

	features, err := f.svc.Features(ctx, f.business.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"billing", "catalog"}, features)

	ok, err := f.svc.HasModuleAccess(ctx, f.business.ID, "billing")
	require.NoError(t, err)
	assert.True(t, ok)

	missing, err := f.svc.MissingModules(ctx, f.business.ID, []string{"billing", "reports"})
	require.NoError(t, err)
	assert.Equal(t, []string{"reports"}, missing)
}

func TestActivateNeverLeavesTwoActive(t *testing.T) {
	f := setupSubscription(t)
	ctx := context.Background()
	plan := f.createPlan(t, nil)

	first, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		BusinessID: f.business.ID,
		PlanID:     plan.ID,
		Frequency:  subscriptiondomain.FrequencyMonthly,
	})
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		BusinessID: f.business.ID,
		PlanID:     plan.ID,
		Frequency:  subscriptiondomain.FrequencyYearly,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Activate(ctx, first.ID, subscriptiondomain.SourcePaymentConfirmed, nil))
	assert.Equal(t, int64(1), f.activeCount(t, f.business.ID))

	require.NoError(t, f.svc.Activate(ctx, second.ID, subscriptiondomain.SourcePaymentConfirmed, nil))
	assert.Equal(t, int64(1), f.activeCount(t, f.business.ID))

	current, err := f.svc.Current(ctx, f.business.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)
}

func TestCreateRejectsSecondActiveSubscription(t *testing.T) {
	f := setupSubscription(t)
	ctx := context.Background()
	plan := f.createPlan(t, nil)

	sub, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		BusinessID: f.business.ID,
		PlanID:     plan.ID,
		Frequency:  subscriptiondomain.FrequencyMonthly,
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.Activate(ctx, sub.ID, subscriptiondomain.SourcePaymentConfirmed, nil))

	_, err = f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		BusinessID: f.business.ID,
		PlanID:     plan.ID,
		Frequency:  subscriptiondomain.FrequencyMonthly,
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrActiveSubscriptionExists)
}

func TestDeactivateRevokesEntitlements(t *testing.T) {
	f := setupSubscription(t)
	ctx := context.Background()
	plan := f.createPlan(t, []string{"billing"})

	sub, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		BusinessID: f.business.ID,
		PlanID:     plan.ID,
		Frequency:  subscriptiondomain.FrequencyMonthly,
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.Activate(ctx, sub.ID, subscriptiondomain.SourcePaymentConfirmed, nil))

	f.clk.Advance(time.Hour)
	require.NoError(t, f.svc.Deactivate(ctx, sub.ID, subscriptiondomain.SourceManual, "canceled"))

	status, err := f.svc.Status(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusInactive, status)

	features, err := f.svc.Features(ctx, f.business.ID)
	require.NoError(t, err)
	assert.Empty(t, features)
	assert.Equal(t, int64(0), f.activeCount(t, f.business.ID))
}
