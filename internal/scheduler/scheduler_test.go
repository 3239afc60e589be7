package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/tally/internal/billing/domain"
	"github.com/smallbiznis/tally/internal/clock"
	identitydomain "github.com/smallbiznis/tally/internal/identity/domain"
	"github.com/smallbiznis/tally/internal/migration"
	"github.com/smallbiznis/tally/internal/scheduler"
	subscriptiondomain "github.com/smallbiznis/tally/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/tally/internal/subscription/repository"
	tenantdomain "github.com/smallbiznis/tally/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/tally/internal/tenant/repository"
	"github.com/smallbiznis/tally/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type mockBillingSvc struct {
	createReqs  []billingdomain.CreateBillingRequest
	intentReqs  []billingdomain.CreatePaymentIntentRequest
	intentErr   error
	nextID      snowflake.ID
	overdueRuns []time.Time
}

func (m *mockBillingSvc) Create(ctx context.Context, req billingdomain.CreateBillingRequest) (billingdomain.Billing, error) {
	m.createReqs = append(m.createReqs, req)
	m.nextID++
	return billingdomain.Billing{ID: m.nextID, Amount: *req.Amount, Currency: req.Currency}, nil
}

func (m *mockBillingSvc) CreatePaymentIntent(ctx context.Context, req billingdomain.CreatePaymentIntentRequest) (billingdomain.PaymentIntentResult, error) {
	m.intentReqs = append(m.intentReqs, req)
	if m.intentErr != nil {
		return billingdomain.PaymentIntentResult{}, m.intentErr
	}
	return billingdomain.PaymentIntentResult{BillingID: req.BillingID, Status: billingdomain.BillingStatusPaid}, nil
}

func (m *mockBillingSvc) CheckPayment(ctx context.Context, billingID snowflake.ID) (billingdomain.CheckPaymentResponse, error) {
	return billingdomain.CheckPaymentResponse{}, nil
}

func (m *mockBillingSvc) Status(ctx context.Context, billingID snowflake.ID) (billingdomain.StatusResponse, error) {
	return billingdomain.StatusResponse{}, nil
}

func (m *mockBillingSvc) UpdateStatus(ctx context.Context, req billingdomain.UpdateStatusRequest) error {
	return nil
}

func (m *mockBillingSvc) Void(ctx context.Context, billingID, actorID snowflake.ID, message string) error {
	return nil
}

func (m *mockBillingSvc) Delete(ctx context.Context, billingID snowflake.ID) error {
	return nil
}

func (m *mockBillingSvc) MarkOverdue(ctx context.Context, asOf time.Time, limit int) (int, error) {
	m.overdueRuns = append(m.overdueRuns, asOf)
	return 0, nil
}

type mockIdentitySvc struct {
	users map[snowflake.ID]*identitydomain.User
}

func (m *mockIdentitySvc) GetUser(ctx context.Context, id snowflake.ID) (*identitydomain.User, error) {
	return m.users[id], nil
}

func (m *mockIdentitySvc) SetDefaultPaymentMethod(ctx context.Context, id snowflake.ID, paymentMethodID string) error {
	return nil
}

func (m *mockIdentitySvc) MirrorToTenant(ctx context.Context, tenantDB *gorm.DB, id snowflake.ID) error {
	return nil
}

type schedulerFixture struct {
	db       *gorm.DB
	sched    *scheduler.Scheduler
	node     *snowflake.Node
	clk      *clock.FakeClock
	billing  *mockBillingSvc
	identity *mockIdentitySvc
	owner    identitydomain.User
	business tenantdomain.Business
	plan     subscriptiondomain.Plan
	sub      subscriptiondomain.BusinessSubscription
}

func setupScheduler(t *testing.T) *schedulerFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, migration.RunMigrations(db))

	node, err := snowflake.NewNode(11)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC))
	billingSvc := &mockBillingSvc{}
	identitySvc := &mockIdentitySvc{users: map[snowflake.ID]*identitydomain.User{}}

	sched := scheduler.New(scheduler.Params{
		DB:            db,
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         clk,
		Subscriptions: subscriptionrepo.Provide(),
		BillingSvc:    billingSvc,
		IdentitySvc:   identitySvc,
		Businesses:    tenantrepo.Provide(),
	})

	owner := identitydomain.User{ID: node.Generate(), Email: "owner@example.com", Name: "Owner"}
	require.NoError(t, db.Create(&owner).Error)
	identitySvc.users[owner.ID] = &owner

	business := tenantdomain.Business{ID: node.Generate(), Name: "Acme", OwnerUserID: owner.ID}
	require.NoError(t, db.Create(&business).Error)

	plan := subscriptiondomain.Plan{
		ID:              node.Generate(),
		Name:            "Pro",
		Price:           decimal.RequireFromString("100"),
		Currency:        "USD",
		DiscountPercent: decimal.RequireFromString("10"),
		Frequencies:     datatypes.NewJSONSlice([]string{"MONTHLY"}),
	}
	require.NoError(t, db.Create(&plan).Error)

	now := clk.Now()
	sub := subscriptiondomain.BusinessSubscription{
		ID:         node.Generate(),
		BusinessID: business.ID,
		PlanID:     plan.ID,
		Frequency:  subscriptiondomain.FrequencyMonthly,
		IsActive:   true,
		StartDate:  now,
		EndDate:    now.AddDate(0, 1, 0),
	}
	require.NoError(t, db.Create(&sub).Error)

	return &schedulerFixture{
		db:       db,
		sched:    sched,
		node:     node,
		clk:      clk,
		billing:  billingSvc,
		identity: identitySvc,
		owner:    owner,
		business: business,
		plan:     plan,
		sub:      sub,
	}
}

func (f *schedulerFixture) schedule(t *testing.T) scheduler.CycleSchedule {
	t.Helper()

	require.NoError(t, f.sched.ScheduleCycle(context.Background(), &f.sub))

	var schedule scheduler.CycleSchedule
	require.NoError(t, f.db.First(&schedule, "subscription_id = ?", f.sub.ID).Error)
	return schedule
}

func TestScheduleCycleIsIdempotent(t *testing.T) {
	f := setupScheduler(t)
	ctx := context.Background()

	first := f.schedule(t)
	assert.Equal(t, f.clk.Now().AddDate(0, 1, 0), first.NextRunAt)

	require.NoError(t, f.sched.ScheduleCycle(ctx, &f.sub))

	var count int64
	require.NoError(t, f.db.Model(&scheduler.CycleSchedule{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestClaimScheduleAdvancesOnePeriod(t *testing.T) {
	f := setupScheduler(t)
	ctx := context.Background()

	schedule := f.schedule(t)

	claimed, err := f.sched.ClaimScheduleForTest(ctx, f.db, schedule)
	require.NoError(t, err)
	assert.True(t, claimed)

	var updated scheduler.CycleSchedule
	require.NoError(t, f.db.First(&updated, "id = ?", schedule.ID).Error)
	assert.Equal(t, schedule.NextRunAt.AddDate(0, 1, 0), updated.NextRunAt)

	// The stale snapshot loses the second claim.
	claimed, err = f.sched.ClaimScheduleForTest(ctx, f.db, schedule)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestRunOnceFiresDueCycle(t *testing.T) {
	f := setupScheduler(t)

	f.schedule(t)
	f.clk.Advance(32 * 24 * time.Hour)

	require.NoError(t, f.sched.RunOnce(context.Background()))

	require.Len(t, f.billing.createReqs, 1)
	req := f.billing.createReqs[0]
	assert.Equal(t, billingdomain.BillingTypeBusiness, req.Type)
	assert.Equal(t, f.business.OwnerUserID, req.RecipientID)
	assert.Equal(t, billingdomain.SourceRecurringCycle, req.Source)
	// 100 with 10% plan discount.
	assert.True(t, req.Amount.Equal(decimal.RequireFromString("90")), "got %s", req.Amount)

	var joined subscriptiondomain.BusinessSubscriptionBilling
	require.NoError(t, f.db.First(&joined, "subscription_id = ?", f.sub.ID).Error)
	assert.Equal(t, f.sub.ID, joined.SubscriptionID)

	// No auto-renew on the plan: the cycle stays unpaid.
	assert.Empty(t, f.billing.intentReqs)

	// The sweep covered the platform store.
	require.Len(t, f.billing.overdueRuns, 1)
}

func TestRunOnceSkipsFutureSchedules(t *testing.T) {
	f := setupScheduler(t)

	f.schedule(t)
	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Empty(t, f.billing.createReqs)
}

func TestFireCycleSkipsInactiveSubscription(t *testing.T) {
	f := setupScheduler(t)

	f.schedule(t)
	require.NoError(t, f.db.Model(&subscriptiondomain.BusinessSubscription{}).
		Where("id = ?", f.sub.ID).
		Update("is_active", false).Error)

	f.clk.Advance(32 * 24 * time.Hour)
	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Empty(t, f.billing.createReqs)
}

func TestAutoRenewWithoutDefaultPaymentMethod(t *testing.T) {
	f := setupScheduler(t)

	require.NoError(t, f.db.Model(&subscriptiondomain.Plan{}).
		Where("id = ?", f.plan.ID).
		Update("auto_renew", true).Error)

	f.schedule(t)
	f.clk.Advance(32 * 24 * time.Hour)
	require.NoError(t, f.sched.RunOnce(context.Background()))

	// The billing exists but no charge was attempted.
	require.Len(t, f.billing.createReqs, 1)
	assert.Empty(t, f.billing.intentReqs)
}

func TestAutoRenewPaymentFailureKeepsCycle(t *testing.T) {
	f := setupScheduler(t)

	require.NoError(t, f.db.Model(&subscriptiondomain.Plan{}).
		Where("id = ?", f.plan.ID).
		Update("auto_renew", true).Error)
	pm := "pm_stored"
	f.identity.users[f.owner.ID].DefaultPaymentMethodID = &pm
	f.billing.intentErr = billingdomain.ErrPaymentFailed

	f.schedule(t)
	f.clk.Advance(32 * 24 * time.Hour)
	require.NoError(t, f.sched.RunOnce(context.Background()))

	require.Len(t, f.billing.createReqs, 1)
	require.Len(t, f.billing.intentReqs, 1)
	assert.Equal(t, pm, f.billing.intentReqs[0].PaymentMethodID)

	// The unpaid recurring cycle stays on the books.
	var count int64
	require.NoError(t, f.db.Model(&subscriptiondomain.BusinessSubscriptionBilling{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRunOnceWithoutLockerAlwaysRuns(t *testing.T) {
	f := setupScheduler(t)

	token, acquired, err := f.sched.LockerForTest().TryLock(context.Background(), scheduler.RunLockKeyForTest, time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.Empty(t, token)
}

func TestOverdueSweepCoversProvisionedTenants(t *testing.T) {
	f := setupScheduler(t)

	tenantID := f.node.Generate()
	now := f.clk.Now()
	require.NoError(t, f.db.Model(&tenantdomain.Business{}).
		Where("id = ?", f.business.ID).
		Updates(map[string]any{"tenant_id": tenantID, "provisioned_at": now}).Error)

	require.NoError(t, f.sched.RunOverdueSweepForTest(tenantctx.WithPlatform(context.Background())))

	// One platform sweep plus one per provisioned tenant.
	assert.Len(t, f.billing.overdueRuns, 2)
}
