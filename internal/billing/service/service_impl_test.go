package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/tally/internal/billing/domain"
	billingrepo "github.com/smallbiznis/tally/internal/billing/repository"
	billingservice "github.com/smallbiznis/tally/internal/billing/service"
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/config"
	"github.com/smallbiznis/tally/internal/events"
	identitydomain "github.com/smallbiznis/tally/internal/identity/domain"
	identityservice "github.com/smallbiznis/tally/internal/identity/service"
	"github.com/smallbiznis/tally/internal/migration"
	"github.com/smallbiznis/tally/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/tally/internal/payment/domain"
	paymentservice "github.com/smallbiznis/tally/internal/payment/service"
	taxservice "github.com/smallbiznis/tally/internal/tax/service"
	tenantdomain "github.com/smallbiznis/tally/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/tally/internal/tenant/repository"
	"github.com/smallbiznis/tally/internal/tenant/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeProcessor struct {
	intentStatus string
	intents      map[string]string
	createCalls  int
}

func (p *fakeProcessor) Provider() string { return "fakepay" }

func (p *fakeProcessor) CreateOrGetCustomer(ctx context.Context, user *identitydomain.User, tenantID snowflake.ID) (*paymentdomain.Customer, error) {
	return &paymentdomain.Customer{ID: "cus_" + user.ID.String(), Email: user.Email}, nil
}

func (p *fakeProcessor) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string, setAsDefault bool) error {
	return nil
}

func (p *fakeProcessor) GetCardInfo(ctx context.Context, paymentMethodID string) (*paymentdomain.CardInfo, error) {
	return &paymentdomain.CardInfo{Brand: "visa", Last4: "4242"}, nil
}

func (p *fakeProcessor) CreatePaymentIntent(ctx context.Context, req paymentdomain.CreateIntentRequest) (*paymentdomain.PaymentIntent, error) {
	p.createCalls++
	id := fmt.Sprintf("pi_%d", p.createCalls)
	p.intents[id] = p.intentStatus
	return &paymentdomain.PaymentIntent{ID: id, Status: p.intentStatus, Amount: req.AmountMinorUnits}, nil
}

func (p *fakeProcessor) GetPaymentIntent(ctx context.Context, intentID string) (*paymentdomain.PaymentIntent, error) {
	status, ok := p.intents[intentID]
	if !ok {
		return nil, paymentdomain.ErrIntentNotFound
	}
	return &paymentdomain.PaymentIntent{ID: intentID, Status: status}, nil
}

type fakeFactory struct {
	proc *fakeProcessor
}

func (f fakeFactory) Provider() string { return "fakepay" }

func (f fakeFactory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Processor, error) {
	return f.proc, nil
}

type billingFixture struct {
	db        *gorm.DB
	svc       billingdomain.Service
	tax       *taxFacade
	node      *snowflake.Node
	clk       *clock.FakeClock
	proc      *fakeProcessor
	bus       *events.Bus
	recipient identitydomain.User
	business  tenantdomain.Business
}

// taxFacade keeps the tax service handy for rate setup in tests.
type taxFacade struct {
	set func(ctx context.Context, recipientID snowflake.ID, rate decimal.Decimal) error
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, migration.RunMigrations(db))
	return db
}

func setupBilling(t *testing.T) *billingFixture {
	t.Helper()

	db := openTestDB(t)
	node, err := snowflake.NewNode(7)
	require.NoError(t, err)

	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	rt := router.New(router.Params{Config: config.Config{}, Log: log, DB: db})
	identitySvc := identityservice.NewService(identityservice.ServiceParam{DB: db, Log: log})
	taxSvc := taxservice.NewService(taxservice.Params{Log: log, GenID: node, Router: rt})

	proc := &fakeProcessor{intentStatus: paymentdomain.StatusSucceeded, intents: map[string]string{}}
	resolver := paymentservice.NewResolver(paymentservice.ResolverParam{
		DB:       db,
		Log:      log,
		Registry: adapters.NewRegistry(fakeFactory{proc: proc}),
		Tenants:  tenantrepo.Provide(),
	})

	bus := events.NewSyncBus(log)
	svc := billingservice.NewService(billingservice.Params{
		Log:      log,
		GenID:    node,
		Clock:    clk,
		Router:   rt,
		Repo:     billingrepo.Provide(),
		Identity: identitySvc,
		Tax:      taxSvc,
		Resolver: resolver,
		Bus:      bus,
	})

	recipient := identitydomain.User{
		ID:    node.Generate(),
		Email: "buyer@example.com",
		Name:  "Buyer",
		Role:  identitydomain.RoleMember,
	}
	require.NoError(t, db.Create(&recipient).Error)

	business := tenantdomain.Business{
		ID:              node.Generate(),
		Name:            "Acme",
		OwnerUserID:     recipient.ID,
		PaymentProvider: "fakepay",
	}
	require.NoError(t, db.Create(&business).Error)

	return &billingFixture{
		db:        db,
		svc:       svc,
		tax:       &taxFacade{set: taxSvc.SetTaxRate},
		node:      node,
		clk:       clk,
		proc:      proc,
		bus:       bus,
		recipient: recipient,
		business:  business,
	}
}

func (f *billingFixture) createBilling(t *testing.T, mutate func(*billingdomain.CreateBillingRequest)) billingdomain.Billing {
	t.Helper()

	amount := decimal.RequireFromString("25")
	req := billingdomain.CreateBillingRequest{
		RecipientID: f.recipient.ID,
		CreatedBy:   f.recipient.ID,
		BusinessID:  f.business.ID,
		Type:        billingdomain.BillingTypeOther,
		Amount:      &amount,
		Currency:    "USD",
	}
	if mutate != nil {
		mutate(&req)
	}
	billing, err := f.svc.Create(context.Background(), req)
	require.NoError(t, err)
	return billing
}

func (f *billingFixture) historyCount(t *testing.T, billingID snowflake.ID, status billingdomain.BillingStatus) int64 {
	t.Helper()

	var count int64
	err := f.db.Model(&billingdomain.BillingHistory{}).
		Where("billing_id = ? AND status = ?", billingID, status).
		Count(&count).Error
	require.NoError(t, err)
	return count
}

func TestCreateBillingAppliesTaxMultiplier(t *testing.T) {
	f := setupBilling(t)
	ctx := context.Background()

	require.NoError(t, f.tax.set(ctx, f.recipient.ID, decimal.RequireFromString("10")))

	billing := f.createBilling(t, func(req *billingdomain.CreateBillingRequest) {
		req.Amount = nil
		req.LineItems = []billingdomain.LineItemInput{
			{Description: "widget", Quantity: 2, UnitPrice: decimal.RequireFromString("10")},
			{Description: "gadget", Quantity: 1, UnitPrice: decimal.RequireFromString("5")},
		}
	})

	// (2*10 + 1*5) * 1.10 = 27.50
	assert.True(t, billing.Amount.Equal(decimal.RequireFromString("27.5")),
		"got %s", billing.Amount)
	assert.Equal(t, "USD", billing.Currency)

	status, err := f.svc.Status(ctx, billing.ID)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.BillingStatusPending, status.Status)
	assert.Nil(t, status.PaidAt)
}

func TestCreateBillingDefaultsDueDate(t *testing.T) {
	f := setupBilling(t)

	billing := f.createBilling(t, nil)
	assert.Equal(t, f.clk.Now(), billing.IssueDate)
	assert.Equal(t, f.clk.Now().Add(30*24*time.Hour), billing.DueDate)
}

func TestCreateBillingValidation(t *testing.T) {
	f := setupBilling(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, billingdomain.CreateBillingRequest{
		RecipientID: f.node.Generate(),
		CreatedBy:   f.recipient.ID,
		BusinessID:  f.business.ID,
		Currency:    "USD",
	})
	assert.ErrorIs(t, err, billingdomain.ErrRecipientNotFound)

	_, err = f.svc.Create(ctx, billingdomain.CreateBillingRequest{
		RecipientID: f.recipient.ID,
		CreatedBy:   f.recipient.ID,
		BusinessID:  f.business.ID,
	})
	assert.ErrorIs(t, err, billingdomain.ErrInvalidCurrency)

	_, err = f.svc.Create(ctx, billingdomain.CreateBillingRequest{
		RecipientID: f.recipient.ID,
		CreatedBy:   f.recipient.ID,
		BusinessID:  f.business.ID,
		Currency:    "USD",
	})
	assert.ErrorIs(t, err, billingdomain.ErrInvalidAmount)

	_, err = f.svc.Create(ctx, billingdomain.CreateBillingRequest{
		RecipientID: f.recipient.ID,
		CreatedBy:   f.recipient.ID,
		BusinessID:  f.business.ID,
		Currency:    "USD",
		LineItems: []billingdomain.LineItemInput{
			{Description: "", Quantity: 1, UnitPrice: decimal.RequireFromString("5")},
		},
	})
	assert.ErrorIs(t, err, billingdomain.ErrInvalidLineItems)
}

func TestCreatePaymentIntentSucceeded(t *testing.T) {
	f := setupBilling(t)
	ctx := context.Background()

	billing := f.createBilling(t, nil)
	f.clk.Advance(time.Minute)

	result, err := f.svc.CreatePaymentIntent(ctx, billingdomain.CreatePaymentIntentRequest{
		BillingID:       billing.ID,
		PayerID:         f.recipient.ID,
		PaymentMethodID: "pm_test",
	})
	require.NoError(t, err)
	assert.Equal(t, billingdomain.BillingStatusPaid, result.Status)
	assert.NotEmpty(t, result.PaymentIntentID)

	status, err := f.svc.Status(ctx, billing.ID)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.BillingStatusPaid, status.Status)
	require.NotNil(t, status.PaidAt)

	check, err := f.svc.CheckPayment(ctx, billing.ID)
	require.NoError(t, err)
	assert.True(t, check.HasPaid)

	// A second attempt must not reach the processor again.
	_, err = f.svc.CreatePaymentIntent(ctx, billingdomain.CreatePaymentIntentRequest{
		BillingID:       billing.ID,
		PayerID:         f.recipient.ID,
		PaymentMethodID: "pm_test",
	})
	assert.ErrorIs(t, err, billingdomain.ErrAlreadyPaid)
	assert.Equal(t, 1, f.proc.createCalls)
	assert.Equal(t, int64(1), f.historyCount(t, billing.ID, billingdomain.BillingStatusPaid))
}

func TestCreatePaymentIntentRequiresAction(t *testing.T) {
	f := setupBilling(t)
	ctx := context.Background()

	f.proc.intentStatus = paymentdomain.StatusRequiresAction

	billing := f.createBilling(t, nil)
	result, err := f.svc.CreatePaymentIntent(ctx, billingdomain.CreatePaymentIntentRequest{
		BillingID:       billing.ID,
		PayerID:         f.recipient.ID,
		PaymentMethodID: "pm_test",
	})
	assert.ErrorIs(t, err, billingdomain.ErrPaymentFailed)
	assert.Equal(t, billingdomain.BillingStatusFailed, result.Status)

	status, err := f.svc.Status(ctx, billing.ID)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.BillingStatusFailed, status.Status)
	assert.Nil(t, status.PaidAt)

	check, err := f.svc.CheckPayment(ctx, billing.ID)
	require.NoError(t, err)
	assert.False(t, check.HasPaid)
	assert.Equal(t, int64(0), f.historyCount(t, billing.ID, billingdomain.BillingStatusPaid))
}

func TestCreatePaymentIntentMissingPaymentMethod(t *testing.T) {
	f := setupBilling(t)

	billing := f.createBilling(t, nil)
	_, err := f.svc.CreatePaymentIntent(context.Background(), billingdomain.CreatePaymentIntentRequest{
		BillingID: billing.ID,
		PayerID:   f.recipient.ID,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrMissingPaymentRef)
}

func TestCheckPaymentReconcilesFromProcessor(t *testing.T) {
	f := setupBilling(t)
	ctx := context.Background()

	f.proc.intentStatus = paymentdomain.StatusRequiresAction
	billing := f.createBilling(t, nil)
	_, err := f.svc.CreatePaymentIntent(ctx, billingdomain.CreatePaymentIntentRequest{
		BillingID:       billing.ID,
		PayerID:         f.recipient.ID,
		PaymentMethodID: "pm_test",
	})
	require.ErrorIs(t, err, billingdomain.ErrPaymentFailed)

	// The customer finished the action on the processor side.
	f.proc.intents["pi_1"] = paymentdomain.StatusSucceeded
	f.clk.Advance(time.Minute)

	check, err := f.svc.CheckPayment(ctx, billing.ID)
	require.NoError(t, err)
	assert.True(t, check.HasPaid)
	assert.Equal(t, int64(1), f.historyCount(t, billing.ID, billingdomain.BillingStatusPaid))

	status, err := f.svc.Status(ctx, billing.ID)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.BillingStatusPaid, status.Status)
}

func TestUpdateStatusAuthorization(t *testing.T) {
	f := setupBilling(t)
	ctx := context.Background()

	plain := f.createBilling(t, nil)
	err := f.svc.UpdateStatus(ctx, billingdomain.UpdateStatusRequest{
		BillingID: plain.ID,
		Status:    billingdomain.BillingStatusPaid,
		ActorID:   f.recipient.ID,
	})
	assert.ErrorIs(t, err, billingdomain.ErrNotCashable)

	cashable := f.createBilling(t, func(req *billingdomain.CreateBillingRequest) {
		req.IsCashable = true
	})

	stranger := identitydomain.User{ID: f.node.Generate(), Email: "x@example.com", Name: "X"}
	require.NoError(t, f.db.Create(&stranger).Error)
	err = f.svc.UpdateStatus(ctx, billingdomain.UpdateStatusRequest{
		BillingID: cashable.ID,
		Status:    billingdomain.BillingStatusPaid,
		ActorID:   stranger.ID,
	})
	assert.ErrorIs(t, err, billingdomain.ErrForbidden)

	err = f.svc.UpdateStatus(ctx, billingdomain.UpdateStatusRequest{
		BillingID: cashable.ID,
		Status:    billingdomain.BillingStatusVoid,
		ActorID:   f.recipient.ID,
	})
	assert.ErrorIs(t, err, billingdomain.ErrInvalidStatus)

	f.clk.Advance(time.Minute)
	err = f.svc.UpdateStatus(ctx, billingdomain.UpdateStatusRequest{
		BillingID: cashable.ID,
		Status:    billingdomain.BillingStatusPaid,
		ActorID:   f.recipient.ID,
		Message:   "paid in cash",
	})
	require.NoError(t, err)

	status, err := f.svc.Status(ctx, cashable.ID)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.BillingStatusPaid, status.Status)
}

func TestVoidAndDeleteRefusedAfterSettlement(t *testing.T) {
	f := setupBilling(t)
	ctx := context.Background()

	billing := f.createBilling(t, nil)
	_, err := f.svc.CreatePaymentIntent(ctx, billingdomain.CreatePaymentIntentRequest{
		BillingID:       billing.ID,
		PayerID:         f.recipient.ID,
		PaymentMethodID: "pm_test",
	})
	require.NoError(t, err)

	err = f.svc.Void(ctx, billing.ID, f.recipient.ID, "mistake")
	assert.ErrorIs(t, err, billingdomain.ErrBillingSettled)

	err = f.svc.Delete(ctx, billing.ID)
	assert.ErrorIs(t, err, billingdomain.ErrBillingSettled)
}

func TestVoidUnpaidBilling(t *testing.T) {
	f := setupBilling(t)
	ctx := context.Background()

	billing := f.createBilling(t, nil)
	f.clk.Advance(time.Minute)
	require.NoError(t, f.svc.Void(ctx, billing.ID, f.recipient.ID, "duplicate"))

	status, err := f.svc.Status(ctx, billing.ID)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.BillingStatusVoid, status.Status)
}

func TestDeleteRemovesBillingAndHistory(t *testing.T) {
	f := setupBilling(t)
	ctx := context.Background()

	billing := f.createBilling(t, nil)
	require.NoError(t, f.svc.Delete(ctx, billing.ID))

	_, err := f.svc.Status(ctx, billing.ID)
	assert.ErrorIs(t, err, billingdomain.ErrBillingNotFound)

	var count int64
	require.NoError(t, f.db.Model(&billingdomain.BillingHistory{}).
		Where("billing_id = ?", billing.ID).
		Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestMarkOverdueSweepsPastDueBillings(t *testing.T) {
	f := setupBilling(t)
	ctx := context.Background()

	due := f.clk.Now().Add(24 * time.Hour)
	overdue := f.createBilling(t, func(req *billingdomain.CreateBillingRequest) {
		req.DueDate = &due
	})
	paid := f.createBilling(t, func(req *billingdomain.CreateBillingRequest) {
		req.DueDate = &due
	})
	_, err := f.svc.CreatePaymentIntent(ctx, billingdomain.CreatePaymentIntentRequest{
		BillingID:       paid.ID,
		PayerID:         f.recipient.ID,
		PaymentMethodID: "pm_test",
	})
	require.NoError(t, err)

	f.clk.Advance(48 * time.Hour)
	marked, err := f.svc.MarkOverdue(ctx, f.clk.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	status, err := f.svc.Status(ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.BillingStatusOverdue, status.Status)

	status, err = f.svc.Status(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.BillingStatusPaid, status.Status)
}
