// Package scheduler fires recurring subscription billing cycles and the
// overdue sweep. One instance wins each tick via an optional redis lock;
// claims are conditional updates so repeats are safe.
package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/tally/internal/billing/domain"
	"github.com/smallbiznis/tally/internal/clock"
	identitydomain "github.com/smallbiznis/tally/internal/identity/domain"
	obsmetrics "github.com/smallbiznis/tally/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/tally/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/tally/internal/tenant/domain"
	"github.com/smallbiznis/tally/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	jobRecurringCycles = "recurring_cycles"
	jobOverdueSweep    = "overdue_sweep"

	runLockKey = "tally:scheduler:run"
)

var (
	decimalOne     = decimal.NewFromInt(1)
	decimalHundred = decimal.NewFromInt(100)
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock

	Subscriptions subscriptiondomain.Repository
	BillingSvc    billingdomain.Service
	IdentitySvc   identitydomain.Service
	Businesses    tenantdomain.Repository

	Locker *Locker `optional:"true"`
	Config Config  `optional:"true"`
}

type Scheduler struct {
	db    *gorm.DB
	log   *zap.Logger
	cfg   Config
	genID *snowflake.Node
	clock clock.Clock

	subscriptions subscriptiondomain.Repository
	billingSvc    billingdomain.Service
	identitySvc   identitydomain.Service
	businesses    tenantdomain.Repository
	locker        *Locker
}

func New(p Params) *Scheduler {
	return &Scheduler{
		db:            p.DB,
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           p.Config.withDefaults(),
		genID:         p.GenID,
		clock:         p.Clock,
		subscriptions: p.Subscriptions,
		billingSvc:    p.BillingSvc,
		identitySvc:   p.IdentitySvc,
		businesses:    p.Businesses,
		locker:        p.Locker,
	}
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	token, acquired, err := s.locker.TryLock(parent, runLockKey, s.cfg.LockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer func() {
		if err := s.locker.Release(parent, runLockKey, token); err != nil {
			s.log.Warn("run lock release failed", zap.Error(err))
		}
	}()

	if err := s.runJob(parent, jobRecurringCycles, s.runRecurringCycles); err != nil {
		return err
	}
	return s.runJob(parent, jobOverdueSweep, s.runOverdueSweep)
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if err != nil {
		schedMetrics.IncJobError(name)
		s.log.Warn("job failed", zap.String("job", name), zap.Error(err))
	}
	return err
}

func (s *Scheduler) runRecurringCycles(ctx context.Context) error {
	now := s.clock.Now()
	schedules, err := s.fetchDueSchedules(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, schedule := range schedules {
		claimed, err := s.claimSchedule(ctx, s.db, schedule)
		if err != nil {
			s.log.Warn("cycle claim failed",
				zap.String("subscription_id", schedule.SubscriptionID.String()),
				zap.Error(err),
			)
			continue
		}
		if !claimed {
			continue
		}

		if err := s.fireCycle(ctx, schedule); err != nil {
			s.log.Warn("cycle firing failed",
				zap.String("subscription_id", schedule.SubscriptionID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

// fireCycle creates the billing for one recurring period. The cycle
// record stays even when auto-renew payment cannot run; recurring bills
// must remain auditable unpaid rather than disappear.
func (s *Scheduler) fireCycle(ctx context.Context, schedule CycleSchedule) error {
	sub, err := s.subscriptions.FindByID(ctx, s.db, schedule.SubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}
	if !sub.IsActive {
		return nil
	}

	plan, err := s.subscriptions.FindPlan(ctx, s.db, sub.PlanID)
	if err != nil {
		return err
	}
	if plan == nil {
		return subscriptiondomain.ErrPlanNotFound
	}

	business, err := s.businesses.FindByID(ctx, s.db, sub.BusinessID)
	if err != nil {
		return err
	}
	if business == nil {
		return tenantdomain.ErrBusinessNotFound
	}

	// Re-enter the tenant scope explicitly; the firing does not inherit
	// any request context.
	tenantCtx := tenantctx.WithPlatform(ctx)
	if business.TenantID != nil {
		tenantCtx = tenantctx.WithTenantID(ctx, *business.TenantID)
	}

	price := plan.Price
	if plan.DiscountPercent.IsPositive() {
		price = price.Mul(decimalOne.Sub(plan.DiscountPercent.Div(decimalHundred)))
	}
	price = price.Round(2)

	billing, err := s.billingSvc.Create(tenantCtx, billingdomain.CreateBillingRequest{
		RecipientID: business.OwnerUserID,
		CreatedBy:   business.OwnerUserID,
		BusinessID:  business.ID,
		Type:        billingdomain.BillingTypeBusiness,
		Amount:      &price,
		Currency:    plan.Currency,
		Timezone:    schedule.Timezone,
		Source:      billingdomain.SourceRecurringCycle,
		Metadata: map[string]any{
			"subscription_id": sub.ID.String(),
			"plan_id":         plan.ID.String(),
		},
	})
	if err != nil {
		return err
	}

	err = s.subscriptions.InsertCycleBilling(ctx, s.db, &subscriptiondomain.BusinessSubscriptionBilling{
		ID:             s.genID.Generate(),
		SubscriptionID: sub.ID,
		BillingID:      billing.ID,
		Frequency:      schedule.Frequency,
		Timezone:       schedule.Timezone,
		CreatedAt:      s.clock.Now(),
	})
	if err != nil {
		return err
	}

	if !plan.AutoRenew {
		return nil
	}

	owner, err := s.identitySvc.GetUser(ctx, business.OwnerUserID)
	if err != nil {
		return err
	}
	if owner == nil || owner.DefaultPaymentMethodID == nil || *owner.DefaultPaymentMethodID == "" {
		s.log.Info("auto-renew skipped, no default payment method",
			zap.String("business_id", business.ID.String()),
			zap.String("billing_id", billing.ID.String()),
		)
		return nil
	}

	_, err = s.billingSvc.CreatePaymentIntent(tenantCtx, billingdomain.CreatePaymentIntentRequest{
		BillingID:       billing.ID,
		PayerID:         owner.ID,
		PaymentMethodID: *owner.DefaultPaymentMethodID,
		Timezone:        schedule.Timezone,
	})
	if err != nil {
		// Unpaid cycle stays on the books for manual follow-up.
		s.log.Warn("auto-renew payment failed",
			zap.String("billing_id", billing.ID.String()),
			zap.Error(err),
		)
	}
	return nil
}

func (s *Scheduler) runOverdueSweep(ctx context.Context) error {
	now := s.clock.Now()

	if _, err := s.billingSvc.MarkOverdue(tenantctx.WithPlatform(ctx), now, s.cfg.OverdueLimit); err != nil {
		return err
	}

	businesses, err := s.businesses.ListProvisioned(ctx, s.db)
	if err != nil {
		return err
	}
	for _, business := range businesses {
		if business.TenantID == nil {
			continue
		}
		tenantCtx := tenantctx.WithTenantID(ctx, *business.TenantID)
		if _, err := s.billingSvc.MarkOverdue(tenantCtx, now, s.cfg.OverdueLimit); err != nil {
			s.log.Warn("overdue sweep failed for tenant",
				zap.String("tenant_id", business.TenantID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}
