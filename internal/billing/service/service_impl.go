package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/tally/internal/billing/domain"
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/events"
	identitydomain "github.com/smallbiznis/tally/internal/identity/domain"
	obsmetrics "github.com/smallbiznis/tally/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/tally/internal/payment/domain"
	paymentservice "github.com/smallbiznis/tally/internal/payment/service"
	taxdomain "github.com/smallbiznis/tally/internal/tax/domain"
	"github.com/smallbiznis/tally/internal/tenant/router"
	"github.com/smallbiznis/tally/pkg/db"
	"github.com/smallbiznis/tally/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultDueTerm = 30 * 24 * time.Hour

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

type Params struct {
	fx.In

	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Router   *router.Router
	Repo     billingdomain.Repository
	Identity identitydomain.Service
	Tax      taxdomain.Service
	Resolver *paymentservice.Resolver
	Bus      *events.Bus
}

type Service struct {
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	router   *router.Router
	repo     billingdomain.Repository
	identity identitydomain.Service
	tax      taxdomain.Service
	resolver *paymentservice.Resolver
	bus      *events.Bus
}

func NewService(p Params) billingdomain.Service {
	return &Service{
		log:      p.Log.Named("billing.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		router:   p.Router,
		repo:     p.Repo,
		identity: p.Identity,
		tax:      p.Tax,
		resolver: p.Resolver,
		bus:      p.Bus,
	}
}

func (s *Service) Create(ctx context.Context, req billingdomain.CreateBillingRequest) (billingdomain.Billing, error) {
	store, err := s.router.Resolve(ctx)
	if err != nil {
		return billingdomain.Billing{}, err
	}

	recipient, err := s.identity.GetUser(ctx, req.RecipientID)
	if err != nil {
		return billingdomain.Billing{}, err
	}
	if recipient == nil {
		return billingdomain.Billing{}, billingdomain.ErrRecipientNotFound
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return billingdomain.Billing{}, billingdomain.ErrInvalidCurrency
	}

	amount, items, err := s.resolveAmount(req)
	if err != nil {
		return billingdomain.Billing{}, err
	}

	rate, err := s.tax.GetTaxRate(ctx, req.RecipientID)
	if err != nil {
		return billingdomain.Billing{}, err
	}
	if rate.IsPositive() {
		amount = amount.Mul(one.Add(rate.Div(hundred)))
	}
	amount = amount.Round(2)

	now := s.clock.Now()
	issueDate := now
	if req.IssueDate != nil {
		issueDate = req.IssueDate.UTC()
	}
	dueDate := issueDate.Add(defaultDueTerm)
	if req.DueDate != nil {
		dueDate = req.DueDate.UTC()
	}

	source := req.Source
	if source == "" {
		source = billingdomain.SourceBillingCreated
	}

	billing := billingdomain.Billing{
		ID:          s.genID.Generate(),
		RecipientID: req.RecipientID,
		CreatedBy:   req.CreatedBy,
		BusinessID:  req.BusinessID,
		Type:        req.Type,
		Amount:      amount,
		Currency:    currency,
		IssueDate:   issueDate,
		DueDate:     dueDate,
		IsCashable:  req.IsCashable,
		Timezone:    strings.TrimSpace(req.Timezone),
		Metadata:    datatypes.JSONMap(req.Metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for i := range items {
		items[i].ID = s.genID.Generate()
		items[i].BillingID = billing.ID
		items[i].CreatedAt = now
	}

	err = store.Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &billing, items); err != nil {
			return err
		}
		return s.appendHistory(ctx, tx, &billingdomain.BillingHistory{
			BillingID:   billing.ID,
			Status:      billingdomain.BillingStatusPending,
			Source:      source,
			AttemptedAt: now,
		})
	})
	if err != nil {
		return billingdomain.Billing{}, err
	}

	s.publish(ctx, events.EventBillingCreated, billing.ID, map[string]any{
		"recipient_id": billing.RecipientID.String(),
		"amount":       billing.Amount.String(),
		"currency":     billing.Currency,
		"type":         string(billing.Type),
	})
	s.publish(ctx, events.EventBillingPending, billing.ID, nil)

	return billing, nil
}

// CreatePaymentIntent charges a billing through the processor configured
// for its business. Exactly one adapter call creates the intent; the
// outcome is recorded as a history fact either way.
func (s *Service) CreatePaymentIntent(ctx context.Context, req billingdomain.CreatePaymentIntentRequest) (billingdomain.PaymentIntentResult, error) {
	var out billingdomain.PaymentIntentResult

	store, err := s.router.Resolve(ctx)
	if err != nil {
		return out, err
	}

	billing, err := s.repo.FindByID(ctx, store, req.BillingID)
	if err != nil {
		return out, err
	}
	if billing == nil {
		return out, billingdomain.ErrBillingNotFound
	}

	paid, err := s.hasPaid(ctx, store, billing)
	if err != nil {
		return out, err
	}
	if paid {
		return out, billingdomain.ErrAlreadyPaid
	}

	processor, err := s.resolver.ForBusiness(ctx, billing.BusinessID)
	if err != nil {
		return out, err
	}

	payer, err := s.identity.GetUser(ctx, req.PayerID)
	if err != nil {
		return out, err
	}
	if payer == nil {
		return out, identitydomain.ErrUserMissing
	}

	customerID, err := s.ensureCustomer(ctx, store, processor, payer)
	if err != nil {
		return out, err
	}

	paymentMethodID := strings.TrimSpace(req.PaymentMethodID)
	if paymentMethodID == "" && payer.DefaultPaymentMethodID != nil {
		paymentMethodID = *payer.DefaultPaymentMethodID
	}
	if paymentMethodID == "" {
		return out, paymentdomain.ErrMissingPaymentRef
	}

	if req.SavePaymentMethod {
		if err := processor.AttachPaymentMethod(ctx, customerID, paymentMethodID, true); err != nil {
			return out, err
		}
		if err := s.identity.SetDefaultPaymentMethod(ctx, payer.ID, paymentMethodID); err != nil {
			return out, err
		}
	}

	card, err := processor.GetCardInfo(ctx, paymentMethodID)
	if err != nil {
		return out, err
	}
	if card == nil {
		return out, paymentdomain.ErrCardUnavailable
	}

	minorUnits := billing.Amount.Shift(2).IntPart()
	if minorUnits <= 0 {
		return out, billingdomain.ErrInvalidAmount
	}

	tenantID, _ := tenantctx.TenantIDFromContext(ctx)
	intent, err := processor.CreatePaymentIntent(ctx, paymentdomain.CreateIntentRequest{
		AmountMinorUnits: minorUnits,
		Currency:         billing.Currency,
		CustomerID:       customerID,
		PaymentMethodID:  paymentMethodID,
		Confirm:          true,
		Metadata: map[string]string{
			"billing_id": billing.ID.String(),
			"tenant_id":  tenantID.String(),
		},
	})
	if err != nil {
		obsmetrics.Billing().IncPaymentIntent(processor.Provider(), "error")
		return out, err
	}

	now := s.clock.Now()
	cardMeta := datatypes.JSONMap{
		"payment_intent_id": intent.ID,
		"card_brand":        card.Brand,
		"card_last4":        card.Last4,
	}

	if intent.Status == paymentdomain.StatusSucceeded {
		err = store.Transaction(func(tx *gorm.DB) error {
			if err := s.repo.SetPaymentIntentID(ctx, tx, billing.ID, intent.ID); err != nil {
				return err
			}
			return s.appendHistory(ctx, tx, &billingdomain.BillingHistory{
				BillingID:   billing.ID,
				Status:      billingdomain.BillingStatusPaid,
				Source:      billingdomain.SourcePaymentIntent,
				Metadata:    cardMeta,
				AttemptedAt: now,
				PaidBy:      &payer.ID,
			})
		})
		if err != nil {
			return out, err
		}

		obsmetrics.Billing().IncPaymentIntent(processor.Provider(), "succeeded")
		s.publish(ctx, events.EventBillingPaid, billing.ID, map[string]any{
			"payment_intent_id": intent.ID,
			"paid_by":           payer.ID.String(),
		})

		return billingdomain.PaymentIntentResult{
			BillingID:       billing.ID,
			PaymentIntentID: intent.ID,
			Status:          billingdomain.BillingStatusPaid,
		}, nil
	}

	cardMeta["intent_status"] = intent.Status
	err = store.Transaction(func(tx *gorm.DB) error {
		if err := s.repo.SetPaymentIntentID(ctx, tx, billing.ID, intent.ID); err != nil {
			return err
		}
		return s.appendHistory(ctx, tx, &billingdomain.BillingHistory{
			BillingID:   billing.ID,
			Status:      billingdomain.BillingStatusFailed,
			Source:      billingdomain.SourcePaymentIntent,
			Message:     intent.Status,
			Metadata:    cardMeta,
			AttemptedAt: now,
		})
	})
	if err != nil {
		return out, err
	}

	obsmetrics.Billing().IncPaymentIntent(processor.Provider(), intent.Status)
	s.publish(ctx, events.EventBillingFailed, billing.ID, map[string]any{
		"payment_intent_id": intent.ID,
		"intent_status":     intent.Status,
	})

	return billingdomain.PaymentIntentResult{
		BillingID:       billing.ID,
		PaymentIntentID: intent.ID,
		Status:          billingdomain.BillingStatusFailed,
	}, billingdomain.ErrPaymentFailed
}

// CheckPayment reports settlement from either the local ledger or the
// processor. A billing with no recorded PAID fact can still report paid
// when the processor confirms its stored intent succeeded.
func (s *Service) CheckPayment(ctx context.Context, billingID snowflake.ID) (billingdomain.CheckPaymentResponse, error) {
	store, err := s.router.Resolve(ctx)
	if err != nil {
		return billingdomain.CheckPaymentResponse{}, err
	}

	billing, err := s.repo.FindByID(ctx, store, billingID)
	if err != nil {
		return billingdomain.CheckPaymentResponse{}, err
	}
	if billing == nil {
		return billingdomain.CheckPaymentResponse{}, billingdomain.ErrBillingNotFound
	}

	paid, err := s.hasPaid(ctx, store, billing)
	if err != nil {
		return billingdomain.CheckPaymentResponse{}, err
	}
	return billingdomain.CheckPaymentResponse{HasPaid: paid}, nil
}

func (s *Service) Status(ctx context.Context, billingID snowflake.ID) (billingdomain.StatusResponse, error) {
	store, err := s.router.Resolve(ctx)
	if err != nil {
		return billingdomain.StatusResponse{}, err
	}

	billing, err := s.repo.FindByID(ctx, store, billingID)
	if err != nil {
		return billingdomain.StatusResponse{}, err
	}
	if billing == nil {
		return billingdomain.StatusResponse{}, billingdomain.ErrBillingNotFound
	}

	latest, err := s.repo.LatestHistory(ctx, store, billingID)
	if err != nil {
		return billingdomain.StatusResponse{}, err
	}
	if latest == nil {
		return billingdomain.StatusResponse{Status: billingdomain.BillingStatusPending}, nil
	}

	resp := billingdomain.StatusResponse{Status: latest.Status}
	if latest.Status == billingdomain.BillingStatusPaid {
		paidAt := latest.CreatedAt
		resp.PaidAt = &paidAt
	}
	return resp, nil
}

// UpdateStatus is the manual override path. Only cashable billings accept
// it, and only from the creator, the recipient, or a super admin.
func (s *Service) UpdateStatus(ctx context.Context, req billingdomain.UpdateStatusRequest) error {
	switch req.Status {
	case billingdomain.BillingStatusPending,
		billingdomain.BillingStatusPaid,
		billingdomain.BillingStatusFailed:
	default:
		return billingdomain.ErrInvalidStatus
	}

	store, err := s.router.Resolve(ctx)
	if err != nil {
		return err
	}

	billing, err := s.repo.FindByID(ctx, store, req.BillingID)
	if err != nil {
		return err
	}
	if billing == nil {
		return billingdomain.ErrBillingNotFound
	}
	if !billing.IsCashable {
		return billingdomain.ErrNotCashable
	}

	actor, err := s.identity.GetUser(ctx, req.ActorID)
	if err != nil {
		return err
	}
	if actor == nil {
		return billingdomain.ErrForbidden
	}
	if actor.ID != billing.CreatedBy && actor.ID != billing.RecipientID && !actor.IsSuperAdmin() {
		return billingdomain.ErrForbidden
	}

	history := &billingdomain.BillingHistory{
		BillingID:   billing.ID,
		Status:      req.Status,
		Source:      billingdomain.SourceManualUpdate,
		Message:     req.Message,
		AttemptedAt: s.clock.Now(),
	}
	if req.Status == billingdomain.BillingStatusPaid {
		history.PaidBy = &actor.ID
	}
	if err := s.appendHistory(ctx, store, history); err != nil {
		return err
	}

	s.publish(ctx, events.EventBillingUpdated, billing.ID, map[string]any{
		"status":   string(req.Status),
		"actor_id": actor.ID.String(),
	})
	if req.Status == billingdomain.BillingStatusPaid {
		s.publish(ctx, events.EventBillingPaid, billing.ID, map[string]any{
			"paid_by": actor.ID.String(),
		})
	}
	return nil
}

func (s *Service) Void(ctx context.Context, billingID, actorID snowflake.ID, message string) error {
	store, err := s.router.Resolve(ctx)
	if err != nil {
		return err
	}

	billing, err := s.repo.FindByID(ctx, store, billingID)
	if err != nil {
		return err
	}
	if billing == nil {
		return billingdomain.ErrBillingNotFound
	}

	settled, err := s.repo.HasStatus(ctx, store, billingID, billingdomain.BillingStatusPaid)
	if err != nil {
		return err
	}
	if settled {
		return billingdomain.ErrBillingSettled
	}

	err = s.appendHistory(ctx, store, &billingdomain.BillingHistory{
		BillingID:   billingID,
		Status:      billingdomain.BillingStatusVoid,
		Source:      billingdomain.SourceVoid,
		Message:     message,
		AttemptedAt: s.clock.Now(),
	})
	if err != nil {
		return err
	}

	s.publish(ctx, events.EventBillingUpdated, billingID, map[string]any{
		"status":   string(billingdomain.BillingStatusVoid),
		"actor_id": actorID.String(),
	})
	return nil
}

func (s *Service) Delete(ctx context.Context, billingID snowflake.ID) error {
	store, err := s.router.Resolve(ctx)
	if err != nil {
		return err
	}

	billing, err := s.repo.FindByID(ctx, store, billingID)
	if err != nil {
		return err
	}
	if billing == nil {
		return billingdomain.ErrBillingNotFound
	}

	settled, err := s.repo.HasStatus(ctx, store, billingID, billingdomain.BillingStatusPaid)
	if err != nil {
		return err
	}
	if settled {
		return billingdomain.ErrBillingSettled
	}

	if err := s.repo.Delete(ctx, store, billingID); err != nil {
		return err
	}

	s.publish(ctx, events.EventBillingDeleted, billingID, nil)
	return nil
}

func (s *Service) MarkOverdue(ctx context.Context, asOf time.Time, limit int) (int, error) {
	store, err := s.router.Resolve(ctx)
	if err != nil {
		return 0, err
	}

	ids, err := s.repo.ListOverdueCandidates(ctx, store, asOf, limit)
	if err != nil {
		return 0, err
	}

	marked := 0
	for _, id := range ids {
		err := s.appendHistory(ctx, store, &billingdomain.BillingHistory{
			BillingID:   id,
			Status:      billingdomain.BillingStatusOverdue,
			Source:      billingdomain.SourceOverdueSweep,
			AttemptedAt: s.clock.Now(),
		})
		if err != nil {
			s.log.Warn("mark overdue failed",
				zap.String("billing_id", id.String()),
				zap.Error(err),
			)
			continue
		}
		marked++
	}
	return marked, nil
}

func (s *Service) resolveAmount(req billingdomain.CreateBillingRequest) (decimal.Decimal, []billingdomain.BillingLineItem, error) {
	if len(req.LineItems) > 0 {
		total := decimal.Zero
		items := make([]billingdomain.BillingLineItem, 0, len(req.LineItems))
		for _, item := range req.LineItems {
			if item.Quantity <= 0 || item.UnitPrice.IsNegative() || strings.TrimSpace(item.Description) == "" {
				return decimal.Zero, nil, billingdomain.ErrInvalidLineItems
			}
			total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
			items = append(items, billingdomain.BillingLineItem{
				Description: strings.TrimSpace(item.Description),
				Quantity:    item.Quantity,
				UnitPrice:   item.UnitPrice,
			})
		}
		if !total.IsPositive() {
			return decimal.Zero, nil, billingdomain.ErrInvalidAmount
		}
		return total, items, nil
	}

	if req.Amount == nil || !req.Amount.IsPositive() {
		return decimal.Zero, nil, billingdomain.ErrInvalidAmount
	}
	return *req.Amount, nil, nil
}

// hasPaid is the two-source settlement check: a recorded PAID fact wins,
// otherwise the processor is asked about the stored intent. A processor
// confirmation is written back so later reads stay local.
func (s *Service) hasPaid(ctx context.Context, store *gorm.DB, billing *billingdomain.Billing) (bool, error) {
	paid, err := s.repo.HasStatus(ctx, store, billing.ID, billingdomain.BillingStatusPaid)
	if err != nil {
		return false, err
	}
	if paid {
		return true, nil
	}

	if billing.PaymentIntentID == nil || *billing.PaymentIntentID == "" {
		return false, nil
	}

	processor, err := s.resolver.ForBusiness(ctx, billing.BusinessID)
	if err != nil {
		return false, err
	}

	intent, err := processor.GetPaymentIntent(ctx, *billing.PaymentIntentID)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrIntentNotFound) {
			return false, nil
		}
		return false, err
	}
	if intent == nil || intent.Status != paymentdomain.StatusSucceeded {
		return false, nil
	}

	err = s.appendHistory(ctx, store, &billingdomain.BillingHistory{
		BillingID:   billing.ID,
		Status:      billingdomain.BillingStatusPaid,
		Source:      billingdomain.SourcePaymentIntent,
		Message:     "reconciled_from_processor",
		AttemptedAt: s.clock.Now(),
	})
	if err != nil {
		return false, err
	}

	s.publish(ctx, events.EventBillingPaid, billing.ID, map[string]any{
		"payment_intent_id": *billing.PaymentIntentID,
	})
	return true, nil
}

func (s *Service) ensureCustomer(ctx context.Context, store *gorm.DB, processor paymentdomain.Processor, user *identitydomain.User) (string, error) {
	var existing paymentdomain.ProcessorCustomer
	err := store.WithContext(ctx).
		Where("user_id = ? AND provider = ?", user.ID, processor.Provider()).
		First(&existing).Error
	if err == nil {
		return existing.CustomerID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	tenantID, _ := tenantctx.TenantIDFromContext(ctx)
	customer, err := processor.CreateOrGetCustomer(ctx, user, tenantID)
	if err != nil {
		return "", err
	}

	record := paymentdomain.ProcessorCustomer{
		ID:         s.genID.Generate(),
		UserID:     user.ID,
		Provider:   processor.Provider(),
		CustomerID: customer.ID,
		CreatedAt:  s.clock.Now(),
	}
	if err := store.WithContext(ctx).Create(&record).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return s.ensureCustomer(ctx, store, processor, user)
		}
		return "", err
	}
	return customer.ID, nil
}

func (s *Service) appendHistory(ctx context.Context, store *gorm.DB, history *billingdomain.BillingHistory) error {
	history.ID = s.genID.Generate()
	if history.CreatedAt.IsZero() {
		history.CreatedAt = s.clock.Now()
	}
	if err := s.repo.AppendHistory(ctx, store, history); err != nil {
		return err
	}
	obsmetrics.Billing().IncHistoryAppend(string(history.Status))
	return nil
}

func (s *Service) publish(ctx context.Context, eventType string, billingID snowflake.ID, data map[string]any) {
	s.bus.Publish(ctx, events.Event{
		Type:     eventType,
		Entity:   "billing",
		EntityID: billingID.String(),
		Data:     data,
	})
}
