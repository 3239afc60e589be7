package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/events"
	subscriptiondomain "github.com/smallbiznis/tally/internal/subscription/domain"
	"github.com/smallbiznis/tally/internal/tenant/provision"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	DB          *gorm.DB
	Repo        subscriptiondomain.Repository
	Provisioner *provision.Provisioner
	Bus         *events.Bus

	Cycles subscriptiondomain.CycleScheduler `optional:"true"`
}

type Service struct {
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	db          *gorm.DB
	repo        subscriptiondomain.Repository
	provisioner *provision.Provisioner
	bus         *events.Bus
	cycles      subscriptiondomain.CycleScheduler
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		log:         p.Log.Named("subscription.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		db:          p.DB,
		repo:        p.Repo,
		provisioner: p.Provisioner,
		bus:         p.Bus,
		cycles:      p.Cycles,
	}
}

func (s *Service) CreatePlan(ctx context.Context, req subscriptiondomain.CreatePlanRequest) (*subscriptiondomain.Plan, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || req.Price.IsNegative() {
		return nil, subscriptiondomain.ErrInvalidPlan
	}
	if req.DiscountPercent.IsNegative() {
		return nil, subscriptiondomain.ErrInvalidPlan
	}

	now := s.clock.Now()
	plan := &subscriptiondomain.Plan{
		ID:              s.genID.Generate(),
		Name:            name,
		Price:           req.Price,
		Currency:        strings.ToUpper(strings.TrimSpace(req.Currency)),
		DiscountPercent: req.DiscountPercent,
		Frequencies:     datatypes.NewJSONSlice(req.Frequencies),
		Modules:         datatypes.NewJSONSlice(req.Modules),
		AutoRenew:       req.AutoRenew,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.InsertPlan(ctx, s.db, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (s *Service) GetPlan(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Plan, error) {
	plan, err := s.repo.FindPlan(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, subscriptiondomain.ErrPlanNotFound
	}
	return plan, nil
}

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateRequest) (*subscriptiondomain.BusinessSubscription, error) {
	plan, err := s.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}

	if len(plan.Frequencies) > 0 && !contains(plan.Frequencies, string(req.Frequency)) {
		return nil, subscriptiondomain.ErrFrequencyNotOffered
	}

	existing, err := s.repo.FindActiveByBusiness(ctx, s.db, req.BusinessID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, subscriptiondomain.ErrActiveSubscriptionExists
	}

	now := s.clock.Now()
	endDate, err := req.Frequency.Period(now)
	if err != nil {
		return nil, err
	}

	sub := &subscriptiondomain.BusinessSubscription{
		ID:         s.genID.Generate(),
		BusinessID: req.BusinessID,
		PlanID:     plan.ID,
		Frequency:  req.Frequency,
		Timezone:   strings.TrimSpace(req.Timezone),
		IsActive:   false,
		StartDate:  now,
		EndDate:    endDate,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, sub); err != nil {
			return err
		}
		// ACTIVE here records intent, not entitlement; activation only
		// happens through Activate after payment.
		return s.repo.AppendHistory(ctx, tx, &subscriptiondomain.BusinessSubscriptionHistory{
			ID:             s.genID.Generate(),
			SubscriptionID: sub.ID,
			Status:         subscriptiondomain.StatusActive,
			Source:         subscriptiondomain.SourceSubscriptionCreated,
			OccurredAt:     now,
			StartDate:      sub.StartDate,
			EndDate:        sub.EndDate,
			CreatedAt:      now,
		})
	})
	if err != nil {
		return nil, err
	}

	if s.cycles != nil {
		if err := s.cycles.ScheduleCycle(ctx, sub); err != nil {
			s.log.Error("cycle schedule failed",
				zap.String("subscription_id", sub.ID.String()),
				zap.Error(err),
			)
		}
	}

	s.bus.Publish(ctx, events.Event{
		Type:     events.EventSubscriptionNew,
		Entity:   "business_subscription",
		EntityID: sub.ID.String(),
		Data: map[string]any{
			"business_id": sub.BusinessID.String(),
			"plan_id":     sub.PlanID.String(),
			"frequency":   string(sub.Frequency),
		},
	})

	return sub, nil
}

func (s *Service) Activate(ctx context.Context, id snowflake.ID, source string, metadata map[string]any) error {
	sub, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if sub == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}

	// One-time tenant provisioning; repeats are no-ops inside.
	if _, err := s.provisioner.CreateTenantResources(ctx, sub.BusinessID); err != nil {
		return err
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Siblings go down before the target comes up, so two actives
		// never coexist.
		if err := s.repo.DeactivateSiblings(ctx, tx, sub.BusinessID, sub.ID); err != nil {
			return err
		}
		if err := s.repo.SetActive(ctx, tx, sub.ID, true); err != nil {
			return err
		}
		return s.repo.AppendHistory(ctx, tx, &subscriptiondomain.BusinessSubscriptionHistory{
			ID:             s.genID.Generate(),
			SubscriptionID: sub.ID,
			Status:         subscriptiondomain.StatusActive,
			Source:         source,
			Metadata:       datatypes.JSONMap(metadata),
			OccurredAt:     now,
			StartDate:      sub.StartDate,
			EndDate:        sub.EndDate,
			CreatedAt:      now,
		})
	})
	if err != nil {
		return err
	}

	s.bus.Publish(ctx, events.Event{
		Type:     events.EventBusinessActive,
		Entity:   "business",
		EntityID: sub.BusinessID.String(),
		Data: map[string]any{
			"subscription_id": sub.ID.String(),
		},
	})
	return nil
}

func (s *Service) Deactivate(ctx context.Context, id snowflake.ID, source, message string) error {
	sub, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if sub == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}

	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.SetActive(ctx, tx, sub.ID, false); err != nil {
			return err
		}
		return s.repo.AppendHistory(ctx, tx, &subscriptiondomain.BusinessSubscriptionHistory{
			ID:             s.genID.Generate(),
			SubscriptionID: sub.ID,
			Status:         subscriptiondomain.StatusInactive,
			Source:         source,
			Message:        message,
			OccurredAt:     now,
			CreatedAt:      now,
		})
	})
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*subscriptiondomain.BusinessSubscription, error) {
	sub, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *Service) Status(ctx context.Context, id snowflake.ID) (subscriptiondomain.SubscriptionStatus, error) {
	sub, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return "", err
	}
	if sub == nil {
		return "", subscriptiondomain.ErrSubscriptionNotFound
	}

	latest, err := s.repo.LatestHistory(ctx, s.db, id)
	if err != nil {
		return "", err
	}
	if latest == nil {
		return subscriptiondomain.StatusInactive, nil
	}
	return latest.Status, nil
}

func (s *Service) Current(ctx context.Context, businessID snowflake.ID) (*subscriptiondomain.BusinessSubscription, error) {
	sub, err := s.repo.FindActiveByBusiness(ctx, s.db, businessID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return sub, nil
}

// Features derives entitlement from history, not the isActive flag. A
// flagged-active subscription that lapsed per history grants nothing.
func (s *Service) Features(ctx context.Context, businessID snowflake.ID) ([]string, error) {
	sub, err := s.repo.FindActiveByBusiness(ctx, s.db, businessID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return []string{}, nil
	}

	latest, err := s.repo.LatestHistory(ctx, s.db, sub.ID)
	if err != nil {
		return nil, err
	}
	if latest == nil || latest.Status != subscriptiondomain.StatusActive {
		return []string{}, nil
	}

	plan, err := s.repo.FindPlan(ctx, s.db, sub.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return []string{}, nil
	}
	return []string(plan.Modules), nil
}

func (s *Service) HasModuleAccess(ctx context.Context, businessID snowflake.ID, module string) (bool, error) {
	features, err := s.Features(ctx, businessID)
	if err != nil {
		return false, err
	}
	return contains(features, module), nil
}

func (s *Service) MissingModules(ctx context.Context, businessID snowflake.ID, required []string) ([]string, error) {
	features, err := s.Features(ctx, businessID)
	if err != nil {
		return nil, err
	}

	missing := make([]string, 0)
	for _, module := range required {
		if !contains(features, module) {
			missing = append(missing, module)
		}
	}
	return missing, nil
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}
