package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/tally/internal/billing/domain"
	catalogdomain "github.com/smallbiznis/tally/internal/catalog/domain"
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/events"
	identitydomain "github.com/smallbiznis/tally/internal/identity/domain"
	orderdomain "github.com/smallbiznis/tally/internal/order/domain"
	"github.com/smallbiznis/tally/internal/tenant/router"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Router   *router.Router
	Repo     orderdomain.Repository
	Catalog  catalogdomain.Service
	Billing  billingdomain.Service
	Identity identitydomain.Service
	Bus      *events.Bus
}

type Service struct {
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	router   *router.Router
	repo     orderdomain.Repository
	catalog  catalogdomain.Service
	billing  billingdomain.Service
	identity identitydomain.Service
	bus      *events.Bus
}

func NewService(p Params) orderdomain.Service {
	return &Service{
		log:      p.Log.Named("order.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		router:   p.Router,
		repo:     p.Repo,
		catalog:  p.Catalog,
		billing:  p.Billing,
		identity: p.Identity,
		bus:      p.Bus,
	}
}

func (s *Service) AddToCart(ctx context.Context, userID, variantID snowflake.ID, quantity int) error {
	if quantity <= 0 {
		return orderdomain.ErrInvalidCart
	}

	store, err := s.router.Resolve(ctx)
	if err != nil {
		return err
	}

	if _, err := s.catalog.GetVariant(ctx, variantID); err != nil {
		return err
	}

	return s.repo.UpsertCartItem(ctx, store, &orderdomain.CartItem{
		ID:        s.genID.Generate(),
		UserID:    userID,
		VariantID: variantID,
		Quantity:  quantity,
		CreatedAt: s.clock.Now(),
	})
}

func (s *Service) GetCart(ctx context.Context, userID snowflake.ID) ([]orderdomain.CartItem, error) {
	store, err := s.router.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListCart(ctx, store, userID)
}

// Checkout runs the order-first purchase chain. The order exists before
// the billing, the billing before inventory is touched, and payment runs
// last. A failure at any later step permanently deletes everything the
// chain created; failed checkouts leave no purchase records.
func (s *Service) Checkout(ctx context.Context, req orderdomain.CheckoutRequest) (*orderdomain.CheckoutResult, error) {
	buyer, err := s.identity.GetUser(ctx, req.BuyerID)
	if err != nil {
		return nil, err
	}
	if buyer == nil {
		return nil, orderdomain.ErrInvalidBuyer
	}

	store, err := s.router.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	cart, err := s.repo.ListCart(ctx, store, buyer.ID)
	if err != nil {
		return nil, err
	}
	if len(cart) == 0 {
		return nil, orderdomain.ErrEmptyCheckout
	}

	now := s.clock.Now()
	total := decimal.Zero
	lineItems := make([]billingdomain.LineItemInput, 0, len(cart))
	orderItems := make([]orderdomain.OrderLineItem, 0, len(cart))
	for _, item := range cart {
		variant, err := s.catalog.GetVariant(ctx, item.VariantID)
		if err != nil {
			return nil, err
		}
		total = total.Add(variant.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		lineItems = append(lineItems, billingdomain.LineItemInput{
			Description: variant.Name,
			Quantity:    item.Quantity,
			UnitPrice:   variant.Price,
		})
		orderItems = append(orderItems, orderdomain.OrderLineItem{
			VariantID: variant.ID,
			Name:      variant.Name,
			Quantity:  item.Quantity,
			UnitPrice: variant.Price,
		})
	}

	// Step 1: the order record. If this fails nothing else happened.
	order := &orderdomain.Order{
		ID:         s.genID.Generate(),
		BusinessID: req.BusinessID,
		BuyerID:    buyer.ID,
		Status:     orderdomain.OrderStatusDraft,
		Total:      total.Round(2),
		Currency:   strings.ToUpper(strings.TrimSpace(req.Currency)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for i := range orderItems {
		orderItems[i].ID = s.genID.Generate()
		orderItems[i].OrderID = order.ID
		orderItems[i].CreatedAt = now
	}
	if err := s.repo.Insert(ctx, store, order, orderItems); err != nil {
		return nil, err
	}
	s.recordHistory(ctx, store, order.ID, orderdomain.OrderStatusDraft, "")

	deleteOrder := func() {
		if err := s.repo.Delete(ctx, store, order.ID); err != nil {
			s.log.Error("order compensation failed",
				zap.String("order_id", order.ID.String()),
				zap.Error(err),
			)
		}
	}

	// Step 2: the linked billing. Failure undoes the order.
	billing, err := s.billing.Create(ctx, billingdomain.CreateBillingRequest{
		RecipientID: buyer.ID,
		CreatedBy:   buyer.ID,
		BusinessID:  req.BusinessID,
		Type:        billingdomain.BillingTypeProduct,
		Currency:    req.Currency,
		Timezone:    req.Timezone,
		LineItems:   lineItems,
		Metadata:    map[string]any{"order_id": order.ID.String()},
	})
	if err != nil {
		deleteOrder()
		return nil, err
	}

	deleteBillingAndOrder := func() {
		if err := s.billing.Delete(ctx, billing.ID); err != nil {
			s.log.Error("billing compensation failed",
				zap.String("billing_id", billing.ID.String()),
				zap.Error(err),
			)
		}
		deleteOrder()
	}

	// Step 3: link the billing, then reserve inventory.
	if err := s.repo.SetStatus(ctx, store, order.ID, orderdomain.OrderStatusPending, &billing.ID); err != nil {
		deleteBillingAndOrder()
		return nil, err
	}
	s.recordHistory(ctx, store, order.ID, orderdomain.OrderStatusPending, "")

	reserved := make([]orderdomain.CartItem, 0, len(cart))
	restore := func() {
		for _, item := range reserved {
			if err := s.catalog.RestoreQuantity(ctx, item.VariantID, item.Quantity); err != nil {
				s.log.Error("stock restore failed",
					zap.String("variant_id", item.VariantID.String()),
					zap.Int("quantity", item.Quantity),
					zap.Error(err),
				)
			}
		}
	}
	for _, item := range cart {
		if err := s.catalog.DeductQuantity(ctx, item.VariantID, item.Quantity); err != nil {
			restore()
			deleteBillingAndOrder()
			return nil, err
		}
		reserved = append(reserved, item)
	}

	// Step 4: charge. Failure undoes the whole chain.
	intent, err := s.billing.CreatePaymentIntent(ctx, billingdomain.CreatePaymentIntentRequest{
		BillingID:         billing.ID,
		PayerID:           buyer.ID,
		PaymentMethodID:   strings.TrimSpace(req.PaymentMethodID),
		SavePaymentMethod: req.SavePaymentMethod,
		Timezone:          req.Timezone,
	})
	if err != nil {
		restore()
		deleteBillingAndOrder()
		return nil, err
	}

	// Step 5: settle the order and clear the cart.
	if err := s.repo.SetStatus(ctx, store, order.ID, orderdomain.OrderStatusCompleted, nil); err != nil {
		s.log.Error("order completion update failed",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}
	s.recordHistory(ctx, store, order.ID, orderdomain.OrderStatusCompleted, "")

	if err := s.repo.ClearCart(ctx, store, buyer.ID); err != nil {
		s.log.Warn("cart clear failed",
			zap.String("user_id", buyer.ID.String()),
			zap.Error(err),
		)
	}

	order.Status = orderdomain.OrderStatusCompleted
	order.BillingID = &billing.ID

	s.bus.Publish(ctx, events.Event{
		Type:     events.EventOrderSuccess,
		Entity:   "order",
		EntityID: order.ID.String(),
		Data: map[string]any{
			"billing_id": billing.ID.String(),
			"buyer_id":   buyer.ID.String(),
			"total":      order.Total.String(),
		},
	})

	return &orderdomain.CheckoutResult{
		Order:           order,
		PaymentIntentID: intent.PaymentIntentID,
	}, nil
}

func (s *Service) GetOrder(ctx context.Context, id snowflake.ID) (*orderdomain.Order, []orderdomain.OrderLineItem, error) {
	store, err := s.router.Resolve(ctx)
	if err != nil {
		return nil, nil, err
	}

	order, err := s.repo.FindByID(ctx, store, id)
	if err != nil {
		return nil, nil, err
	}
	if order == nil {
		return nil, nil, orderdomain.ErrOrderNotFound
	}

	items, err := s.repo.ListItems(ctx, store, id)
	if err != nil {
		return nil, nil, err
	}
	return order, items, nil
}

func (s *Service) recordHistory(ctx context.Context, store *gorm.DB, orderID snowflake.ID, status orderdomain.OrderStatus, message string) {
	err := s.repo.AppendHistory(ctx, store, &orderdomain.OrderHistory{
		ID:        s.genID.Generate(),
		OrderID:   orderID,
		Status:    status,
		Message:   message,
		CreatedAt: s.clock.Now(),
	})
	if err != nil {
		s.log.Warn("order history append failed",
			zap.String("order_id", orderID.String()),
			zap.Error(err),
		)
	}
}
