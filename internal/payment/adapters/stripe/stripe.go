package stripe

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	identitydomain "github.com/smallbiznis/tally/internal/identity/domain"
	paymentdomain "github.com/smallbiznis/tally/internal/payment/domain"
	stripe "github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/client"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "stripe"
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Processor, error) {
	apiKey, ok := readString(cfg.Config, "api_key")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	// Each tenant gets its own client so keys never cross tenants.
	sc := &client.API{}
	sc.Init(apiKey, nil)

	return &Adapter{
		businessID: cfg.BusinessID,
		client:     sc,
	}, nil
}

type Adapter struct {
	businessID snowflake.ID
	client     *client.API
}

func (a *Adapter) Provider() string { return "stripe" }

func (a *Adapter) CreateOrGetCustomer(ctx context.Context, user *identitydomain.User, tenantID snowflake.ID) (*paymentdomain.Customer, error) {
	if user == nil {
		return nil, paymentdomain.ErrInvalidCustomer
	}

	listParams := &stripe.CustomerListParams{Email: stripe.String(user.Email)}
	listParams.Context = ctx
	listParams.Limit = stripe.Int64(1)
	iter := a.client.Customers.List(listParams)
	for iter.Next() {
		existing := iter.Customer()
		return &paymentdomain.Customer{ID: existing.ID, Email: existing.Email}, nil
	}
	if err := iter.Err(); err != nil {
		return nil, wrap(err)
	}

	createParams := &stripe.CustomerParams{
		Email: stripe.String(user.Email),
		Name:  stripe.String(user.Name),
		Metadata: map[string]string{
			"user_id":   user.ID.String(),
			"tenant_id": tenantID.String(),
		},
	}
	createParams.Context = ctx
	created, err := a.client.Customers.New(createParams)
	if err != nil {
		return nil, wrap(err)
	}
	return &paymentdomain.Customer{ID: created.ID, Email: created.Email}, nil
}

func (a *Adapter) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string, setAsDefault bool) error {
	attachParams := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	attachParams.Context = ctx
	if _, err := a.client.PaymentMethods.Attach(paymentMethodID, attachParams); err != nil {
		return wrap(err)
	}

	if !setAsDefault {
		return nil
	}

	updateParams := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	updateParams.Context = ctx
	if _, err := a.client.Customers.Update(customerID, updateParams); err != nil {
		return wrap(err)
	}
	return nil
}

func (a *Adapter) GetCardInfo(ctx context.Context, paymentMethodID string) (*paymentdomain.CardInfo, error) {
	getParams := &stripe.PaymentMethodParams{}
	getParams.Context = ctx
	method, err := a.client.PaymentMethods.Get(paymentMethodID, getParams)
	if err != nil {
		return nil, wrap(err)
	}
	if method == nil || method.Card == nil {
		return nil, nil
	}
	return &paymentdomain.CardInfo{
		Brand:    string(method.Card.Brand),
		Last4:    method.Card.Last4,
		ExpMonth: int(method.Card.ExpMonth),
		ExpYear:  int(method.Card.ExpYear),
	}, nil
}

func (a *Adapter) CreatePaymentIntent(ctx context.Context, req paymentdomain.CreateIntentRequest) (*paymentdomain.PaymentIntent, error) {
	if req.AmountMinorUnits <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}

	intentParams := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinorUnits),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		Customer: stripe.String(req.CustomerID),
	}
	intentParams.Context = ctx
	if req.PaymentMethodID != "" {
		intentParams.PaymentMethod = stripe.String(req.PaymentMethodID)
	}
	if req.Confirm {
		intentParams.Confirm = stripe.Bool(true)
		// Confirmed server-side intents cannot follow redirects.
		intentParams.AutomaticPaymentMethods = &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		}
	}
	if len(req.Metadata) > 0 {
		intentParams.Metadata = req.Metadata
	}

	intent, err := a.client.PaymentIntents.New(intentParams)
	if err != nil {
		return nil, wrap(err)
	}
	return toIntent(intent), nil
}

func (a *Adapter) GetPaymentIntent(ctx context.Context, intentID string) (*paymentdomain.PaymentIntent, error) {
	if strings.TrimSpace(intentID) == "" {
		return nil, paymentdomain.ErrMissingPaymentRef
	}
	getParams := &stripe.PaymentIntentParams{}
	getParams.Context = ctx
	intent, err := a.client.PaymentIntents.Get(intentID, getParams)
	if err != nil {
		return nil, wrap(err)
	}
	if intent == nil {
		return nil, paymentdomain.ErrIntentNotFound
	}
	return toIntent(intent), nil
}

func toIntent(intent *stripe.PaymentIntent) *paymentdomain.PaymentIntent {
	return &paymentdomain.PaymentIntent{
		ID:     intent.ID,
		Status: string(intent.Status),
		Amount: intent.Amount,
	}
}

func wrap(err error) error {
	return fmt.Errorf("%w: %v", paymentdomain.ErrProcessorFailure, err)
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	switch cast := value.(type) {
	case string:
		return cast, true
	default:
		return "", false
	}
}
