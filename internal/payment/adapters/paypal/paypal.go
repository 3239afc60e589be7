package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	identitydomain "github.com/smallbiznis/tally/internal/identity/domain"
	paymentdomain "github.com/smallbiznis/tally/internal/payment/domain"
)

const defaultBaseURL = "https://api-m.paypal.com"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "paypal"
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Processor, error) {
	clientID, okID := readString(cfg.Config, "client_id")
	secret, okSecret := readString(cfg.Config, "client_secret")
	if !okID || !okSecret {
		return nil, paymentdomain.ErrInvalidConfig
	}
	clientID = strings.TrimSpace(clientID)
	secret = strings.TrimSpace(secret)
	if clientID == "" || secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	baseURL := defaultBaseURL
	if custom, ok := readString(cfg.Config, "base_url"); ok && strings.TrimSpace(custom) != "" {
		baseURL = strings.TrimRight(strings.TrimSpace(custom), "/")
	}

	return &Adapter{
		businessID: cfg.BusinessID,
		clientID:   clientID,
		secret:     secret,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type Adapter struct {
	businessID snowflake.ID
	clientID   string
	secret     string
	baseURL    string
	httpClient *http.Client

	token       string
	tokenExpiry time.Time
}

func (a *Adapter) Provider() string { return "paypal" }

// CreateOrGetCustomer returns a deterministic payer reference. PayPal
// identifies payers at approval/capture time, so no remote object is
// created here.
func (a *Adapter) CreateOrGetCustomer(ctx context.Context, user *identitydomain.User, tenantID snowflake.ID) (*paymentdomain.Customer, error) {
	_ = ctx
	_ = tenantID
	if user == nil {
		return nil, paymentdomain.ErrInvalidCustomer
	}
	return &paymentdomain.Customer{
		ID:    "PAYPAL-" + user.ID.String(),
		Email: user.Email,
	}, nil
}

// AttachPaymentMethod is a no-op: PayPal vault tokens are already bound
// to the payer when issued.
func (a *Adapter) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string, setAsDefault bool) error {
	_ = ctx
	_ = customerID
	_ = setAsDefault
	if strings.TrimSpace(paymentMethodID) == "" {
		return paymentdomain.ErrMissingPaymentRef
	}
	return nil
}

func (a *Adapter) GetCardInfo(ctx context.Context, paymentMethodID string) (*paymentdomain.CardInfo, error) {
	var token vaultToken
	err := a.do(ctx, http.MethodGet, "/v3/vault/payment-tokens/"+paymentMethodID, nil, &token)
	if err != nil {
		return nil, err
	}
	if token.PaymentSource.Card == nil {
		return nil, nil
	}
	return &paymentdomain.CardInfo{
		Brand: strings.ToLower(token.PaymentSource.Card.Brand),
		Last4: token.PaymentSource.Card.LastDigits,
	}, nil
}

func (a *Adapter) CreatePaymentIntent(ctx context.Context, req paymentdomain.CreateIntentRequest) (*paymentdomain.PaymentIntent, error) {
	if req.AmountMinorUnits <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}

	currency := strings.ToUpper(req.Currency)
	body := createOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnit{{
			Amount: amount{
				CurrencyCode: currency,
				Value:        formatMinorUnits(req.AmountMinorUnits),
			},
			CustomID: req.Metadata["billing_id"],
		}},
	}
	if req.PaymentMethodID != "" {
		body.PaymentSource = &paymentSource{Token: &sourceToken{
			ID:   req.PaymentMethodID,
			Type: "PAYMENT_METHOD_TOKEN",
		}}
	}

	var order orderResponse
	if err := a.do(ctx, http.MethodPost, "/v2/checkout/orders", body, &order); err != nil {
		return nil, err
	}

	if req.Confirm && order.Status != "COMPLETED" {
		var captured orderResponse
		err := a.do(ctx, http.MethodPost, "/v2/checkout/orders/"+order.ID+"/capture", nil, &captured)
		if err != nil {
			return nil, err
		}
		order = captured
	}

	return &paymentdomain.PaymentIntent{
		ID:     order.ID,
		Status: mapOrderStatus(order.Status),
		Amount: req.AmountMinorUnits,
	}, nil
}

func (a *Adapter) GetPaymentIntent(ctx context.Context, intentID string) (*paymentdomain.PaymentIntent, error) {
	if strings.TrimSpace(intentID) == "" {
		return nil, paymentdomain.ErrMissingPaymentRef
	}
	var order orderResponse
	if err := a.do(ctx, http.MethodGet, "/v2/checkout/orders/"+intentID, nil, &order); err != nil {
		return nil, err
	}
	return &paymentdomain.PaymentIntent{
		ID:     order.ID,
		Status: mapOrderStatus(order.Status),
	}, nil
}

func mapOrderStatus(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "COMPLETED":
		return paymentdomain.StatusSucceeded
	case "PAYER_ACTION_REQUIRED", "CREATED", "APPROVED":
		return paymentdomain.StatusRequiresAction
	case "SAVED":
		return paymentdomain.StatusProcessing
	case "VOIDED":
		return paymentdomain.StatusCanceled
	default:
		return paymentdomain.StatusFailed
	}
}

type createOrderRequest struct {
	Intent        string         `json:"intent"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
	PaymentSource *paymentSource `json:"payment_source,omitempty"`
}

type purchaseUnit struct {
	Amount   amount `json:"amount"`
	CustomID string `json:"custom_id,omitempty"`
}

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paymentSource struct {
	Token *sourceToken `json:"token,omitempty"`
}

type sourceToken struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type vaultToken struct {
	ID            string `json:"id"`
	PaymentSource struct {
		Card *struct {
			Brand      string `json:"brand"`
			LastDigits string `json:"last_digits"`
		} `json:"card"`
	} `json:"payment_source"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (a *Adapter) accessToken(ctx context.Context) (string, error) {
	if a.token != "" && time.Now().Before(a.tokenExpiry) {
		return a.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/v1/oauth2/token",
		strings.NewReader("grant_type=client_credentials"),
	)
	if err != nil {
		return "", wrap(err)
	}
	req.SetBasicAuth(a.clientID, a.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token request returned %d", paymentdomain.ErrProcessorFailure, resp.StatusCode)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", wrap(err)
	}

	a.token = token.AccessToken
	a.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn-60) * time.Second)
	return a.token, nil
}

func (a *Adapter) do(ctx context.Context, method, path string, body any, out any) error {
	token, err := a.accessToken(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return wrap(err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return paymentdomain.ErrIntentNotFound
	}
	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%w: %s returned %d: %s", paymentdomain.ErrProcessorFailure, path, resp.StatusCode, string(payload))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return wrap(err)
	}
	return nil
}

func formatMinorUnits(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
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
