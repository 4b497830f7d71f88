package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// Stripe keys read from a payment method's gateway config.
const (
	stripeConfigMethodTypes = "payment_method_types"
	stripeConfigDescriptor  = "statement_descriptor"
	stripeConfigAccount     = "stripe_account"
)

// hosted sessions stay open for a day unless Stripe says otherwise
const stripeSessionLifetime = 24 * time.Hour

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeProviderConfig configures the StripeProvider. Sessions replaces the API client in tests.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time
	Sessions  stripeSessionAPI
}

// StripeProvider opens hosted Stripe Checkout pages for payment requests.
type StripeProvider struct {
	sessions stripeSessionAPI
	account  string
	clock    func() time.Time
	logger   StripeLogger
}

var (
	_ Provider         = (*StripeProvider)(nil)
	_ SessionConfirmer = (*StripeProvider)(nil)
)

func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	sessions := cfg.Sessions
	if sessions == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sessions = client.New(apiKey, cfg.Backends).CheckoutSessions
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeProvider{
		sessions: sessions,
		account:  strings.TrimSpace(cfg.AccountID),
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// CreateCheckoutSession opens a payment mode session. The payment request id travels as
// client reference and metadata so webhooks can be matched back.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if p == nil {
		return CheckoutSession{}, errors.New("stripe: provider is nil")
	}
	if req.Amount <= 0 && len(req.Items) == 0 {
		return CheckoutSession{}, errors.New("stripe: amount must be positive")
	}
	if strings.TrimSpace(req.Currency) == "" && len(req.Items) == 0 {
		return CheckoutSession{}, errors.New("stripe: currency is required")
	}

	params, err := p.sessionParams(ctx, req)
	if err != nil {
		return CheckoutSession{}, err
	}
	session, err := p.sessions.New(params)
	if err != nil {
		p.logger(ctx, "payments.stripe.session_failed", map[string]any{
			"reference": req.ClientReferenceID,
			"error":     err.Error(),
		})
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	out := CheckoutSession{
		ID:           session.ID,
		Provider:     "stripe",
		ClientSecret: session.ClientSecret,
		RedirectURL:  session.URL,
		ExpiresAt:    p.clock().Add(stripeSessionLifetime),
		Raw:          sessionRaw(session),
	}
	if session.PaymentIntent != nil {
		out.IntentID = session.PaymentIntent.ID
	}
	if session.ExpiresAt != 0 {
		out.ExpiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}

	p.logger(ctx, "payments.stripe.session_created", map[string]any{
		"sessionId": out.ID,
		"reference": req.ClientReferenceID,
		"currency":  session.Currency,
		"expiresAt": out.ExpiresAt,
	})
	return out, nil
}

func (p *StripeProvider) sessionParams(ctx context.Context, req CheckoutSessionRequest) (*stripe.CheckoutSessionParams, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems:  stripeLineItems(req),
	}
	params.Context = ctx
	p.applyAccount(params, req.Config)

	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if ref := strings.TrimSpace(req.ClientReferenceID); ref != "" {
		params.ClientReferenceID = stripe.String(ref)
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	if locale := strings.TrimSpace(req.Locale); locale != "" {
		params.Locale = stripe.String(strings.ReplaceAll(strings.ToLower(locale), "_", "-"))
	}

	types, err := configStrings(req.Config, stripeConfigMethodTypes)
	if err != nil {
		return nil, err
	}
	if len(types) > 0 {
		params.PaymentMethodTypes = stripe.StringSlice(types)
	}

	params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{}
	if descriptor := configString(req.Config, stripeConfigDescriptor); descriptor != "" {
		params.PaymentIntentData.StatementDescriptor = stripe.String(descriptor)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = maps.Clone(req.Metadata)
		params.PaymentIntentData.Metadata = maps.Clone(req.Metadata)
	}
	return params, nil
}

// ConfirmSession retrieves the Checkout session and reports whether Stripe collected the money.
// Only a paid session counts as succeeded; an expired one as failed.
func (p *StripeProvider) ConfirmSession(ctx context.Context, sessionID string, config map[string]any) (CallbackEvent, error) {
	if p == nil {
		return CallbackEvent{}, errors.New("stripe: provider is nil")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return CallbackEvent{}, errors.New("stripe: session id is required")
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	p.applyAccount(params, config)

	session, err := p.sessions.Get(sessionID, params)
	if err != nil {
		p.logger(ctx, "payments.stripe.session_lookup_failed", map[string]any{
			"sessionId": sessionID,
			"error":     err.Error(),
		})
		return CallbackEvent{}, fmt.Errorf("stripe: retrieve checkout session: %w", err)
	}

	event := CallbackEvent{
		Provider:  "stripe",
		RequestID: strings.TrimSpace(session.ClientReferenceID),
		SessionID: session.ID,
		Status:    StatusPending,
		Amount:    session.AmountTotal,
		Currency:  strings.ToUpper(string(session.Currency)),
		Raw: map[string]any{
			"session_id":     session.ID,
			"payment_status": string(session.PaymentStatus),
		},
	}
	if event.RequestID == "" {
		event.RequestID = strings.TrimSpace(session.Metadata[metadataRequestID])
	}
	if session.PaymentIntent != nil {
		event.Raw["payment_intent"] = session.PaymentIntent.ID
	}
	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		event.Status = StatusSucceeded
	case session.Status == stripe.CheckoutSessionStatusExpired:
		event.Status = StatusFailed
		event.Reason = "Payment session expired"
	}
	return event, nil
}

func (p *StripeProvider) applyAccount(params *stripe.CheckoutSessionParams, config map[string]any) {
	account := p.account
	if override := configString(config, stripeConfigAccount); override != "" {
		account = override
	}
	if account != "" {
		params.SetStripeAccount(account)
	}
}

func stripeLineItems(req CheckoutSessionRequest) []*stripe.CheckoutSessionLineItemParams {
	if len(req.Items) == 0 {
		return []*stripe.CheckoutSessionLineItemParams{
			stripeLine(defaultString(req.Description, "Order"), "", "", 1, req.Amount, req.Currency),
		}
	}
	lines := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, stripeLine(item.Name, item.Description, item.SKU, item.Quantity, item.Amount, defaultString(item.Currency, req.Currency)))
	}
	return lines
}

func stripeLine(name, description, sku string, quantity, amount int64, currency string) *stripe.CheckoutSessionLineItemParams {
	product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(name)}
	if description != "" {
		product.Description = stripe.String(description)
	}
	if sku != "" {
		product.Metadata = map[string]string{"item_code": sku}
	}
	return &stripe.CheckoutSessionLineItemParams{
		Quantity: stripe.Int64(max(quantity, 1)),
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:    stripe.String(strings.ToLower(currency)),
			UnitAmount:  stripe.Int64(amount),
			ProductData: product,
		},
	}
}

func configString(cfg map[string]any, key string) string {
	value, _ := cfg[key].(string)
	return strings.TrimSpace(value)
}

// configStrings accepts a list or a comma separated string.
func configStrings(cfg map[string]any, key string) ([]string, error) {
	var raw []string
	switch value := cfg[key].(type) {
	case nil:
		return nil, nil
	case string:
		raw = strings.Split(value, ",")
	case []string:
		raw = value
	case []any:
		for _, v := range value {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("stripe: %s must contain strings, got %T", key, v)
			}
			raw = append(raw, s)
		}
	default:
		return nil, fmt.Errorf("stripe: %s has unsupported type %T", key, value)
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func sessionRaw(session *stripe.CheckoutSession) map[string]any {
	raw := map[string]any{}
	data, err := json.Marshal(session)
	if err != nil || json.Unmarshal(data, &raw) != nil {
		return map[string]any{"id": session.ID}
	}
	return raw
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
