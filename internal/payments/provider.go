package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"
)

// Status enumerates the normalised payment states shared across gateways.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or gateway confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the gateway reports the payment as collected.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the gateway reports a failure and no further action is possible.
	StatusFailed Status = "failed"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a gateway.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrInvalidSignature is returned when a callback cannot be authenticated.
	ErrInvalidSignature = errors.New("payments: invalid signature")
	// ErrConfirmationUnsupported is returned when a gateway cannot report a session's state.
	ErrConfirmationUnsupported = errors.New("payments: session confirmation unsupported")
)

// GatewayType normalises a configured gateway name into the key used to select its adapter and
// secrets: the first token before '-' or whitespace, lower-cased. "Stripe-EUR" becomes "stripe".
func GatewayType(name string) string {
	name = strings.TrimSpace(name)
	end := strings.IndexFunc(name, func(r rune) bool {
		return r == '-' || unicode.IsSpace(r)
	})
	if end >= 0 {
		name = name[:end]
	}
	return strings.ToLower(name)
}

// CheckoutLineItem describes a single line item to include in a checkout session.
type CheckoutLineItem struct {
	Name        string
	Description string
	SKU         string
	Quantity    int64
	Amount      int64
	Currency    string
}

// CheckoutSessionRequest captures the payload required to create a hosted payment page.
// ClientReferenceID carries the payment request id back through callbacks.
type CheckoutSessionRequest struct {
	Amount            int64
	Currency          string
	ClientReferenceID string
	CustomerEmail     string
	Description       string
	SuccessURL        string
	CancelURL         string
	Locale            string
	Metadata          map[string]string
	IdempotencyKey    string
	Items             []CheckoutLineItem
	Config            map[string]any
}

// CheckoutSession represents the hosted payment session returned to the shopper.
type CheckoutSession struct {
	ID           string
	Provider     string
	ClientSecret string
	RedirectURL  string
	IntentID     string
	ExpiresAt    time.Time
	Raw          map[string]any
}

// CallbackEvent is a verified gateway notification about one payment request.
type CallbackEvent struct {
	Provider  string
	RequestID string
	SessionID string
	Status    Status
	Amount    int64
	Currency  string
	Reason    string
	Raw       map[string]any
}

// Provider defines the contract for gateway adapters to implement.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
}

// SessionConfirmer is implemented by gateways that can look up the payment state of a hosted
// session they issued.
type SessionConfirmer interface {
	ConfirmSession(ctx context.Context, sessionID string, config map[string]any) (CallbackEvent, error)
}

// CallbackVerifier authenticates raw callback payloads of one gateway.
type CallbackVerifier interface {
	VerifyCallback(ctx context.Context, payload []byte, header http.Header) (CallbackEvent, error)
}

// Manager coordinates gateway selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	verifiers       map[string]CallbackVerifier
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default gateway for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = GatewayType(provider)
	}
}

// WithCurrencyRoutes configures static currency to gateway mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = GatewayType(v)
		}
	}
}

// WithVerifier registers the callback verifier of a gateway type.
func WithVerifier(gatewayType string, verifier CallbackVerifier) ManagerOption {
	return func(m *Manager) {
		key := GatewayType(gatewayType)
		if key == "" || verifier == nil {
			return
		}
		if m.verifiers == nil {
			m.verifiers = make(map[string]CallbackVerifier)
		}
		m.verifiers[key] = verifier
	}
}

// NewManager constructs a Manager over the supplied providers keyed by gateway type.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := GatewayType(k)
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a gateway.
type PaymentContext struct {
	GatewayType string
	Currency    string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := GatewayType(ctx.GatewayType); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if provider, ok := m.currencyRoutes[currency]; ok {
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := m.defaultProvider; def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateCheckoutSession delegates to the resolved gateway.
func (m *Manager) CreateCheckoutSession(ctx context.Context, paymentCtx PaymentContext, req CheckoutSessionRequest) (CheckoutSession, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return CheckoutSession{}, err
	}
	session, err := provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		return CheckoutSession{}, err
	}
	session.Provider = key
	return session, nil
}

// ConfirmSession asks the gateway for the state of a hosted session. Gateways that cannot answer
// return ErrConfirmationUnsupported and rely on their verified callbacks.
func (m *Manager) ConfirmSession(ctx context.Context, gatewayType, sessionID string, config map[string]any) (CallbackEvent, error) {
	key, provider, err := m.resolveProvider(PaymentContext{GatewayType: gatewayType})
	if err != nil {
		return CallbackEvent{}, err
	}
	confirmer, ok := provider.(SessionConfirmer)
	if !ok {
		return CallbackEvent{}, fmt.Errorf("%w: %s", ErrConfirmationUnsupported, key)
	}
	event, err := confirmer.ConfirmSession(ctx, sessionID, config)
	if err != nil {
		return CallbackEvent{}, err
	}
	event.Provider = key
	return event, nil
}

// VerifyCallback authenticates payload with the verifier registered for gatewayType. Every
// failure wraps ErrInvalidSignature.
func (m *Manager) VerifyCallback(ctx context.Context, gatewayType string, payload []byte, header http.Header) (CallbackEvent, error) {
	if m == nil {
		return CallbackEvent{}, fmt.Errorf("%w: manager is nil", ErrInvalidSignature)
	}
	key := GatewayType(gatewayType)
	verifier, ok := m.verifiers[key]
	if !ok {
		return CallbackEvent{}, fmt.Errorf("%w: no verifier for %q", ErrInvalidSignature, key)
	}
	event, err := verifier.VerifyCallback(ctx, payload, header)
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			return CallbackEvent{}, err
		}
		return CallbackEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if strings.TrimSpace(event.RequestID) == "" {
		return CallbackEvent{}, fmt.Errorf("%w: payment request reference missing", ErrInvalidSignature)
	}
	event.Provider = key
	return event, nil
}

// GatewayTypes lists the registered gateway keys.
func (m *Manager) GatewayTypes() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m.providers))
	for key := range m.providers {
		keys = append(keys, key)
	}
	return keys
}
