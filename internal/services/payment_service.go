package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/webshop/internal/domain"
	"github.com/hanko-field/webshop/internal/payments"
	"github.com/hanko-field/webshop/internal/platform/textutil"
	"github.com/hanko-field/webshop/internal/repositories"
)

const (
	// PaymentFailedPath is the storefront page shown after a failed payment.
	PaymentFailedPath = "/payment-failed"
	// ThankYouPath is the storefront order confirmation page.
	ThankYouPath = "/thank_you"

	invalidSignatureMessage = "Invalid payment signature"
	defaultFailureMessage   = "Payment failed"
	settlementFailedMessage = "Your payment was received but the order could not be completed yet"
	confirmingMessage       = "Your payment is being confirmed"
	maxFailureReasonLength  = 500
)

var (
	// ErrPaymentInvalidInput indicates the caller supplied invalid input parameters.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates the payment request does not exist.
	ErrPaymentNotFound = errors.New("payment: not found")
	// ErrPaymentAlreadyPaid indicates the cart was already paid.
	ErrPaymentAlreadyPaid = errors.New("payment: already paid")
	// ErrPaymentGatewayFailed indicates the gateway could not provide a payment page.
	ErrPaymentGatewayFailed = errors.New("payment: gateway failed")
	// ErrPaymentSignature indicates a callback could not be authenticated.
	ErrPaymentSignature = errors.New("payment: invalid signature")
	// ErrPaymentUnavailable indicates payment dependencies are currently unavailable.
	ErrPaymentUnavailable = errors.New("payment: unavailable")
)

// paymentGateway abstracts payments.Manager for easier testing.
type paymentGateway interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	VerifyCallback(ctx context.Context, gatewayType string, payload []byte, header http.Header) (payments.CallbackEvent, error)
	ConfirmSession(ctx context.Context, gatewayType, sessionID string, config map[string]any) (payments.CallbackEvent, error)
}

// PaymentServiceDeps wires the dependencies required by the payment service.
// ReturnBaseURL is the storefront origin the hosted payment page returns to. ThankYouPath and
// FailurePath override the redirect targets; Locale is passed to the hosted page.
type PaymentServiceDeps struct {
	Carts         repositories.CartRepository
	Settings      repositories.SettingsRepository
	Customers     repositories.CustomerRepository
	Requests      repositories.PaymentRequestRepository
	Orders        OrderService
	Parties       partyResolver
	Pricer        CartPricer
	Gateway       paymentGateway
	Events        *EventBus
	ReturnBaseURL string
	ThankYouPath  string
	FailurePath   string
	Locale        string
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	access     cartAccess
	requests   repositories.PaymentRequestRepository
	orders     OrderService
	gateway    paymentGateway
	events     *EventBus
	returnBase string
	thankYou   string
	failure    string
	locale     string
	now        func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

var _ PaymentService = (*paymentService)(nil)

// NewPaymentService constructs a PaymentService validating required dependencies.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Requests == nil {
		return nil, errors.New("payment service: payment request repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment service: order service is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: payment gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	now := func() time.Time { return clock().UTC() }

	access := cartAccess{
		carts:     deps.Carts,
		settings:  deps.Settings,
		customers: deps.Customers,
		parties:   deps.Parties,
		pricer:    deps.Pricer,
		newID:     idGen,
		now:       now,
		logger:    logger,
	}
	if err := access.validate(); err != nil {
		return nil, fmt.Errorf("payment service: %w", err)
	}

	return &paymentService{
		access:     access,
		requests:   deps.Requests,
		orders:     deps.Orders,
		gateway:    deps.Gateway,
		events:     deps.Events,
		returnBase: strings.TrimRight(strings.TrimSpace(deps.ReturnBaseURL), "/"),
		thankYou:   pathOrDefault(deps.ThankYouPath, ThankYouPath),
		failure:    pathOrDefault(deps.FailurePath, PaymentFailedPath),
		locale:     strings.TrimSpace(deps.Locale),
		now:        now,
		newID:      idGen,
		logger:     logger,
	}, nil
}

// CreatePaymentRequest prepares a payment request for the shopper's cart and obtains the hosted
// payment page from the gateway. An unpaid request of the cart is reused; a failed one is replaced.
func (s *paymentService) CreatePaymentRequest(ctx context.Context, cmd CreatePaymentRequestCommand) (PaymentRequestResult, error) {
	cart, shopper, err := s.access.findForShopper(ctx, cmd.Shopper, cmd.CartID)
	if err != nil {
		return PaymentRequestResult{}, err
	}
	if len(cart.Lines) == 0 {
		return PaymentRequestResult{}, userError(ErrCheckoutEmptyCart, "Cart is empty")
	}
	if cart.Totals.RoundedTotal <= 0 {
		return PaymentRequestResult{}, userError(ErrPaymentInvalidInput, "There is nothing to pay for this cart")
	}
	settings, err := s.access.loadSettings(ctx)
	if err != nil {
		return PaymentRequestResult{}, err
	}
	if !settings.EnableCheckout {
		return PaymentRequestResult{}, userError(ErrCheckoutDisabled, "Checkout is disabled")
	}
	method, err := selectPaymentMethod(settings.PaymentMethods, cmd.PaymentMethod)
	if err != nil {
		return PaymentRequestResult{}, err
	}
	gatewayType := payments.GatewayType(firstNonEmpty(method.Gateway, method.Name))

	request, err := s.prepareRequest(ctx, cart, shopper, method, gatewayType)
	if err != nil {
		return PaymentRequestResult{}, err
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, payments.PaymentContext{
		GatewayType: gatewayType,
		Currency:    request.Currency,
	}, payments.CheckoutSessionRequest{
		Amount:            request.Amount,
		Currency:          request.Currency,
		ClientReferenceID: request.ID,
		CustomerEmail:     request.Email,
		Description:       fmt.Sprintf("Order %s", cart.ID),
		SuccessURL:        s.returnURL(settings.PaymentSuccessURL, "/payment-success", request.ID),
		CancelURL:         s.returnURL("", s.failure, request.ID),
		Locale:            s.locale,
		Metadata: map[string]string{
			"payment_request_id": request.ID,
			"cart_id":            cart.ID,
		},
		IdempotencyKey: fmt.Sprintf("%s:%d:%d", request.ID, request.Amount, request.UpdatedAt.UnixNano()),
		Config:         maps.Clone(method.Config),
	})
	if err != nil {
		s.logger(ctx, "payments.session_failed", map[string]any{
			"requestId": request.ID,
			"gateway":   gatewayType,
			"error":     err.Error(),
		})
		return PaymentRequestResult{}, fmt.Errorf("%w: %v", ErrPaymentGatewayFailed, err)
	}
	if strings.TrimSpace(session.RedirectURL) == "" {
		return PaymentRequestResult{}, fmt.Errorf("%w: gateway %s returned no payment url", ErrPaymentGatewayFailed, gatewayType)
	}

	request.PaymentURL = session.RedirectURL
	request.SessionID = session.ID
	request.Status = domain.PaymentRequestInitiated
	request.GatewayData = map[string]any{
		"session_id": session.ID,
		"intent_id":  session.IntentID,
		"expires_at": session.ExpiresAt,
	}
	request, err = s.requests.Save(ctx, request)
	if err != nil {
		return PaymentRequestResult{}, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}

	s.logger(ctx, "payments.request_initiated", map[string]any{
		"requestId": request.ID,
		"cartId":    cart.ID,
		"gateway":   gatewayType,
		"amount":    request.Amount,
	})
	return PaymentRequestResult{
		Request:     request,
		PaymentURL:  request.PaymentURL,
		GatewayType: gatewayType,
		GatewayContext: map[string]any{
			"sessionId":    session.ID,
			"clientSecret": session.ClientSecret,
			"expiresAt":    session.ExpiresAt,
		},
	}, nil
}

func (s *paymentService) prepareRequest(ctx context.Context, cart Cart, shopper Shopper, method PaymentMethodConfig, gatewayType string) (PaymentRequest, error) {
	request := PaymentRequest{
		ID:        s.newID(),
		Reference: domain.DocumentRef{Kind: domain.ReferenceCart, ID: cart.ID},
		CartID:    cart.ID,
	}
	existing, err := s.requests.FindLatestByCart(ctx, cart.ID)
	switch {
	case err == nil:
		switch existing.Status {
		case domain.PaymentRequestPaid:
			return PaymentRequest{}, userError(ErrPaymentAlreadyPaid, "This order has already been paid")
		case domain.PaymentRequestFailed:
			if err := s.requests.Delete(ctx, existing.ID); err != nil {
				return PaymentRequest{}, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
			}
		default:
			request = existing
		}
	case !isRepoNotFound(err):
		return PaymentRequest{}, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}

	request.PartyID = cart.Owner.PartyID
	request.Email = firstNonEmpty(cart.ContactEmail, shopper.Email)
	request.Gateway = method.Name
	request.GatewayType = gatewayType
	request.PaymentMethod = method.Name
	request.Amount = cart.Totals.RoundedTotal
	request.Currency = cart.Currency
	request.Status = domain.PaymentRequestDraft
	request.PaymentURL = ""
	request.SessionID = ""
	request.FromCheckout = true
	request.Message = ""

	if request.CreatedAt.IsZero() {
		created, err := s.requests.Create(ctx, request)
		if err != nil {
			return PaymentRequest{}, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
		}
		return created, nil
	}
	saved, err := s.requests.Save(ctx, request)
	if err != nil {
		return PaymentRequest{}, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}
	return saved, nil
}

func pathOrDefault(path, fallback string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return fallback
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

func (s *paymentService) returnURL(override, path, requestID string) string {
	base := strings.TrimSpace(override)
	if base == "" {
		base = s.returnBase + path
	}
	separator := "?"
	if strings.Contains(base, "?") {
		separator = "&"
	}
	return base + separator + "payment_request=" + url.QueryEscape(requestID)
}

// selectPaymentMethod picks the named method, else the default one, else the first configured.
func selectPaymentMethod(methods []PaymentMethodConfig, name string) (PaymentMethodConfig, error) {
	if len(methods) == 0 {
		return PaymentMethodConfig{}, userError(ErrCheckoutDisabled, "No payment method is configured")
	}
	if name = strings.TrimSpace(name); name != "" {
		for _, method := range methods {
			if strings.EqualFold(method.Name, name) {
				return method, nil
			}
		}
		return PaymentMethodConfig{}, userError(ErrPaymentInvalidInput, "Payment method %s is not available", name)
	}
	for _, method := range methods {
		if method.IsDefault {
			return method, nil
		}
	}
	return methods[0], nil
}

// HandleSuccess handles the shopper's return from the hosted payment page. The return itself is
// not trusted: the gateway session is looked up first and only a paid session with the
// request's amount is settled. Anything else leaves the request to the verified callback.
// Settlement steps are idempotent, so a request whose settlement failed part way is completed by
// a later call.
func (s *paymentService) HandleSuccess(ctx context.Context, requestID string, payload map[string]any) (PaymentRedirect, error) {
	request, err := s.getRequest(ctx, requestID)
	if err != nil {
		return PaymentRedirect{}, err
	}
	if request.Status.IsTerminal() {
		return s.storedRedirect(request), nil
	}

	confirmed, err := s.confirm(ctx, request)
	if err != nil {
		s.logger(ctx, "payments.confirm_failed", map[string]any{
			"requestId": request.ID,
			"gateway":   request.GatewayType,
			"error":     err.Error(),
		})
		return s.confirmingRedirect(request), nil
	}
	switch confirmed.Status {
	case payments.StatusSucceeded:
		if mismatch := confirmationMismatch(request, confirmed); mismatch != "" {
			s.logger(ctx, "payments.confirm_rejected", map[string]any{
				"requestId": request.ID,
				"sessionId": confirmed.SessionID,
				"amount":    confirmed.Amount,
				"error":     mismatch,
			})
			return s.confirmingRedirect(request), nil
		}
		raw := maps.Clone(confirmed.Raw)
		if len(payload) > 0 {
			if raw == nil {
				raw = make(map[string]any, 1)
			}
			raw["return_payload"] = payload
		}
		return s.settle(ctx, request, raw), nil
	case payments.StatusFailed:
		return s.HandleFailure(ctx, request.ID, confirmed.Reason)
	default:
		return s.confirmingRedirect(request), nil
	}
}

func (s *paymentService) confirm(ctx context.Context, request PaymentRequest) (payments.CallbackEvent, error) {
	if strings.TrimSpace(request.SessionID) == "" {
		return payments.CallbackEvent{}, errors.New("payment request has no gateway session")
	}
	var config map[string]any
	if settings, err := s.access.loadSettings(ctx); err == nil {
		for _, method := range settings.PaymentMethods {
			if strings.EqualFold(method.Name, request.PaymentMethod) {
				config = method.Config
				break
			}
		}
	}
	return s.gateway.ConfirmSession(ctx, request.GatewayType, request.SessionID, config)
}

func confirmationMismatch(request PaymentRequest, confirmed payments.CallbackEvent) string {
	switch {
	case confirmed.SessionID != "" && confirmed.SessionID != request.SessionID:
		return "session mismatch"
	case confirmed.RequestID != "" && confirmed.RequestID != request.ID:
		return "request mismatch"
	case confirmed.Amount != request.Amount:
		return "amount mismatch"
	case confirmed.Currency != "" && !strings.EqualFold(confirmed.Currency, request.Currency):
		return "currency mismatch"
	}
	return ""
}

func (s *paymentService) confirmingRedirect(request PaymentRequest) PaymentRedirect {
	return PaymentRedirect{
		Success:   false,
		Message:   confirmingMessage,
		RequestID: request.ID,
	}
}

func (s *paymentService) settle(ctx context.Context, request PaymentRequest, payload map[string]any) PaymentRedirect {
	order, _, err := s.orders.CreateFromCart(ctx, request.CartID)
	if err != nil {
		return s.settleFailed(ctx, request, "create_order", err)
	}

	ref := domain.DocumentRef{Kind: domain.ReferenceOrder, ID: order.ID}
	if request.Reference != ref {
		request.Reference = ref
		saved, err := s.requests.Save(ctx, request)
		if err != nil {
			return s.settleFailed(ctx, request, "repoint", err)
		}
		request = saved
	}

	invoice, err := s.orders.MakeInvoice(ctx, order.ID)
	if err != nil {
		return s.settleFailed(ctx, request, "make_invoice", err)
	}
	paid, err := s.orders.RecordInvoicePayment(ctx, RecordInvoicePaymentCommand{
		InvoiceID:        invoice.ID,
		PaymentRequestID: request.ID,
		Amount:           request.Amount,
		Reference:        firstNonEmpty(stringFromPayload(payload, "reference"), stringFromPayload(payload, "payment_intent"), request.SessionID),
		Gateway:          request.Gateway,
	})
	if err != nil {
		return s.settleFailed(ctx, request, "record_payment", err)
	}
	if !paid.GiftCards.Complete() {
		s.logger(ctx, "payments.gift_cards_incomplete", map[string]any{
			"requestId": request.ID,
			"invoiceId": invoice.ID,
			"issued":    len(paid.GiftCards.Issued()),
			"units":     len(paid.GiftCards.Units),
		})
	}

	now := s.now()
	request.Status = domain.PaymentRequestPaid
	request.PaidAt = &now
	request.Message = ""
	request.RedirectTo = s.thankYou + "?sales_order=" + url.QueryEscape(order.ID)
	if len(payload) > 0 {
		if request.GatewayData == nil {
			request.GatewayData = make(map[string]any, len(payload))
		}
		maps.Copy(request.GatewayData, payload)
	}
	saved, err := s.requests.Save(ctx, request)
	if err != nil {
		return s.settleFailed(ctx, request, "mark_paid", err)
	}
	request = saved

	if err := s.events.Dispatch(ctx, Event{
		Type:             EventPaymentSettled,
		CartID:           request.CartID,
		OrderID:          order.ID,
		InvoiceID:        invoice.ID,
		PaymentRequestID: request.ID,
		PartyID:          request.PartyID,
	}); err != nil {
		s.logger(ctx, "payments.settled_subscriber_failed", map[string]any{
			"requestId": request.ID,
			"error":     err.Error(),
		})
	}
	s.logger(ctx, "payments.settled", map[string]any{
		"requestId": request.ID,
		"orderId":   order.ID,
		"invoiceId": invoice.ID,
		"amount":    request.Amount,
	})
	return s.storedRedirect(request)
}

func (s *paymentService) settleFailed(ctx context.Context, request PaymentRequest, step string, err error) PaymentRedirect {
	s.logger(ctx, "payments.settle_failed", map[string]any{
		"requestId": request.ID,
		"cartId":    request.CartID,
		"step":      step,
		"error":     err.Error(),
	})
	return PaymentRedirect{
		Success:    false,
		RedirectTo: s.failure,
		Message:    settlementFailedMessage,
		RequestID:  request.ID,
	}
}

// HandleFailure marks an unsettled request as failed. Terminal requests keep their outcome.
func (s *paymentService) HandleFailure(ctx context.Context, requestID string, reason string) (PaymentRedirect, error) {
	request, err := s.getRequest(ctx, requestID)
	if err != nil {
		return PaymentRedirect{}, err
	}
	if request.Status.IsTerminal() {
		return s.storedRedirect(request), nil
	}
	message := textutil.PlainTextLimit(reason, maxFailureReasonLength)
	if message == "" {
		message = defaultFailureMessage
	}
	request.Status = domain.PaymentRequestFailed
	request.Message = message
	request.RedirectTo = s.failure
	request, err = s.requests.Save(ctx, request)
	if err != nil {
		return PaymentRedirect{}, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}
	s.logger(ctx, "payments.failed", map[string]any{
		"requestId": request.ID,
		"reason":    message,
	})
	return s.storedRedirect(request), nil
}

// HandleCallback authenticates a gateway notification and applies it. Every authentication
// problem yields the same generic error and leaves state untouched.
func (s *paymentService) HandleCallback(ctx context.Context, input CallbackInput) (PaymentRedirect, error) {
	invalid := userError(ErrPaymentSignature, invalidSignatureMessage)
	method := strings.TrimSpace(input.PaymentMethod)
	if method == "" {
		return PaymentRedirect{}, invalid
	}
	gatewayType := payments.GatewayType(method)
	header := http.Header{}
	if input.Request != nil {
		header = input.Request.Header
	}

	event, err := s.gateway.VerifyCallback(ctx, gatewayType, input.Payload, header)
	if err != nil {
		s.logger(ctx, "payments.callback_rejected", map[string]any{
			"gateway": gatewayType,
			"error":   err.Error(),
		})
		return PaymentRedirect{}, invalid
	}
	request, err := s.requests.Get(ctx, strings.TrimSpace(event.RequestID))
	if err != nil {
		s.logger(ctx, "payments.callback_rejected", map[string]any{
			"gateway":   gatewayType,
			"requestId": event.RequestID,
			"error":     err.Error(),
		})
		return PaymentRedirect{}, invalid
	}
	if request.GatewayType != gatewayType || (event.Amount > 0 && event.Amount != request.Amount) {
		s.logger(ctx, "payments.callback_rejected", map[string]any{
			"gateway":   gatewayType,
			"requestId": request.ID,
			"amount":    event.Amount,
			"error":     "gateway or amount mismatch",
		})
		return PaymentRedirect{}, invalid
	}

	switch event.Status {
	case payments.StatusSucceeded:
		if request.Status == domain.PaymentRequestPaid {
			return s.storedRedirect(request), nil
		}
		// failed requests settle too once the gateway reports the money collected
		redirect := s.settle(ctx, request, event.Raw)
		if !redirect.Success {
			return redirect, fmt.Errorf("%w: settlement of %s incomplete", ErrPaymentUnavailable, request.ID)
		}
		return redirect, nil
	case payments.StatusFailed:
		return s.HandleFailure(ctx, request.ID, event.Reason)
	default:
		return PaymentRedirect{RequestID: request.ID}, nil
	}
}

func (s *paymentService) getRequest(ctx context.Context, requestID string) (PaymentRequest, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return PaymentRequest{}, fmt.Errorf("%w: payment request id is required", ErrPaymentInvalidInput)
	}
	request, err := s.requests.Get(ctx, requestID)
	if err != nil {
		if isRepoNotFound(err) {
			return PaymentRequest{}, ErrPaymentNotFound
		}
		return PaymentRequest{}, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}
	return request, nil
}

func (s *paymentService) storedRedirect(request PaymentRequest) PaymentRedirect {
	redirect := PaymentRedirect{
		Success:    request.Status == domain.PaymentRequestPaid,
		RedirectTo: request.RedirectTo,
		Message:    request.Message,
		RequestID:  request.ID,
	}
	if request.Reference.Kind == domain.ReferenceOrder {
		redirect.OrderID = request.Reference.ID
	}
	if redirect.RedirectTo == "" && request.Status == domain.PaymentRequestFailed {
		redirect.RedirectTo = s.failure
	}
	return redirect
}

func stringFromPayload(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	value, _ := payload[key].(string)
	return strings.TrimSpace(value)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
