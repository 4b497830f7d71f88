package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/webshop/internal/domain"
	"github.com/hanko-field/webshop/internal/repositories"
)

const (
	orderIDPrefix        = "ord_"
	invoiceIDPrefix      = "inv_"
	paymentEntryIDPrefix = "pe_"

	// OrderPlacedMessage is returned after an order is placed without online payment.
	OrderPlacedMessage = "Your order has been placed"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order or its source cart could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the order store could not be reached.
	ErrOrderUnavailable = errors.New("order: unavailable")
	// ErrOrderOutOfStock indicates a stock item cannot be fulfilled.
	ErrOrderOutOfStock = errors.New("order: out of stock")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Carts           repositories.CartRepository
	Orders          repositories.OrderRepository
	Invoices        repositories.InvoiceRepository
	PaymentEntries  repositories.PaymentEntryRepository
	PaymentRequests repositories.PaymentRequestRepository
	Settings        repositories.SettingsRepository
	Catalog         repositories.CatalogRepository
	Customers       repositories.CustomerRepository
	Coupons         repositories.CouponRepository
	Counters        CounterService
	Parties         partyResolver
	Pricer          CartPricer
	Events          *EventBus
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	access   cartAccess
	orders   repositories.OrderRepository
	invoices repositories.InvoiceRepository
	entries  repositories.PaymentEntryRepository
	requests repositories.PaymentRequestRepository
	catalog  repositories.CatalogRepository
	coupons  repositories.CouponRepository
	counters CounterService
	events   *EventBus
	now      func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Invoices == nil {
		return nil, errors.New("order service: invoice repository is required")
	}
	if deps.PaymentEntries == nil {
		return nil, errors.New("order service: payment entry repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
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
		return nil, fmt.Errorf("order service: %w", err)
	}

	return &orderService{
		access:   access,
		orders:   deps.Orders,
		invoices: deps.Invoices,
		entries:  deps.PaymentEntries,
		requests: deps.PaymentRequests,
		catalog:  deps.Catalog,
		coupons:  deps.Coupons,
		counters: deps.Counters,
		events:   deps.Events,
		now:      now,
		newID:    idGen,
		logger:   logger,
	}, nil
}

// PlaceOrder reprices the shopper's cart and converts it into an order without an online payment.
func (s *orderService) PlaceOrder(ctx context.Context, shopper Shopper) (PlaceOrderResult, error) {
	owner, shopper, err := s.access.owner(ctx, shopper)
	if err != nil {
		return PlaceOrderResult{}, err
	}
	if owner.PartyID == "" {
		return PlaceOrderResult{}, userError(ErrCartLoginRequired, "Please log in to place an order")
	}
	settings, err := s.access.loadSettings(ctx)
	if err != nil {
		return PlaceOrderResult{}, err
	}
	cart, err := s.access.find(ctx, owner)
	if err != nil {
		return PlaceOrderResult{}, err
	}
	if len(cart.Lines) == 0 {
		return PlaceOrderResult{}, userError(ErrOrderInvalidInput, "Cart is empty")
	}
	if !cart.AllGiftCards() && cart.ShippingAddressID == "" && cart.BillingAddressID == "" {
		return PlaceOrderResult{}, userError(ErrOrderInvalidInput, "Set Shipping Address or Billing Address")
	}
	if !settings.AllowItemsNotInStock {
		if err := s.checkStock(ctx, cart); err != nil {
			return PlaceOrderResult{}, err
		}
	}

	cart, err = s.access.mutateAndSave(ctx, cart, settings, nil)
	if err != nil {
		return PlaceOrderResult{}, err
	}
	order, _, err := s.CreateFromCart(ctx, cart.ID)
	if err != nil {
		return PlaceOrderResult{}, err
	}
	result := PlaceOrderResult{Order: order, Message: OrderPlacedMessage}
	if err := s.invoiceDirectOrder(ctx, &result); err != nil {
		s.logger(ctx, "order.direct_invoice_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
	s.logger(ctx, "order.placed", map[string]any{
		"orderId": order.ID,
		"cartId":  cart.ID,
		"partyId": owner.PartyID,
	})
	return result, nil
}

// invoiceDirectOrder submits the invoice of an order placed without online payment. A zero total
// invoice is settled right away so its paid hooks run.
func (s *orderService) invoiceDirectOrder(ctx context.Context, result *PlaceOrderResult) error {
	invoice, err := s.MakeInvoice(ctx, result.Order.ID)
	if err != nil {
		return err
	}
	if invoice.OutstandingAmount == 0 && invoice.Status != domain.InvoiceStatusPaid {
		paid, err := s.RecordInvoicePayment(ctx, RecordInvoicePaymentCommand{
			InvoiceID: invoice.ID,
			Reference: result.Order.ID,
		})
		if err != nil {
			return err
		}
		invoice = paid.Invoice
		result.GiftCards = paid.GiftCards
	}
	result.Invoice = &invoice
	if order, err := s.orders.Get(ctx, result.Order.ID); err == nil {
		result.Order = order
	}
	return nil
}

func (s *orderService) checkStock(ctx context.Context, cart Cart) error {
	for _, line := range cart.Lines {
		if line.IsGiftCard {
			continue
		}
		item, err := s.catalog.GetItem(ctx, line.ItemCode)
		if err != nil {
			if isRepoNotFound(err) {
				return userError(ErrOrderInvalidInput, "Item %s does not exist", line.ItemCode)
			}
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
		if !item.IsStockItem {
			continue
		}
		level, err := s.catalog.GetStock(ctx, item.ItemCode, item.Warehouse)
		if err != nil && !isRepoNotFound(err) {
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
		if level.Quantity < line.Quantity {
			return userError(ErrOrderOutOfStock, "%s Not in Stock", line.ItemCode)
		}
	}
	return nil
}

// CreateFromCart converts the cart into its order. The order id is derived from the cart, so the
// call is safe to repeat: an existing order is returned with created=false.
func (s *orderService) CreateFromCart(ctx context.Context, cartID string) (Order, bool, error) {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return Order{}, false, fmt.Errorf("%w: cart id is required", ErrOrderInvalidInput)
	}
	cart, err := s.access.carts.Get(ctx, cartID)
	if err != nil {
		return Order{}, false, s.mapRepositoryError(err)
	}

	existing, err := s.orders.FindByCart(ctx, cart.ID)
	switch {
	case err == nil:
		if err := s.markSubmitted(ctx, cart); err != nil {
			return Order{}, false, err
		}
		return existing, false, nil
	case !isRepoNotFound(err):
		return Order{}, false, s.mapRepositoryError(err)
	}

	if len(cart.Lines) == 0 {
		return Order{}, false, fmt.Errorf("%w: cart must contain at least one item", ErrOrderInvalidInput)
	}
	if cart.Owner.PartyID == "" {
		return Order{}, false, fmt.Errorf("%w: cart has no customer", ErrOrderInvalidInput)
	}

	order := buildOrder(cart)
	order.ID = orderIDPrefix + cart.ID
	order.Number = order.ID
	if s.counters != nil {
		number, err := s.counters.NextOrderNumber(ctx)
		if err != nil {
			return Order{}, false, fmt.Errorf("%w: order number: %v", ErrOrderUnavailable, err)
		}
		order.Number = number
	}

	saved, created, err := s.orders.CreateForCart(ctx, order)
	if err != nil {
		return Order{}, false, s.mapRepositoryError(err)
	}
	if err := s.markSubmitted(ctx, cart); err != nil {
		return Order{}, false, err
	}
	if !created {
		return saved, false, nil
	}

	s.redeemCoupon(ctx, saved)
	if err := s.events.Dispatch(ctx, Event{
		Type:    EventOrderPlaced,
		CartID:  cart.ID,
		OrderID: saved.ID,
		PartyID: saved.PartyID,
	}); err != nil {
		s.logger(ctx, "order.placed_subscriber_failed", map[string]any{
			"orderId": saved.ID,
			"error":   err.Error(),
		})
	}
	return saved, true, nil
}

func buildOrder(cart Cart) Order {
	order := Order{
		CartRef:           cart.ID,
		PartyID:           cart.Owner.PartyID,
		CustomerName:      cart.CustomerName,
		ContactEmail:      cart.ContactEmail,
		Currency:          cart.Currency,
		Lines:             append([]CartLine(nil), cart.Lines...),
		Taxes:             append([]TaxLine(nil), cart.Taxes...),
		Totals:            cart.Totals,
		CouponCode:        cart.CouponCode,
		ShippingRuleID:    cart.ShippingRuleID,
		BillingAddressID:  cart.BillingAddressID,
		ShippingAddressID: cart.ShippingAddressID,
		SkipDeliveryNote:  !hasStockLines(cart.Lines),
		Status:            domain.OrderStatusConfirmed,
	}
	if cart.Loyalty != nil {
		loyalty := *cart.Loyalty
		order.Loyalty = &loyalty
	}
	return order
}

func hasStockLines(lines []CartLine) bool {
	for _, line := range lines {
		if line.IsStockItem && !line.IsGiftCard {
			return true
		}
	}
	return false
}

func (s *orderService) markSubmitted(ctx context.Context, cart Cart) error {
	if cart.Status == domain.CartStatusSubmitted {
		return nil
	}
	cart.Status = domain.CartStatusSubmitted
	if _, err := s.access.carts.Save(ctx, cart); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

// redeemCoupon counts one use of the order's coupon. Failures are logged only.
func (s *orderService) redeemCoupon(ctx context.Context, order Order) {
	if s.coupons == nil || order.CouponCode == "" {
		return
	}
	coupon, err := s.coupons.Get(ctx, order.CouponCode)
	if err == nil {
		coupon.Used++
		_, err = s.coupons.Save(ctx, coupon)
	}
	if err != nil {
		s.logger(ctx, "order.coupon_redeem_failed", map[string]any{
			"orderId": order.ID,
			"coupon":  order.CouponCode,
			"error":   err.Error(),
		})
	}
}

// MakeInvoice raises the sales invoice for an order, returning the existing one when present.
func (s *orderService) MakeInvoice(ctx context.Context, orderID string) (Invoice, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Invoice{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return Invoice{}, s.mapRepositoryError(err)
	}
	if existing, err := s.invoices.FindByOrder(ctx, order.ID); err == nil {
		return existing, nil
	} else if !isRepoNotFound(err) {
		return Invoice{}, s.mapRepositoryError(err)
	}

	invoice := Invoice{
		ID:                invoiceIDPrefix + order.ID,
		Number:            invoiceIDPrefix + order.ID,
		OrderID:           order.ID,
		PartyID:           order.PartyID,
		Currency:          order.Currency,
		Lines:             append([]CartLine(nil), order.Lines...),
		Totals:            order.Totals,
		OutstandingAmount: order.Totals.RoundedTotal,
		Status:            domain.InvoiceStatusSubmitted,
	}
	if order.Loyalty != nil {
		loyalty := *order.Loyalty
		invoice.Loyalty = &loyalty
	}
	if s.counters != nil {
		number, err := s.counters.NextInvoiceNumber(ctx)
		if err != nil {
			return Invoice{}, fmt.Errorf("%w: invoice number: %v", ErrOrderUnavailable, err)
		}
		invoice.Number = number
	}

	created, err := s.invoices.Create(ctx, invoice)
	if err != nil {
		if !isRepoConflict(err) {
			return Invoice{}, s.mapRepositoryError(err)
		}
		existing, err := s.invoices.Get(ctx, invoice.ID)
		if err != nil {
			return Invoice{}, s.mapRepositoryError(err)
		}
		return existing, nil
	}

	if order.Status != domain.OrderStatusInvoiced {
		order.Status = domain.OrderStatusInvoiced
		if _, err := s.orders.Save(ctx, order); err != nil {
			return Invoice{}, s.mapRepositoryError(err)
		}
	}

	if err := s.events.Dispatch(ctx, Event{
		Type:      EventInvoiceSubmitted,
		CartID:    order.CartRef,
		OrderID:   order.ID,
		InvoiceID: created.ID,
		PartyID:   order.PartyID,
		Invoice:   &created,
	}); err != nil {
		s.logger(ctx, "order.invoice_subscriber_failed", map[string]any{
			"invoiceId": created.ID,
			"error":     err.Error(),
		})
	}
	return created, nil
}

// RecordInvoicePayment books a payment entry against the invoice and settles it. An entry already
// recorded for the same payment request is not booked twice. Once the invoice is settled the
// paid event runs, and the gift cards it produced are reported back.
func (s *orderService) RecordInvoicePayment(ctx context.Context, cmd RecordInvoicePaymentCommand) (InvoicePaymentResult, error) {
	invoiceID := strings.TrimSpace(cmd.InvoiceID)
	if invoiceID == "" {
		return InvoicePaymentResult{}, fmt.Errorf("%w: invoice id is required", ErrOrderInvalidInput)
	}
	if cmd.Amount < 0 {
		return InvoicePaymentResult{}, fmt.Errorf("%w: amount must not be negative", ErrOrderInvalidInput)
	}
	invoice, err := s.invoices.Get(ctx, invoiceID)
	if err != nil {
		return InvoicePaymentResult{}, s.mapRepositoryError(err)
	}

	entryID := paymentEntryIDPrefix + s.newID()
	if requestID := strings.TrimSpace(cmd.PaymentRequestID); requestID != "" {
		entryID = paymentEntryIDPrefix + requestID
	}
	entry := PaymentEntry{
		ID:               entryID,
		OrderID:          invoice.OrderID,
		InvoiceID:        invoice.ID,
		PaymentRequestID: strings.TrimSpace(cmd.PaymentRequestID),
		PartyID:          invoice.PartyID,
		Gateway:          strings.TrimSpace(cmd.Gateway),
		Amount:           cmd.Amount,
		Currency:         invoice.Currency,
		Reference:        strings.TrimSpace(cmd.Reference),
		PostedAt:         s.now(),
	}
	booked := true
	if _, err := s.entries.Create(ctx, entry); err != nil {
		if !isRepoConflict(err) {
			return InvoicePaymentResult{}, s.mapRepositoryError(err)
		}
		booked = false
	}

	if booked && invoice.Status != domain.InvoiceStatusPaid {
		invoice.OutstandingAmount -= cmd.Amount
		if invoice.OutstandingAmount <= 0 {
			invoice.OutstandingAmount = 0
			invoice.Status = domain.InvoiceStatusPaid
		}
		invoice, err = s.invoices.Save(ctx, invoice)
		if err != nil {
			return InvoicePaymentResult{}, s.mapRepositoryError(err)
		}
	}

	result := InvoicePaymentResult{Invoice: invoice}
	if invoice.OutstandingAmount > 0 || invoice.GiftCardsIssued {
		return result, nil
	}

	report := &EventReport{}
	if err := s.events.Dispatch(ctx, Event{
		Type:             EventInvoicePaid,
		OrderID:          invoice.OrderID,
		InvoiceID:        invoice.ID,
		PaymentRequestID: entry.PaymentRequestID,
		PartyID:          invoice.PartyID,
		Invoice:          &invoice,
		Report:           report,
	}); err != nil {
		s.logger(ctx, "order.invoice_paid_subscriber_failed", map[string]any{
			"invoiceId": invoice.ID,
			"error":     err.Error(),
		})
	}
	if report.GiftCards != nil {
		result.GiftCards = *report.GiftCards
	}
	if refreshed, err := s.invoices.Get(ctx, invoice.ID); err == nil {
		result.Invoice = refreshed
	}
	return result, nil
}

// ThankYou renders the confirmation of an order owned by the shopper. A payment entry is preferred
// over a paid payment request as proof of payment.
func (s *orderService) ThankYou(ctx context.Context, shopper Shopper, orderID string) (ThankYouView, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return ThankYouView{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	owner, _, err := s.access.owner(ctx, shopper)
	if err != nil {
		return ThankYouView{}, err
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return ThankYouView{}, s.mapRepositoryError(err)
	}
	if owner.PartyID == "" || order.PartyID != owner.PartyID {
		return ThankYouView{}, ErrOrderNotFound
	}

	view := ThankYouView{
		Order:     order,
		Formatted: formatTotals(order.Totals, order.Currency),
	}
	if invoice, err := s.invoices.FindByOrder(ctx, order.ID); err == nil {
		view.Invoice = &invoice
	} else if !isRepoNotFound(err) {
		return ThankYouView{}, s.mapRepositoryError(err)
	}

	entries, err := s.entries.ListByOrder(ctx, order.ID)
	if err != nil {
		return ThankYouView{}, s.mapRepositoryError(err)
	}
	if len(entries) > 0 {
		entry := entries[len(entries)-1]
		view.PaymentEntry = &entry
		view.Paid = true
		view.Gateway = entry.Gateway
		return view, nil
	}

	if s.requests == nil {
		return view, nil
	}
	requests, err := s.requests.ListByReference(ctx, domain.DocumentRef{Kind: domain.ReferenceOrder, ID: order.ID})
	if err != nil {
		return ThankYouView{}, s.mapRepositoryError(err)
	}
	for i := len(requests) - 1; i >= 0; i-- {
		if requests[i].Status == domain.PaymentRequestPaid {
			request := requests[i]
			view.PaymentRequest = &request
			view.Paid = true
			view.Gateway = request.Gateway
			break
		}
	}
	return view, nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case isRepoNotFound(err):
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	case isRepoConflict(err):
		return fmt.Errorf("%w: %v", ErrOrderConflict, err)
	default:
		return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
}
