package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/webshop/internal/domain"
	pfirestore "github.com/hanko-field/webshop/internal/platform/firestore"
	"github.com/hanko-field/webshop/internal/repositories"
)

const invoiceCollection = "invoices"

type invoiceDocument struct {
	Number            string           `firestore:"number"`
	OrderID           string           `firestore:"orderId"`
	PartyID           string           `firestore:"partyId"`
	Currency          string           `firestore:"currency"`
	Lines             []lineDocument   `firestore:"lines"`
	Totals            totalsDocument   `firestore:"totals"`
	OutstandingAmount int64            `firestore:"outstandingAmount"`
	Loyalty           *loyaltyDocument `firestore:"loyalty,omitempty"`
	Status            string           `firestore:"status"`
	GiftCardsIssued   bool             `firestore:"giftCardsIssued"`
	CreatedAt         time.Time        `firestore:"createdAt"`
	UpdatedAt         time.Time        `firestore:"updatedAt"`
}

// InvoiceRepository persists sales invoices.
type InvoiceRepository struct {
	base *pfirestore.BaseRepository[invoiceDocument]
	now  func() time.Time
}

var _ repositories.InvoiceRepository = (*InvoiceRepository)(nil)

// NewInvoiceRepository constructs a Firestore-backed invoice repository.
func NewInvoiceRepository(provider *pfirestore.Provider) (*InvoiceRepository, error) {
	if provider == nil {
		return nil, errors.New("invoice repository requires firestore provider")
	}
	return &InvoiceRepository{
		base: pfirestore.NewBaseRepository[invoiceDocument](provider, invoiceCollection),
		now:  time.Now,
	}, nil
}

// Create inserts a new invoice.
func (r *InvoiceRepository) Create(ctx context.Context, invoice domain.Invoice) (domain.Invoice, error) {
	if strings.TrimSpace(invoice.ID) == "" {
		return domain.Invoice{}, errors.New("invoice repository: invoice id is required")
	}
	now := r.now().UTC()
	invoice.CreatedAt = timeOrNow(invoice.CreatedAt, now)
	invoice.UpdatedAt = now
	if err := r.base.Create(ctx, invoice.ID, encodeInvoice(invoice)); err != nil {
		return domain.Invoice{}, err
	}
	return invoice, nil
}

// Get loads an invoice by ID.
func (r *InvoiceRepository) Get(ctx context.Context, invoiceID string) (domain.Invoice, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(invoiceID))
	if err != nil {
		return domain.Invoice{}, err
	}
	return decodeInvoice(doc), nil
}

// FindByOrder returns the invoice raised for the order.
func (r *InvoiceRepository) FindByOrder(ctx context.Context, orderID string) (domain.Invoice, error) {
	doc, err := r.base.First(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", strings.TrimSpace(orderID))
	})
	if err != nil {
		return domain.Invoice{}, err
	}
	return decodeInvoice(doc), nil
}

// Save overwrites the invoice document.
func (r *InvoiceRepository) Save(ctx context.Context, invoice domain.Invoice) (domain.Invoice, error) {
	invoice.UpdatedAt = r.now().UTC()
	if err := r.base.Set(ctx, strings.TrimSpace(invoice.ID), encodeInvoice(invoice)); err != nil {
		return domain.Invoice{}, err
	}
	return invoice, nil
}

func encodeInvoice(invoice domain.Invoice) invoiceDocument {
	return invoiceDocument{
		Number:            invoice.Number,
		OrderID:           invoice.OrderID,
		PartyID:           invoice.PartyID,
		Currency:          invoice.Currency,
		Lines:             encodeLines(invoice.Lines),
		Totals:            encodeTotals(invoice.Totals),
		OutstandingAmount: invoice.OutstandingAmount,
		Loyalty:           encodeLoyalty(invoice.Loyalty),
		Status:            string(invoice.Status),
		GiftCardsIssued:   invoice.GiftCardsIssued,
		CreatedAt:         invoice.CreatedAt,
		UpdatedAt:         invoice.UpdatedAt,
	}
}

func decodeInvoice(doc pfirestore.Document[invoiceDocument]) domain.Invoice {
	data := doc.Data
	return domain.Invoice{
		ID:                doc.ID,
		Number:            data.Number,
		OrderID:           data.OrderID,
		PartyID:           data.PartyID,
		Currency:          data.Currency,
		Lines:             decodeLines(data.Lines),
		Totals:            decodeTotals(data.Totals),
		OutstandingAmount: data.OutstandingAmount,
		Loyalty:           decodeLoyalty(data.Loyalty),
		Status:            domain.InvoiceStatus(data.Status),
		GiftCardsIssued:   data.GiftCardsIssued,
		CreatedAt:         firstNonZeroTime(data.CreatedAt, doc.CreateTime),
		UpdatedAt:         firstNonZeroTime(doc.UpdateTime, data.UpdatedAt),
	}
}
