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

const (
	paymentRequestCollection = "paymentRequests"
	paymentEntryCollection   = "paymentEntries"
)

type paymentRequestDocument struct {
	ReferenceKind string         `firestore:"referenceKind"`
	ReferenceID   string         `firestore:"referenceId"`
	CartID        string         `firestore:"cartId"`
	PartyID       string         `firestore:"partyId,omitempty"`
	Email         string         `firestore:"email,omitempty"`
	Gateway       string         `firestore:"gateway"`
	GatewayType   string         `firestore:"gatewayType"`
	PaymentMethod string         `firestore:"paymentMethod,omitempty"`
	Amount        int64          `firestore:"amount"`
	Currency      string         `firestore:"currency"`
	Status        string         `firestore:"status"`
	PaymentURL    string         `firestore:"paymentUrl,omitempty"`
	SessionID     string         `firestore:"sessionId,omitempty"`
	GatewayData   map[string]any `firestore:"gatewayData,omitempty"`
	FromCheckout  bool           `firestore:"fromCheckout"`
	Message       string         `firestore:"message,omitempty"`
	RedirectTo    string         `firestore:"redirectTo,omitempty"`
	PaidAt        *time.Time     `firestore:"paidAt,omitempty"`
	CreatedAt     time.Time      `firestore:"createdAt"`
	UpdatedAt     time.Time      `firestore:"updatedAt"`
}

type paymentEntryDocument struct {
	OrderID          string    `firestore:"orderId"`
	InvoiceID        string    `firestore:"invoiceId,omitempty"`
	PaymentRequestID string    `firestore:"paymentRequestId"`
	PartyID          string    `firestore:"partyId,omitempty"`
	Gateway          string    `firestore:"gateway"`
	Amount           int64     `firestore:"amount"`
	Currency         string    `firestore:"currency"`
	Reference        string    `firestore:"reference,omitempty"`
	PostedAt         time.Time `firestore:"postedAt"`
}

// PaymentRequestRepository persists gateway payment requests.
type PaymentRequestRepository struct {
	base *pfirestore.BaseRepository[paymentRequestDocument]
	now  func() time.Time
}

var _ repositories.PaymentRequestRepository = (*PaymentRequestRepository)(nil)

// NewPaymentRequestRepository constructs a Firestore-backed payment request repository.
func NewPaymentRequestRepository(provider *pfirestore.Provider) (*PaymentRequestRepository, error) {
	if provider == nil {
		return nil, errors.New("payment request repository requires firestore provider")
	}
	return &PaymentRequestRepository{
		base: pfirestore.NewBaseRepository[paymentRequestDocument](provider, paymentRequestCollection),
		now:  time.Now,
	}, nil
}

func (r *PaymentRequestRepository) Create(ctx context.Context, request domain.PaymentRequest) (domain.PaymentRequest, error) {
	if strings.TrimSpace(request.ID) == "" {
		return domain.PaymentRequest{}, errors.New("payment request repository: id is required")
	}
	now := r.now().UTC()
	request.CreatedAt = timeOrNow(request.CreatedAt, now)
	request.UpdatedAt = now
	if err := r.base.Create(ctx, request.ID, encodePaymentRequest(request)); err != nil {
		return domain.PaymentRequest{}, err
	}
	return request, nil
}

func (r *PaymentRequestRepository) Get(ctx context.Context, requestID string) (domain.PaymentRequest, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(requestID))
	if err != nil {
		return domain.PaymentRequest{}, err
	}
	return decodePaymentRequest(doc), nil
}

func (r *PaymentRequestRepository) Save(ctx context.Context, request domain.PaymentRequest) (domain.PaymentRequest, error) {
	request.UpdatedAt = r.now().UTC()
	if err := r.base.Set(ctx, strings.TrimSpace(request.ID), encodePaymentRequest(request)); err != nil {
		return domain.PaymentRequest{}, err
	}
	return request, nil
}

func (r *PaymentRequestRepository) Delete(ctx context.Context, requestID string) error {
	return r.base.Delete(ctx, strings.TrimSpace(requestID))
}

// FindLatestByCart returns the newest request created for the cart.
func (r *PaymentRequestRepository) FindLatestByCart(ctx context.Context, cartID string) (domain.PaymentRequest, error) {
	doc, err := r.base.First(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("cartId", "==", strings.TrimSpace(cartID)).OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return domain.PaymentRequest{}, err
	}
	return decodePaymentRequest(doc), nil
}

func (r *PaymentRequestRepository) ListByReference(ctx context.Context, ref domain.DocumentRef) ([]domain.PaymentRequest, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("referenceKind", "==", string(ref.Kind)).
			Where("referenceId", "==", strings.TrimSpace(ref.ID)).
			OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.PaymentRequest, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodePaymentRequest(doc))
	}
	return out, nil
}

func encodePaymentRequest(req domain.PaymentRequest) paymentRequestDocument {
	return paymentRequestDocument{
		ReferenceKind: string(req.Reference.Kind),
		ReferenceID:   req.Reference.ID,
		CartID:        req.CartID,
		PartyID:       req.PartyID,
		Email:         req.Email,
		Gateway:       req.Gateway,
		GatewayType:   req.GatewayType,
		PaymentMethod: req.PaymentMethod,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Status:        string(req.Status),
		PaymentURL:    req.PaymentURL,
		SessionID:     req.SessionID,
		GatewayData:   req.GatewayData,
		FromCheckout:  req.FromCheckout,
		Message:       req.Message,
		RedirectTo:    req.RedirectTo,
		PaidAt:        req.PaidAt,
		CreatedAt:     req.CreatedAt,
		UpdatedAt:     req.UpdatedAt,
	}
}

func decodePaymentRequest(doc pfirestore.Document[paymentRequestDocument]) domain.PaymentRequest {
	data := doc.Data
	return domain.PaymentRequest{
		ID:            doc.ID,
		Reference:     domain.DocumentRef{Kind: domain.ReferenceKind(data.ReferenceKind), ID: data.ReferenceID},
		CartID:        data.CartID,
		PartyID:       data.PartyID,
		Email:         data.Email,
		Gateway:       data.Gateway,
		GatewayType:   data.GatewayType,
		PaymentMethod: data.PaymentMethod,
		Amount:        data.Amount,
		Currency:      data.Currency,
		Status:        domain.PaymentRequestStatus(data.Status),
		PaymentURL:    data.PaymentURL,
		SessionID:     data.SessionID,
		GatewayData:   data.GatewayData,
		FromCheckout:  data.FromCheckout,
		Message:       data.Message,
		RedirectTo:    data.RedirectTo,
		PaidAt:        data.PaidAt,
		CreatedAt:     firstNonZeroTime(data.CreatedAt, doc.CreateTime),
		UpdatedAt:     firstNonZeroTime(doc.UpdateTime, data.UpdatedAt),
	}
}

// PaymentEntryRepository persists received payments.
type PaymentEntryRepository struct {
	base *pfirestore.BaseRepository[paymentEntryDocument]
}

var _ repositories.PaymentEntryRepository = (*PaymentEntryRepository)(nil)

// NewPaymentEntryRepository constructs a Firestore-backed payment entry repository.
func NewPaymentEntryRepository(provider *pfirestore.Provider) (*PaymentEntryRepository, error) {
	if provider == nil {
		return nil, errors.New("payment entry repository requires firestore provider")
	}
	return &PaymentEntryRepository{
		base: pfirestore.NewBaseRepository[paymentEntryDocument](provider, paymentEntryCollection),
	}, nil
}

// Create inserts the entry; entries are keyed by payment request so a retried callback conflicts.
func (r *PaymentEntryRepository) Create(ctx context.Context, entry domain.PaymentEntry) (domain.PaymentEntry, error) {
	if strings.TrimSpace(entry.ID) == "" {
		return domain.PaymentEntry{}, errors.New("payment entry repository: id is required")
	}
	doc := paymentEntryDocument{
		OrderID:          entry.OrderID,
		InvoiceID:        entry.InvoiceID,
		PaymentRequestID: entry.PaymentRequestID,
		PartyID:          entry.PartyID,
		Gateway:          entry.Gateway,
		Amount:           entry.Amount,
		Currency:         entry.Currency,
		Reference:        entry.Reference,
		PostedAt:         entry.PostedAt.UTC(),
	}
	if err := r.base.Create(ctx, entry.ID, doc); err != nil {
		return domain.PaymentEntry{}, err
	}
	return entry, nil
}

func (r *PaymentEntryRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentEntry, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", strings.TrimSpace(orderID))
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.PaymentEntry, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.PaymentEntry{
			ID:               doc.ID,
			OrderID:          doc.Data.OrderID,
			InvoiceID:        doc.Data.InvoiceID,
			PaymentRequestID: doc.Data.PaymentRequestID,
			PartyID:          doc.Data.PartyID,
			Gateway:          doc.Data.Gateway,
			Amount:           doc.Data.Amount,
			Currency:         doc.Data.Currency,
			Reference:        doc.Data.Reference,
			PostedAt:         doc.Data.PostedAt,
		})
	}
	return out, nil
}
