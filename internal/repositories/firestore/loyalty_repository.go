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
	loyaltyProgramCollection = "loyaltyPrograms"
	loyaltyEntryCollection   = "loyaltyPointEntries"
)

type loyaltyProgramDocument struct {
	Name             string  `firestore:"name"`
	ConversionFactor float64 `firestore:"conversionFactor"`
	ExpenseAccount   string  `firestore:"expenseAccount,omitempty"`
	CostCenter       string  `firestore:"costCenter,omitempty"`
}

type loyaltyEntryDocument struct {
	CustomerID     string     `firestore:"customerId"`
	ProgramID      string     `firestore:"programId"`
	Points         int64      `firestore:"points"`
	PurchaseAmount int64      `firestore:"purchaseAmount"`
	CartID         string     `firestore:"cartId,omitempty"`
	InvoiceID      string     `firestore:"invoiceId,omitempty"`
	PostingDate    time.Time  `firestore:"postingDate"`
	ExpiresAt      *time.Time `firestore:"expiresAt,omitempty"`
}

// LoyaltyRepository reads programs and maintains the signed point ledger.
type LoyaltyRepository struct {
	programs *pfirestore.BaseRepository[loyaltyProgramDocument]
	entries  *pfirestore.BaseRepository[loyaltyEntryDocument]
}

var _ repositories.LoyaltyRepository = (*LoyaltyRepository)(nil)

// NewLoyaltyRepository constructs a Firestore-backed loyalty repository.
func NewLoyaltyRepository(provider *pfirestore.Provider) (*LoyaltyRepository, error) {
	if provider == nil {
		return nil, errors.New("loyalty repository requires firestore provider")
	}
	return &LoyaltyRepository{
		programs: pfirestore.NewBaseRepository[loyaltyProgramDocument](provider, loyaltyProgramCollection),
		entries:  pfirestore.NewBaseRepository[loyaltyEntryDocument](provider, loyaltyEntryCollection),
	}, nil
}

func (r *LoyaltyRepository) GetProgram(ctx context.Context, programID string) (domain.LoyaltyProgram, error) {
	doc, err := r.programs.Get(pfirestore.WithoutTransaction(ctx), strings.TrimSpace(programID))
	if err != nil {
		return domain.LoyaltyProgram{}, err
	}
	return domain.LoyaltyProgram{
		ID:               doc.ID,
		Name:             doc.Data.Name,
		ConversionFactor: doc.Data.ConversionFactor,
		ExpenseAccount:   doc.Data.ExpenseAccount,
		CostCenter:       doc.Data.CostCenter,
	}, nil
}

func (r *LoyaltyRepository) Balance(ctx context.Context, customerID, programID, excludeCartID string, now time.Time) (int64, error) {
	docs, err := r.entries.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("customerId", "==", strings.TrimSpace(customerID)).Where("programId", "==", strings.TrimSpace(programID))
	})
	if err != nil {
		return 0, err
	}
	exclude := strings.TrimSpace(excludeCartID)
	var total int64
	for _, doc := range docs {
		if exclude != "" && doc.Data.CartID == exclude {
			continue
		}
		if doc.Data.ExpiresAt != nil && !doc.Data.ExpiresAt.After(now) {
			continue
		}
		total += doc.Data.Points
	}
	return total, nil
}

func (r *LoyaltyRepository) CreateEntry(ctx context.Context, entry domain.LoyaltyPointEntry) (domain.LoyaltyPointEntry, error) {
	if strings.TrimSpace(entry.ID) == "" {
		return domain.LoyaltyPointEntry{}, errors.New("loyalty repository: entry id is required")
	}
	if err := r.entries.Create(ctx, entry.ID, encodeLoyaltyEntry(entry)); err != nil {
		return domain.LoyaltyPointEntry{}, err
	}
	return entry, nil
}

func (r *LoyaltyRepository) GetEntry(ctx context.Context, entryID string) (domain.LoyaltyPointEntry, error) {
	doc, err := r.entries.Get(ctx, strings.TrimSpace(entryID))
	if err != nil {
		return domain.LoyaltyPointEntry{}, err
	}
	return decodeLoyaltyEntry(doc), nil
}

func (r *LoyaltyRepository) SaveEntry(ctx context.Context, entry domain.LoyaltyPointEntry) (domain.LoyaltyPointEntry, error) {
	if err := r.entries.Set(ctx, strings.TrimSpace(entry.ID), encodeLoyaltyEntry(entry)); err != nil {
		return domain.LoyaltyPointEntry{}, err
	}
	return entry, nil
}

func (r *LoyaltyRepository) DeleteEntry(ctx context.Context, entryID string) error {
	return r.entries.Delete(ctx, strings.TrimSpace(entryID))
}

func (r *LoyaltyRepository) DeleteByCart(ctx context.Context, cartID string) (int, error) {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return 0, nil
	}
	docs, err := r.entries.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("cartId", "==", cartID)
	})
	if err != nil {
		return 0, err
	}
	for i, doc := range docs {
		if err := r.entries.Delete(ctx, doc.ID); err != nil {
			return i, err
		}
	}
	return len(docs), nil
}

func encodeLoyaltyEntry(entry domain.LoyaltyPointEntry) loyaltyEntryDocument {
	return loyaltyEntryDocument{
		CustomerID:     entry.CustomerID,
		ProgramID:      entry.ProgramID,
		Points:         entry.Points,
		PurchaseAmount: entry.PurchaseAmount,
		CartID:         entry.CartID,
		InvoiceID:      entry.InvoiceID,
		PostingDate:    entry.PostingDate.UTC(),
		ExpiresAt:      entry.ExpiresAt,
	}
}

func decodeLoyaltyEntry(doc pfirestore.Document[loyaltyEntryDocument]) domain.LoyaltyPointEntry {
	data := doc.Data
	return domain.LoyaltyPointEntry{
		ID:             doc.ID,
		CustomerID:     data.CustomerID,
		ProgramID:      data.ProgramID,
		Points:         data.Points,
		PurchaseAmount: data.PurchaseAmount,
		CartID:         data.CartID,
		InvoiceID:      data.InvoiceID,
		PostingDate:    data.PostingDate,
		ExpiresAt:      data.ExpiresAt,
	}
}
