package firestore

import (
	"strings"
	"time"

	domain "github.com/hanko-field/webshop/internal/domain"
)

type lineDocument struct {
	ItemCode      string            `firestore:"itemCode"`
	ItemName      string            `firestore:"itemName,omitempty"`
	Quantity      int64             `firestore:"qty"`
	Rate          int64             `firestore:"rate"`
	PriceListRate int64             `firestore:"priceListRate"`
	Amount        int64             `firestore:"amount"`
	IsGiftCard    bool              `firestore:"isGiftCard"`
	IsStockItem   bool              `firestore:"isStockItem"`
	GiftCard      *giftCardDocument `firestore:"giftCard,omitempty"`
	Notes         string            `firestore:"notes,omitempty"`
}

type giftCardDocument struct {
	Code           string `firestore:"code,omitempty"`
	Rate           int64  `firestore:"rate"`
	PriceListRate  int64  `firestore:"priceListRate"`
	RecipientName  string `firestore:"recipientName,omitempty"`
	RecipientEmail string `firestore:"recipientEmail,omitempty"`
	Message        string `firestore:"message,omitempty"`
}

type taxDocument struct {
	ChargeType         string  `firestore:"chargeType"`
	Description        string  `firestore:"description"`
	AccountHead        string  `firestore:"accountHead,omitempty"`
	Rate               float64 `firestore:"rate"`
	Amount             int64   `firestore:"amount"`
	IsLoyaltyReduction bool    `firestore:"isLoyaltyReduction"`
}

type totalsDocument struct {
	NetTotal       int64 `firestore:"netTotal"`
	TaxTotal       int64 `firestore:"taxTotal"`
	ShippingTotal  int64 `firestore:"shippingTotal"`
	DiscountAmount int64 `firestore:"discountAmount"`
	GrandTotal     int64 `firestore:"grandTotal"`
	RoundedTotal   int64 `firestore:"roundedTotal"`
	TotalQuantity  int64 `firestore:"totalQty"`
}

type loyaltyDocument struct {
	Points    int64  `firestore:"points"`
	Amount    int64  `firestore:"amount"`
	ProgramID string `firestore:"programId"`
	EntryID   string `firestore:"entryId,omitempty"`
}

func encodeLines(lines []domain.CartLine) []lineDocument {
	out := make([]lineDocument, 0, len(lines))
	for _, line := range lines {
		doc := lineDocument{
			ItemCode:      strings.TrimSpace(line.ItemCode),
			ItemName:      line.ItemName,
			Quantity:      line.Quantity,
			Rate:          line.Rate,
			PriceListRate: line.PriceListRate,
			Amount:        line.Amount,
			IsGiftCard:    line.IsGiftCard,
			IsStockItem:   line.IsStockItem,
			Notes:         line.Notes,
		}
		if line.GiftCard != nil {
			doc.GiftCard = &giftCardDocument{
				Code:           line.GiftCard.Code,
				Rate:           line.GiftCard.Rate,
				PriceListRate:  line.GiftCard.PriceListRate,
				RecipientName:  line.GiftCard.RecipientName,
				RecipientEmail: line.GiftCard.RecipientEmail,
				Message:        line.GiftCard.Message,
			}
		}
		out = append(out, doc)
	}
	return out
}

func decodeLines(docs []lineDocument) []domain.CartLine {
	out := make([]domain.CartLine, 0, len(docs))
	for _, doc := range docs {
		line := domain.CartLine{
			ItemCode:      doc.ItemCode,
			ItemName:      doc.ItemName,
			Quantity:      doc.Quantity,
			Rate:          doc.Rate,
			PriceListRate: doc.PriceListRate,
			Amount:        doc.Amount,
			IsGiftCard:    doc.IsGiftCard,
			IsStockItem:   doc.IsStockItem,
			Notes:         doc.Notes,
		}
		if doc.GiftCard != nil {
			line.GiftCard = &domain.GiftCardData{
				Code:           doc.GiftCard.Code,
				Rate:           doc.GiftCard.Rate,
				PriceListRate:  doc.GiftCard.PriceListRate,
				RecipientName:  doc.GiftCard.RecipientName,
				RecipientEmail: doc.GiftCard.RecipientEmail,
				Message:        doc.GiftCard.Message,
			}
		}
		out = append(out, line)
	}
	return out
}

func encodeTaxes(taxes []domain.TaxLine) []taxDocument {
	out := make([]taxDocument, 0, len(taxes))
	for _, tax := range taxes {
		out = append(out, taxDocument{
			ChargeType:         string(tax.ChargeType),
			Description:        tax.Description,
			AccountHead:        tax.AccountHead,
			Rate:               tax.Rate,
			Amount:             tax.Amount,
			IsLoyaltyReduction: tax.IsLoyaltyReduction,
		})
	}
	return out
}

func decodeTaxes(docs []taxDocument) []domain.TaxLine {
	out := make([]domain.TaxLine, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.TaxLine{
			ChargeType:         domain.TaxChargeType(doc.ChargeType),
			Description:        doc.Description,
			AccountHead:        doc.AccountHead,
			Rate:               doc.Rate,
			Amount:             doc.Amount,
			IsLoyaltyReduction: doc.IsLoyaltyReduction,
		})
	}
	return out
}

func encodeTotals(t domain.CartTotals) totalsDocument {
	return totalsDocument(t)
}

func decodeTotals(doc totalsDocument) domain.CartTotals {
	return domain.CartTotals(doc)
}

func encodeLoyalty(l *domain.CartLoyalty) *loyaltyDocument {
	if l == nil {
		return nil
	}
	return &loyaltyDocument{Points: l.Points, Amount: l.Amount, ProgramID: l.ProgramID, EntryID: l.EntryID}
}

func decodeLoyalty(doc *loyaltyDocument) *domain.CartLoyalty {
	if doc == nil {
		return nil
	}
	return &domain.CartLoyalty{Points: doc.Points, Amount: doc.Amount, ProgramID: doc.ProgramID, EntryID: doc.EntryID}
}

func timeOrNow(t time.Time, now time.Time) time.Time {
	if t.IsZero() {
		return now.UTC()
	}
	return t.UTC()
}

func firstNonZeroTime(values ...time.Time) time.Time {
	for _, v := range values {
		if !v.IsZero() {
			return v
		}
	}
	return time.Time{}
}
