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
	itemCollection         = "items"
	itemPriceCollection    = "itemPrices"
	stockCollection        = "stock"
	shippingRuleCollection = "shippingRules"
	settingsCollection     = "settings"
	settingsDocumentID     = "webshop"
)

type itemDocument struct {
	Name        string `firestore:"name"`
	IsGiftCard  bool   `firestore:"isGiftCard"`
	IsStockItem bool   `firestore:"isStockItem"`
	Warehouse   string `firestore:"warehouse,omitempty"`
	Published   bool   `firestore:"published"`
}

type itemPriceDocument struct {
	ItemCode  string `firestore:"itemCode"`
	PriceList string `firestore:"priceList"`
	Currency  string `firestore:"currency"`
	Rate      int64  `firestore:"rate"`
}

type stockDocument struct {
	ItemCode  string `firestore:"itemCode"`
	Warehouse string `firestore:"warehouse"`
	Quantity  int64  `firestore:"qty"`
}

// CatalogRepository reads items, prices and stock. Reads never join a caller transaction.
type CatalogRepository struct {
	items  *pfirestore.BaseRepository[itemDocument]
	prices *pfirestore.BaseRepository[itemPriceDocument]
	stock  *pfirestore.BaseRepository[stockDocument]
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs a Firestore-backed catalog reader.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		items:  pfirestore.NewBaseRepository[itemDocument](provider, itemCollection),
		prices: pfirestore.NewBaseRepository[itemPriceDocument](provider, itemPriceCollection),
		stock:  pfirestore.NewBaseRepository[stockDocument](provider, stockCollection),
	}, nil
}

func (r *CatalogRepository) GetItem(ctx context.Context, itemCode string) (domain.CatalogItem, error) {
	doc, err := r.items.Get(pfirestore.WithoutTransaction(ctx), strings.TrimSpace(itemCode))
	if err != nil {
		return domain.CatalogItem{}, err
	}
	return domain.CatalogItem{
		ItemCode:    doc.ID,
		Name:        doc.Data.Name,
		IsGiftCard:  doc.Data.IsGiftCard,
		IsStockItem: doc.Data.IsStockItem,
		Warehouse:   doc.Data.Warehouse,
		Published:   doc.Data.Published,
	}, nil
}

func (r *CatalogRepository) GetPrice(ctx context.Context, itemCode, priceList string) (domain.ItemPrice, error) {
	doc, err := r.prices.First(pfirestore.WithoutTransaction(ctx), func(q firestore.Query) firestore.Query {
		return q.Where("itemCode", "==", strings.TrimSpace(itemCode)).Where("priceList", "==", strings.TrimSpace(priceList))
	})
	if err != nil {
		return domain.ItemPrice{}, err
	}
	return domain.ItemPrice(doc.Data), nil
}

func (r *CatalogRepository) GetStock(ctx context.Context, itemCode, warehouse string) (domain.StockLevel, error) {
	doc, err := r.stock.First(pfirestore.WithoutTransaction(ctx), func(q firestore.Query) firestore.Query {
		return q.Where("itemCode", "==", strings.TrimSpace(itemCode)).Where("warehouse", "==", strings.TrimSpace(warehouse))
	})
	if err != nil {
		return domain.StockLevel{}, err
	}
	return domain.StockLevel(doc.Data), nil
}

type shippingConditionDocument struct {
	From   int64 `firestore:"from"`
	To     int64 `firestore:"to"`
	Amount int64 `firestore:"amount"`
}

type shippingRuleDocument struct {
	Label      string                      `firestore:"label"`
	Enabled    bool                        `firestore:"enabled"`
	Countries  []string                    `firestore:"countries"`
	Conditions []shippingConditionDocument `firestore:"conditions"`
}

// ShippingRuleRepository reads shipping rules.
type ShippingRuleRepository struct {
	base *pfirestore.BaseRepository[shippingRuleDocument]
}

var _ repositories.ShippingRuleRepository = (*ShippingRuleRepository)(nil)

// NewShippingRuleRepository constructs a Firestore-backed shipping rule reader.
func NewShippingRuleRepository(provider *pfirestore.Provider) (*ShippingRuleRepository, error) {
	if provider == nil {
		return nil, errors.New("shipping rule repository requires firestore provider")
	}
	return &ShippingRuleRepository{base: pfirestore.NewBaseRepository[shippingRuleDocument](provider, shippingRuleCollection)}, nil
}

func (r *ShippingRuleRepository) Get(ctx context.Context, ruleID string) (domain.ShippingRule, error) {
	doc, err := r.base.Get(pfirestore.WithoutTransaction(ctx), strings.TrimSpace(ruleID))
	if err != nil {
		return domain.ShippingRule{}, err
	}
	return decodeShippingRule(doc), nil
}

// ListEnabled returns enabled rules ordered by label.
func (r *ShippingRuleRepository) ListEnabled(ctx context.Context) ([]domain.ShippingRule, error) {
	docs, err := r.base.Query(pfirestore.WithoutTransaction(ctx), func(q firestore.Query) firestore.Query {
		return q.Where("enabled", "==", true).OrderBy("label", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	rules := make([]domain.ShippingRule, 0, len(docs))
	for _, doc := range docs {
		rules = append(rules, decodeShippingRule(doc))
	}
	return rules, nil
}

func decodeShippingRule(doc pfirestore.Document[shippingRuleDocument]) domain.ShippingRule {
	conditions := make([]domain.ShippingCondition, 0, len(doc.Data.Conditions))
	for _, c := range doc.Data.Conditions {
		conditions = append(conditions, domain.ShippingCondition(c))
	}
	return domain.ShippingRule{
		ID:         doc.ID,
		Label:      doc.Data.Label,
		Enabled:    doc.Data.Enabled,
		Countries:  append([]string(nil), doc.Data.Countries...),
		Conditions: conditions,
	}
}

type taxTemplateDocument struct {
	ChargeType  string  `firestore:"chargeType"`
	Description string  `firestore:"description"`
	AccountHead string  `firestore:"accountHead,omitempty"`
	Rate        float64 `firestore:"rate"`
	Amount      int64   `firestore:"amount"`
}

type paymentMethodDocument struct {
	Name          string         `firestore:"name"`
	Gateway       string         `firestore:"gateway"`
	CheckoutTitle string         `firestore:"checkoutTitle,omitempty"`
	Description   string         `firestore:"description,omitempty"`
	Logo          string         `firestore:"logo,omitempty"`
	Currency      string         `firestore:"currency,omitempty"`
	IsDefault     bool           `firestore:"isDefault"`
	Config        map[string]any `firestore:"config,omitempty"`
}

type settingsDocument struct {
	Enabled                bool                    `firestore:"enabled"`
	EnableCheckout         bool                    `firestore:"enableCheckout"`
	EnableGuestCart        bool                    `firestore:"enableGuestCart"`
	GuestCustomerID        string                  `firestore:"guestCustomerId,omitempty"`
	PriceList              string                  `firestore:"priceList"`
	DefaultCurrency        string                  `firestore:"defaultCurrency"`
	DefaultCustomerGroup   string                  `firestore:"defaultCustomerGroup,omitempty"`
	TaxTemplate            []taxTemplateDocument   `firestore:"taxTemplate"`
	AllowItemsNotInStock   bool                    `firestore:"allowItemsNotInStock"`
	PaymentMethods         []paymentMethodDocument `firestore:"paymentMethods"`
	PaymentSuccessURL      string                  `firestore:"paymentSuccessUrl,omitempty"`
	GiftCardValidityMonths int                     `firestore:"giftCardValidityMonths"`
	Terms                  string                  `firestore:"terms,omitempty"`
	UpdatedAt              time.Time               `firestore:"updatedAt"`
}

// SettingsRepository loads the shop settings singleton.
type SettingsRepository struct {
	base *pfirestore.BaseRepository[settingsDocument]
}

var _ repositories.SettingsRepository = (*SettingsRepository)(nil)

// NewSettingsRepository constructs a Firestore-backed settings reader.
func NewSettingsRepository(provider *pfirestore.Provider) (*SettingsRepository, error) {
	if provider == nil {
		return nil, errors.New("settings repository requires firestore provider")
	}
	return &SettingsRepository{base: pfirestore.NewBaseRepository[settingsDocument](provider, settingsCollection)}, nil
}

func (r *SettingsRepository) Get(ctx context.Context) (domain.WebshopSettings, error) {
	doc, err := r.base.Get(pfirestore.WithoutTransaction(ctx), settingsDocumentID)
	if err != nil {
		return domain.WebshopSettings{}, err
	}
	data := doc.Data
	taxes := make([]domain.TaxTemplateLine, 0, len(data.TaxTemplate))
	for _, t := range data.TaxTemplate {
		taxes = append(taxes, domain.TaxTemplateLine{
			ChargeType:  domain.TaxChargeType(t.ChargeType),
			Description: t.Description,
			AccountHead: t.AccountHead,
			Rate:        t.Rate,
			Amount:      t.Amount,
		})
	}
	methods := make([]domain.PaymentMethodConfig, 0, len(data.PaymentMethods))
	for _, m := range data.PaymentMethods {
		methods = append(methods, domain.PaymentMethodConfig(m))
	}
	return domain.WebshopSettings{
		Enabled:                data.Enabled,
		EnableCheckout:         data.EnableCheckout,
		EnableGuestCart:        data.EnableGuestCart,
		GuestCustomerID:        data.GuestCustomerID,
		PriceList:              data.PriceList,
		DefaultCurrency:        data.DefaultCurrency,
		DefaultCustomerGroup:   data.DefaultCustomerGroup,
		TaxTemplate:            taxes,
		AllowItemsNotInStock:   data.AllowItemsNotInStock,
		PaymentMethods:         methods,
		PaymentSuccessURL:      data.PaymentSuccessURL,
		GiftCardValidityMonths: data.GiftCardValidityMonths,
		Terms:                  data.Terms,
		UpdatedAt:              firstNonZeroTime(data.UpdatedAt, doc.UpdateTime),
	}, nil
}
