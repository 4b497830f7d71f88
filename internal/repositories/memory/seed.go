package memory

import (
	"strings"

	domain "github.com/hanko-field/webshop/internal/domain"
)

// PutSettings replaces the shop settings singleton.
func (s *Store) PutSettings(settings domain.WebshopSettings) {
	s.write(func(t *tables) {
		copied := cloneSettings(settings)
		t.settings = &copied
	})
}

// PutItem stores a catalog item.
func (s *Store) PutItem(item domain.CatalogItem) {
	s.write(func(t *tables) { t.items[item.ItemCode] = item })
}

// PutPrice stores an item price on a price list.
func (s *Store) PutPrice(price domain.ItemPrice) {
	s.write(func(t *tables) { t.prices[priceKey(price.ItemCode, price.PriceList)] = price })
}

// PutStock stores the stock level of an item in a warehouse.
func (s *Store) PutStock(level domain.StockLevel) {
	s.write(func(t *tables) { t.stock[stockKey(level.ItemCode, level.Warehouse)] = level })
}

// PutShippingRule stores a shipping rule.
func (s *Store) PutShippingRule(rule domain.ShippingRule) {
	s.write(func(t *tables) { t.shippingRules[rule.ID] = rule })
}

// PutLoyaltyProgram stores a loyalty program.
func (s *Store) PutLoyaltyProgram(program domain.LoyaltyProgram) {
	s.write(func(t *tables) { t.programs[program.ID] = program })
}

// PutCustomer stores a customer as-is.
func (s *Store) PutCustomer(customer domain.Customer) {
	s.write(func(t *tables) { t.customers[customer.ID] = cloneCustomer(customer) })
}

// PutContact stores a contact.
func (s *Store) PutContact(contact domain.Contact) {
	s.write(func(t *tables) { t.contacts[contact.ID] = contact })
}

// PutAddress stores an address.
func (s *Store) PutAddress(address domain.Address) {
	s.write(func(t *tables) { t.addresses[address.ID] = address })
}

// PutCoupon stores a coupon as-is.
func (s *Store) PutCoupon(coupon domain.Coupon) {
	s.write(func(t *tables) { t.coupons[coupon.Code] = coupon })
}

// PutPricingRule stores a pricing rule.
func (s *Store) PutPricingRule(rule domain.PricingRule) {
	s.write(func(t *tables) { t.pricingRules[rule.ID] = rule })
}

// PutLoyaltyEntry stores a ledger entry as-is.
func (s *Store) PutLoyaltyEntry(entry domain.LoyaltyPointEntry) {
	s.write(func(t *tables) { t.loyaltyEntries[entry.ID] = entry })
}

// Coupons returns every stored coupon.
func (s *Store) Coupons() []domain.Coupon {
	var out []domain.Coupon
	s.read(func(t *tables) {
		for _, c := range t.coupons {
			out = append(out, c)
		}
	})
	return out
}

// LoyaltyEntries returns every ledger entry.
func (s *Store) LoyaltyEntries() []domain.LoyaltyPointEntry {
	var out []domain.LoyaltyPointEntry
	s.read(func(t *tables) {
		for _, e := range t.loyaltyEntries {
			out = append(out, e)
		}
	})
	return out
}

// CartCount returns the number of stored carts.
func (s *Store) CartCount() int {
	var n int
	s.read(func(t *tables) { n = len(t.carts) })
	return n
}

// CustomerCount returns the number of stored customers.
func (s *Store) CustomerCount() int {
	var n int
	s.read(func(t *tables) { n = len(t.customers) })
	return n
}

// OrderCount returns the number of stored orders.
func (s *Store) OrderCount() int {
	var n int
	s.read(func(t *tables) { n = len(t.orders) })
	return n
}

func priceKey(itemCode, priceList string) string {
	return strings.TrimSpace(itemCode) + "|" + strings.TrimSpace(priceList)
}

func stockKey(itemCode, warehouse string) string {
	return strings.TrimSpace(itemCode) + "|" + strings.TrimSpace(warehouse)
}
