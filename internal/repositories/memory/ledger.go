package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/hanko-field/webshop/internal/domain"
	"github.com/hanko-field/webshop/internal/repositories"
)

type loyaltyRepo struct{ s *Store }

func (r loyaltyRepo) GetProgram(_ context.Context, programID string) (domain.LoyaltyProgram, error) {
	var (
		program domain.LoyaltyProgram
		ok      bool
	)
	r.s.read(func(t *tables) { program, ok = t.programs[strings.TrimSpace(programID)] })
	if !ok {
		return domain.LoyaltyProgram{}, notFound("loyalty_programs.get")
	}
	return program, nil
}

func (r loyaltyRepo) Balance(_ context.Context, customerID, programID, excludeCartID string, now time.Time) (int64, error) {
	var total int64
	r.s.read(func(t *tables) {
		for _, entry := range t.loyaltyEntries {
			if entry.CustomerID != customerID || entry.ProgramID != programID {
				continue
			}
			if excludeCartID != "" && entry.CartID == excludeCartID {
				continue
			}
			if entry.ExpiresAt != nil && !entry.ExpiresAt.After(now) {
				continue
			}
			total += entry.Points
		}
	})
	return total, nil
}

func (r loyaltyRepo) CreateEntry(_ context.Context, entry domain.LoyaltyPointEntry) (domain.LoyaltyPointEntry, error) {
	var err error
	r.s.write(func(t *tables) {
		if _, ok := t.loyaltyEntries[entry.ID]; ok {
			err = conflict("loyalty_entries.create", nil)
			return
		}
		t.loyaltyEntries[entry.ID] = entry
	})
	if err != nil {
		return domain.LoyaltyPointEntry{}, err
	}
	return entry, nil
}

func (r loyaltyRepo) GetEntry(_ context.Context, entryID string) (domain.LoyaltyPointEntry, error) {
	var (
		entry domain.LoyaltyPointEntry
		ok    bool
	)
	r.s.read(func(t *tables) { entry, ok = t.loyaltyEntries[entryID] })
	if !ok {
		return domain.LoyaltyPointEntry{}, notFound("loyalty_entries.get")
	}
	return entry, nil
}

func (r loyaltyRepo) SaveEntry(_ context.Context, entry domain.LoyaltyPointEntry) (domain.LoyaltyPointEntry, error) {
	r.s.write(func(t *tables) { t.loyaltyEntries[entry.ID] = entry })
	return entry, nil
}

func (r loyaltyRepo) DeleteEntry(_ context.Context, entryID string) error {
	r.s.write(func(t *tables) { delete(t.loyaltyEntries, entryID) })
	return nil
}

func (r loyaltyRepo) DeleteByCart(_ context.Context, cartID string) (int, error) {
	if strings.TrimSpace(cartID) == "" {
		return 0, nil
	}
	var n int
	r.s.write(func(t *tables) {
		for id, entry := range t.loyaltyEntries {
			if entry.CartID == cartID {
				delete(t.loyaltyEntries, id)
				n++
			}
		}
	})
	return n, nil
}

type couponRepo struct{ s *Store }

func (r couponRepo) Get(_ context.Context, code string) (domain.Coupon, error) {
	var (
		coupon domain.Coupon
		ok     bool
	)
	r.s.read(func(t *tables) { coupon, ok = t.coupons[strings.TrimSpace(code)] })
	if !ok {
		return domain.Coupon{}, notFound("coupons.get")
	}
	return coupon, nil
}

func (r couponRepo) Create(_ context.Context, coupon domain.Coupon) (domain.Coupon, error) {
	coupon.Code = strings.TrimSpace(coupon.Code)
	var err error
	r.s.write(func(t *tables) {
		if _, ok := t.coupons[coupon.Code]; ok {
			err = conflict("coupons.create", fmt.Errorf("coupon %s exists", coupon.Code))
			return
		}
		if coupon.CreatedAt.IsZero() {
			coupon.CreatedAt = r.s.clock()
		}
		t.coupons[coupon.Code] = coupon
	})
	if err != nil {
		return domain.Coupon{}, err
	}
	return coupon, nil
}

func (r couponRepo) Save(_ context.Context, coupon domain.Coupon) (domain.Coupon, error) {
	r.s.write(func(t *tables) { t.coupons[coupon.Code] = coupon })
	return coupon, nil
}

func (r couponRepo) ListByInvoice(_ context.Context, invoiceID string) ([]domain.Coupon, error) {
	var out []domain.Coupon
	r.s.read(func(t *tables) {
		for _, c := range t.coupons {
			if c.InvoiceID == invoiceID {
				out = append(out, c)
			}
		}
	})
	slices.SortFunc(out, func(a, b domain.Coupon) int { return strings.Compare(a.Code, b.Code) })
	return out, nil
}

type counterRepo struct{ s *Store }

func (r counterRepo) Next(_ context.Context, key string) (int64, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, repositories.ErrInvalidCounterKey
	}
	var next int64
	r.s.write(func(t *tables) {
		next = t.counters[key] + 1
		t.counters[key] = next
	})
	return next, nil
}

func (r counterRepo) Current(_ context.Context, key string) (int64, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, repositories.ErrInvalidCounterKey
	}
	var current int64
	r.s.read(func(t *tables) { current = t.counters[key] })
	return current, nil
}

func (r counterRepo) Reset(_ context.Context, key string, value int64) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return repositories.ErrInvalidCounterKey
	}
	if value < 0 {
		return fmt.Errorf("counter %s: value must not be negative, got %d", key, value)
	}
	r.s.write(func(t *tables) { t.counters[key] = value })
	return nil
}
