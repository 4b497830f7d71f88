package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/webshop/internal/domain"
)

func TestGuestSessionEnsureSession(t *testing.T) {
	f := newShopFixture(t)

	token, issued := f.guests.EnsureSession(" 0b8e7f7a-52c1-4b43-9a40-8a3f2a6b1d55 ")
	if issued || token != "0b8e7f7a-52c1-4b43-9a40-8a3f2a6b1d55" {
		t.Fatalf("expected existing token to be kept, got %q issued=%v", token, issued)
	}
	for _, raw := range []string{"", "not-a-uuid"} {
		token, issued := f.guests.EnsureSession(raw)
		if !issued || token != testGuestToken {
			t.Fatalf("expected new token for %q, got %q issued=%v", raw, token, issued)
		}
	}
}

func TestGuestSessionCreateOrUpdateGuestCart(t *testing.T) {
	f := newShopFixture(t)
	ctx := context.Background()

	cart, err := f.guests.CreateOrUpdateGuestCart(ctx, testGuestToken, nil)
	if err != nil || cart != nil {
		t.Fatalf("expected no cart before any items, got %+v err=%v", cart, err)
	}

	cart, err = f.guests.CreateOrUpdateGuestCart(ctx, testGuestToken, []GuestCartItem{
		{ItemCode: "MUG", Quantity: 1},
		{ItemCode: "TEE", Quantity: 1},
		{ItemCode: "MUG", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("create guest cart: %v", err)
	}
	if cart == nil || !cart.Owner.IsGuest() || cart.CustomerName != "Guest" {
		t.Fatalf("unexpected guest cart %+v", cart)
	}
	if got := lineQuantities(*cart); len(cart.Lines) != 2 || got["MUG"] != 2 || got["TEE"] != 1 {
		t.Fatalf("unexpected lines %+v", cart.Lines)
	}

	replaced, err := f.guests.CreateOrUpdateGuestCart(ctx, testGuestToken, []GuestCartItem{{ItemCode: "TEE", Quantity: 3}})
	if err != nil {
		t.Fatalf("replace guest cart: %v", err)
	}
	if replaced.ID != cart.ID || len(replaced.Lines) != 1 || replaced.Lines[0].Quantity != 3 {
		t.Fatalf("expected lines to be replaced on the same cart, got %+v", replaced)
	}

	existing, err := f.guests.CreateOrUpdateGuestCart(ctx, testGuestToken, nil)
	if err != nil || existing == nil || existing.ID != cart.ID {
		t.Fatalf("expected existing cart without items, got %+v err=%v", existing, err)
	}
}

func TestGuestSessionCreateOrUpdateGuestCartValidation(t *testing.T) {
	f := newShopFixture(t)
	ctx := context.Background()

	if _, err := f.guests.CreateOrUpdateGuestCart(ctx, "bad", nil); !errors.Is(err, ErrGuestSessionInvalid) {
		t.Fatalf("expected invalid token, got %v", err)
	}
	if _, err := f.guests.CreateOrUpdateGuestCart(ctx, testGuestToken, []GuestCartItem{{ItemCode: "MUG", Quantity: 0}}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid quantity, got %v", err)
	}
	gift := &GiftCardData{RecipientName: "Bob"}
	if _, err := f.guests.CreateOrUpdateGuestCart(ctx, testGuestToken, []GuestCartItem{{ItemCode: "MUG", Quantity: 1, GiftCard: gift}}); !errors.Is(err, ErrCartPriceOverride) {
		t.Fatalf("expected gift payload on regular item to be rejected, got %v", err)
	}

	f.updateSettings(func(s *domain.WebshopSettings) { s.EnableGuestCart = false })
	if f.guests.Enabled(ctx) {
		t.Fatalf("expected guest carts to be disabled")
	}
	if _, err := f.guests.CreateOrUpdateGuestCart(ctx, testGuestToken, []GuestCartItem{{ItemCode: "MUG", Quantity: 1}}); !errors.Is(err, ErrGuestCartDisabled) {
		t.Fatalf("expected disabled error, got %v", err)
	}
}

func TestGuestSessionMergeUnionsLines(t *testing.T) {
	f := newShopFixture(t)
	ctx := context.Background()

	guestCart, err := f.guests.CreateOrUpdateGuestCart(ctx, testGuestToken, []GuestCartItem{
		{ItemCode: "MUG", Quantity: 2},
		{ItemCode: "TEE", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("create guest cart: %v", err)
	}
	f.store.PutLoyaltyEntry(domain.LoyaltyPointEntry{ID: "LPE-GUEST", CustomerID: "GUEST", ProgramID: "LOY", Points: -10, CartID: guestCart.ID})
	userCart := f.addLine(t, testShopper, "MUG", "1")

	result := f.guests.Merge(ctx, testShopper, testGuestToken)
	if !result.Merged || result.Message != GuestCartAssignedMessage {
		t.Fatalf("expected merged result, got %+v", result)
	}
	if result.CartID != userCart.ID || result.ItemCount != 4 {
		t.Fatalf("expected the user cart to receive the lines, got %+v", result)
	}

	merged := f.openCart(t, testShopper)
	got := lineQuantities(merged)
	if len(merged.Lines) != 2 || got["MUG"] != 3 || got["TEE"] != 1 {
		t.Fatalf("unexpected merged lines %+v", merged.Lines)
	}
	if merged.Totals.NetTotal != 3*1500+2500 {
		t.Fatalf("expected merged cart to be repriced, got %d", merged.Totals.NetTotal)
	}
	if leftover, err := f.guests.CreateOrUpdateGuestCart(ctx, testGuestToken, nil); err != nil || leftover != nil {
		t.Fatalf("expected guest cart to be deleted, got %+v err=%v", leftover, err)
	}
	if entries := f.ledgerEntriesForCart(guestCart.ID); len(entries) != 0 {
		t.Fatalf("expected guest cart entries to be released, got %+v", entries)
	}
	if n := f.store.CartCount(); n != 1 {
		t.Fatalf("expected one cart to remain, got %d", n)
	}

	if again := f.guests.Merge(ctx, testShopper, testGuestToken); again != (MergeResult{}) {
		t.Fatalf("expected second merge to be a no-op, got %+v", again)
	}
}

func TestGuestSessionMergeCreatesUserCart(t *testing.T) {
	f := newShopFixture(t)
	ctx := context.Background()

	if _, err := f.guests.CreateOrUpdateGuestCart(ctx, testGuestToken, []GuestCartItem{{ItemCode: "TEE", Quantity: 2}}); err != nil {
		t.Fatalf("create guest cart: %v", err)
	}
	result := f.guests.Merge(ctx, testShopper, testGuestToken)
	if !result.Merged || result.ItemCount != 2 {
		t.Fatalf("expected merge into a new user cart, got %+v", result)
	}
	cart := f.openCart(t, testShopper)
	if cart.Owner.PartyID != testPartyID || cart.CustomerName != "Ada Lovelace" {
		t.Fatalf("unexpected user cart %+v", cart)
	}
}

func TestGuestSessionMergeIgnoresAnonymousShopper(t *testing.T) {
	f := newShopFixture(t)
	ctx := context.Background()

	if _, err := f.guests.CreateOrUpdateGuestCart(ctx, testGuestToken, []GuestCartItem{{ItemCode: "TEE", Quantity: 1}}); err != nil {
		t.Fatalf("create guest cart: %v", err)
	}
	if result := f.guests.Merge(ctx, Shopper{GuestToken: testGuestToken}, testGuestToken); result.Merged {
		t.Fatalf("expected anonymous merge to be skipped, got %+v", result)
	}
	if result := f.guests.Merge(ctx, testShopper, ""); result.Merged {
		t.Fatalf("expected merge without token to be skipped, got %+v", result)
	}
}

type failingUnitOfWork struct{ err error }

func (u failingUnitOfWork) RunInTx(context.Context, func(context.Context) error) error { return u.err }

func TestGuestSessionMergeFailureKeepsBothCarts(t *testing.T) {
	cases := []struct {
		name     string
		userCart bool
	}{
		{name: "user without cart"},
		{name: "user with cart", userCart: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newShopFixture(t)
			ctx := context.Background()

			guestCart, err := f.guests.CreateOrUpdateGuestCart(ctx, testGuestToken, []GuestCartItem{{ItemCode: "TEE", Quantity: 2}})
			if err != nil {
				t.Fatalf("create guest cart: %v", err)
			}
			var userCart Cart
			if tc.userCart {
				userCart = f.addLine(t, testShopper, "MUG", "1")
			}

			txErr := errors.New("transaction aborted")
			guests, err := NewGuestSessionService(GuestSessionServiceDeps{
				Carts:          f.reg.Carts(),
				Settings:       f.reg.Settings(),
				Catalog:        f.reg.Catalog(),
				Customers:      f.reg.Customers(),
				Parties:        f.customers,
				UnitOfWork:     failingUnitOfWork{err: txErr},
				Pricer:         f.pricer,
				Events:         f.bus,
				Clock:          func() time.Time { return fixtureNow },
				IDGenerator:    f.ids.next,
				TokenGenerator: func() string { return testGuestToken },
			})
			if err != nil {
				t.Fatalf("new guest session service: %v", err)
			}

			result := guests.Merge(ctx, testShopper, testGuestToken)
			if result.Merged || !errors.Is(result.Err, txErr) {
				t.Fatalf("expected failed merge to report the error, got %+v", result)
			}

			kept, err := f.guests.CreateOrUpdateGuestCart(ctx, testGuestToken, nil)
			if err != nil || kept == nil || kept.ID != guestCart.ID || len(kept.Lines) != 1 || kept.Lines[0].Quantity != 2 {
				t.Fatalf("expected guest cart to survive, got %+v err=%v", kept, err)
			}

			current, err := f.carts.GetCart(ctx, testShopper)
			if !tc.userCart {
				if !errors.Is(err, ErrCartNotFound) {
					t.Fatalf("expected no user cart to be left behind, got %+v err=%v", current, err)
				}
				if n := f.store.CartCount(); n != 1 {
					t.Fatalf("expected only the guest cart, got %d carts", n)
				}
				return
			}
			if err != nil {
				t.Fatalf("get user cart: %v", err)
			}
			got := lineQuantities(current)
			if current.ID != userCart.ID || len(current.Lines) != 1 || got["MUG"] != 1 {
				t.Fatalf("expected user cart to be unchanged, got %+v", current.Lines)
			}
		})
	}
}
