package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/hanko-field/webshop/internal/domain"
)

func TestLoyaltyServiceReapplyKeepsSingleRedemption(t *testing.T) {
	f := newShopFixture(t)
	ctx := context.Background()
	f.addLine(t, testShopper, "MUG", "2")

	first, err := f.loyalty.ApplyPoints(ctx, testShopper, "500")
	if err != nil {
		t.Fatalf("apply 500: %v", err)
	}
	if first.Totals.RoundedTotal != 2500 {
		t.Fatalf("expected 25.00 after first redemption, got %d", first.Totals.RoundedTotal)
	}

	cart, err := f.loyalty.ApplyPoints(ctx, testShopper, "300")
	if err != nil {
		t.Fatalf("apply 300: %v", err)
	}
	lines := loyaltyTaxLines(cart)
	if len(lines) != 1 || lines[0].Amount != -300 {
		t.Fatalf("expected a single loyalty line of -300, got %+v", lines)
	}
	entries := f.ledgerEntriesForCart(cart.ID)
	if len(entries) != 1 || entries[0].Points != -300 {
		t.Fatalf("expected a single ledger entry of -300, got %+v", entries)
	}
	if cart.Loyalty == nil || cart.Loyalty.EntryID != entries[0].ID || cart.Loyalty.Points != 300 {
		t.Fatalf("expected cart to reference the entry, got %+v", cart.Loyalty)
	}
	if cart.Totals.RoundedTotal != 2700 {
		t.Fatalf("expected 27.00 after reapplying, got %d", cart.Totals.RoundedTotal)
	}

	summary, err := f.loyalty.Summary(ctx, testShopper, cart)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.AvailablePoints != 1000 || summary.AppliedPoints != 300 || summary.AppliedAmount != 300 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestLoyaltyServiceRejectsInvalidRedemptions(t *testing.T) {
	f := newShopFixture(t)
	ctx := context.Background()
	f.addLine(t, testShopper, "MUG", "2")

	for _, raw := range []string{"abc", "0", "-5", ""} {
		if _, err := f.loyalty.ApplyPoints(ctx, testShopper, raw); !errors.Is(err, ErrLoyaltyInvalidInput) {
			t.Fatalf("points %q: expected invalid input, got %v", raw, err)
		}
	}
	_, err := f.loyalty.ApplyPoints(ctx, testShopper, "1500")
	if !errors.Is(err, ErrLoyaltyInsufficientPoints) {
		t.Fatalf("expected insufficient points, got %v", err)
	}
	if msg := UserMessage(err, ""); msg != "You do not have enough loyalty points (1000 points available)" {
		t.Fatalf("unexpected message %q", msg)
	}
	if _, err := f.loyalty.ApplyPoints(ctx, Shopper{GuestToken: testGuestToken}, "10"); !errors.Is(err, ErrLoyaltyLoginRequired) {
		t.Fatalf("expected login required for guests, got %v", err)
	}
}

func TestLoyaltyServiceRejectsRedemptionAboveTotal(t *testing.T) {
	f := newShopFixture(t)
	ctx := context.Background()
	f.store.PutLoyaltyEntry(domain.LoyaltyPointEntry{ID: "LPE-2", CustomerID: testPartyID, ProgramID: "LOY", Points: 5000, PostingDate: fixtureNow})
	cart := f.addLine(t, testShopper, "MUG", "1")

	if _, err := f.loyalty.ApplyPoints(ctx, testShopper, "2000"); !errors.Is(err, ErrLoyaltyExceedsTotal) {
		t.Fatalf("expected redemption above total to fail, got %v", err)
	}
	if entries := f.ledgerEntriesForCart(cart.ID); len(entries) != 0 {
		t.Fatalf("expected no ledger entry, got %+v", entries)
	}

	if _, err := f.loyalty.ApplyPoints(ctx, testShopper, "1500"); err != nil {
		t.Fatalf("expected redemption of the full total to succeed, got %v", err)
	}
	cart, err := f.loyalty.ApplyPoints(ctx, testShopper, "1500")
	if err != nil {
		t.Fatalf("expected reapplying the same value to succeed, got %v", err)
	}
	if cart.Totals.RoundedTotal != 0 {
		t.Fatalf("expected zero total, got %d", cart.Totals.RoundedTotal)
	}
}

func TestLoyaltyServiceRemovePoints(t *testing.T) {
	f := newShopFixture(t)
	ctx := context.Background()
	f.addLine(t, testShopper, "MUG", "2")
	if _, err := f.loyalty.ApplyPoints(ctx, testShopper, "400"); err != nil {
		t.Fatalf("apply: %v", err)
	}

	cart, err := f.loyalty.RemovePoints(ctx, testShopper)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if cart.Loyalty != nil || len(loyaltyTaxLines(cart)) != 0 {
		t.Fatalf("expected redemption to be removed, got %+v", cart)
	}
	if entries := f.ledgerEntriesForCart(cart.ID); len(entries) != 0 {
		t.Fatalf("expected ledger entry to be removed, got %+v", entries)
	}
	if cart.Totals.RoundedTotal != 3000 {
		t.Fatalf("expected original total, got %d", cart.Totals.RoundedTotal)
	}
}

func TestLoyaltyServiceRequiresProgram(t *testing.T) {
	f := newShopFixture(t)
	ctx := context.Background()
	f.addLine(t, testShopper, "MUG", "2")
	f.store.PutCustomer(domain.Customer{ID: testPartyID, Name: "Ada Lovelace", PrimaryContactID: "CON-1", PortalUsers: []string{testUserID}})

	if _, err := f.loyalty.ApplyPoints(ctx, testShopper, "10"); !errors.Is(err, ErrLoyaltyNotEnrolled) {
		t.Fatalf("expected not enrolled, got %v", err)
	}
	summary, err := f.loyalty.Summary(ctx, testShopper, f.openCart(t, testShopper))
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Enabled {
		t.Fatalf("expected disabled summary, got %+v", summary)
	}
}
