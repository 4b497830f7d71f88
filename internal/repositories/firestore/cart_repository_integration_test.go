//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/hanko-field/webshop/internal/domain"
)

func TestCartRepositoryIntegration_SingleOpenCart(t *testing.T) {
	provider := newEmulatorProvider(t, "cart-test")
	repo, err := NewCartRepository(provider)
	if err != nil {
		t.Fatalf("new cart repository: %v", err)
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	owner := domain.CartOwner{PartyID: "CUST-1"}
	const workers = 8
	ids := make([]string, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			saved, _, err := repo.CreateOpen(ctx, domain.Cart{ID: fmt.Sprintf("cart-%d", idx), Owner: owner, Currency: "EUR"})
			if err != nil {
				t.Errorf("create open %d: %v", idx, err)
				return
			}
			ids[idx] = saved.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("expected every caller to see the same open cart, got %v", ids)
		}
	}

	open, err := repo.FindOpen(ctx, owner)
	if err != nil {
		t.Fatalf("find open: %v", err)
	}
	open.Status = domain.CartStatusSubmitted
	if _, err := repo.Save(ctx, open); err != nil {
		t.Fatalf("submit cart: %v", err)
	}
	if _, err := repo.FindOpen(ctx, owner); !isNotFound(err) {
		t.Fatalf("expected submitted cart to release the open slot, got %v", err)
	}

	order := domain.Order{ID: "ord_" + open.ID, CartRef: open.ID, Currency: "EUR", Status: domain.OrderStatusConfirmed}
	first, created, err := orders.CreateForCart(ctx, order)
	if err != nil || !created {
		t.Fatalf("create order: created=%v err=%v", created, err)
	}
	second, created, err := orders.CreateForCart(ctx, order)
	if err != nil {
		t.Fatalf("create order again: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("expected existing order to be returned, got created=%v id=%s", created, second.ID)
	}
}

func TestCartRepositoryIntegration_JoinsCallerTransaction(t *testing.T) {
	provider := newEmulatorProvider(t, "cart-tx-test")
	repo, err := NewCartRepository(provider)
	if err != nil {
		t.Fatalf("new cart repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	owner := domain.CartOwner{GuestSessionID: "guest-rollback"}
	errAbort := errors.New("abort")
	err = provider.RunInTx(ctx, func(ctx context.Context) error {
		if _, created, err := repo.CreateOpen(ctx, domain.Cart{ID: "cart-rolled-back", Owner: owner, Currency: "EUR"}); err != nil || !created {
			t.Errorf("create open in transaction: created=%v err=%v", created, err)
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("expected abort error, got %v", err)
	}
	if _, err := repo.FindOpen(ctx, owner); !isNotFound(err) {
		t.Fatalf("expected rolled back cart to leave no open cart, got %v", err)
	}
	if _, err := repo.Get(ctx, "cart-rolled-back"); !isNotFound(err) {
		t.Fatalf("expected rolled back cart document to be absent, got %v", err)
	}

	saved, created, err := repo.CreateOpen(ctx, domain.Cart{ID: "cart-kept", Owner: owner, Currency: "EUR"})
	if err != nil || !created {
		t.Fatalf("create open: created=%v err=%v", created, err)
	}
	if err := repo.Delete(ctx, saved.ID); err != nil {
		t.Fatalf("delete cart: %v", err)
	}
	if _, err := repo.FindOpen(ctx, owner); !isNotFound(err) {
		t.Fatalf("expected deleted cart to release the open slot, got %v", err)
	}
}
