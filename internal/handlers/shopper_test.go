package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hanko-field/webshop/internal/platform/auth"
	"github.com/hanko-field/webshop/internal/services"
)

func captureShopper(got *services.Shopper) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		shopper, ok := ShopperFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		*got = shopper
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestShopperMiddlewareAuthenticatedUser(t *testing.T) {
	customers := &stubCustomerService{partyID: "CUST-1"}
	guests := &stubGuestService{enabled: true}
	var got services.Shopper
	handler := ShopperMiddleware(customers, guests, CookieSettings{})(captureShopper(&got))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1", Email: "ada@example.com", Name: "Ada"}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got.UserID != "user-1" || got.PartyID != "CUST-1" || got.Email != "ada@example.com" || got.GuestToken != "" {
		t.Fatalf("unexpected shopper %+v", got)
	}
	if len(guests.merged) != 0 {
		t.Fatalf("expected no merge without guest cookie")
	}
}

func TestShopperMiddlewareMergesGuestCartOnSignIn(t *testing.T) {
	customers := &stubCustomerService{partyID: "CUST-1"}
	guests := &stubGuestService{enabled: true, merge: services.MergeResult{Merged: true, CartID: "cart-9", ItemCount: 3}}
	var got services.Shopper
	handler := ShopperMiddleware(customers, guests, CookieSettings{Secure: true})(captureShopper(&got))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.AddCookie(&http.Cookie{Name: defaultGuestCookie, Value: testGuest.GuestToken})
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if len(guests.merged) != 1 || guests.merged[0] != "user-1<-"+testGuest.GuestToken {
		t.Fatalf("unexpected merges %v", guests.merged)
	}
	if customers.resolved != 2 {
		t.Fatalf("expected shopper to be resolved again after merge, got %d", customers.resolved)
	}
	if got.GuestToken != "" {
		t.Fatalf("expected signed-in shopper to drop the guest token, got %+v", got)
	}
	cleared := findCookie(rr, defaultGuestCookie)
	if cleared == nil || cleared.MaxAge >= 0 || !cleared.Secure {
		t.Fatalf("expected guest cookie to be cleared, got %+v", cleared)
	}
	if count := findCookie(rr, defaultCartCountCookie); count == nil || count.Value != "3" {
		t.Fatalf("expected merged cart count, got %+v", count)
	}
}

func TestShopperMiddlewareGuestCookieAfterMerge(t *testing.T) {
	cases := []struct {
		name    string
		result  services.MergeResult
		cleared bool
	}{
		{name: "merged", result: services.MergeResult{Merged: true, CartID: "cart-9", ItemCount: 1}, cleared: true},
		{name: "no guest cart", result: services.MergeResult{}, cleared: true},
		{name: "merge failed", result: services.MergeResult{Err: errors.New("firestore unavailable")}, cleared: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			guests := &stubGuestService{enabled: true, merge: tc.result}
			var got services.Shopper
			handler := ShopperMiddleware(&stubCustomerService{partyID: "CUST-1"}, guests, CookieSettings{})(captureShopper(&got))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
			req.AddCookie(&http.Cookie{Name: defaultGuestCookie, Value: testGuest.GuestToken})
			req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusNoContent || len(guests.merged) != 1 {
				t.Fatalf("expected request to pass after one merge attempt, got %d %v", rr.Code, guests.merged)
			}
			if cleared := findCookie(rr, defaultGuestCookie) != nil; cleared != tc.cleared {
				t.Fatalf("expected cookie cleared=%v, got %v", tc.cleared, cleared)
			}
		})
	}
}

func TestShopperMiddlewareIssuesGuestSessionOnWrite(t *testing.T) {
	token := "9b2e7c41-1d3a-4f5b-8c6d-7e8f9a0b1c2d"
	guests := &stubGuestService{enabled: true, token: token}
	var got services.Shopper
	handler := ShopperMiddleware(nil, guests, CookieSettings{})(captureShopper(&got))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/cart/lines", nil))

	if got.GuestToken != token || got.IsAuthenticated() {
		t.Fatalf("unexpected shopper %+v", got)
	}
	cookie := findCookie(rr, defaultGuestCookie)
	if cookie == nil || cookie.Value != token || !cookie.HttpOnly || cookie.MaxAge != 7*24*60*60 {
		t.Fatalf("unexpected guest cookie %+v", cookie)
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Fatalf("expected SameSite=Lax, got %v", cookie.SameSite)
	}
}

func TestShopperMiddlewareAnonymousReads(t *testing.T) {
	guests := &stubGuestService{enabled: true, token: "unused"}
	var got services.Shopper
	handler := ShopperMiddleware(nil, guests, CookieSettings{})(captureShopper(&got))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	if got.GuestToken != "" || findCookie(rr, defaultGuestCookie) != nil {
		t.Fatalf("expected reads not to start a session, got %+v", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.AddCookie(&http.Cookie{Name: defaultGuestCookie, Value: testGuest.GuestToken})
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if got.GuestToken != testGuest.GuestToken {
		t.Fatalf("expected existing guest token, got %+v", got)
	}
}

func TestShopperMiddlewareGuestsDisabled(t *testing.T) {
	guests := &stubGuestService{enabled: false, token: "unused"}
	var got services.Shopper
	handler := ShopperMiddleware(nil, guests, CookieSettings{})(captureShopper(&got))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/lines", nil)
	req.AddCookie(&http.Cookie{Name: defaultGuestCookie, Value: testGuest.GuestToken})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got.GuestToken != "" || findCookie(rr, defaultGuestCookie) != nil {
		t.Fatalf("expected no guest session when disabled, got %+v", got)
	}
}

func TestShopperRequester(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if got := ShopperRequester(req); got != "" {
		t.Fatalf("expected empty requester, got %q", got)
	}
	req = req.WithContext(withShopper(req.Context(), testGuest, CookieSettings{}))
	if got := ShopperRequester(req); got != "guest:"+testGuest.GuestToken {
		t.Fatalf("unexpected requester %q", got)
	}
}
