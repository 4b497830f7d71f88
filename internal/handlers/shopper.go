package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/webshop/internal/platform/auth"
	"github.com/hanko-field/webshop/internal/platform/requestctx"
	"github.com/hanko-field/webshop/internal/services"
)

const (
	defaultGuestCookie     = "guest_session_id"
	defaultCartCountCookie = "cart_count"
	defaultGuestCookieTTL  = 7 * 24 * time.Hour
)

// CookieSettings names and scopes the shopper cookies.
type CookieSettings struct {
	GuestCookie     string
	CartCountCookie string
	TTL             time.Duration
	Secure          bool
}

func (c CookieSettings) withDefaults() CookieSettings {
	if c.GuestCookie == "" {
		c.GuestCookie = defaultGuestCookie
	}
	if c.CartCountCookie == "" {
		c.CartCountCookie = defaultCartCountCookie
	}
	if c.TTL <= 0 {
		c.TTL = defaultGuestCookieTTL
	}
	return c
}

type shopperState struct {
	shopper services.Shopper
	cookies CookieSettings
}

type shopperContextKey struct{}

// ShopperFromContext returns the shopper resolved by ShopperMiddleware.
func ShopperFromContext(ctx context.Context) (services.Shopper, bool) {
	state, ok := ctx.Value(shopperContextKey{}).(*shopperState)
	if !ok || state == nil {
		return services.Shopper{}, false
	}
	return state.shopper, true
}

func withShopper(ctx context.Context, shopper services.Shopper, cookies CookieSettings) context.Context {
	return context.WithValue(ctx, shopperContextKey{}, &shopperState{shopper: shopper, cookies: cookies})
}

// ShopperMiddleware turns the optional Firebase identity and the guest cookie into a
// services.Shopper. Signing in with a guest cookie merges the guest cart into the user's cart
// and clears the cookie; a failed merge keeps the cookie. Anonymous writes get a fresh guest session when guest carts are enabled.
func ShopperMiddleware(customers services.CustomerService, guests services.GuestSessionService, cookies CookieSettings) func(http.Handler) http.Handler {
	cookies = cookies.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := requestctx.Logger(ctx)
			token := guestCookie(r, cookies.GuestCookie)

			var shopper services.Shopper
			if identity, ok := auth.IdentityFromContext(ctx); ok {
				shopper = services.Shopper{UserID: identity.UID, Email: identity.Email, DisplayName: identity.Name}
				shopper = resolveShopper(ctx, customers, shopper)
				if token != "" {
					var result services.MergeResult
					if guests != nil {
						result = guests.Merge(ctx, shopper, token)
						if result.Merged {
							logger.Info("guest cart merged", zap.String("cart_id", result.CartID), zap.Int64("items", result.ItemCount))
							setCartCount(w, cookies, result.ItemCount)
							shopper = resolveShopper(ctx, customers, shopper)
						}
					}
					if result.Err != nil {
						// cookie stays so the next request retries the merge
						logger.Warn("guest cart merge failed", zap.Error(result.Err))
					} else {
						clearCookie(w, cookies, cookies.GuestCookie)
					}
				}
			} else if guests != nil && guests.Enabled(ctx) {
				if token == "" && r.Method != http.MethodGet && r.Method != http.MethodHead {
					fresh, created := guests.EnsureSession("")
					if created {
						http.SetCookie(w, &http.Cookie{
							Name:     cookies.GuestCookie,
							Value:    fresh,
							Path:     "/",
							MaxAge:   int(cookies.TTL / time.Second),
							HttpOnly: true,
							Secure:   cookies.Secure,
							SameSite: http.SameSiteLaxMode,
						})
					}
					token = fresh
				}
				shopper.GuestToken = token
			}

			next.ServeHTTP(w, r.WithContext(withShopper(ctx, shopper, cookies)))
		})
	}
}

func resolveShopper(ctx context.Context, customers services.CustomerService, shopper services.Shopper) services.Shopper {
	if customers == nil {
		return shopper
	}
	resolved, err := customers.ResolveShopper(ctx, shopper)
	if err != nil {
		requestctx.Logger(ctx).Warn("resolve shopper failed", zap.String("user_id", shopper.UserID), zap.Error(err))
		return shopper
	}
	return resolved
}

// guestCookie returns the guest token when the cookie holds a well formed session id.
func guestCookie(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	value := strings.TrimSpace(cookie.Value)
	if len(value) != 36 {
		return ""
	}
	return value
}

func clearCookie(w http.ResponseWriter, cookies CookieSettings, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: name == cookies.GuestCookie,
		Secure:   cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// setCartCount mirrors the cart size into a script readable cookie for the storefront badge.
func setCartCount(w http.ResponseWriter, cookies CookieSettings, count int64) {
	if count <= 0 {
		clearCookie(w, cookies, cookies.CartCountCookie)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookies.CartCountCookie,
		Value:    formatInt(count),
		Path:     "/",
		Secure:   cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// shopperOf returns the request shopper and its cookie settings.
func shopperOf(r *http.Request) (services.Shopper, CookieSettings) {
	state, ok := r.Context().Value(shopperContextKey{}).(*shopperState)
	if !ok || state == nil {
		return services.Shopper{}, CookieSettings{}.withDefaults()
	}
	return state.shopper, state.cookies
}

// ShopperRequester scopes idempotency keys to the resolved shopper.
func ShopperRequester(r *http.Request) string {
	shopper, ok := ShopperFromContext(r.Context())
	if !ok {
		return ""
	}
	switch {
	case shopper.UserID != "":
		return "user:" + shopper.UserID
	case shopper.GuestToken != "":
		return "guest:" + shopper.GuestToken
	}
	return ""
}
