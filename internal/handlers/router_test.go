package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/webshop/internal/domain"
	"github.com/hanko-field/webshop/internal/services"
)

func routeRequest(router http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	code, _ := body["error"].(string)
	return code
}

func tagHeader(value string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("X-Chain", value)
			next.ServeHTTP(w, r)
		})
	}
}

func noContent(r chi.Router) {
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	r.Post("/{action}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
}

func TestRouterProbes(t *testing.T) {
	health := NewHealthHandlers(WithHealthSystemService(&stubSystemService{report: services.SystemHealthReport{
		Status: domain.HealthStatusError,
		Checks: map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusError}},
	}}))
	router := NewRouter(WithHealthHandlers(health))

	live := routeRequest(router, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, live.Code)
	assert.Contains(t, live.Header().Get("Content-Type"), "application/json")

	assert.Equal(t, http.StatusServiceUnavailable, routeRequest(router, http.MethodGet, "/readyz").Code)
}

func TestRouterUnregisteredGroupsAnswerNotImplemented(t *testing.T) {
	router := NewRouter()
	for _, path := range []string{
		"/api/v1/cart",
		"/api/v1/guest",
		"/api/v1/checkout",
		"/api/v1/orders",
		"/api/v1/payments",
		"/webhooks",
		"/internal",
	} {
		t.Run(path, func(t *testing.T) {
			rec := routeRequest(router, http.MethodGet, path)
			assert.Equal(t, http.StatusNotImplemented, rec.Code)
			assert.Equal(t, "not_implemented", decodeErrorCode(t, rec))
		})
	}
}

func TestRouterUnknownPath(t *testing.T) {
	rec := routeRequest(NewRouter(), http.MethodGet, "/api/v2/cart")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "route_not_found", decodeErrorCode(t, rec))
}

func TestRouterRegistrarsReplaceFallback(t *testing.T) {
	router := NewRouter(
		WithCartRoutes(noContent),
		WithGuestRoutes(noContent),
		WithCheckoutRoutes(noContent),
		WithOrderRoutes(noContent),
		WithPaymentRoutes(noContent),
		WithWebhookRoutes(noContent),
		WithInternalRoutes(noContent),
	)

	assert.Equal(t, http.StatusNoContent, routeRequest(router, http.MethodGet, "/api/v1/checkout").Code)
	assert.Equal(t, http.StatusNoContent, routeRequest(router, http.MethodPost, "/api/v1/guest/login").Code)
	assert.Equal(t, http.StatusNoContent, routeRequest(router, http.MethodPost, "/webhooks/stripe").Code)
	assert.Equal(t, http.StatusNoContent, routeRequest(router, http.MethodPost, "/internal/invoices").Code)
}

func TestRouterMiddlewareChainsStaySeparate(t *testing.T) {
	router := NewRouter(
		WithShopperMiddlewares(tagHeader("shopper")),
		WithWebhookMiddlewares(tagHeader("webhook")),
		WithInternalMiddlewares(tagHeader("internal")),
		WithCartRoutes(noContent),
		WithPaymentRoutes(noContent),
		WithWebhookRoutes(noContent),
		WithInternalRoutes(noContent),
	)

	cases := map[string]string{
		"/api/v1/cart/lines":      "shopper",
		"/api/v1/payments/create": "shopper",
		"/webhooks/stripe":        "webhook",
		"/internal/invoices":      "internal",
	}
	for path, want := range cases {
		rec := routeRequest(router, http.MethodPost, path)
		require.Equal(t, http.StatusNoContent, rec.Code, path)
		assert.Equal(t, []string{want}, rec.Header().Values("X-Chain"), path)
	}
}

func TestRouterGlobalMiddlewareRunsFirst(t *testing.T) {
	router := NewRouter(
		WithMiddlewares(tagHeader("global")),
		WithShopperMiddlewares(tagHeader("shopper")),
		WithCartRoutes(noContent),
	)

	rec := routeRequest(router, http.MethodGet, "/api/v1/cart")
	assert.Equal(t, []string{"global", "shopper"}, rec.Header().Values("X-Chain"))
}
