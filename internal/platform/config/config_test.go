package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, env map[string]string, opts ...Option) (Config, error) {
	t.Helper()
	base := []Option{WithEnvMap(env), WithoutSystemEnv(), WithEnvFile("")}
	return Load(context.Background(), append(base, opts...)...)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(t, map[string]string{"API_FIREBASE_PROJECT_ID": "shop-dev"})
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "shop-dev", cfg.Firestore.ProjectID)
	assert.Equal(t, "shop-dev", cfg.PubSub.ProjectID)
	assert.Equal(t, "shop-dev", cfg.Secrets.ProjectID)
	assert.Empty(t, cfg.PubSub.EventsTopic)
	assert.Equal(t, "guest_session_id", cfg.Guest.CookieName)
	assert.Equal(t, 7*24*time.Hour, cfg.Guest.CookieTTL)
	assert.True(t, cfg.Guest.CookieSecure)
	assert.Equal(t, "cart_count", cfg.Guest.CartCountCookie)
	assert.Equal(t, "/thank_you", cfg.Shop.ThankYouPath)
	assert.Equal(t, "/payment-failed", cfg.Shop.FailurePath)
	assert.Equal(t, "SO-.YYYY.-.######", cfg.Shop.OrderSeries)
	assert.Equal(t, "local", cfg.Security.Environment)
	assert.Equal(t, defaultJWKSURL, cfg.Security.JWKSURL)
	assert.Equal(t, []string{defaultGoogleIssuer, defaultIAPIssuer}, cfg.Security.OIDCIssuers)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL)
	assert.Equal(t, "idempotencyKeys", cfg.Idempotency.Collection)
	assert.Equal(t, 120, cfg.Payments.WebhookPerMinute)
	assert.Empty(t, cfg.Payments.GatewaySecrets)
}

func TestLoadOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                    "9090",
		"API_SERVER_READ_TIMEOUT":            "20s",
		"API_FIREBASE_PROJECT_ID":            "shop-prod",
		"API_PUBSUB_EVENTS_TOPIC":            "webshop-events",
		"API_PAYMENTS_STRIPE_API_KEY":        "secret://stripe-key",
		"API_PAYMENTS_STRIPE_WEBHOOK_SECRET": "sm://stripe-webhook",
		"API_PAYMENTS_GATEWAY_SECRETS":       "PayPal=secret://paypal-hmac, bank=plain",
		"API_SHOP_PUBLIC_BASE_URL":           "https://shop.example.com/",
		"API_SECURITY_ENVIRONMENT":           "PROD",
		"API_SECURITY_OIDC_AUDIENCE":         "https://api.example.com/internal",
		"API_SECURITY_OIDC_ISSUERS":          "https://accounts.google.com",
		"API_IDEMPOTENCY_REQUIRED":           "yes",
		"API_GUEST_COOKIE_SECURE":            "off",
	}
	var seen []string
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		seen = append(seen, ref)
		return " resolved:" + ref + " ", nil
	})

	cfg, err := load(t, env, WithSecretResolver(resolver))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 20*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "webshop-events", cfg.PubSub.EventsTopic)
	assert.Equal(t, "resolved:secret://stripe-key", cfg.Payments.StripeAPIKey)
	assert.Equal(t, "resolved:sm://stripe-webhook", cfg.Payments.StripeWebhookSecret)
	assert.Equal(t, map[string]string{"paypal": "resolved:secret://paypal-hmac", "bank": "plain"}, cfg.Payments.GatewaySecrets)
	assert.Equal(t, "https://shop.example.com", cfg.Shop.PublicBaseURL)
	assert.Equal(t, "prod", cfg.Security.Environment)
	assert.Equal(t, []string{"https://accounts.google.com"}, cfg.Security.OIDCIssuers)
	assert.True(t, cfg.Idempotency.Required)
	assert.False(t, cfg.Guest.CookieSecure)
	assert.Len(t, seen, 3)
}

func TestLoadReadsDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("# local\nexport API_FIREBASE_PROJECT_ID=\"from-file\"\nAPI_SERVER_PORT=7070\n"), 0o600))

	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv(), WithEnvMap(map[string]string{"API_SERVER_PORT": "6060"}))
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Firebase.ProjectID)
	assert.Equal(t, "6060", cfg.Server.Port)
}

func TestLoadValidation(t *testing.T) {
	_, err := load(t, map[string]string{"API_SECURITY_ENVIRONMENT": "prod", "API_PAYMENTS_STRIPE_API_KEY": "sk_live"})
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, []string{"Firebase.ProjectID", "Security.OIDCAudience", "Payments.StripeWebhookSecret"}, validation.Fields)
}

func TestLoadSecretErrors(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":     "shop-dev",
		"API_PAYMENTS_STRIPE_API_KEY": "secret://stripe-key",
	}

	_, err := load(t, env)
	var secretErr *SecretError
	require.ErrorAs(t, err, &secretErr)
	assert.Equal(t, "Payments.StripeAPIKey", secretErr.Field)
	assert.ErrorIs(t, err, ErrNoSecretResolver)

	boom := errors.New("permission denied")
	_, err = load(t, env, WithSecretResolver(SecretResolverFunc(func(context.Context, string) (string, error) {
		return "", boom
	})))
	assert.ErrorIs(t, err, boom)
}
