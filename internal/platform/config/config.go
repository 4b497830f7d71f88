// Package config loads the webshop API configuration from defaults, a .env file, the process
// environment and secret references.
package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile         = ".env"
	defaultJWKSURL         = "https://www.googleapis.com/oauth2/v3/certs"
	defaultGoogleIssuer    = "https://accounts.google.com"
	defaultIAPIssuer       = "https://cloud.google.com/iap"
	defaultGuestCookie     = "guest_session_id"
	defaultCartCountCookie = "cart_count"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Payments    PaymentsConfig
	Guest       GuestSessionConfig
	Shop        ShopConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
	Secrets     SecretsConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirebaseConfig stores the Firebase project used to verify shopper ID tokens.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig configures forwarding of lifecycle events. An empty topic disables forwarding.
type PubSubConfig struct {
	ProjectID   string
	EventsTopic string
}

// PaymentsConfig collects payment gateway credentials. GatewaySecrets holds the shared secret
// used to verify callbacks, keyed by normalised gateway type (for example "paypal").
type PaymentsConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	GatewaySecrets      map[string]string
	WebhookPerMinute    int
}

// GuestSessionConfig controls the anonymous shopper cookies.
type GuestSessionConfig struct {
	CookieName      string
	CookieTTL       time.Duration
	CookieSecure    bool
	CartCountCookie string
}

// ShopConfig holds storefront URLs used in payment redirects and the naming series for
// order and invoice numbers.
type ShopConfig struct {
	PublicBaseURL string
	ThankYouPath  string
	FailurePath   string
	Language      string
	OrderSeries   string
	InvoiceSeries string
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment  string
	JWKSURL      string
	OIDCAudience string
	OIDCIssuers  []string
}

// IdempotencyConfig controls replay protection on payment endpoints.
type IdempotencyConfig struct {
	TTL        time.Duration
	Collection string
	Required   bool
}

// SecretsConfig controls secret reference resolution.
type SecretsConfig struct {
	ProjectID    string
	FallbackFile string
	CacheTTL     time.Duration
}

// SecretResolver resolves secret:// and sm:// references.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret calls f.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists missing or invalid settings.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.Fields, ", "))
}

// SecretError describes a secret reference that could not be resolved.
type SecretError struct {
	Field string
	Ref   string
	Err   error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve %s (%s): %v", e.Field, e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// ErrNoSecretResolver is wrapped by SecretError when a reference is found but Load has no resolver.
var ErrNoSecretResolver = errors.New("secret resolver not configured")

// Option customises Load.
type Option func(*loader)

type loader struct {
	envFile   string
	overrides map[string]string
	systemEnv bool
	resolver  SecretResolver
	dotenv    map[string]string
}

// WithEnvFile overrides the .env path. An empty path disables the file.
func WithEnvFile(path string) Option {
	return func(l *loader) { l.envFile = path }
}

// WithEnvMap sets values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(l *loader) { l.overrides = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(l *loader) { l.systemEnv = false }
}

// WithSecretResolver sets the resolver for secret references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(l *loader) { l.resolver = resolver }
}

// Load assembles the configuration. Precedence from lowest to highest: defaults, .env file,
// process environment, WithEnvMap values.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	l := &loader{envFile: defaultEnvFile, systemEnv: true}
	for _, opt := range opts {
		opt(l)
	}
	dotenv, err := readDotEnv(l.envFile)
	if err != nil {
		return Config{}, err
	}
	l.dotenv = dotenv

	cfg := Config{
		Server: ServerConfig{
			Port:            l.str("API_SERVER_PORT", "8080"),
			ReadTimeout:     l.duration("API_SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    l.duration("API_SERVER_WRITE_TIMEOUT", 75*time.Second),
			IdleTimeout:     l.duration("API_SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: l.duration("API_SERVER_SHUTDOWN_TIMEOUT", 20*time.Second),
		},
		Firebase: FirebaseConfig{
			ProjectID:       l.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: l.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    l.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: l.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:   l.str("API_PUBSUB_PROJECT_ID", ""),
			EventsTopic: l.str("API_PUBSUB_EVENTS_TOPIC", ""),
		},
		Payments: PaymentsConfig{
			StripeAPIKey:        l.str("API_PAYMENTS_STRIPE_API_KEY", ""),
			StripeWebhookSecret: l.str("API_PAYMENTS_STRIPE_WEBHOOK_SECRET", ""),
			GatewaySecrets:      l.pairs("API_PAYMENTS_GATEWAY_SECRETS"),
			WebhookPerMinute:    l.integer("API_PAYMENTS_WEBHOOK_PER_MIN", 120),
		},
		Guest: GuestSessionConfig{
			CookieName:      l.str("API_GUEST_COOKIE_NAME", defaultGuestCookie),
			CookieTTL:       l.duration("API_GUEST_COOKIE_TTL", 7*24*time.Hour),
			CookieSecure:    l.boolean("API_GUEST_COOKIE_SECURE", true),
			CartCountCookie: l.str("API_GUEST_CART_COUNT_COOKIE", defaultCartCountCookie),
		},
		Shop: ShopConfig{
			PublicBaseURL: strings.TrimRight(l.str("API_SHOP_PUBLIC_BASE_URL", ""), "/"),
			ThankYouPath:  l.str("API_SHOP_THANK_YOU_PATH", "/thank_you"),
			FailurePath:   l.str("API_SHOP_FAILURE_PATH", "/payment-failed"),
			Language:      l.str("API_SHOP_LANGUAGE", "en"),
			OrderSeries:   l.str("API_SHOP_ORDER_SERIES", "SO-.YYYY.-.######"),
			InvoiceSeries: l.str("API_SHOP_INVOICE_SERIES", "SINV-.YYYY..MM.-.######"),
		},
		Security: SecurityConfig{
			Environment:  strings.ToLower(l.str("API_SECURITY_ENVIRONMENT", "local")),
			JWKSURL:      l.str("API_SECURITY_OIDC_JWKS_URL", defaultJWKSURL),
			OIDCAudience: l.str("API_SECURITY_OIDC_AUDIENCE", ""),
			OIDCIssuers:  l.list("API_SECURITY_OIDC_ISSUERS"),
		},
		Idempotency: IdempotencyConfig{
			TTL:        l.duration("API_IDEMPOTENCY_TTL", 24*time.Hour),
			Collection: l.str("API_IDEMPOTENCY_COLLECTION", "idempotencyKeys"),
			Required:   l.boolean("API_IDEMPOTENCY_REQUIRED", false),
		},
		Secrets: SecretsConfig{
			ProjectID:    l.str("API_SECRETS_PROJECT_ID", ""),
			FallbackFile: l.str("API_SECRETS_FALLBACK_FILE", ".secrets.local"),
			CacheTTL:     l.duration("API_SECRETS_CACHE_TTL", 10*time.Minute),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.Secrets.ProjectID == "" {
		cfg.Secrets.ProjectID = cfg.Firestore.ProjectID
	}
	if len(cfg.Security.OIDCIssuers) == 0 {
		cfg.Security.OIDCIssuers = []string{defaultGoogleIssuer, defaultIAPIssuer}
	}

	if err := l.resolveSecrets(ctx, &cfg); err != nil {
		return Config{}, err
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (l *loader) resolveSecrets(ctx context.Context, cfg *Config) error {
	fields := map[string]*string{
		"Payments.StripeAPIKey":        &cfg.Payments.StripeAPIKey,
		"Payments.StripeWebhookSecret": &cfg.Payments.StripeWebhookSecret,
	}
	for gateway, value := range cfg.Payments.GatewaySecrets {
		resolved, err := l.resolve(ctx, "Payments.GatewaySecrets["+gateway+"]", value)
		if err != nil {
			return err
		}
		cfg.Payments.GatewaySecrets[gateway] = resolved
	}
	for name, field := range fields {
		resolved, err := l.resolve(ctx, name, *field)
		if err != nil {
			return err
		}
		*field = resolved
	}
	return nil
}

func (l *loader) resolve(ctx context.Context, field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "secret://") && !strings.HasPrefix(value, "sm://") {
		return value, nil
	}
	if l.resolver == nil {
		return "", &SecretError{Field: field, Ref: value, Err: ErrNoSecretResolver}
	}
	resolved, err := l.resolver.ResolveSecret(ctx, value)
	if err != nil {
		return "", &SecretError{Field: field, Ref: value, Err: err}
	}
	return strings.TrimSpace(resolved), nil
}

func validate(cfg Config) error {
	var fields []string
	if cfg.Server.Port == "" {
		fields = append(fields, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		fields = append(fields, "Firebase.ProjectID")
	}
	if cfg.Guest.CookieName == "" || cfg.Guest.CookieName == cfg.Guest.CartCountCookie {
		fields = append(fields, "Guest.CookieName")
	}
	if cfg.Guest.CookieTTL <= 0 {
		fields = append(fields, "Guest.CookieTTL")
	}
	if cfg.Idempotency.TTL <= 0 {
		fields = append(fields, "Idempotency.TTL")
	}
	if cfg.Payments.WebhookPerMinute <= 0 {
		fields = append(fields, "Payments.WebhookPerMinute")
	}
	if cfg.Security.Environment != "local" {
		if cfg.Security.OIDCAudience == "" {
			fields = append(fields, "Security.OIDCAudience")
		}
		if cfg.Payments.StripeAPIKey != "" && cfg.Payments.StripeWebhookSecret == "" {
			fields = append(fields, "Payments.StripeWebhookSecret")
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func (l *loader) lookup(key string) (string, bool) {
	if value, ok := l.overrides[key]; ok {
		return value, true
	}
	if l.systemEnv {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
	}
	value, ok := l.dotenv[key]
	return value, ok
}

func (l *loader) str(key, fallback string) string {
	if value, ok := l.lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func (l *loader) duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(l.str(key, "")); err == nil {
		return d
	}
	return fallback
}

func (l *loader) integer(key string, fallback int) int {
	if n, err := strconv.Atoi(l.str(key, "")); err == nil {
		return n
	}
	return fallback
}

func (l *loader) boolean(key string, fallback bool) bool {
	switch strings.ToLower(l.str(key, "")) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fallback
}

func (l *loader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(l.str(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// pairs parses "name=value,name=value" with lower-cased names.
func (l *loader) pairs(key string) map[string]string {
	out := make(map[string]string)
	for _, entry := range l.list(key) {
		name, value, ok := strings.Cut(entry, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if ok && name != "" && value != "" {
			out[name] = value
		}
	}
	return out
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		values[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return values, nil
}
