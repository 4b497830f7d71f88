package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultKeySetTTL     = time.Hour
	minKeySetRefresh     = 30 * time.Second
	iapAssertionHeader   = "X-Goog-Iap-Jwt-Assertion"
	serviceTokenMetric   = "auth.service_token.verifications"
	serviceTokenMeterURL = "github.com/hanko-field/webshop/internal/platform/auth"
)

var (
	// ErrServiceTokenMissing reports a request without a bearer token or IAP assertion.
	ErrServiceTokenMissing = errors.New("auth: service token missing")
	// ErrServiceTokenInvalid reports a token that fails signature or claim checks.
	ErrServiceTokenInvalid = errors.New("auth: service token invalid")
	// ErrKeySetUnavailable reports that signing keys could not be fetched.
	ErrKeySetUnavailable = errors.New("auth: signing keys unavailable")
)

// KeySet caches the JSON Web Key Set published at a URL. Keys are refetched when the cache
// expires or when a token names an unknown key id.
type KeySet struct {
	url    string
	client *http.Client
	now    func() time.Time

	group       singleflight.Group
	mu          sync.RWMutex
	keys        map[string]jose.JSONWebKey
	expiresAt   time.Time
	refreshedAt time.Time
}

// NewKeySet constructs a KeySet for url. A nil client uses a 10s timeout client.
func NewKeySet(url string, client *http.Client, now func() time.Time) *KeySet {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if now == nil {
		now = time.Now
	}
	return &KeySet{url: url, client: client, now: now}
}

// Key returns the public key with the given id.
func (s *KeySet) Key(ctx context.Context, kid string) (any, error) {
	s.mu.RLock()
	key, ok := s.keys[kid]
	fresh := s.now().Before(s.expiresAt)
	recent := s.now().Sub(s.refreshedAt) < minKeySetRefresh
	s.mu.RUnlock()
	if ok && fresh {
		return key.Key, nil
	}
	if !ok && fresh && recent {
		return nil, fmt.Errorf("%w: unknown key %q", ErrServiceTokenInvalid, kid)
	}

	if _, err, _ := s.group.Do("refresh", func() (any, error) { return nil, s.refresh(ctx) }); err != nil {
		return nil, err
	}
	s.mu.RLock()
	key, ok = s.keys[kid]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown key %q", ErrServiceTokenInvalid, kid)
	}
	return key.Key, nil
}

func (s *KeySet) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrKeySetUnavailable, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrKeySetUnavailable, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, key := range set.Keys {
		if key.KeyID != "" && key.Valid() && key.IsPublic() {
			keys[key.KeyID] = key
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: no usable keys", ErrKeySetUnavailable)
	}

	now := s.now()
	s.mu.Lock()
	s.keys = keys
	s.refreshedAt = now
	s.expiresAt = now.Add(maxAge(resp.Header.Get("Cache-Control")))
	s.mu.Unlock()
	return nil
}

func maxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultKeySetTTL
}

// ServiceIdentity is the verified caller of an internal endpoint.
type ServiceIdentity struct {
	Subject string
	Email   string
	Issuer  string
}

type serviceIdentityKey struct{}

// WithServiceIdentity attaches identity to ctx.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityKey{}, identity)
}

// ServiceIdentityFromContext returns the identity attached by ServiceTokenVerifier.Middleware.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityKey{}).(*ServiceIdentity)
	return identity, ok && identity != nil
}

// ServiceTokenVerifier checks Google-signed OIDC tokens presented by schedulers, back-office
// tools and IAP on internal endpoints.
type ServiceTokenVerifier struct {
	keys     *KeySet
	audience string
	issuers  []string
	now      func() time.Time
	logger   *zap.Logger
	outcomes metric.Int64Counter
}

// ServiceTokenConfig configures a ServiceTokenVerifier.
type ServiceTokenConfig struct {
	Keys     *KeySet
	Audience string
	Issuers  []string
	Clock    func() time.Time
	Logger   *zap.Logger
}

// NewServiceTokenVerifier builds a verifier. An empty audience makes every request fail with 503
// so a misconfigured deployment never accepts arbitrary tokens.
func NewServiceTokenVerifier(cfg ServiceTokenConfig) (*ServiceTokenVerifier, error) {
	if cfg.Keys == nil {
		return nil, errors.New("auth: key set is required")
	}
	v := &ServiceTokenVerifier{
		keys:     cfg.Keys,
		audience: strings.TrimSpace(cfg.Audience),
		now:      cfg.Clock,
		logger:   cfg.Logger,
	}
	for _, issuer := range cfg.Issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			v.issuers = append(v.issuers, issuer)
		}
	}
	if v.now == nil {
		v.now = time.Now
	}
	if v.logger == nil {
		v.logger = zap.NewNop()
	}
	counter, err := otel.Meter(serviceTokenMeterURL).Int64Counter(serviceTokenMetric,
		metric.WithDescription("Service token verifications by outcome."))
	if err != nil {
		return nil, fmt.Errorf("auth: create counter: %w", err)
	}
	v.outcomes = counter
	return v, nil
}

// Verify parses raw and checks its signature, expiry, issuer and audience.
func (v *ServiceTokenVerifier) Verify(ctx context.Context, raw string) (*ServiceIdentity, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrServiceTokenMissing
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		if errors.Is(err, ErrKeySetUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrServiceTokenInvalid, err)
	}

	now := v.now().Unix()
	if !claims.VerifyExpiresAt(now, true) || !claims.VerifyIssuedAt(now+60, false) {
		return nil, fmt.Errorf("%w: token expired or not yet valid", ErrServiceTokenInvalid)
	}
	issuer, _ := claims["iss"].(string)
	if len(v.issuers) > 0 && !slices.Contains(v.issuers, issuer) {
		return nil, fmt.Errorf("%w: issuer %q not allowed", ErrServiceTokenInvalid, issuer)
	}
	if !claims.VerifyAudience(v.audience, true) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrServiceTokenInvalid)
	}
	subject, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	return &ServiceIdentity{Subject: subject, Email: email, Issuer: issuer}, nil
}

// Middleware rejects requests without a valid service token and attaches the ServiceIdentity.
// The token is read from the Authorization bearer header, then from the IAP assertion header.
func (v *ServiceTokenVerifier) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if v.audience == "" {
				v.record(ctx, "audience_not_configured")
				respondAuthError(ctx, w, http.StatusServiceUnavailable, "verification_unavailable", "service token verification unavailable")
				return
			}
			raw, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				raw = strings.TrimSpace(r.Header.Get(iapAssertionHeader))
			}
			identity, err := v.Verify(ctx, raw)
			switch {
			case err == nil:
				v.record(ctx, "ok")
				next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, identity)))
			case errors.Is(err, ErrServiceTokenMissing):
				v.record(ctx, "missing")
				respondAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "service token missing")
			case errors.Is(err, ErrKeySetUnavailable):
				v.record(ctx, "keys_unavailable")
				v.logger.Warn("service token keys unavailable", zap.Error(err))
				respondAuthError(ctx, w, http.StatusServiceUnavailable, "verification_unavailable", "service token verification unavailable")
			default:
				v.record(ctx, "invalid")
				v.logger.Info("service token rejected", zap.Error(err))
				respondAuthError(ctx, w, http.StatusUnauthorized, "invalid_token", "service token verification failed")
			}
		})
	}
}

func (v *ServiceTokenVerifier) record(ctx context.Context, outcome string) {
	v.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
