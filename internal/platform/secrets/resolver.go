// Package secrets resolves secret:// references used for payment gateway credentials and
// webhook signing keys.
package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	refScheme       = "secret://"
	defaultCacheTTL = 10 * time.Minute
	latestVersion   = "latest"
)

var (
	// ErrInvalidReference reports a value that is not a secret://[project/]name[@version] reference.
	ErrInvalidReference = errors.New("secrets: invalid reference")
	// ErrNotFound reports a secret that neither Secret Manager nor the local file provides.
	ErrNotFound = errors.New("secrets: secret not found")
)

// AccessClient is the subset of the Secret Manager client the resolver calls.
type AccessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Reference is a parsed secret reference.
type Reference struct {
	Project string
	Name    string
	Version string
}

// ParseReference parses secret://[project/]name[@version]. The legacy sm:// scheme is accepted.
func ParseReference(raw string) (Reference, error) {
	value := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(value, refScheme):
		value = strings.TrimPrefix(value, refScheme)
	case strings.HasPrefix(value, "sm://"):
		value = strings.TrimPrefix(value, "sm://")
	default:
		return Reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, raw)
	}
	ref := Reference{Version: latestVersion}
	if path, version, ok := strings.Cut(value, "@"); ok {
		value = path
		if version = strings.TrimSpace(version); version != "" {
			ref.Version = version
		}
	}
	parts := strings.Split(strings.Trim(value, "/"), "/")
	switch len(parts) {
	case 1:
		ref.Name = parts[0]
	case 2:
		ref.Project, ref.Name = parts[0], parts[1]
	default:
		return Reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, raw)
	}
	if ref.Name == "" {
		return Reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, raw)
	}
	return ref, nil
}

func (r Reference) resourceName(defaultProject string) string {
	project := r.Project
	if project == "" {
		project = defaultProject
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, r.Name, r.Version)
}

// Resolver resolves secret references through Secret Manager, caching values for a TTL. When
// Secret Manager is unreachable, values from a local KEY=VALUE file keyed by secret name are used.
type Resolver struct {
	client     AccessClient
	ownsClient bool
	project    string
	ttl        time.Duration
	now        func() time.Time
	logger     *zap.Logger

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	group  singleflight.Group
	mu     sync.RWMutex
	cache  map[string]cached
	lookup metric.Int64Counter
}

type cached struct {
	value     string
	expiresAt time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClient injects a Secret Manager client. The resolver does not close injected clients.
func WithClient(client AccessClient) Option {
	return func(r *Resolver) { r.client = client }
}

// WithProject sets the project used for references without one.
func WithProject(projectID string) Option {
	return func(r *Resolver) { r.project = strings.TrimSpace(projectID) }
}

// WithCacheTTL overrides how long resolved values are reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithFallbackFile sets the local secrets file used during development.
func WithFallbackFile(path string) Option {
	return func(r *Resolver) { r.fallbackPath = strings.TrimSpace(path) }
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver builds a Resolver. Without an injected client one is created from clientOpts; a
// failure to do so leaves the resolver on the local fallback file only.
func NewResolver(ctx context.Context, clientOpts []option.ClientOption, opts ...Option) (*Resolver, error) {
	r := &Resolver{
		ttl:    defaultCacheTTL,
		now:    time.Now,
		logger: zap.NewNop(),
		cache:  make(map[string]cached),
	}
	for _, opt := range opts {
		opt(r)
	}
	counter, err := otel.Meter("github.com/hanko-field/webshop/internal/platform/secrets").Int64Counter(
		"secrets.lookups",
		metric.WithDescription("Secret lookups by source."),
	)
	if err != nil {
		return nil, fmt.Errorf("secrets: create counter: %w", err)
	}
	r.lookup = counter

	if r.client == nil {
		client, err := secretmanager.NewClient(ctx, clientOpts...)
		if err != nil {
			if r.fallbackPath == "" {
				return nil, fmt.Errorf("secrets: create client: %w", err)
			}
			r.logger.Warn("secret manager unavailable, using local file", zap.Error(err), zap.String("path", r.fallbackPath))
		} else {
			r.client = client
			r.ownsClient = true
		}
	}
	return r, nil
}

// Close releases the Secret Manager client when the resolver created it.
func (r *Resolver) Close() error {
	if r == nil || !r.ownsClient || r.client == nil {
		return nil
	}
	return r.client.Close()
}

// ResolveSecret returns the plaintext for ref.
func (r *Resolver) ResolveSecret(ctx context.Context, raw string) (string, error) {
	ref, err := ParseReference(raw)
	if err != nil {
		return "", err
	}
	key := ref.resourceName(r.project)

	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if ok && r.now().Before(entry.expiresAt) {
		r.record(ctx, "cache")
		return entry.value, nil
	}

	value, err, _ := r.group.Do(key, func() (any, error) {
		return r.fetch(ctx, ref, key)
	})
	if err != nil {
		return "", err
	}
	secret := value.(string)
	r.mu.Lock()
	r.cache[key] = cached{value: secret, expiresAt: r.now().Add(r.ttl)}
	r.mu.Unlock()
	return secret, nil
}

// Invalidate drops the cached value for ref so the next lookup fetches it again.
func (r *Resolver) Invalidate(raw string) {
	ref, err := ParseReference(raw)
	if err != nil {
		return
	}
	r.mu.Lock()
	delete(r.cache, ref.resourceName(r.project))
	r.mu.Unlock()
}

func (r *Resolver) fetch(ctx context.Context, ref Reference, name string) (string, error) {
	if r.client != nil {
		resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
		if err == nil {
			r.record(ctx, "secret_manager")
			return string(resp.GetPayload().GetData()), nil
		}
		if status.Code(err) == codes.NotFound {
			return "", fmt.Errorf("%w: %s", ErrNotFound, ref.Name)
		}
		if !transient(err) {
			return "", fmt.Errorf("secrets: access %s: %w", ref.Name, err)
		}
		r.logger.Warn("secret manager lookup failed, trying local file", zap.String("secret", ref.Name), zap.Error(err))
	}
	if value, ok := r.localValue(ref.Name); ok {
		r.record(ctx, "local")
		return value, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, ref.Name)
}

func (r *Resolver) localValue(name string) (string, bool) {
	r.fallbackOnce.Do(func() {
		values, err := readSecretsFile(r.fallbackPath)
		if err != nil {
			r.logger.Warn("read local secrets file", zap.String("path", r.fallbackPath), zap.Error(err))
		}
		r.fallback = values
	})
	value, ok := r.fallback[name]
	return value, ok
}

func (r *Resolver) record(ctx context.Context, source string) {
	r.lookup.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func transient(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Unauthenticated, codes.PermissionDenied:
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func readSecretsFile(path string) (map[string]string, error) {
	values := make(map[string]string)
	if path == "" {
		return values, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return values, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		values[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	return values, scanner.Err()
}
