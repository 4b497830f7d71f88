package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/webshop/internal/platform/auth"
	"github.com/hanko-field/webshop/internal/platform/requestctx"
)

const (
	// HeaderName carries the client supplied key.
	HeaderName = "Idempotency-Key"
	// ReplayHeader marks responses served from the store.
	ReplayHeader = "Idempotent-Replayed"

	maxKeyLength = 255
)

type config struct {
	ttl       time.Duration
	required  bool
	clock     func() time.Time
	requester func(*http.Request) string
}

// Option customises the middleware.
type Option func(*config)

// WithTTL sets how long completed responses are replayed.
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithRequiredKey rejects guarded requests that carry no key.
func WithRequiredKey() Option {
	return func(c *config) { c.required = true }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(c *config) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithRequester scopes keys to the caller returned by fn. An empty result falls back to the
// authenticated identity.
func WithRequester(fn func(*http.Request) string) Option {
	return func(c *config) { c.requester = fn }
}

// Middleware replays the stored response of POST requests that repeat an Idempotency-Key. Keys
// are scoped to the caller, and a request whose handler fails with a 5xx releases its key so the
// client can retry it.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	cfg := config{ttl: DefaultTTL, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			key := strings.TrimSpace(r.Header.Get(HeaderName))
			switch {
			case key == "" && cfg.required:
				respondError(w, http.StatusBadRequest, "idempotency_key_required", "missing Idempotency-Key header")
				return
			case key == "":
				next.ServeHTTP(w, r)
				return
			case len(key) > maxKeyLength:
				respondError(w, http.StatusBadRequest, "idempotency_key_invalid", "Idempotency-Key is too long")
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				respondError(w, http.StatusBadRequest, "invalid_request", "unable to read request body")
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			ctx := r.Context()
			logger := requestctx.Logger(ctx)
			scoped := key + "|" + cfg.requesterOf(r)
			fingerprint := fingerprintOf(r, body)

			state, entry, err := store.Claim(ctx, scoped, fingerprint, cfg.clock(), cfg.ttl)
			if err != nil {
				if errors.Is(err, ErrKeyReused) {
					respondError(w, http.StatusUnprocessableEntity, "idempotency_key_reused", "Idempotency-Key was used for a different request")
					return
				}
				logger.Warn("idempotency claim failed", zap.Error(err))
				respondError(w, http.StatusServiceUnavailable, "idempotency_unavailable", "unable to process Idempotency-Key")
				return
			}
			switch state {
			case StateReplay:
				replay(w, entry)
				return
			case StateInFlight:
				respondError(w, http.StatusConflict, "idempotency_in_progress", "a request with this Idempotency-Key is in progress")
				return
			}

			rec := &recorder{header: make(http.Header)}
			next.ServeHTTP(rec, r)

			if rec.status() >= http.StatusInternalServerError {
				if err := store.Release(ctx, scoped); err != nil {
					logger.Warn("idempotency release failed", zap.Error(err))
				}
			} else {
				entry.Status = rec.status()
				entry.Header = replayableHeader(rec.header)
				entry.Body = rec.body.Bytes()
				if err := store.Complete(ctx, entry, cfg.clock(), cfg.ttl); err != nil {
					logger.Warn("idempotency store failed", zap.Error(err))
				}
			}
			rec.flush(w)
		})
	}
}

func (c config) requesterOf(r *http.Request) string {
	if c.requester != nil {
		if who := strings.TrimSpace(c.requester(r)); who != "" {
			return who
		}
	}
	ctx := r.Context()
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UID != "" {
		return "user:" + identity.UID
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc != nil && svc.Subject != "" {
		return "service:" + svc.Subject
	}
	return "anonymous"
}

func fingerprintOf(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method + " " + r.URL.Path + "?" + r.URL.RawQuery + "\n"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func replay(w http.ResponseWriter, entry Entry) {
	for name, values := range entry.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set(ReplayHeader, "true")
	status := entry.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(entry.Body)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
		"status":  status,
	})
}

// recorder buffers the handler response until the store has been updated.
type recorder struct {
	header http.Header
	code   int
	body   bytes.Buffer
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(code int) {
	if r.code == 0 {
		r.code = code
	}
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.code == 0 {
		r.code = http.StatusOK
	}
	return r.body.Write(p)
}

func (r *recorder) status() int {
	if r.code == 0 {
		return http.StatusOK
	}
	return r.code
}

func (r *recorder) flush(w http.ResponseWriter) {
	for name, values := range r.header {
		w.Header()[name] = values
	}
	w.WriteHeader(r.status())
	_, _ = w.Write(r.body.Bytes())
}
