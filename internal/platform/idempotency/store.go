package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long a completed response stays replayable.
const DefaultTTL = 24 * time.Hour

// State is the outcome of claiming a key.
type State int

const (
	// StateNew means the caller owns the key and must run the request.
	StateNew State = iota
	// StateReplay means a completed response is stored for the key.
	StateReplay
	// StateInFlight means another request holds the key.
	StateInFlight
)

// ErrKeyReused is returned when a key is presented again with a different request.
var ErrKeyReused = errors.New("idempotency: key already used for a different request")

// Entry is the stored state of one key.
type Entry struct {
	Key         string
	Fingerprint string
	Completed   bool
	Status      int
	Header      map[string][]string
	Body        []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Store persists key claims and completed responses.
type Store interface {
	// Claim reserves key for fingerprint, or reports the stored entry when one is live.
	Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Entry, error)
	// Complete stores the response of the request that claimed key.
	Complete(ctx context.Context, entry Entry, now time.Time, ttl time.Duration) error
	// Release drops the claim so the request can be retried.
	Release(ctx context.Context, key string) error
}

func documentID(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

func replayableHeader(header http.Header) map[string][]string {
	out := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		switch canonical {
		case "Content-Length", "Date", "Connection", "Transfer-Encoding", "Set-Cookie":
			continue
		}
		out[canonical] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
