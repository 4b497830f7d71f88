package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultCollection = "idempotencyKeys"

// FirestoreStore keeps claims in a Firestore collection. Expired documents are removed by a
// TTL policy on expiresAt.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore constructs a FirestoreStore. An empty collection uses idempotencyKeys.
func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStore{client: client, collection: collection}
}

type entryDocument struct {
	Key         string              `firestore:"key"`
	Fingerprint string              `firestore:"fingerprint"`
	Completed   bool                `firestore:"completed"`
	Status      int                 `firestore:"status,omitempty"`
	Header      map[string][]string `firestore:"header,omitempty"`
	Body        []byte              `firestore:"body,omitempty"`
	CreatedAt   time.Time           `firestore:"createdAt"`
	ExpiresAt   time.Time           `firestore:"expiresAt"`
}

func (d entryDocument) entry() Entry {
	return Entry(d)
}

func (s *FirestoreStore) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(documentID(key))
}

func (s *FirestoreStore) Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Entry, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	ref := s.doc(key)

	var (
		state State
		entry Entry
	)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var doc entryDocument
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			current := doc.entry()
			if !current.expired(now) {
				if current.Fingerprint != fingerprint {
					return ErrKeyReused
				}
				entry = current
				state = StateInFlight
				if current.Completed {
					state = StateReplay
				}
				return nil
			}
		}
		fresh := entryDocument{Key: key, Fingerprint: fingerprint, CreatedAt: now, ExpiresAt: now.Add(ttl)}
		state, entry = StateNew, fresh.entry()
		return tx.Set(ref, fresh)
	})
	if err != nil {
		return StateNew, Entry{}, err
	}
	return state, entry, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, entry Entry, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	ref := s.doc(entry.Key)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var current entryDocument
			if err := snap.DataTo(&current); err != nil {
				return err
			}
			if current.Fingerprint != entry.Fingerprint {
				return ErrKeyReused
			}
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
		entry.Completed = true
		entry.ExpiresAt = now.Add(ttl)
		return tx.Set(ref, entryDocument(entry))
	})
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	_, err := s.doc(key).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}
