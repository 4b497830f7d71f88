package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pfirestore "github.com/hanko-field/webshop/internal/platform/firestore"
	"github.com/hanko-field/webshop/internal/repositories"
)

const namingSeriesCollection = "naming_series"

type seriesDocument struct {
	Key       string    `firestore:"key"`
	Current   int64     `firestore:"current"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// CounterRepository keeps one document per naming series prefix. Increments run in a
// transaction so concurrent checkouts never share a document number.
type CounterRepository struct {
	provider *pfirestore.Provider
	series   *pfirestore.BaseRepository[seriesDocument]
	now      func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		series:   pfirestore.NewBaseRepository[seriesDocument](provider, namingSeriesCollection),
		now:      time.Now,
	}, nil
}

func (r *CounterRepository) Next(ctx context.Context, key string) (int64, error) {
	key, err := normaliseSeriesKey(key)
	if err != nil {
		return 0, err
	}

	var next int64
	err = r.provider.RunInTx(ctx, func(ctx context.Context) error {
		current, err := r.current(ctx, key)
		if err != nil {
			return err
		}
		next = current + 1
		return r.series.Set(ctx, seriesDocID(key), seriesDocument{Key: key, Current: next, UpdatedAt: r.now().UTC()})
	})
	if err != nil {
		return 0, pfirestore.WrapError("naming_series.next", err)
	}
	return next, nil
}

func (r *CounterRepository) Current(ctx context.Context, key string) (int64, error) {
	key, err := normaliseSeriesKey(key)
	if err != nil {
		return 0, err
	}
	return r.current(ctx, key)
}

func (r *CounterRepository) Reset(ctx context.Context, key string, value int64) error {
	key, err := normaliseSeriesKey(key)
	if err != nil {
		return err
	}
	if value < 0 {
		return fmt.Errorf("counter %s: value must not be negative, got %d", key, value)
	}
	return r.series.Set(ctx, seriesDocID(key), seriesDocument{Key: key, Current: value, UpdatedAt: r.now().UTC()})
}

func (r *CounterRepository) current(ctx context.Context, key string) (int64, error) {
	doc, err := r.series.Get(ctx, seriesDocID(key))
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return doc.Data.Current, nil
}

func normaliseSeriesKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", repositories.ErrInvalidCounterKey
	}
	return key, nil
}

// seriesDocID maps a prefix to a valid document id. Prefixes may contain slashes.
func seriesDocID(key string) string {
	return strings.ReplaceAll(key, "/", "_")
}
