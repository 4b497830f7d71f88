package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hanko-field/webshop/internal/repositories"
)

// ErrCounterInvalidInput indicates a malformed naming series.
var ErrCounterInvalidInput = errors.New("counter: invalid input")

const (
	defaultOrderSeries   = "SO-.YYYY.-.######"
	defaultInvoiceSeries = "SINV-.YYYY..MM.-.######"
	defaultSeriesDigits  = 5
)

// CounterServiceDeps bundles collaborators required to construct a counter service.
// OrderSeries and InvoiceSeries are naming series patterns, see NextInSeries.
type CounterServiceDeps struct {
	Repository    repositories.CounterRepository
	Clock         func() time.Time
	OrderSeries   string
	InvoiceSeries string
}

type counterService struct {
	repo          repositories.CounterRepository
	clock         func() time.Time
	orderSeries   string
	invoiceSeries string
}

func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	svc := &counterService{
		repo:          deps.Repository,
		clock:         func() time.Time { return clock().UTC() },
		orderSeries:   chooseFirstNonEmpty(strings.TrimSpace(deps.OrderSeries), defaultOrderSeries),
		invoiceSeries: chooseFirstNonEmpty(strings.TrimSpace(deps.InvoiceSeries), defaultInvoiceSeries),
	}
	for _, series := range []string{svc.orderSeries, svc.invoiceSeries} {
		if _, err := parseNamingSeries(series, time.Time{}); err != nil {
			return nil, fmt.Errorf("counter service: %w", err)
		}
	}
	return svc, nil
}

func (s *counterService) NextOrderNumber(ctx context.Context) (string, error) {
	return s.NextInSeries(ctx, s.orderSeries)
}

func (s *counterService) NextInvoiceNumber(ctx context.Context) (string, error) {
	return s.NextInSeries(ctx, s.invoiceSeries)
}

// NextInSeries expands a naming series and issues its next number. Dot separated parts are
// date placeholders (YYYY, YY, MM, DD), a run of '#' sets the digit count and anything else
// is literal text. Every distinct expanded prefix counts on its own, so "SO-.YYYY.-" restarts
// at 1 each year. A series without '#' gets five digits.
func (s *counterService) NextInSeries(ctx context.Context, series string) (string, error) {
	parsed, err := parseNamingSeries(series, s.clock())
	if err != nil {
		return "", err
	}
	value, err := s.repo.Next(ctx, parsed.prefix)
	if err != nil {
		if errors.Is(err, repositories.ErrInvalidCounterKey) {
			return "", fmt.Errorf("%w: %v", ErrCounterInvalidInput, err)
		}
		return "", err
	}
	return parsed.format(value), nil
}

type namingSeries struct {
	prefix string
	digits int
	suffix string
}

func (n namingSeries) format(value int64) string {
	number := strconv.FormatInt(value, 10)
	if pad := n.digits - len(number); pad > 0 {
		number = strings.Repeat("0", pad) + number
	}
	return n.prefix + number + n.suffix
}

func parseNamingSeries(series string, at time.Time) (namingSeries, error) {
	series = strings.TrimSpace(series)
	if series == "" {
		return namingSeries{}, fmt.Errorf("%w: naming series is required", ErrCounterInvalidInput)
	}
	var (
		out        namingSeries
		prefix     strings.Builder
		suffix     strings.Builder
		seenHashes bool
	)
	for _, part := range strings.Split(series, ".") {
		if part != "" && strings.Trim(part, "#") == "" {
			if seenHashes {
				return namingSeries{}, fmt.Errorf("%w: %q has more than one number placeholder", ErrCounterInvalidInput, series)
			}
			seenHashes = true
			out.digits = len(part)
			continue
		}
		target := &prefix
		if seenHashes {
			target = &suffix
		}
		target.WriteString(expandSeriesPart(part, at))
	}
	if !seenHashes {
		out.digits = defaultSeriesDigits
	}
	out.prefix = prefix.String()
	out.suffix = suffix.String()
	if strings.TrimSpace(out.prefix) == "" {
		return namingSeries{}, fmt.Errorf("%w: %q needs a prefix before the number", ErrCounterInvalidInput, series)
	}
	return out, nil
}

func expandSeriesPart(part string, at time.Time) string {
	switch part {
	case "YYYY":
		return fmt.Sprintf("%04d", at.Year())
	case "YY":
		return fmt.Sprintf("%02d", at.Year()%100)
	case "MM":
		return fmt.Sprintf("%02d", int(at.Month()))
	case "DD":
		return fmt.Sprintf("%02d", at.Day())
	default:
		return part
	}
}
