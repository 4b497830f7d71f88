package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/hanko-field/webshop/internal/domain"
	"github.com/hanko-field/webshop/internal/repositories"
)

const settingsCheckName = "webshop_settings"

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	// Settings is optional. When set, readiness also reports whether the shop can take orders.
	Settings repositories.SettingsRepository
	Clock    func() time.Time
	Build    BuildInfo
}

type systemService struct {
	healthRepo repositories.HealthRepository
	settings   repositories.SettingsRepository
	clock      func() time.Time
	build      BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service behind the health endpoints.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}

	return &systemService{
		healthRepo: deps.HealthRepository,
		settings:   deps.Settings,
		clock:      func() time.Time { return clock().UTC() },
		build:      build,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}

	report, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.clock()
	report.GeneratedAt = ensureTimestamp(report.GeneratedAt, now)
	report.Version = chooseFirstNonEmpty(report.Version, s.build.Version)
	report.CommitSHA = chooseFirstNonEmpty(report.CommitSHA, s.build.CommitSHA)
	report.Environment = chooseFirstNonEmpty(report.Environment, s.build.Environment)
	if report.Uptime <= 0 && !s.build.StartedAt.IsZero() {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}

	derived := deriveStatus(report.Checks)
	if s.settings != nil {
		check := s.checkSettings(ctx, now)
		report.Checks[settingsCheckName] = check
		derived = worseStatus(derived, check.Status)
	}
	report.Status = worseStatus(strings.TrimSpace(report.Status), derived)

	return report, nil
}

// checkSettings reports degraded while the shop is switched off or cannot collect payment.
func (s *systemService) checkSettings(ctx context.Context, now time.Time) domain.SystemHealthCheck {
	started := time.Now()
	settings, err := s.settings.Get(ctx)
	check := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Latency:   time.Since(started),
		CheckedAt: now,
	}
	if err != nil {
		check.Status = domain.HealthStatusError
		check.Error = err.Error()
		if isRepoNotFound(err) {
			check.Detail = "settings missing"
		}
		return check
	}

	var problems []string
	if !settings.Enabled {
		problems = append(problems, "shop disabled")
	}
	if !settings.EnableCheckout {
		problems = append(problems, "checkout disabled")
	}
	if len(settings.PaymentMethods) == 0 {
		problems = append(problems, "no payment methods")
	}
	if len(problems) > 0 {
		check.Status = domain.HealthStatusDegraded
		check.Detail = strings.Join(problems, "; ")
	}
	return check
}

func ensureTimestamp(ts time.Time, fallback time.Time) time.Time {
	if ts.IsZero() {
		return fallback
	}
	return ts.UTC()
}

func chooseFirstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func deriveStatus(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		status = worseStatus(status, check.Status)
	}
	return status
}

func worseStatus(current, next string) string {
	if statusRank(next) > statusRank(current) {
		return next
	}
	if current == "" {
		return domain.HealthStatusOK
	}
	return current
}

func statusRank(status string) int {
	switch status {
	case domain.HealthStatusOK, "":
		return 0
	case domain.HealthStatusError:
		return 2
	default:
		return 1
	}
}
