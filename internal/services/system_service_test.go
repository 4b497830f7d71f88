package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/webshop/internal/domain"
	"github.com/hanko-field/webshop/internal/repositories"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
	calls  int
}

func (s *stubHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	s.calls++
	return s.report, s.err
}

type stubSettingsRepository struct {
	settings domain.WebshopSettings
	err      error
}

func (s stubSettingsRepository) Get(context.Context) (domain.WebshopSettings, error) {
	return s.settings, s.err
}

type missingSettingsError struct{}

func (missingSettingsError) Error() string       { return "settings: not found" }
func (missingSettingsError) IsNotFound() bool    { return true }
func (missingSettingsError) IsConflict() bool    { return false }
func (missingSettingsError) IsUnavailable() bool { return false }

func healthyRepository() *stubHealthRepository {
	return &stubHealthRepository{report: domain.SystemHealthReport{
		Status: domain.HealthStatusOK,
		Checks: map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK}},
	}}
}

func TestSystemServiceHealthReportFillsBuildInfo(t *testing.T) {
	started := time.Date(2026, 2, 1, 6, 0, 0, 0, time.UTC)
	now := started.Add(90 * time.Minute)
	repo := healthyRepository()
	repo.report.Status = ""

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "2026.02.0", CommitSHA: "9f1c2e", Environment: "prod", StartedAt: started},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK || report.Environment != "prod" {
		t.Fatalf("unexpected status or environment %+v", report)
	}
	if report.Version != "2026.02.0" || report.CommitSHA != "9f1c2e" {
		t.Fatalf("expected build metadata, got %s %s", report.Version, report.CommitSHA)
	}
	if report.Uptime != 90*time.Minute || !report.GeneratedAt.Equal(now) {
		t.Fatalf("unexpected uptime %s or generatedAt %s", report.Uptime, report.GeneratedAt)
	}
	if repo.calls != 1 {
		t.Fatalf("expected one collect call, got %d", repo.calls)
	}
}

func TestSystemServiceKeepsReportedMetadata(t *testing.T) {
	generated := time.Date(2026, 2, 1, 7, 0, 0, 0, time.FixedZone("JST", 9*3600))
	repo := &stubHealthRepository{report: domain.SystemHealthReport{
		Status:      domain.HealthStatusDegraded,
		Version:     "from-repo",
		GeneratedAt: generated,
	}}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo, Build: BuildInfo{Version: "from-build"}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Version != "from-repo" || report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected repository values to win, got %+v", report)
	}
	if report.GeneratedAt.Location() != time.UTC || !report.GeneratedAt.Equal(generated) {
		t.Fatalf("expected generatedAt normalised to UTC, got %s", report.GeneratedAt)
	}
	if report.Checks == nil {
		t.Fatalf("expected an empty checks map")
	}
}

func TestSystemServiceCollectFailure(t *testing.T) {
	unavailable := errors.New("firestore unreachable")
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{err: unavailable}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, unavailable) {
		t.Fatalf("expected %v, got %v", unavailable, err)
	}
}

func TestNewSystemServiceRequiresHealthRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{Settings: stubSettingsRepository{}}); err == nil {
		t.Fatalf("expected error without health repository")
	}
}

func TestSystemServiceWorstCheckWins(t *testing.T) {
	cases := map[string]struct {
		checks map[string]domain.SystemHealthCheck
		want   string
	}{
		"no checks":       {checks: nil, want: domain.HealthStatusOK},
		"one degraded":    {checks: map[string]domain.SystemHealthCheck{"pubsub": {Status: domain.HealthStatusDegraded}, "firestore": {Status: domain.HealthStatusOK}}, want: domain.HealthStatusDegraded},
		"error beats all": {checks: map[string]domain.SystemHealthCheck{"pubsub": {Status: domain.HealthStatusDegraded}, "firestore": {Status: domain.HealthStatusError}}, want: domain.HealthStatusError},
		"unknown status":  {checks: map[string]domain.SystemHealthCheck{"secret_manager": {Status: "warming"}}, want: "warming"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			repo := &stubHealthRepository{report: domain.SystemHealthReport{Checks: tc.checks}}
			svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
			if err != nil {
				t.Fatalf("NewSystemService: %v", err)
			}
			report, err := svc.HealthReport(context.Background())
			if err != nil {
				t.Fatalf("HealthReport: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, report.Status)
			}
		})
	}
}

func TestSystemServiceSettingsReadyShop(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: healthyRepository(),
		Settings: stubSettingsRepository{settings: domain.WebshopSettings{
			Enabled:        true,
			EnableCheckout: true,
			PaymentMethods: []domain.PaymentMethodConfig{{}},
		}},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	check, ok := report.Checks["webshop_settings"]
	if !ok {
		t.Fatalf("expected webshop_settings check, got %+v", report.Checks)
	}
	if check.Status != domain.HealthStatusOK || report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok, got check %s report %s", check.Status, report.Status)
	}
}

func TestSystemServiceSettingsDegradeWhenCheckoutClosed(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: healthyRepository(),
		Settings:         stubSettingsRepository{settings: domain.WebshopSettings{Enabled: true}},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	check := report.Checks["webshop_settings"]
	if check.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded check, got %s", check.Status)
	}
	if check.Detail != "checkout disabled; no payment methods" {
		t.Fatalf("unexpected detail %q", check.Detail)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected report degraded, got %s", report.Status)
	}
}

func TestSystemServiceSettingsMissingIsError(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: healthyRepository(),
		Settings:         stubSettingsRepository{err: missingSettingsError{}},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	check := report.Checks["webshop_settings"]
	if check.Status != domain.HealthStatusError || check.Detail != "settings missing" || check.Error == "" {
		t.Fatalf("unexpected check %+v", check)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected report error, got %s", report.Status)
	}
}

var _ repositories.HealthRepository = (*stubHealthRepository)(nil)
var _ repositories.SettingsRepository = stubSettingsRepository{}
