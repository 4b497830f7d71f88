package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/webshop/internal/domain"
)

func okCheck(context.Context) error { return nil }

func blockingCheck(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDependencyHealthRepositoryStatus(t *testing.T) {
	topicMissing := errors.New("events topic missing")
	cases := []struct {
		name       string
		checks     []DependencyCheck
		wantStatus string
		wantDetail map[string]string
	}{
		{
			name: "all dependencies reachable",
			checks: []DependencyCheck{
				{Name: "firestore", Critical: true, Check: okCheck},
				{Name: "pubsub", Check: okCheck},
				{Name: "secret_manager", Check: okCheck},
			},
			wantStatus: domain.HealthStatusOK,
			wantDetail: map[string]string{"firestore": "ok", "pubsub": "ok", "secret_manager": "ok"},
		},
		{
			name: "event topic missing only degrades",
			checks: []DependencyCheck{
				{Name: "firestore", Critical: true, Check: okCheck},
				{Name: "pubsub", Check: func(context.Context) error { return topicMissing }},
			},
			wantStatus: domain.HealthStatusDegraded,
			wantDetail: map[string]string{"firestore": "ok", "pubsub": topicMissing.Error()},
		},
		{
			name: "firestore timeout fails readiness",
			checks: []DependencyCheck{
				{Name: "firestore", Critical: true, Timeout: 5 * time.Millisecond, Check: blockingCheck},
				{Name: "pubsub", Check: func(context.Context) error { return topicMissing }},
			},
			wantStatus: domain.HealthStatusError,
			wantDetail: map[string]string{"firestore": "timeout", "pubsub": topicMissing.Error()},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo, err := NewDependencyHealthRepository(tc.checks)
			require.NoError(t, err)

			report, err := repo.Collect(context.Background())
			require.NoError(t, err)

			assert.Equal(t, tc.wantStatus, report.Status)
			got := make(map[string]string, len(report.Checks))
			for name, check := range report.Checks {
				got[name] = check.Detail
			}
			assert.Equal(t, tc.wantDetail, got)
		})
	}
}

func TestDependencyHealthRepositoryStampsChecks(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository(
		[]DependencyCheck{{Name: "firestore", Check: okCheck}},
		WithDependencyClock(func() time.Time { return now }),
	)
	require.NoError(t, err)

	report, err := repo.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now, report.GeneratedAt)
	assert.Equal(t, now, report.Checks["firestore"].CheckedAt)
	assert.Zero(t, report.Checks["firestore"].Latency)
}

func TestDependencyHealthRepositoryDefaultTimeout(t *testing.T) {
	repo, err := NewDependencyHealthRepository(
		[]DependencyCheck{{Name: "secret_manager", Check: blockingCheck}},
		WithDependencyTimeout(5*time.Millisecond),
	)
	require.NoError(t, err)

	report, err := repo.Collect(context.Background())
	require.NoError(t, err)
	check := report.Checks["secret_manager"]
	assert.Equal(t, domain.HealthStatusError, check.Status)
	assert.Equal(t, "timeout", check.Detail)
	assert.Equal(t, domain.HealthStatusDegraded, report.Status, "non critical checks never fail readiness")
}

func TestNewDependencyHealthRepositoryValidation(t *testing.T) {
	_, err := NewDependencyHealthRepository(nil)
	assert.Error(t, err)

	_, err = NewDependencyHealthRepository([]DependencyCheck{{Check: okCheck}})
	assert.Error(t, err)

	_, err = NewDependencyHealthRepository([]DependencyCheck{{Name: "pubsub"}})
	assert.Error(t, err)
}
