package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowops/driftd/cmd/driftd/models"
)

func TestRetentionPolicyResolve(t *testing.T) {
	var nilPolicy *models.RetentionPolicy
	assert.Equal(t, models.MinimalRetention, nilPolicy.Resolve())

	pro := (&models.RetentionPolicy{TenantID: "t1", Plan: "pro"}).Resolve()
	assert.Equal(t, 30, pro.DriftCheckDays)
	assert.Equal(t, 90, pro.IncidentPayloadDays)

	// Explicit windows win over plan defaults
	custom := (&models.RetentionPolicy{TenantID: "t1", Plan: "pro", DriftCheckDays: 3}).Resolve()
	assert.Equal(t, 3, custom.DriftCheckDays)
	assert.Equal(t, 90, custom.IncidentPayloadDays)

	// Unknown plan falls back to the minimal default
	unknown := (&models.RetentionPolicy{TenantID: "t1", Plan: "legacy"}).Resolve()
	assert.Equal(t, models.MinimalRetention.DriftCheckDays, unknown.DriftCheckDays)
}

func newRetentionFixture(t *testing.T) (*RetentionService, *memEnvironmentStore, *memIncidentStore, *memDriftCheckStore, *memRetentionStore) {
	t.Helper()
	environments := newMemEnvironmentStore()
	incidents := newMemIncidentStore()
	driftChecks := &memDriftCheckStore{}
	retention := newMemRetentionStore()
	svc := NewRetentionService(environments, incidents, driftChecks, retention, testLogger())
	return svc, environments, incidents, driftChecks, retention
}

func TestRunForTenantPurgesAllTargets(t *testing.T) {
	svc, _, incidents, driftChecks, retention := newRetentionFixture(t)
	retention.reconciliationsDeleted = 4
	retention.approvalsDeleted = 2

	envID := uuid.New()
	old := time.Now().UTC().AddDate(0, 0, -60)

	// Two old checks and one recent one for the same environment
	require.NoError(t, driftChecks.Insert(context.Background(), &models.DriftCheck{
		CheckID: uuid.New(), TenantID: "t1", EnvironmentID: envID, CheckedAt: old,
	}))
	require.NoError(t, driftChecks.Insert(context.Background(), &models.DriftCheck{
		CheckID: uuid.New(), TenantID: "t1", EnvironmentID: envID, CheckedAt: old.Add(time.Hour),
	}))
	require.NoError(t, driftChecks.Insert(context.Background(), &models.DriftCheck{
		CheckID: uuid.New(), TenantID: "t1", EnvironmentID: envID, CheckedAt: time.Now().UTC(),
	}))

	closedAt := old
	require.NoError(t, incidents.Create(context.Background(), &models.DriftIncident{
		IncidentID:    uuid.New(),
		TenantID:      "t1",
		EnvironmentID: envID,
		Status:        models.IncidentClosed,
		DetectedAt:    old,
		ClosedAt:      &closedAt,
		DriftSnapshot: []byte(`{"with_drift":1}`),
		AffectedWorkflows: []models.AffectedWorkflow{
			{WorkflowID: "wf-1", Name: "order-sync", DriftType: "modified_in_runtime"},
		},
	}))

	result, err := svc.RunForTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.DriftChecksPurged)
	assert.Equal(t, 1, result.IncidentPayloadsPurged)
	assert.Equal(t, 4, result.ReconciliationsPurged)
	assert.Equal(t, 2, result.ApprovalsPurged)
	assert.Empty(t, result.Errors)

	// The newest check per environment survives even past its window
	assert.Len(t, driftChecks.checks, 1)
}

func TestRetentionClearsPayloadButKeepsIncidentRow(t *testing.T) {
	svc, _, incidents, _, _ := newRetentionFixture(t)

	incidentID := uuid.New()
	old := time.Now().UTC().AddDate(0, 0, -60)
	require.NoError(t, incidents.Create(context.Background(), &models.DriftIncident{
		IncidentID:    incidentID,
		TenantID:      "t1",
		EnvironmentID: uuid.New(),
		Status:        models.IncidentClosed,
		DetectedAt:    old,
		ClosedAt:      &old,
		DriftSnapshot: []byte(`{"with_drift":1}`),
		AffectedWorkflows: []models.AffectedWorkflow{
			{WorkflowID: "wf-1", Name: "order-sync", DriftType: "modified_in_runtime"},
		},
	}))

	_, err := svc.RunForTenant(context.Background(), "t1")
	require.NoError(t, err)

	incident, err := incidents.Get(context.Background(), incidentID)
	require.NoError(t, err)
	require.NotNil(t, incident)
	assert.Nil(t, incident.DriftSnapshot)
	assert.Empty(t, incident.AffectedWorkflows)
	assert.NotNil(t, incident.PayloadPurgedAt)
}

func TestRetentionSkipsOpenAndRecentIncidents(t *testing.T) {
	svc, _, incidents, _, _ := newRetentionFixture(t)

	openID := uuid.New()
	old := time.Now().UTC().AddDate(0, 0, -60)
	require.NoError(t, incidents.Create(context.Background(), &models.DriftIncident{
		IncidentID:    openID,
		TenantID:      "t1",
		EnvironmentID: uuid.New(),
		Status:        models.IncidentDetected,
		DetectedAt:    old,
		DriftSnapshot: []byte(`{"with_drift":1}`),
	}))

	recentID := uuid.New()
	recentClose := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, incidents.Create(context.Background(), &models.DriftIncident{
		IncidentID:    recentID,
		TenantID:      "t1",
		EnvironmentID: uuid.New(),
		Status:        models.IncidentClosed,
		DetectedAt:    old,
		ClosedAt:      &recentClose,
		DriftSnapshot: []byte(`{"with_drift":1}`),
	}))

	result, err := svc.RunForTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 0, result.IncidentPayloadsPurged)

	for _, id := range []uuid.UUID{openID, recentID} {
		incident, err := incidents.Get(context.Background(), id)
		require.NoError(t, err)
		assert.NotNil(t, incident.DriftSnapshot)
	}
}

func TestRunAllCoversEveryTenant(t *testing.T) {
	svc, environments, _, _, _ := newRetentionFixture(t)
	environments.add(&models.Environment{EnvironmentID: uuid.New(), TenantID: "t1", Name: "prod"})
	environments.add(&models.Environment{EnvironmentID: uuid.New(), TenantID: "t2", Name: "prod"})
	environments.add(&models.Environment{EnvironmentID: uuid.New(), TenantID: "t2", Name: "staging"})

	results, err := svc.RunAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Contains(t, results, "t1")
	assert.Contains(t, results, "t2")
}
