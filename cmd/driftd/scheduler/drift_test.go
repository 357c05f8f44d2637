package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowops/driftd/cmd/driftd/adapters"
	"github.com/flowops/driftd/cmd/driftd/models"
	"github.com/flowops/driftd/cmd/driftd/service"
	"github.com/flowops/driftd/common/config"
	"github.com/flowops/driftd/common/logger"
)

type stubCanonicalStore struct {
	workflows []*models.CanonicalWorkflow
}

func (s *stubCanonicalStore) Create(ctx context.Context, w *models.CanonicalWorkflow) error {
	s.workflows = append(s.workflows, w)
	return nil
}

func (s *stubCanonicalStore) GetByName(ctx context.Context, tenantID, name string) (*models.CanonicalWorkflow, error) {
	for _, w := range s.workflows {
		if w.TenantID == tenantID && w.DisplayName == name {
			return w, nil
		}
	}
	return nil, nil
}

func (s *stubCanonicalStore) ListActive(ctx context.Context, tenantID string) ([]*models.CanonicalWorkflow, error) {
	return s.workflows, nil
}

type stubGitKey struct {
	canonicalID   uuid.UUID
	environmentID uuid.UUID
}

type stubGitStateStore struct {
	states map[stubGitKey]*models.GitState
}

func (s *stubGitStateStore) Get(ctx context.Context, tenantID string, canonicalID, environmentID uuid.UUID) (*models.GitState, error) {
	return s.states[stubGitKey{canonicalID, environmentID}], nil
}

func (s *stubGitStateStore) ListByEnvironment(ctx context.Context, tenantID string, environmentID uuid.UUID) ([]*models.GitState, error) {
	var out []*models.GitState
	for key, state := range s.states {
		if key.environmentID == environmentID {
			out = append(out, state)
		}
	}
	return out, nil
}

type stubDriftCheckStore struct {
	checks []*models.DriftCheck
}

func (s *stubDriftCheckStore) Insert(ctx context.Context, check *models.DriftCheck) error {
	s.checks = append(s.checks, check)
	return nil
}

func (s *stubDriftCheckStore) PurgeOlderThan(ctx context.Context, tenantID string, before time.Time) (int, error) {
	return 0, nil
}

type stubAdapter struct {
	workflows []models.WorkflowSummary
	documents map[string]models.WorkflowDocument
}

func (a *stubAdapter) ListWorkflows(ctx context.Context) ([]models.WorkflowSummary, error) {
	return a.workflows, nil
}

func (a *stubAdapter) GetWorkflow(ctx context.Context, id string) (models.WorkflowDocument, error) {
	if doc, ok := a.documents[id]; ok {
		return doc, nil
	}
	return nil, fmt.Errorf("workflow not found: %s", id)
}

func (a *stubAdapter) TestConnection(ctx context.Context) error { return nil }

type stubFactory struct {
	adapter adapters.RuntimeAdapter
}

func (f *stubFactory) ForEnvironment(ctx context.Context, env *models.Environment) (adapters.RuntimeAdapter, error) {
	return f.adapter, nil
}

type stubRepoProvider struct {
	files map[string]models.WorkflowDocument
}

func (p *stubRepoProvider) GetFileContent(ctx context.Context, path, ref string) (models.WorkflowDocument, error) {
	doc, ok := p.files[path]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	return doc, nil
}

type stubPolicyStore struct {
	policy *models.AutoIncidentPolicy
}

func (s *stubPolicyStore) GetAutoIncidentPolicy(ctx context.Context, tenantID string) (*models.AutoIncidentPolicy, error) {
	return s.policy, nil
}

type driftLoopFixture struct {
	loop        *DriftLoop
	envs        *stubEnvironmentStore
	canonicals  *stubCanonicalStore
	gitStates   *stubGitStateStore
	driftChecks *stubDriftCheckStore
	incidents   *stubIncidentStore
	notifier    *stubNotifier
	adapter     *stubAdapter
	repo        *stubRepoProvider
}

func newDriftLoopFixture(t *testing.T, policy *models.AutoIncidentPolicy) *driftLoopFixture {
	t.Helper()
	log := logger.New("error", "text")

	f := &driftLoopFixture{
		envs:        newStubEnvironmentStore(),
		canonicals:  &stubCanonicalStore{},
		gitStates:   &stubGitStateStore{states: make(map[stubGitKey]*models.GitState)},
		driftChecks: &stubDriftCheckStore{},
		incidents:   newStubIncidentStore(),
		notifier:    &stubNotifier{},
		adapter:     &stubAdapter{documents: make(map[string]models.WorkflowDocument)},
	}
	f.repo = &stubRepoProvider{files: make(map[string]models.WorkflowDocument)}

	driftService := service.NewDriftService(f.canonicals, f.envs, f.gitStates,
		f.driftChecks, &stubFactory{adapter: f.adapter}, f.repo, log)
	incidentService := service.NewIncidentService(f.incidents, f.envs, f.notifier, log)
	policyService, err := service.NewPolicyService(&stubPolicyStore{policy: policy},
		config.SchedulerConfig{TTLHoursCritical: 24, TTLHoursHigh: 48, TTLHoursMedium: 72, TTLHoursLow: 168}, log)
	require.NoError(t, err)

	f.loop = NewDriftLoop(f.envs, driftService, incidentService, policyService, time.Minute, log)
	return f
}

func (f *driftLoopFixture) addEnvironment(class models.EnvironmentClass) uuid.UUID {
	envID := uuid.New()
	f.envs.environments[envID] = &models.Environment{
		EnvironmentID:         envID,
		TenantID:              "t1",
		Name:                  string(class),
		Class:                 class,
		RepoConfigured:        true,
		DriftDetectionEnabled: true,
	}
	return envID
}

func TestDriftLoopSkipsIneligibleEnvironments(t *testing.T) {
	f := newDriftLoopFixture(t, nil)
	prodID := f.addEnvironment(models.ClassProduction)
	f.addEnvironment(models.ClassDev)

	require.NoError(t, f.loop.runOnce(context.Background()))

	// Only the production environment was checked, even though the store
	// listing returned both
	require.Len(t, f.driftChecks.checks, 1)
	assert.Equal(t, prodID, f.driftChecks.checks[0].EnvironmentID)
}

func TestDriftLoopRaisesIncidentPerPolicy(t *testing.T) {
	f := newDriftLoopFixture(t, &models.AutoIncidentPolicy{TenantID: "t1", Enabled: true})
	envID := f.addEnvironment(models.ClassProduction)

	// One tracked workflow in sync with its git copy, one unmanaged
	doc := models.WorkflowDocument{"name": "order-sync", "nodes": []interface{}{}}
	canonicalID := uuid.New()
	require.NoError(t, f.canonicals.Create(context.Background(), &models.CanonicalWorkflow{
		CanonicalID: canonicalID, TenantID: "t1", DisplayName: "order-sync",
	}))
	f.gitStates.states[stubGitKey{canonicalID, envID}] = &models.GitState{
		TenantID:      "t1",
		CanonicalID:   canonicalID,
		EnvironmentID: envID,
		GitPath:       "workflows/order-sync.json",
		GitCommitSHA:  "abc123",
	}
	f.repo.files["workflows/order-sync.json"] = doc
	f.adapter.workflows = []models.WorkflowSummary{
		{ID: "rt-1", Name: "order-sync"},
		{ID: "rt-2", Name: "shadow"},
	}
	f.adapter.documents["rt-1"] = doc
	f.adapter.documents["rt-2"] = models.WorkflowDocument{"name": "shadow", "nodes": []interface{}{}}

	require.NoError(t, f.loop.runOnce(context.Background()))

	require.Len(t, f.incidents.incidents, 1)
	for _, incident := range f.incidents.incidents {
		assert.Equal(t, models.IncidentDetected, incident.Status)
		assert.Equal(t, models.SeverityLow, incident.Severity)
		require.NotNil(t, incident.DetectedBy)
		assert.Equal(t, DetectedBySystem, *incident.DetectedBy)
		require.NotNil(t, incident.ExpiresAt)
	}
	assert.Contains(t, f.notifier.events, "drift.detected")

	// A second pass finds the incident active and does not raise another
	require.NoError(t, f.loop.runOnce(context.Background()))
	assert.Len(t, f.incidents.incidents, 1)
}

func TestDriftLoopDoesNotRaiseWithoutPolicy(t *testing.T) {
	f := newDriftLoopFixture(t, nil)
	envID := f.addEnvironment(models.ClassProduction)

	doc := models.WorkflowDocument{"name": "order-sync", "nodes": []interface{}{}}
	canonicalID := uuid.New()
	require.NoError(t, f.canonicals.Create(context.Background(), &models.CanonicalWorkflow{
		CanonicalID: canonicalID, TenantID: "t1", DisplayName: "order-sync",
	}))
	f.gitStates.states[stubGitKey{canonicalID, envID}] = &models.GitState{
		TenantID:      "t1",
		CanonicalID:   canonicalID,
		EnvironmentID: envID,
		GitPath:       "workflows/order-sync.json",
		GitCommitSHA:  "abc123",
	}
	f.repo.files["workflows/order-sync.json"] = doc
	f.adapter.workflows = []models.WorkflowSummary{
		{ID: "rt-1", Name: "order-sync"},
		{ID: "rt-2", Name: "shadow"},
	}
	f.adapter.documents["rt-1"] = doc
	f.adapter.documents["rt-2"] = models.WorkflowDocument{"name": "shadow", "nodes": []interface{}{}}

	require.NoError(t, f.loop.runOnce(context.Background()))

	assert.Empty(t, f.incidents.incidents)
	assert.Empty(t, f.notifier.events)
}
