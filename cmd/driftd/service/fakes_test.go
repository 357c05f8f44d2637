package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/flowops/driftd/cmd/driftd/adapters"
	"github.com/flowops/driftd/cmd/driftd/models"
	"github.com/flowops/driftd/common/logger"
)

func testLogger() *logger.Logger {
	return logger.New("error", "text")
}

// In-memory store fakes shared by the service tests.

type memCanonicalStore struct {
	workflows []*models.CanonicalWorkflow
}

func (s *memCanonicalStore) Create(ctx context.Context, w *models.CanonicalWorkflow) error {
	s.workflows = append(s.workflows, w)
	return nil
}

func (s *memCanonicalStore) GetByName(ctx context.Context, tenantID, name string) (*models.CanonicalWorkflow, error) {
	for _, w := range s.workflows {
		if w.TenantID == tenantID && w.DisplayName == name && w.DeletedAt == nil {
			return w, nil
		}
	}
	return nil, nil
}

func (s *memCanonicalStore) ListActive(ctx context.Context, tenantID string) ([]*models.CanonicalWorkflow, error) {
	var out []*models.CanonicalWorkflow
	for _, w := range s.workflows {
		if w.TenantID == tenantID && w.DeletedAt == nil {
			out = append(out, w)
		}
	}
	return out, nil
}

type memEnvironmentStore struct {
	environments map[uuid.UUID]*models.Environment
}

func newMemEnvironmentStore() *memEnvironmentStore {
	return &memEnvironmentStore{environments: make(map[uuid.UUID]*models.Environment)}
}

func (s *memEnvironmentStore) add(env *models.Environment) {
	s.environments[env.EnvironmentID] = env
}

func (s *memEnvironmentStore) Get(ctx context.Context, id uuid.UUID) (*models.Environment, error) {
	return s.environments[id], nil
}

func (s *memEnvironmentStore) ListByTenant(ctx context.Context, tenantID string) ([]*models.Environment, error) {
	var out []*models.Environment
	for _, env := range s.environments {
		if env.TenantID == tenantID {
			out = append(out, env)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memEnvironmentStore) ListDriftEligible(ctx context.Context) ([]*models.Environment, error) {
	var out []*models.Environment
	for _, env := range s.environments {
		if env.DriftEligible() {
			out = append(out, env)
		}
	}
	return out, nil
}

func (s *memEnvironmentStore) ListTenants(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, env := range s.environments {
		if !seen[env.TenantID] {
			seen[env.TenantID] = true
			out = append(out, env.TenantID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *memEnvironmentStore) UpdateDriftStatus(ctx context.Context, id uuid.UUID, status models.DriftStatus, checkedAt time.Time, driftFound bool) error {
	env, ok := s.environments[id]
	if !ok {
		return fmt.Errorf("environment not found: %s", id)
	}
	env.DriftStatus = status
	env.LastDriftCheckAt = &checkedAt
	if driftFound {
		env.LastDriftDetectedAt = &checkedAt
	}
	return nil
}

func (s *memEnvironmentStore) SetActiveIncident(ctx context.Context, environmentID, incidentID uuid.UUID) error {
	env, ok := s.environments[environmentID]
	if !ok {
		return fmt.Errorf("environment not found: %s", environmentID)
	}
	env.ActiveIncidentID = &incidentID
	env.DriftStatus = models.DriftStatusDetected
	return nil
}

func (s *memEnvironmentStore) ClearActiveIncident(ctx context.Context, environmentID uuid.UUID) error {
	env, ok := s.environments[environmentID]
	if !ok {
		return fmt.Errorf("environment not found: %s", environmentID)
	}
	env.ActiveIncidentID = nil
	env.DriftStatus = models.DriftStatusInSync
	return nil
}

type memMappingStore struct {
	mappings map[uuid.UUID]*models.EnvironmentMapping
}

func newMemMappingStore() *memMappingStore {
	return &memMappingStore{mappings: make(map[uuid.UUID]*models.EnvironmentMapping)}
}

func (s *memMappingStore) GetByID(ctx context.Context, mappingID uuid.UUID) (*models.EnvironmentMapping, error) {
	return s.mappings[mappingID], nil
}

func (s *memMappingStore) GetByRuntimeID(ctx context.Context, tenantID string, environmentID uuid.UUID, runtimeID string) (*models.EnvironmentMapping, error) {
	for _, m := range s.mappings {
		if m.TenantID == tenantID && m.EnvironmentID == environmentID &&
			m.RuntimeWorkflowID != nil && *m.RuntimeWorkflowID == runtimeID {
			return m, nil
		}
	}
	return nil, nil
}

func (s *memMappingStore) GetLinkedByCanonical(ctx context.Context, tenantID string, environmentID, canonicalID uuid.UUID) (*models.EnvironmentMapping, error) {
	for _, m := range s.mappings {
		if m.TenantID == tenantID && m.EnvironmentID == environmentID &&
			m.MappingStatus == models.MappingLinked &&
			m.CanonicalID != nil && *m.CanonicalID == canonicalID {
			return m, nil
		}
	}
	return nil, nil
}

func (s *memMappingStore) ListByEnvironment(ctx context.Context, tenantID string, environmentID uuid.UUID) ([]*models.EnvironmentMapping, error) {
	var out []*models.EnvironmentMapping
	for _, m := range s.mappings {
		if m.TenantID == tenantID && m.EnvironmentID == environmentID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkflowName < out[j].WorkflowName })
	return out, nil
}

func (s *memMappingStore) Upsert(ctx context.Context, m *models.EnvironmentMapping) error {
	copied := *m
	s.mappings[m.MappingID] = &copied
	return nil
}

func (s *memMappingStore) MarkDeleted(ctx context.Context, mappingID uuid.UUID) error {
	m, ok := s.mappings[mappingID]
	if !ok {
		return fmt.Errorf("mapping not found: %s", mappingID)
	}
	m.MappingStatus = models.MappingDeleted
	m.RuntimeWorkflowID = nil
	return nil
}

type gitKey struct {
	tenantID      string
	canonicalID   uuid.UUID
	environmentID uuid.UUID
}

type memGitStateStore struct {
	states map[gitKey]*models.GitState
}

func newMemGitStateStore() *memGitStateStore {
	return &memGitStateStore{states: make(map[gitKey]*models.GitState)}
}

func (s *memGitStateStore) put(state *models.GitState) {
	s.states[gitKey{state.TenantID, state.CanonicalID, state.EnvironmentID}] = state
}

func (s *memGitStateStore) Get(ctx context.Context, tenantID string, canonicalID, environmentID uuid.UUID) (*models.GitState, error) {
	return s.states[gitKey{tenantID, canonicalID, environmentID}], nil
}

func (s *memGitStateStore) ListByEnvironment(ctx context.Context, tenantID string, environmentID uuid.UUID) ([]*models.GitState, error) {
	var out []*models.GitState
	for key, state := range s.states {
		if key.tenantID == tenantID && key.environmentID == environmentID {
			out = append(out, state)
		}
	}
	return out, nil
}

type diffKey struct {
	tenantID    string
	canonicalID uuid.UUID
	sourceEnvID uuid.UUID
	targetEnvID uuid.UUID
}

type memDiffStateStore struct {
	states map[diffKey]*models.DiffState
}

func newMemDiffStateStore() *memDiffStateStore {
	return &memDiffStateStore{states: make(map[diffKey]*models.DiffState)}
}

func (s *memDiffStateStore) Get(ctx context.Context, tenantID string, canonicalID, sourceEnvID, targetEnvID uuid.UUID) (*models.DiffState, error) {
	return s.states[diffKey{tenantID, canonicalID, sourceEnvID, targetEnvID}], nil
}

func (s *memDiffStateStore) Upsert(ctx context.Context, state *models.DiffState) error {
	copied := *state
	s.states[diffKey{state.TenantID, state.CanonicalID, state.SourceEnvID, state.TargetEnvID}] = &copied
	return nil
}

func (s *memDiffStateStore) DeleteStale(ctx context.Context, tenantID string, sourceEnvID, targetEnvID uuid.UUID, live []uuid.UUID) (int, error) {
	liveSet := make(map[uuid.UUID]bool, len(live))
	for _, id := range live {
		liveSet[id] = true
	}
	deleted := 0
	for key := range s.states {
		if key.tenantID == tenantID && key.sourceEnvID == sourceEnvID && key.targetEnvID == targetEnvID && !liveSet[key.canonicalID] {
			delete(s.states, key)
			deleted++
		}
	}
	return deleted, nil
}

type memIncidentStore struct {
	incidents map[uuid.UUID]*models.DriftIncident
}

func newMemIncidentStore() *memIncidentStore {
	return &memIncidentStore{incidents: make(map[uuid.UUID]*models.DriftIncident)}
}

func (s *memIncidentStore) Create(ctx context.Context, incident *models.DriftIncident) error {
	copied := *incident
	s.incidents[incident.IncidentID] = &copied
	return nil
}

func (s *memIncidentStore) Get(ctx context.Context, incidentID uuid.UUID) (*models.DriftIncident, error) {
	incident, ok := s.incidents[incidentID]
	if !ok {
		return nil, nil
	}
	copied := *incident
	return &copied, nil
}

func (s *memIncidentStore) Update(ctx context.Context, incident *models.DriftIncident) error {
	if _, ok := s.incidents[incident.IncidentID]; !ok {
		return fmt.Errorf("incident not found: %s", incident.IncidentID)
	}
	copied := *incident
	s.incidents[incident.IncidentID] = &copied
	return nil
}

func (s *memIncidentStore) GetActiveByEnvironment(ctx context.Context, tenantID string, environmentID uuid.UUID) (*models.DriftIncident, error) {
	for _, incident := range s.incidents {
		if incident.TenantID == tenantID && incident.EnvironmentID == environmentID && incident.IsOpen() {
			copied := *incident
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memIncidentStore) ListRecentByEnvironment(ctx context.Context, tenantID string, environmentID uuid.UUID, since time.Time) ([]*models.DriftIncident, error) {
	var out []*models.DriftIncident
	for _, incident := range s.incidents {
		if incident.TenantID == tenantID && incident.EnvironmentID == environmentID && !incident.DetectedAt.Before(since) {
			copied := *incident
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memIncidentStore) ListOpenWithExpiry(ctx context.Context) ([]*models.DriftIncident, error) {
	var out []*models.DriftIncident
	for _, incident := range s.incidents {
		if incident.IsOpen() && incident.ExpiresAt != nil {
			copied := *incident
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memIncidentStore) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*models.DriftIncident, error) {
	var out []*models.DriftIncident
	for _, incident := range s.incidents {
		if incident.TenantID == tenantID {
			copied := *incident
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memIncidentStore) MarkTTLWarningSent(ctx context.Context, incidentID uuid.UUID, at time.Time) error {
	incident, ok := s.incidents[incidentID]
	if !ok {
		return fmt.Errorf("incident not found: %s", incidentID)
	}
	if incident.TTLWarningSentAt == nil {
		incident.TTLWarningSentAt = &at
	}
	return nil
}

func (s *memIncidentStore) PurgePayloads(ctx context.Context, tenantID string, before time.Time) (int, error) {
	purged := 0
	now := time.Now().UTC()
	for _, incident := range s.incidents {
		if incident.TenantID == tenantID && incident.Status == models.IncidentClosed &&
			incident.ClosedAt != nil && incident.ClosedAt.Before(before) && incident.PayloadPurgedAt == nil {
			incident.DriftSnapshot = nil
			incident.AffectedWorkflows = nil
			incident.PayloadPurgedAt = &now
			purged++
		}
	}
	return purged, nil
}

type checkpointKey struct {
	tenantID      string
	environmentID uuid.UUID
}

type memCheckpointStore struct {
	checkpoints map[checkpointKey]*models.SyncCheckpoint
	putCount    int
}

func newMemCheckpointStore() *memCheckpointStore {
	return &memCheckpointStore{checkpoints: make(map[checkpointKey]*models.SyncCheckpoint)}
}

func (s *memCheckpointStore) Get(ctx context.Context, tenantID string, environmentID uuid.UUID) (*models.SyncCheckpoint, error) {
	return s.checkpoints[checkpointKey{tenantID, environmentID}], nil
}

func (s *memCheckpointStore) Put(ctx context.Context, checkpoint *models.SyncCheckpoint) error {
	copied := *checkpoint
	s.checkpoints[checkpointKey{checkpoint.TenantID, checkpoint.EnvironmentID}] = &copied
	s.putCount++
	return nil
}

func (s *memCheckpointStore) Clear(ctx context.Context, tenantID string, environmentID uuid.UUID) error {
	delete(s.checkpoints, checkpointKey{tenantID, environmentID})
	return nil
}

type memDriftCheckStore struct {
	checks []*models.DriftCheck
}

func (s *memDriftCheckStore) Insert(ctx context.Context, check *models.DriftCheck) error {
	s.checks = append(s.checks, check)
	return nil
}

func (s *memDriftCheckStore) PurgeOlderThan(ctx context.Context, tenantID string, before time.Time) (int, error) {
	newest := make(map[uuid.UUID]*models.DriftCheck)
	for _, check := range s.checks {
		if check.TenantID != tenantID {
			continue
		}
		if current, ok := newest[check.EnvironmentID]; !ok || check.CheckedAt.After(current.CheckedAt) {
			newest[check.EnvironmentID] = check
		}
	}

	var kept []*models.DriftCheck
	purged := 0
	for _, check := range s.checks {
		if check.TenantID == tenantID && check.CheckedAt.Before(before) && newest[check.EnvironmentID] != check {
			purged++
			continue
		}
		kept = append(kept, check)
	}
	s.checks = kept
	return purged, nil
}

type memRetentionStore struct {
	policies               map[string]*models.RetentionPolicy
	reconciliationsDeleted int
	approvalsDeleted       int
}

func newMemRetentionStore() *memRetentionStore {
	return &memRetentionStore{policies: make(map[string]*models.RetentionPolicy)}
}

func (s *memRetentionStore) GetPolicy(ctx context.Context, tenantID string) (*models.RetentionPolicy, error) {
	return s.policies[tenantID], nil
}

func (s *memRetentionStore) DeleteReconciliationArtifactsBefore(ctx context.Context, tenantID string, before time.Time) (int, error) {
	return s.reconciliationsDeleted, nil
}

func (s *memRetentionStore) DeleteApprovalsBefore(ctx context.Context, tenantID string, before time.Time) (int, error) {
	return s.approvalsDeleted, nil
}

type memPolicyStore struct {
	policies map[string]*models.AutoIncidentPolicy
}

func newMemPolicyStore() *memPolicyStore {
	return &memPolicyStore{policies: make(map[string]*models.AutoIncidentPolicy)}
}

func (s *memPolicyStore) GetAutoIncidentPolicy(ctx context.Context, tenantID string) (*models.AutoIncidentPolicy, error) {
	return s.policies[tenantID], nil
}

// Runtime adapter fakes.

type fakeAdapter struct {
	workflows []models.WorkflowSummary
	documents map[string]models.WorkflowDocument
	listErr   error
	getErrs   map[string]error
}

func (a *fakeAdapter) ListWorkflows(ctx context.Context) ([]models.WorkflowSummary, error) {
	if a.listErr != nil {
		return nil, a.listErr
	}
	return a.workflows, nil
}

func (a *fakeAdapter) GetWorkflow(ctx context.Context, id string) (models.WorkflowDocument, error) {
	if err, ok := a.getErrs[id]; ok {
		return nil, err
	}
	if doc, ok := a.documents[id]; ok {
		return doc, nil
	}
	return nil, fmt.Errorf("workflow not found: %s", id)
}

func (a *fakeAdapter) TestConnection(ctx context.Context) error { return nil }

type fakeFactory struct {
	adapter adapters.RuntimeAdapter
	err     error
}

func (f *fakeFactory) ForEnvironment(ctx context.Context, env *models.Environment) (adapters.RuntimeAdapter, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.adapter, nil
}

type fakeRepoProvider struct {
	files map[string]models.WorkflowDocument
	err   error
}

func (p *fakeRepoProvider) GetFileContent(ctx context.Context, path, ref string) (models.WorkflowDocument, error) {
	if p.err != nil {
		return nil, p.err
	}
	doc, ok := p.files[path]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	return doc, nil
}

type recordingNotifier struct {
	events []adapters.Event
}

func (n *recordingNotifier) Emit(ctx context.Context, tenantID, eventType string, environmentID uuid.UUID, metadata map[string]interface{}) error {
	n.events = append(n.events, adapters.Event{
		TenantID:      tenantID,
		EventType:     eventType,
		EnvironmentID: environmentID,
		Metadata:      metadata,
	})
	return nil
}

type allowAllThrottle struct{}

func (allowAllThrottle) Allow(ctx context.Context, key string, window time.Duration) (bool, error) {
	return true, nil
}
