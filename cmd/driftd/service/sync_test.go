package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowops/driftd/cmd/driftd/models"
)

type recordingProgress struct {
	updates   int
	completed bool
	failed    bool
	lastErr   error
}

func (p *recordingProgress) UpdateProgress(ctx context.Context, jobID string, current, total int, message string) error {
	p.updates++
	return nil
}

func (p *recordingProgress) Complete(ctx context.Context, jobID string, result interface{}) error {
	p.completed = true
	return nil
}

func (p *recordingProgress) Fail(ctx context.Context, jobID string, err error) error {
	p.failed = true
	p.lastErr = err
	return nil
}

type syncFixture struct {
	svc          *SyncService
	environments *memEnvironmentStore
	mappings     *memMappingStore
	gitStates    *memGitStateStore
	checkpoints  *memCheckpointStore
	adapter      *fakeAdapter
	progress     *recordingProgress
	envID        uuid.UUID
}

func newSyncFixture(t *testing.T, batchSize int) *syncFixture {
	t.Helper()
	f := &syncFixture{
		environments: newMemEnvironmentStore(),
		mappings:     newMemMappingStore(),
		gitStates:    newMemGitStateStore(),
		checkpoints:  newMemCheckpointStore(),
		adapter:      &fakeAdapter{documents: make(map[string]models.WorkflowDocument)},
		progress:     &recordingProgress{},
		envID:        uuid.New(),
	}
	f.environments.add(&models.Environment{
		EnvironmentID: f.envID,
		TenantID:      "t1",
		Name:          "staging",
		Class:         models.ClassStaging,
	})
	f.svc = NewSyncService(f.environments, f.mappings, f.gitStates, f.checkpoints,
		&fakeFactory{adapter: f.adapter}, f.progress, batchSize, testLogger())
	return f
}

func (f *syncFixture) addWorkflow(id, name string, doc models.WorkflowDocument) {
	f.adapter.workflows = append(f.adapter.workflows, models.WorkflowSummary{ID: id, Name: name})
	f.adapter.documents[id] = doc
}

func TestSyncCreatesUntrackedMappings(t *testing.T) {
	f := newSyncFixture(t, 25)
	f.addWorkflow("rt-1", "order-sync", models.WorkflowDocument{"name": "order-sync", "nodes": []interface{}{}})
	f.addWorkflow("rt-2", "billing", models.WorkflowDocument{"name": "billing", "nodes": []interface{}{}})

	result, err := f.svc.SyncEnvironment(context.Background(), "t1", f.envID, "job-1", false)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Synced)
	assert.Equal(t, 2, result.Untracked)
	assert.Equal(t, 0, result.Linked)

	mapping, err := f.mappings.GetByRuntimeID(context.Background(), "t1", f.envID, "rt-1")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.Equal(t, models.MappingUntracked, mapping.MappingStatus)
	assert.NotEmpty(t, mapping.ContentHash)
	assert.NotEmpty(t, mapping.CachedBody)
	assert.True(t, f.progress.completed)
}

func TestSyncAutoLinksUniqueHashMatch(t *testing.T) {
	f := newSyncFixture(t, 25)
	doc := models.WorkflowDocument{"name": "order-sync", "nodes": []interface{}{}}
	f.addWorkflow("rt-1", "order-sync", doc)

	canonicalID := uuid.New()
	f.gitStates.put(&models.GitState{
		TenantID:       "t1",
		CanonicalID:    canonicalID,
		EnvironmentID:  f.envID,
		GitContentHash: ContentHash(doc),
	})

	result, err := f.svc.SyncEnvironment(context.Background(), "t1", f.envID, "job-1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Linked)

	mapping, err := f.mappings.GetByRuntimeID(context.Background(), "t1", f.envID, "rt-1")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.Equal(t, models.MappingLinked, mapping.MappingStatus)
	require.NotNil(t, mapping.CanonicalID)
	assert.Equal(t, canonicalID, *mapping.CanonicalID)
	require.NotNil(t, mapping.LinkedBy)
	assert.Equal(t, AutoLinkActor, *mapping.LinkedBy)
}

func TestSyncAmbiguousHashStaysUntracked(t *testing.T) {
	f := newSyncFixture(t, 25)
	doc := models.WorkflowDocument{"name": "order-sync", "nodes": []interface{}{}}
	f.addWorkflow("rt-1", "order-sync", doc)

	// Two canonical workflows carry the same git content hash
	hash := ContentHash(doc)
	f.gitStates.put(&models.GitState{TenantID: "t1", CanonicalID: uuid.New(), EnvironmentID: f.envID, GitContentHash: hash})
	f.gitStates.put(&models.GitState{TenantID: "t1", CanonicalID: uuid.New(), EnvironmentID: f.envID, GitContentHash: hash})

	result, err := f.svc.SyncEnvironment(context.Background(), "t1", f.envID, "job-1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Untracked)
	assert.Equal(t, 0, result.Linked)
}

func TestSyncResumeStartsAtCheckpoint(t *testing.T) {
	f := newSyncFixture(t, 2)
	for _, id := range []string{"rt-1", "rt-2", "rt-3", "rt-4"} {
		f.addWorkflow(id, id, models.WorkflowDocument{"name": id, "nodes": []interface{}{}})
	}
	require.NoError(t, f.checkpoints.Put(context.Background(), &models.SyncCheckpoint{
		TenantID:      "t1",
		EnvironmentID: f.envID,
		LastIndex:     2,
		Total:         4,
		UpdatedAt:     time.Now().UTC(),
	}))
	f.checkpoints.putCount = 0

	result, err := f.svc.SyncEnvironment(context.Background(), "t1", f.envID, "job-1", true)
	require.NoError(t, err)

	// Only the two workflows after the checkpoint were processed
	assert.Equal(t, 2, result.Synced)

	// The sweep ran against the full listing, so the skipped ones were not
	// marked deleted
	assert.Equal(t, 0, result.Deleted)

	first, err := f.mappings.GetByRuntimeID(context.Background(), "t1", f.envID, "rt-1")
	require.NoError(t, err)
	assert.Nil(t, first)
	last, err := f.mappings.GetByRuntimeID(context.Background(), "t1", f.envID, "rt-4")
	require.NoError(t, err)
	assert.NotNil(t, last)
}

func TestSyncCheckpointsEveryBatchAndClearsOnCompletion(t *testing.T) {
	f := newSyncFixture(t, 2)
	for _, id := range []string{"rt-1", "rt-2", "rt-3", "rt-4", "rt-5"} {
		f.addWorkflow(id, id, models.WorkflowDocument{"name": id, "nodes": []interface{}{}})
	}

	_, err := f.svc.SyncEnvironment(context.Background(), "t1", f.envID, "job-1", false)
	require.NoError(t, err)

	// 5 workflows at batch size 2 means three checkpoint writes
	assert.Equal(t, 3, f.checkpoints.putCount)
	assert.Equal(t, 3, f.progress.updates)

	checkpoint, err := f.checkpoints.Get(context.Background(), "t1", f.envID)
	require.NoError(t, err)
	assert.Nil(t, checkpoint)
}

func TestSyncSweepMarksVanishedWorkflowsDeleted(t *testing.T) {
	f := newSyncFixture(t, 25)
	f.addWorkflow("rt-1", "order-sync", models.WorkflowDocument{"name": "order-sync", "nodes": []interface{}{}})

	goneMappingID := uuid.New()
	goneID := "rt-gone"
	require.NoError(t, f.mappings.Upsert(context.Background(), &models.EnvironmentMapping{
		MappingID:         goneMappingID,
		TenantID:          "t1",
		EnvironmentID:     f.envID,
		RuntimeWorkflowID: &goneID,
		WorkflowName:      "legacy",
		MappingStatus:     models.MappingUntracked,
	}))

	result, err := f.svc.SyncEnvironment(context.Background(), "t1", f.envID, "job-1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)

	// The row is retained with deleted status and its runtime id cleared
	mapping, err := f.mappings.GetByID(context.Background(), goneMappingID)
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.Equal(t, models.MappingDeleted, mapping.MappingStatus)
	assert.Nil(t, mapping.RuntimeWorkflowID)
}

func TestSyncSweepClearsRuntimeID(t *testing.T) {
	f := newSyncFixture(t, 25)
	f.addWorkflow("rt-1", "order-sync", models.WorkflowDocument{"name": "order-sync", "nodes": []interface{}{}})

	_, err := f.svc.SyncEnvironment(context.Background(), "t1", f.envID, "job-1", false)
	require.NoError(t, err)

	// The workflow disappears from the runtime listing
	f.adapter.workflows = nil

	result, err := f.svc.SyncEnvironment(context.Background(), "t1", f.envID, "job-2", false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)

	all, err := f.mappings.ListByEnvironment(context.Background(), "t1", f.envID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.MappingDeleted, all[0].MappingStatus)
	assert.Nil(t, all[0].RuntimeWorkflowID)
}

func TestSyncReturningWorkflowCreatesNewMapping(t *testing.T) {
	f := newSyncFixture(t, 25)
	f.addWorkflow("rt-1", "order-sync", models.WorkflowDocument{"name": "order-sync", "nodes": []interface{}{}})

	// A prior sweep left a deleted row behind; its runtime id is gone, so
	// the returning workflow does not match it.
	require.NoError(t, f.mappings.Upsert(context.Background(), &models.EnvironmentMapping{
		MappingID:     uuid.New(),
		TenantID:      "t1",
		EnvironmentID: f.envID,
		WorkflowName:  "order-sync",
		MappingStatus: models.MappingDeleted,
	}))

	result, err := f.svc.SyncEnvironment(context.Background(), "t1", f.envID, "job-1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, result.Untracked)

	fresh, err := f.mappings.GetByRuntimeID(context.Background(), "t1", f.envID, "rt-1")
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.Equal(t, models.MappingUntracked, fresh.MappingStatus)

	all, err := f.mappings.ListByEnvironment(context.Background(), "t1", f.envID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSyncListFailureIsFatal(t *testing.T) {
	f := newSyncFixture(t, 25)
	f.adapter.listErr = errors.New("connection refused")

	_, err := f.svc.SyncEnvironment(context.Background(), "t1", f.envID, "job-1", false)
	require.Error(t, err)
	assert.True(t, f.progress.failed)
	assert.False(t, f.progress.completed)
}

func TestSyncPerWorkflowFetchFailureIsRecoverable(t *testing.T) {
	f := newSyncFixture(t, 25)
	f.adapter.workflows = []models.WorkflowSummary{
		{ID: "rt-1", Name: "order-sync", Body: models.WorkflowDocument{"name": "order-sync", "nodes": []interface{}{}}},
	}
	f.adapter.getErrs = map[string]error{"rt-1": errors.New("timeout")}

	result, err := f.svc.SyncEnvironment(context.Background(), "t1", f.envID, "job-1", false)
	require.NoError(t, err)

	// Summary body was used as fallback and the failure recorded
	assert.Equal(t, 1, result.Synced)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "rt-1")

	mapping, err := f.mappings.GetByRuntimeID(context.Background(), "t1", f.envID, "rt-1")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.NotEmpty(t, mapping.ContentHash)
}

func TestSyncUnknownEnvironmentIsFatal(t *testing.T) {
	f := newSyncFixture(t, 25)

	_, err := f.svc.SyncEnvironment(context.Background(), "t1", uuid.New(), "job-1", false)
	require.Error(t, err)
	assert.True(t, f.progress.failed)
}
