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

func TestComputeDiffStatusDecisionTable(t *testing.T) {
	tests := []struct {
		name      string
		sourceGit string
		targetGit string
		sourceEnv string
		targetEnv string
		want      models.DiffStatus
	}{
		{"neither side in git", "", "", "", "", models.DiffUnchanged},
		{"target only", "", "h1", "", "h1", models.DiffTargetOnly},
		{"source only", "h1", "", "h1", "", models.DiffAdded},
		{"same content both sides", "h1", "h1", "h1", "h1", models.DiffUnchanged},
		{"same content, runtime drifted", "h1", "h1", "h2", "h1", models.DiffUnchanged},
		{"forward drift", "h2", "h1", "h2", "h1", models.DiffModified},
		{"forward drift, no env hashes", "h2", "h1", "", "", models.DiffModified},
		{"target hotfixed to source content", "h2", "h1", "h2", "h2", models.DiffTargetHotfix},
		{"divergent changes", "h1", "h2", "h3", "h2", models.DiffConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, conflict := ComputeDiffStatus(tt.sourceGit, tt.targetGit, tt.sourceEnv, tt.targetEnv)
			assert.Equal(t, tt.want, status)
			if tt.want == models.DiffConflict {
				require.NotNil(t, conflict)
				assert.Equal(t, models.ConflictTypeDivergent, conflict.ConflictType)
				assert.Equal(t, tt.sourceGit, conflict.SourceGitHash)
				assert.Equal(t, tt.targetGit, conflict.TargetGitHash)
			} else {
				assert.Nil(t, conflict)
			}
		})
	}
}

func newReconcileFixture(t *testing.T) (*ReconcileService, *memCanonicalStore, *memGitStateStore, *memMappingStore, *memDiffStateStore, *memEnvironmentStore) {
	t.Helper()
	canonicals := &memCanonicalStore{}
	environments := newMemEnvironmentStore()
	mappings := newMemMappingStore()
	gitStates := newMemGitStateStore()
	diffStates := newMemDiffStateStore()

	svc := NewReconcileService(canonicals, environments, mappings, gitStates,
		diffStates, allowAllThrottle{}, time.Minute, testLogger())

	return svc, canonicals, gitStates, mappings, diffStates, environments
}

func TestReconcilePairRejectsSameEnvironment(t *testing.T) {
	svc, _, _, _, _, _ := newReconcileFixture(t)
	envID := uuid.New()

	_, err := svc.ReconcilePair(context.Background(), "t1", envID, envID, false)
	require.Error(t, err)
}

func TestReconcilePairComputesAndStores(t *testing.T) {
	svc, canonicals, gitStates, _, diffStates, _ := newReconcileFixture(t)

	canonicalID := uuid.New()
	source := uuid.New()
	target := uuid.New()

	require.NoError(t, canonicals.Create(context.Background(), &models.CanonicalWorkflow{
		CanonicalID: canonicalID, TenantID: "t1", DisplayName: "order-sync",
	}))
	gitStates.put(&models.GitState{TenantID: "t1", CanonicalID: canonicalID, EnvironmentID: source, GitContentHash: "h2"})
	gitStates.put(&models.GitState{TenantID: "t1", CanonicalID: canonicalID, EnvironmentID: target, GitContentHash: "h1"})

	result, err := svc.ReconcilePair(context.Background(), "t1", source, target, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Computed)

	state, err := diffStates.Get(context.Background(), "t1", canonicalID, source, target)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, models.DiffModified, state.DiffStatus)
}

func TestReconcilePairSkipsUnchangedInputs(t *testing.T) {
	svc, canonicals, gitStates, _, _, _ := newReconcileFixture(t)

	canonicalID := uuid.New()
	source := uuid.New()
	target := uuid.New()

	require.NoError(t, canonicals.Create(context.Background(), &models.CanonicalWorkflow{
		CanonicalID: canonicalID, TenantID: "t1", DisplayName: "order-sync",
	}))
	gitStates.put(&models.GitState{TenantID: "t1", CanonicalID: canonicalID, EnvironmentID: source, GitContentHash: "h1"})
	gitStates.put(&models.GitState{TenantID: "t1", CanonicalID: canonicalID, EnvironmentID: target, GitContentHash: "h1"})

	first, err := svc.ReconcilePair(context.Background(), "t1", source, target, false)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Computed)

	second, err := svc.ReconcilePair(context.Background(), "t1", source, target, false)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Computed)
	assert.Equal(t, 1, second.Unchanged)

	// force recomputes regardless
	forced, err := svc.ReconcilePair(context.Background(), "t1", source, target, true)
	require.NoError(t, err)
	assert.Equal(t, 1, forced.Computed)
}

func TestReconcilePairDeletesStaleRows(t *testing.T) {
	svc, canonicals, gitStates, _, diffStates, _ := newReconcileFixture(t)

	source := uuid.New()
	target := uuid.New()

	vanished := uuid.New()
	require.NoError(t, diffStates.Upsert(context.Background(), &models.DiffState{
		TenantID: "t1", CanonicalID: vanished, SourceEnvID: source, TargetEnvID: target,
		DiffStatus: models.DiffUnchanged,
	}))

	live := uuid.New()
	require.NoError(t, canonicals.Create(context.Background(), &models.CanonicalWorkflow{
		CanonicalID: live, TenantID: "t1", DisplayName: "live",
	}))
	gitStates.put(&models.GitState{TenantID: "t1", CanonicalID: live, EnvironmentID: source, GitContentHash: "h1"})

	_, err := svc.ReconcilePair(context.Background(), "t1", source, target, false)
	require.NoError(t, err)

	stale, err := diffStates.Get(context.Background(), "t1", vanished, source, target)
	require.NoError(t, err)
	assert.Nil(t, stale)
}

type denyThrottle struct{}

func (denyThrottle) Allow(ctx context.Context, key string, window time.Duration) (bool, error) {
	return false, nil
}

func TestReconcilePairDebounce(t *testing.T) {
	canonicals := &memCanonicalStore{}
	svc := NewReconcileService(canonicals, newMemEnvironmentStore(), newMemMappingStore(),
		newMemGitStateStore(), newMemDiffStateStore(), denyThrottle{}, time.Minute, testLogger())

	result, err := svc.ReconcilePair(context.Background(), "t1", uuid.New(), uuid.New(), false)
	require.NoError(t, err)
	assert.True(t, result.Skipped)

	// force bypasses the debounce entirely
	forced, err := svc.ReconcilePair(context.Background(), "t1", uuid.New(), uuid.New(), true)
	require.NoError(t, err)
	assert.False(t, forced.Skipped)
}

func TestReconcileAllPairsCoversBothDirections(t *testing.T) {
	svc, _, _, _, _, environments := newReconcileFixture(t)

	changed := uuid.New()
	other := uuid.New()
	environments.add(&models.Environment{EnvironmentID: changed, TenantID: "t1", Name: "staging"})
	environments.add(&models.Environment{EnvironmentID: other, TenantID: "t1", Name: "prod"})

	result, err := svc.ReconcileAllPairsForEnvironment(context.Background(), "t1", changed, false)
	require.NoError(t, err)
	assert.Len(t, result.Pairs, 2)
	assert.Empty(t, result.Errors)
}

func TestReconcilePairConflictMetadataTimestamps(t *testing.T) {
	svc, canonicals, gitStates, mappings, diffStates, _ := newReconcileFixture(t)

	canonicalID := uuid.New()
	source := uuid.New()
	target := uuid.New()
	syncedAt := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, canonicals.Create(context.Background(), &models.CanonicalWorkflow{
		CanonicalID: canonicalID, TenantID: "t1", DisplayName: "order-sync",
	}))
	gitStates.put(&models.GitState{TenantID: "t1", CanonicalID: canonicalID, EnvironmentID: source, GitContentHash: "h1"})
	gitStates.put(&models.GitState{TenantID: "t1", CanonicalID: canonicalID, EnvironmentID: target, GitContentHash: "h2"})
	require.NoError(t, mappings.Upsert(context.Background(), &models.EnvironmentMapping{
		MappingID: uuid.New(), TenantID: "t1", EnvironmentID: source,
		CanonicalID: &canonicalID, MappingStatus: models.MappingLinked,
		ContentHash: "h3", LastSyncAt: syncedAt,
	}))

	_, err := svc.ReconcilePair(context.Background(), "t1", source, target, false)
	require.NoError(t, err)

	state, err := diffStates.Get(context.Background(), "t1", canonicalID, source, target)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, models.DiffConflict, state.DiffStatus)
	require.NotNil(t, state.Conflict)
	require.NotNil(t, state.Conflict.SourceUpdatedAt)
	assert.Equal(t, syncedAt, *state.Conflict.SourceUpdatedAt)
}
