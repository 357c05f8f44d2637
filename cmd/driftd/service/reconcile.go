package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowops/driftd/cmd/driftd/models"
	"github.com/flowops/driftd/common/logger"
)

// ReconcileService computes the diff status of every canonical workflow
// between ordered environment pairs, incrementally and debounced.
type ReconcileService struct {
	canonicals   CanonicalStore
	environments EnvironmentStore
	mappings     MappingStore
	gitStates    GitStateStore
	diffStates   DiffStateStore
	throttle     Throttle
	window       time.Duration
	log          *logger.Logger
}

// NewReconcileService creates a new reconciliation engine
func NewReconcileService(
	canonicals CanonicalStore,
	environments EnvironmentStore,
	mappings MappingStore,
	gitStates GitStateStore,
	diffStates DiffStateStore,
	throttle Throttle,
	window time.Duration,
	log *logger.Logger,
) *ReconcileService {
	if window <= 0 {
		window = 60 * time.Second
	}
	return &ReconcileService{
		canonicals:   canonicals,
		environments: environments,
		mappings:     mappings,
		gitStates:    gitStates,
		diffStates:   diffStates,
		throttle:     throttle,
		window:       window,
		log:          log,
	}
}

// ReconcileResult aggregates one pair reconciliation
type ReconcileResult struct {
	Computed  int  `json:"computed"`
	Updated   int  `json:"updated"`
	Unchanged int  `json:"unchanged"`
	Skipped   bool `json:"skipped,omitempty"`
}

// FanoutResult aggregates reconciliation across all pairs touching one
// environment. One pair's failure never aborts the others.
type FanoutResult struct {
	Pairs  map[string]*ReconcileResult `json:"pairs"`
	Errors []string                    `json:"errors,omitempty"`
}

func throttleKey(tenantID string, sourceEnvID, targetEnvID uuid.UUID) string {
	return fmt.Sprintf("reconcile:throttle:%s:%s:%s", tenantID, sourceEnvID, targetEnvID)
}

// ReconcilePair recomputes diff state for every canonical workflow of the
// tenant between source and target. A non-forced call within the debounce
// window of the previous call for the same key is a no-op (Skipped).
func (s *ReconcileService) ReconcilePair(ctx context.Context, tenantID string, sourceEnvID, targetEnvID uuid.UUID, force bool) (*ReconcileResult, error) {
	if sourceEnvID == targetEnvID {
		return nil, fmt.Errorf("source and target environment must differ")
	}

	if !force {
		allowed, err := s.throttle.Allow(ctx, throttleKey(tenantID, sourceEnvID, targetEnvID), s.window)
		if err != nil {
			s.log.Warn("reconcile throttle unavailable, proceeding",
				"tenant_id", tenantID, "error", err)
		}
		if !allowed {
			return &ReconcileResult{Skipped: true}, nil
		}
	}

	workflows, err := s.canonicals.ListActive(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list canonical workflows: %w", err)
	}

	result := &ReconcileResult{}
	liveIDs := make([]uuid.UUID, 0, len(workflows))

	for _, workflow := range workflows {
		liveIDs = append(liveIDs, workflow.CanonicalID)

		inputs, err := s.gatherInputs(ctx, tenantID, workflow.CanonicalID, sourceEnvID, targetEnvID)
		if err != nil {
			return nil, fmt.Errorf("workflow %s: %w", workflow.CanonicalID, err)
		}

		prev, err := s.diffStates.Get(ctx, tenantID, workflow.CanonicalID, sourceEnvID, targetEnvID)
		if err != nil {
			return nil, fmt.Errorf("workflow %s: failed to load diff state: %w", workflow.CanonicalID, err)
		}

		// Incremental recompute: skip when none of the four inputs changed
		if !force && prev != nil && prev.SameInputs(inputs.sourceGit, inputs.targetGit, inputs.sourceEnv, inputs.targetEnv) {
			result.Unchanged++
			continue
		}

		status, conflict := ComputeDiffStatus(inputs.sourceGit, inputs.targetGit, inputs.sourceEnv, inputs.targetEnv)
		if conflict != nil {
			conflict.SourceUpdatedAt = inputs.sourceUpdatedAt
			conflict.TargetUpdatedAt = inputs.targetUpdatedAt
		}

		state := &models.DiffState{
			TenantID:      tenantID,
			CanonicalID:   workflow.CanonicalID,
			SourceEnvID:   sourceEnvID,
			TargetEnvID:   targetEnvID,
			DiffStatus:    status,
			SourceGitHash: inputs.sourceGit,
			TargetGitHash: inputs.targetGit,
			SourceEnvHash: inputs.sourceEnv,
			TargetEnvHash: inputs.targetEnv,
			Conflict:      conflict,
			ComputedAt:    time.Now().UTC(),
		}

		if err := s.diffStates.Upsert(ctx, state); err != nil {
			return nil, fmt.Errorf("workflow %s: failed to store diff state: %w", workflow.CanonicalID, err)
		}

		result.Computed++
		if prev == nil || prev.DiffStatus != status {
			result.Updated++
		}
	}

	// Diff state is derived cache: rows for vanished canonical workflows
	// are deleted outright.
	if _, err := s.diffStates.DeleteStale(ctx, tenantID, sourceEnvID, targetEnvID, liveIDs); err != nil {
		s.log.Warn("failed to delete stale diff state",
			"tenant_id", tenantID, "source", sourceEnvID, "target", targetEnvID, "error", err)
	}

	return result, nil
}

// ReconcileAllPairsForEnvironment fans reconciliation out over every
// other environment of the tenant, with changedEnv as source and as
// target, aggregating errors without letting one pair abort the rest.
func (s *ReconcileService) ReconcileAllPairsForEnvironment(ctx context.Context, tenantID string, changedEnvID uuid.UUID, force bool) (*FanoutResult, error) {
	environments, err := s.environments.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list environments: %w", err)
	}

	result := &FanoutResult{Pairs: make(map[string]*ReconcileResult)}

	for _, env := range environments {
		if env.EnvironmentID == changedEnvID {
			continue
		}

		for _, pair := range [][2]uuid.UUID{
			{changedEnvID, env.EnvironmentID},
			{env.EnvironmentID, changedEnvID},
		} {
			key := fmt.Sprintf("%s->%s", pair[0], pair[1])
			pairResult, err := s.ReconcilePair(ctx, tenantID, pair[0], pair[1], force)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", key, err))
				continue
			}
			result.Pairs[key] = pairResult
		}
	}

	return result, nil
}

type diffInputs struct {
	sourceGit       string
	targetGit       string
	sourceEnv       string
	targetEnv       string
	sourceUpdatedAt *time.Time
	targetUpdatedAt *time.Time
}

// gatherInputs collects the four hashes driving the decision table. Only
// linked mappings contribute an environment hash.
func (s *ReconcileService) gatherInputs(ctx context.Context, tenantID string, canonicalID, sourceEnvID, targetEnvID uuid.UUID) (*diffInputs, error) {
	inputs := &diffInputs{}

	sourceGit, err := s.gitStates.Get(ctx, tenantID, canonicalID, sourceEnvID)
	if err != nil {
		return nil, fmt.Errorf("failed to load source git state: %w", err)
	}
	if sourceGit != nil {
		inputs.sourceGit = sourceGit.GitContentHash
	}

	targetGit, err := s.gitStates.Get(ctx, tenantID, canonicalID, targetEnvID)
	if err != nil {
		return nil, fmt.Errorf("failed to load target git state: %w", err)
	}
	if targetGit != nil {
		inputs.targetGit = targetGit.GitContentHash
	}

	sourceMapping, err := s.mappings.GetLinkedByCanonical(ctx, tenantID, sourceEnvID, canonicalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load source mapping: %w", err)
	}
	if sourceMapping != nil && sourceMapping.MappingStatus.InDiffScope() {
		inputs.sourceEnv = sourceMapping.ContentHash
		syncedAt := sourceMapping.LastSyncAt
		inputs.sourceUpdatedAt = &syncedAt
	}

	targetMapping, err := s.mappings.GetLinkedByCanonical(ctx, tenantID, targetEnvID, canonicalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load target mapping: %w", err)
	}
	if targetMapping != nil && targetMapping.MappingStatus.InDiffScope() {
		inputs.targetEnv = targetMapping.ContentHash
		syncedAt := targetMapping.LastSyncAt
		inputs.targetUpdatedAt = &syncedAt
	}

	return inputs, nil
}

// ComputeDiffStatus derives the diff status from the four hash inputs.
// Empty strings mean the hash is absent on that side. The decision table
// is exhaustive: every input tuple produces exactly one status.
func ComputeDiffStatus(sourceGit, targetGit, sourceEnv, targetEnv string) (models.DiffStatus, *models.ConflictMetadata) {
	// 1. Neither side has git state: degenerate, nothing to compare
	if sourceGit == "" && targetGit == "" {
		return models.DiffUnchanged, nil
	}

	// 2. Only the target is in git
	if sourceGit == "" {
		return models.DiffTargetOnly, nil
	}

	// 3. Only the source is in git
	if targetGit == "" {
		return models.DiffAdded, nil
	}

	// 4. Both sides declare the same content
	if sourceGit == targetGit {
		return models.DiffUnchanged, nil
	}

	// 5. Hashes differ. Conflict when both sides diverged independently
	// from the common ancestor.
	sourceHasLocalChanges := sourceEnv != "" && sourceEnv != sourceGit
	targetGitHasChanges := targetGit != sourceGit
	if sourceHasLocalChanges && targetGitHasChanges {
		return models.DiffConflict, &models.ConflictMetadata{
			ConflictType:  models.ConflictTypeDivergent,
			SourceGitHash: sourceGit,
			TargetGitHash: targetGit,
			SourceEnvHash: sourceEnv,
			TargetEnvHash: targetEnv,
		}
	}

	// 6. The target runtime matches the source's declared content while
	// the target's own git reference moved on: a hand-applied hotfix.
	if targetEnv != "" && targetEnv == sourceGit {
		return models.DiffTargetHotfix, nil
	}

	// 7. Ordinary forward drift; the target needs to catch up
	return models.DiffModified, nil
}
