package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowops/driftd/cmd/driftd/adapters"
	"github.com/flowops/driftd/cmd/driftd/models"
	"github.com/flowops/driftd/common/logger"
)

// AutoLinkActor is recorded as linked_by when the sync engine links a
// runtime workflow to a canonical identity by content hash.
const AutoLinkActor = "auto-link"

// SyncService pulls workflow state from one runtime environment in
// checkpointed batches and maintains environment mappings.
type SyncService struct {
	environments EnvironmentStore
	mappings     MappingStore
	gitStates    GitStateStore
	checkpoints  CheckpointStore
	factory      adapters.RuntimeAdapterFactory
	progress     adapters.ProgressSink
	batchSize    int
	log          *logger.Logger
}

// NewSyncService creates a new environment sync engine
func NewSyncService(
	environments EnvironmentStore,
	mappings MappingStore,
	gitStates GitStateStore,
	checkpoints CheckpointStore,
	factory adapters.RuntimeAdapterFactory,
	progress adapters.ProgressSink,
	batchSize int,
	log *logger.Logger,
) *SyncService {
	if batchSize < 1 {
		batchSize = 25
	}
	return &SyncService{
		environments: environments,
		mappings:     mappings,
		gitStates:    gitStates,
		checkpoints:  checkpoints,
		factory:      factory,
		progress:     progress,
		batchSize:    batchSize,
		log:          log,
	}
}

// SyncResult aggregates one environment sync pass. Errors holds
// recoverable per-workflow failures; a non-nil error return means the
// whole sync was fatal.
type SyncResult struct {
	Synced    int      `json:"synced"`
	Linked    int      `json:"linked"`
	Untracked int      `json:"untracked"`
	Deleted   int      `json:"deleted"`
	Errors    []string `json:"errors,omitempty"`
}

// SyncEnvironment runs one full sync of an environment. When resume is
// true and a checkpoint exists, processing restarts at the batch after
// the checkpoint instead of rescanning from zero.
//
// Connectivity failure to the runtime platform is fatal; a per-workflow
// fetch failure falls back to the summary body and is recorded as a
// recoverable error.
func (s *SyncService) SyncEnvironment(ctx context.Context, tenantID string, environmentID uuid.UUID, jobID string, resume bool) (*SyncResult, error) {
	log := s.log.WithTenant(tenantID).WithEnvironment(environmentID.String())

	env, err := s.environments.Get(ctx, environmentID)
	if err != nil {
		return nil, s.fail(ctx, jobID, fmt.Errorf("failed to load environment: %w", err))
	}
	if env == nil {
		return nil, s.fail(ctx, jobID, fmt.Errorf("environment %s not found", environmentID))
	}

	adapter, err := s.factory.ForEnvironment(ctx, env)
	if err != nil {
		return nil, s.fail(ctx, jobID, fmt.Errorf("failed to resolve runtime adapter: %w", err))
	}

	summaries, err := adapter.ListWorkflows(ctx)
	if err != nil {
		return nil, s.fail(ctx, jobID, fmt.Errorf("runtime platform unreachable: %w", err))
	}
	total := len(summaries)

	startIndex := 0
	if resume {
		checkpoint, err := s.checkpoints.Get(ctx, tenantID, environmentID)
		if err != nil {
			log.Warn("failed to load sync checkpoint, starting from zero", "error", err)
		} else if checkpoint != nil && checkpoint.LastIndex <= total {
			startIndex = checkpoint.LastIndex
			log.Info("resuming sync from checkpoint", "start_index", startIndex, "total", total)
		}
	} else {
		if err := s.checkpoints.Clear(ctx, tenantID, environmentID); err != nil {
			log.Warn("failed to clear sync checkpoint", "error", err)
		}
	}

	hashIndex, err := s.buildHashIndex(ctx, tenantID, environmentID)
	if err != nil {
		return nil, s.fail(ctx, jobID, fmt.Errorf("failed to load git state for auto-link: %w", err))
	}

	// The deletion sweep compares against the full listing, not just the
	// batches processed this run, so a resumed sync never marks workflows
	// it skipped as deleted.
	seen := make(map[string]bool, total)
	for _, summary := range summaries {
		seen[summary.ID] = true
	}

	result := &SyncResult{}

	for batchStart := startIndex; batchStart < total; batchStart += s.batchSize {
		batchEnd := batchStart + s.batchSize
		if batchEnd > total {
			batchEnd = total
		}

		for _, summary := range summaries[batchStart:batchEnd] {
			s.syncOne(ctx, tenantID, environmentID, adapter, summary, hashIndex, result)
		}

		// Checkpoint at the batch boundary so a restart resumes cleanly
		if err := s.checkpoints.Put(ctx, &models.SyncCheckpoint{
			TenantID:      tenantID,
			EnvironmentID: environmentID,
			LastIndex:     batchEnd,
			Total:         total,
			UpdatedAt:     time.Now().UTC(),
		}); err != nil {
			log.Warn("failed to persist sync checkpoint", "last_index", batchEnd, "error", err)
		}

		if err := s.progress.UpdateProgress(ctx, jobID, batchEnd, total,
			fmt.Sprintf("synced %d of %d workflows", batchEnd, total)); err != nil {
			log.Warn("failed to report sync progress", "error", err)
		}
	}

	if err := s.sweepDeleted(ctx, tenantID, environmentID, seen, result); err != nil {
		return nil, s.fail(ctx, jobID, err)
	}

	if err := s.checkpoints.Clear(ctx, tenantID, environmentID); err != nil {
		log.Warn("failed to clear sync checkpoint after completion", "error", err)
	}

	if err := s.progress.Complete(ctx, jobID, result); err != nil {
		log.Warn("failed to report sync completion", "error", err)
	}

	log.Info("environment sync complete",
		"synced", result.Synced,
		"linked", result.Linked,
		"untracked", result.Untracked,
		"deleted", result.Deleted,
		"errors", len(result.Errors),
	)

	return result, nil
}

// syncOne processes a single runtime workflow. Failures here are
// recoverable: they are folded into result.Errors and the batch goes on.
func (s *SyncService) syncOne(
	ctx context.Context,
	tenantID string,
	environmentID uuid.UUID,
	adapter adapters.RuntimeAdapter,
	summary models.WorkflowSummary,
	hashIndex map[string][]uuid.UUID,
	result *SyncResult,
) {
	body := summary.Body
	if full, err := adapter.GetWorkflow(ctx, summary.ID); err != nil {
		// Fall back to the summary body rather than aborting the batch
		result.Errors = append(result.Errors,
			fmt.Sprintf("workflow %s: full fetch failed, used summary: %v", summary.ID, err))
	} else {
		body = full
	}
	if body == nil {
		body = models.WorkflowDocument{"name": summary.Name}
	}

	hash := ContentHash(body)
	cachedBody, err := json.Marshal(body)
	if err != nil {
		result.Errors = append(result.Errors,
			fmt.Sprintf("workflow %s: body not serializable: %v", summary.ID, err))
		return
	}
	now := time.Now().UTC()

	existing, err := s.mappings.GetByRuntimeID(ctx, tenantID, environmentID, summary.ID)
	if err != nil {
		result.Errors = append(result.Errors,
			fmt.Sprintf("workflow %s: mapping lookup failed: %v", summary.ID, err))
		return
	}

	if existing != nil {
		existing.ContentHash = hash
		existing.CachedBody = cachedBody
		existing.WorkflowName = summary.Name
		existing.LastSyncAt = now
		if err := s.mappings.Upsert(ctx, existing); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("workflow %s: mapping update failed: %v", summary.ID, err))
			return
		}
		result.Synced++
		return
	}

	runtimeID := summary.ID
	mapping := &models.EnvironmentMapping{
		MappingID:         uuid.New(),
		TenantID:          tenantID,
		EnvironmentID:     environmentID,
		RuntimeWorkflowID: &runtimeID,
		WorkflowName:      summary.Name,
		ContentHash:       hash,
		CachedBody:        cachedBody,
		LastSyncAt:        now,
	}

	// Auto-link only on a unique hash match; zero or multiple matches stay
	// untracked for manual resolution.
	if candidates := hashIndex[hash]; len(candidates) == 1 {
		canonicalID := candidates[0]
		actor := AutoLinkActor
		mapping.CanonicalID = &canonicalID
		mapping.MappingStatus = models.MappingLinked
		mapping.LinkedAt = &now
		mapping.LinkedBy = &actor
	} else {
		mapping.MappingStatus = models.MappingUntracked
	}

	if err := s.mappings.Upsert(ctx, mapping); err != nil {
		result.Errors = append(result.Errors,
			fmt.Sprintf("workflow %s: mapping create failed: %v", summary.ID, err))
		return
	}

	result.Synced++
	if mapping.MappingStatus == models.MappingLinked {
		result.Linked++
	} else {
		result.Untracked++
	}
}

// sweepDeleted transitions mappings whose runtime workflow was not seen
// this pass to deleted, clearing their runtime id. Rows are never
// removed.
func (s *SyncService) sweepDeleted(ctx context.Context, tenantID string, environmentID uuid.UUID, seen map[string]bool, result *SyncResult) error {
	all, err := s.mappings.ListByEnvironment(ctx, tenantID, environmentID)
	if err != nil {
		return fmt.Errorf("failed to list mappings for deletion sweep: %w", err)
	}

	for _, mapping := range all {
		if mapping.MappingStatus == models.MappingDeleted {
			continue
		}
		if mapping.RuntimeWorkflowID == nil || seen[*mapping.RuntimeWorkflowID] {
			continue
		}
		if err := s.mappings.MarkDeleted(ctx, mapping.MappingID); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("mapping %s: deletion transition failed: %v", mapping.MappingID, err))
			continue
		}
		result.Deleted++
	}
	return nil
}

// buildHashIndex maps git content hashes to the canonical ids that carry
// them for this environment.
func (s *SyncService) buildHashIndex(ctx context.Context, tenantID string, environmentID uuid.UUID) (map[string][]uuid.UUID, error) {
	states, err := s.gitStates.ListByEnvironment(ctx, tenantID, environmentID)
	if err != nil {
		return nil, err
	}
	index := make(map[string][]uuid.UUID, len(states))
	for _, state := range states {
		index[state.GitContentHash] = append(index[state.GitContentHash], state.CanonicalID)
	}
	return index, nil
}

func (s *SyncService) fail(ctx context.Context, jobID string, err error) error {
	if failErr := s.progress.Fail(ctx, jobID, err); failErr != nil {
		s.log.Warn("failed to report sync failure", "job_id", jobID, "error", failErr)
	}
	return err
}
