package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowops/driftd/cmd/driftd/models"
	"github.com/flowops/driftd/common/logger"
)

// Matrix cell statuses
const (
	CellLinked    = "linked"
	CellDrift     = "drift"
	CellOutOfDate = "out_of_date"
	CellAbsent    = "absent"
)

// MatrixCell is one (canonical workflow, environment) intersection
type MatrixCell struct {
	EnvironmentID uuid.UUID  `json:"environment_id"`
	Status        string     `json:"status"`
	ContentHash   string     `json:"content_hash,omitempty"`
	GitHash       string     `json:"git_hash,omitempty"`
	LastSyncAt    *time.Time `json:"last_sync_at,omitempty"`
	CanSync       bool       `json:"can_sync"`
}

// MatrixRow is one canonical workflow across all environments
type MatrixRow struct {
	CanonicalID uuid.UUID    `json:"canonical_id"`
	DisplayName string       `json:"display_name"`
	Cells       []MatrixCell `json:"cells"`
}

// UntrackedEntry is a runtime workflow with no canonical identity,
// surfaced separately so an operator can link or ignore it.
type UntrackedEntry struct {
	MappingID     uuid.UUID `json:"mapping_id"`
	EnvironmentID uuid.UUID `json:"environment_id"`
	WorkflowName  string    `json:"workflow_name"`
	ContentHash   string    `json:"content_hash"`
}

// Matrix is the tenant-wide cross-environment view
type Matrix struct {
	Environments []*models.Environment `json:"environments"`
	Rows         []MatrixRow           `json:"rows"`
	Untracked    []UntrackedEntry      `json:"untracked,omitempty"`
}

// MatrixService builds the cross-environment matrix view and handles
// manual link and ignore actions on untracked workflows.
type MatrixService struct {
	canonicals   CanonicalStore
	environments EnvironmentStore
	mappings     MappingStore
	gitStates    GitStateStore
	log          *logger.Logger
}

// NewMatrixService creates a new matrix view builder
func NewMatrixService(
	canonicals CanonicalStore,
	environments EnvironmentStore,
	mappings MappingStore,
	gitStates GitStateStore,
	log *logger.Logger,
) *MatrixService {
	return &MatrixService{
		canonicals:   canonicals,
		environments: environments,
		mappings:     mappings,
		gitStates:    gitStates,
		log:          log,
	}
}

// Build assembles the matrix for a tenant. Mappings in missing, ignored
// or deleted state are suppressed; untracked mappings appear only in the
// Untracked list, never as cells.
func (s *MatrixService) Build(ctx context.Context, tenantID string) (*Matrix, error) {
	environments, err := s.environments.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list environments: %w", err)
	}

	workflows, err := s.canonicals.ListActive(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list canonical workflows: %w", err)
	}

	matrix := &Matrix{Environments: environments}

	// Index linked mappings and git state per environment up front so the
	// row assembly below never hits the store per cell.
	type envIndex struct {
		byCanonical map[uuid.UUID]*models.EnvironmentMapping
		gitHashes   map[uuid.UUID]*models.GitState
	}
	indexes := make(map[uuid.UUID]*envIndex, len(environments))

	for _, env := range environments {
		idx := &envIndex{
			byCanonical: make(map[uuid.UUID]*models.EnvironmentMapping),
			gitHashes:   make(map[uuid.UUID]*models.GitState),
		}
		indexes[env.EnvironmentID] = idx

		all, err := s.mappings.ListByEnvironment(ctx, tenantID, env.EnvironmentID)
		if err != nil {
			return nil, fmt.Errorf("environment %s: failed to list mappings: %w", env.EnvironmentID, err)
		}
		for _, mapping := range all {
			switch {
			case mapping.IsLinked():
				idx.byCanonical[*mapping.CanonicalID] = mapping
			case mapping.MappingStatus == models.MappingUntracked:
				matrix.Untracked = append(matrix.Untracked, UntrackedEntry{
					MappingID:     mapping.MappingID,
					EnvironmentID: env.EnvironmentID,
					WorkflowName:  mapping.WorkflowName,
					ContentHash:   mapping.ContentHash,
				})
			}
		}

		states, err := s.gitStates.ListByEnvironment(ctx, tenantID, env.EnvironmentID)
		if err != nil {
			return nil, fmt.Errorf("environment %s: failed to list git state: %w", env.EnvironmentID, err)
		}
		for _, state := range states {
			idx.gitHashes[state.CanonicalID] = state
		}
	}

	for _, workflow := range workflows {
		row := MatrixRow{
			CanonicalID: workflow.CanonicalID,
			DisplayName: workflow.DisplayName,
			Cells:       make([]MatrixCell, 0, len(environments)),
		}
		for _, env := range environments {
			idx := indexes[env.EnvironmentID]
			row.Cells = append(row.Cells, buildCell(env.EnvironmentID,
				idx.byCanonical[workflow.CanonicalID], idx.gitHashes[workflow.CanonicalID]))
		}
		matrix.Rows = append(matrix.Rows, row)
	}

	return matrix, nil
}

// buildCell derives one cell's status. A hash mismatch counts as drift
// only when the runtime was synced after the repository; otherwise the
// cached runtime copy is stale and the cell is out of date.
func buildCell(environmentID uuid.UUID, mapping *models.EnvironmentMapping, gitState *models.GitState) MatrixCell {
	cell := MatrixCell{EnvironmentID: environmentID, Status: CellAbsent}

	if gitState != nil {
		cell.GitHash = gitState.GitContentHash
	}
	if mapping == nil {
		return cell
	}

	cell.ContentHash = mapping.ContentHash
	syncedAt := mapping.LastSyncAt
	cell.LastSyncAt = &syncedAt

	switch {
	case gitState == nil || mapping.ContentHash == gitState.GitContentHash:
		cell.Status = CellLinked
	case mapping.LastSyncAt.After(gitState.LastRepoSyncAt):
		cell.Status = CellDrift
		cell.CanSync = true
	default:
		cell.Status = CellOutOfDate
		cell.CanSync = true
	}
	return cell
}

// LinkWorkflow manually links an untracked mapping to a canonical
// workflow, recording who did it.
func (s *MatrixService) LinkWorkflow(ctx context.Context, mappingID, canonicalID uuid.UUID, actor string) (*models.EnvironmentMapping, error) {
	mapping, err := s.mappings.GetByID(ctx, mappingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load mapping: %w", err)
	}
	if mapping == nil {
		return nil, fmt.Errorf("mapping %s not found", mappingID)
	}
	if mapping.MappingStatus != models.MappingUntracked {
		return nil, &models.ValidationError{
			Field:  "mapping_status",
			Reason: fmt.Sprintf("only untracked mappings can be linked, got %s", mapping.MappingStatus),
		}
	}

	existing, err := s.mappings.GetLinkedByCanonical(ctx, mapping.TenantID, mapping.EnvironmentID, canonicalID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing link: %w", err)
	}
	if existing != nil {
		return nil, &models.ValidationError{
			Field:  "canonical_id",
			Reason: fmt.Sprintf("canonical workflow already linked in this environment via mapping %s", existing.MappingID),
		}
	}

	now := time.Now().UTC()
	mapping.CanonicalID = &canonicalID
	mapping.MappingStatus = models.MappingLinked
	mapping.LinkedAt = &now
	mapping.LinkedBy = &actor

	if err := s.mappings.Upsert(ctx, mapping); err != nil {
		return nil, fmt.Errorf("failed to link mapping: %w", err)
	}

	s.log.Info("workflow linked",
		"mapping_id", mapping.MappingID,
		"canonical_id", canonicalID,
		"actor", actor)

	return mapping, nil
}

// IgnoreWorkflow marks an untracked mapping as ignored so it drops out of
// diff scope and the matrix.
func (s *MatrixService) IgnoreWorkflow(ctx context.Context, mappingID uuid.UUID, actor string) (*models.EnvironmentMapping, error) {
	mapping, err := s.mappings.GetByID(ctx, mappingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load mapping: %w", err)
	}
	if mapping == nil {
		return nil, fmt.Errorf("mapping %s not found", mappingID)
	}
	if mapping.MappingStatus != models.MappingUntracked {
		return nil, &models.ValidationError{
			Field:  "mapping_status",
			Reason: fmt.Sprintf("only untracked mappings can be ignored, got %s", mapping.MappingStatus),
		}
	}

	mapping.MappingStatus = models.MappingIgnored
	if err := s.mappings.Upsert(ctx, mapping); err != nil {
		return nil, fmt.Errorf("failed to ignore mapping: %w", err)
	}

	s.log.Info("workflow ignored", "mapping_id", mapping.MappingID, "actor", actor)

	return mapping, nil
}
