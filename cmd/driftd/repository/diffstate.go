package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/flowops/driftd/cmd/driftd/models"
	"github.com/flowops/driftd/common/db"
)

// DiffStateRepository handles the derived diff cache. Rows here are
// recomputable, so hard deletes are fine.
type DiffStateRepository struct {
	db *db.DB
}

// NewDiffStateRepository creates a new diff state repository
func NewDiffStateRepository(db *db.DB) *DiffStateRepository {
	return &DiffStateRepository{db: db}
}

// Get retrieves the diff state of one canonical workflow for one ordered
// environment pair.
func (r *DiffStateRepository) Get(ctx context.Context, tenantID string, canonicalID, sourceEnvID, targetEnvID uuid.UUID) (*models.DiffState, error) {
	query := `
		SELECT tenant_id, canonical_id, source_env_id, target_env_id, diff_status,
		       source_git_hash, target_git_hash, source_env_hash, target_env_hash,
		       conflict_metadata, computed_at
		FROM diff_state
		WHERE tenant_id = $1 AND canonical_id = $2 AND source_env_id = $3 AND target_env_id = $4
	`

	state := &models.DiffState{}
	var conflictJSON []byte
	err := r.db.QueryRow(ctx, query, tenantID, canonicalID, sourceEnvID, targetEnvID).Scan(
		&state.TenantID,
		&state.CanonicalID,
		&state.SourceEnvID,
		&state.TargetEnvID,
		&state.DiffStatus,
		&state.SourceGitHash,
		&state.TargetGitHash,
		&state.SourceEnvHash,
		&state.TargetEnvHash,
		&conflictJSON,
		&state.ComputedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get diff state: %w", err)
	}

	if len(conflictJSON) > 0 {
		conflict := &models.ConflictMetadata{}
		if err := json.Unmarshal(conflictJSON, conflict); err != nil {
			return nil, fmt.Errorf("failed to decode conflict metadata: %w", err)
		}
		state.Conflict = conflict
	}

	return state, nil
}

// Upsert writes the diff state for one (canonical, source, target) tuple
func (r *DiffStateRepository) Upsert(ctx context.Context, state *models.DiffState) error {
	var conflictJSON []byte
	if state.Conflict != nil {
		encoded, err := json.Marshal(state.Conflict)
		if err != nil {
			return fmt.Errorf("failed to encode conflict metadata: %w", err)
		}
		conflictJSON = encoded
	}

	query := `
		INSERT INTO diff_state (
			tenant_id, canonical_id, source_env_id, target_env_id, diff_status,
			source_git_hash, target_git_hash, source_env_hash, target_env_hash,
			conflict_metadata, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tenant_id, canonical_id, source_env_id, target_env_id) DO UPDATE SET
			diff_status = EXCLUDED.diff_status,
			source_git_hash = EXCLUDED.source_git_hash,
			target_git_hash = EXCLUDED.target_git_hash,
			source_env_hash = EXCLUDED.source_env_hash,
			target_env_hash = EXCLUDED.target_env_hash,
			conflict_metadata = EXCLUDED.conflict_metadata,
			computed_at = EXCLUDED.computed_at
	`

	_, err := r.db.Exec(ctx, query,
		state.TenantID,
		state.CanonicalID,
		state.SourceEnvID,
		state.TargetEnvID,
		state.DiffStatus,
		state.SourceGitHash,
		state.TargetGitHash,
		state.SourceEnvHash,
		state.TargetEnvHash,
		conflictJSON,
		state.ComputedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert diff state: %w", err)
	}

	return nil
}

// DeleteStale removes diff rows for canonical workflows no longer in the
// live set for this pair. An empty live set clears the pair entirely.
func (r *DiffStateRepository) DeleteStale(ctx context.Context, tenantID string, sourceEnvID, targetEnvID uuid.UUID, liveCanonicalIDs []uuid.UUID) (int, error) {
	query := `
		DELETE FROM diff_state
		WHERE tenant_id = $1 AND source_env_id = $2 AND target_env_id = $3
		  AND canonical_id != ALL($4)
	`

	result, err := r.db.Exec(ctx, query, tenantID, sourceEnvID, targetEnvID, liveCanonicalIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale diff state: %w", err)
	}

	return int(result.RowsAffected()), nil
}
