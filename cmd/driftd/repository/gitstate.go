package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/flowops/driftd/cmd/driftd/models"
	"github.com/flowops/driftd/common/db"
)

// GitStateRepository reads the repository-side workflow state written by
// repository sync.
type GitStateRepository struct {
	db *db.DB
}

// NewGitStateRepository creates a new git state repository
func NewGitStateRepository(db *db.DB) *GitStateRepository {
	return &GitStateRepository{db: db}
}

// Get retrieves git state for one canonical workflow in one environment
func (r *GitStateRepository) Get(ctx context.Context, tenantID string, canonicalID, environmentID uuid.UUID) (*models.GitState, error) {
	query := `
		SELECT tenant_id, canonical_id, environment_id, git_path, git_commit_sha,
		       git_content_hash, last_repo_sync_at
		FROM git_state
		WHERE tenant_id = $1 AND canonical_id = $2 AND environment_id = $3
	`

	state := &models.GitState{}
	err := r.db.QueryRow(ctx, query, tenantID, canonicalID, environmentID).Scan(
		&state.TenantID,
		&state.CanonicalID,
		&state.EnvironmentID,
		&state.GitPath,
		&state.GitCommitSHA,
		&state.GitContentHash,
		&state.LastRepoSyncAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get git state: %w", err)
	}

	return state, nil
}

// ListByEnvironment lists all git state rows of one environment
func (r *GitStateRepository) ListByEnvironment(ctx context.Context, tenantID string, environmentID uuid.UUID) ([]*models.GitState, error) {
	query := `
		SELECT tenant_id, canonical_id, environment_id, git_path, git_commit_sha,
		       git_content_hash, last_repo_sync_at
		FROM git_state
		WHERE tenant_id = $1 AND environment_id = $2
	`

	rows, err := r.db.Query(ctx, query, tenantID, environmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list git state: %w", err)
	}
	defer rows.Close()

	var states []*models.GitState
	for rows.Next() {
		state := &models.GitState{}
		err := rows.Scan(
			&state.TenantID,
			&state.CanonicalID,
			&state.EnvironmentID,
			&state.GitPath,
			&state.GitCommitSHA,
			&state.GitContentHash,
			&state.LastRepoSyncAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan git state: %w", err)
		}
		states = append(states, state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating git state: %w", err)
	}

	return states, nil
}
