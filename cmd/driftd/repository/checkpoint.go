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

// CheckpointRepository persists batch-sync progress markers
type CheckpointRepository struct {
	db *db.DB
}

// NewCheckpointRepository creates a new sync checkpoint repository
func NewCheckpointRepository(db *db.DB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// Get retrieves the checkpoint for one environment's sync
func (r *CheckpointRepository) Get(ctx context.Context, tenantID string, environmentID uuid.UUID) (*models.SyncCheckpoint, error) {
	query := `
		SELECT tenant_id, environment_id, last_index, total, updated_at
		FROM sync_checkpoint
		WHERE tenant_id = $1 AND environment_id = $2
	`

	checkpoint := &models.SyncCheckpoint{}
	err := r.db.QueryRow(ctx, query, tenantID, environmentID).Scan(
		&checkpoint.TenantID,
		&checkpoint.EnvironmentID,
		&checkpoint.LastIndex,
		&checkpoint.Total,
		&checkpoint.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync checkpoint: %w", err)
	}

	return checkpoint, nil
}

// Put writes the checkpoint, replacing any previous one
func (r *CheckpointRepository) Put(ctx context.Context, checkpoint *models.SyncCheckpoint) error {
	query := `
		INSERT INTO sync_checkpoint (tenant_id, environment_id, last_index, total, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, environment_id) DO UPDATE SET
			last_index = EXCLUDED.last_index,
			total = EXCLUDED.total,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.Exec(ctx, query,
		checkpoint.TenantID,
		checkpoint.EnvironmentID,
		checkpoint.LastIndex,
		checkpoint.Total,
		checkpoint.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to put sync checkpoint: %w", err)
	}

	return nil
}

// Clear removes the checkpoint for one environment
func (r *CheckpointRepository) Clear(ctx context.Context, tenantID string, environmentID uuid.UUID) error {
	query := `DELETE FROM sync_checkpoint WHERE tenant_id = $1 AND environment_id = $2`

	_, err := r.db.Exec(ctx, query, tenantID, environmentID)
	if err != nil {
		return fmt.Errorf("failed to clear sync checkpoint: %w", err)
	}

	return nil
}
