package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/flowops/driftd/cmd/driftd/models"
	"github.com/flowops/driftd/common/db"
)

// DriftCheckRepository persists drift-check history
type DriftCheckRepository struct {
	db *db.DB
}

// NewDriftCheckRepository creates a new drift check repository
func NewDriftCheckRepository(db *db.DB) *DriftCheckRepository {
	return &DriftCheckRepository{db: db}
}

// Insert records one drift check result
func (r *DriftCheckRepository) Insert(ctx context.Context, check *models.DriftCheck) error {
	query := `
		INSERT INTO drift_check (check_id, tenant_id, environment_id, status, summary, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Exec(ctx, query,
		check.CheckID,
		check.TenantID,
		check.EnvironmentID,
		check.Status,
		[]byte(check.Summary),
		check.CheckedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert drift check: %w", err)
	}

	return nil
}

// PurgeOlderThan deletes checks older than the cutoff, always keeping the
// single most recent check per environment so the current state never
// disappears.
func (r *DriftCheckRepository) PurgeOlderThan(ctx context.Context, tenantID string, before time.Time) (int, error) {
	query := `
		DELETE FROM drift_check
		WHERE tenant_id = $1
		  AND checked_at < $2
		  AND check_id NOT IN (
			SELECT DISTINCT ON (environment_id) check_id
			FROM drift_check
			WHERE tenant_id = $1
			ORDER BY environment_id, checked_at DESC
		  )
	`

	result, err := r.db.Exec(ctx, query, tenantID, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge drift checks: %w", err)
	}

	return int(result.RowsAffected()), nil
}
