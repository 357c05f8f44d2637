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

// MappingRepository handles database operations for environment mappings.
// Rows are only upserted or transitioned, never removed.
type MappingRepository struct {
	db *db.DB
}

// NewMappingRepository creates a new environment mapping repository
func NewMappingRepository(db *db.DB) *MappingRepository {
	return &MappingRepository{db: db}
}

const mappingColumns = `
	mapping_id, tenant_id, environment_id, canonical_id, runtime_workflow_id,
	workflow_name, content_hash, cached_body, mapping_status, last_sync_at,
	linked_at, linked_by
`

func scanMapping(row pgx.Row) (*models.EnvironmentMapping, error) {
	mapping := &models.EnvironmentMapping{}
	err := row.Scan(
		&mapping.MappingID,
		&mapping.TenantID,
		&mapping.EnvironmentID,
		&mapping.CanonicalID,
		&mapping.RuntimeWorkflowID,
		&mapping.WorkflowName,
		&mapping.ContentHash,
		&mapping.CachedBody,
		&mapping.MappingStatus,
		&mapping.LastSyncAt,
		&mapping.LinkedAt,
		&mapping.LinkedBy,
	)
	return mapping, err
}

// GetByID retrieves a mapping by its surrogate id
func (r *MappingRepository) GetByID(ctx context.Context, mappingID uuid.UUID) (*models.EnvironmentMapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM environment_mapping WHERE mapping_id = $1`

	mapping, err := scanMapping(r.db.QueryRow(ctx, query, mappingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}

	return mapping, nil
}

// GetByRuntimeID retrieves a mapping by the runtime workflow id
func (r *MappingRepository) GetByRuntimeID(ctx context.Context, tenantID string, environmentID uuid.UUID, runtimeWorkflowID string) (*models.EnvironmentMapping, error) {
	query := `
		SELECT ` + mappingColumns + `
		FROM environment_mapping
		WHERE tenant_id = $1 AND environment_id = $2 AND runtime_workflow_id = $3
	`

	mapping, err := scanMapping(r.db.QueryRow(ctx, query, tenantID, environmentID, runtimeWorkflowID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping by runtime id: %w", err)
	}

	return mapping, nil
}

// GetLinkedByCanonical retrieves the linked mapping of a canonical
// workflow in one environment.
func (r *MappingRepository) GetLinkedByCanonical(ctx context.Context, tenantID string, environmentID, canonicalID uuid.UUID) (*models.EnvironmentMapping, error) {
	query := `
		SELECT ` + mappingColumns + `
		FROM environment_mapping
		WHERE tenant_id = $1 AND environment_id = $2 AND canonical_id = $3
		  AND mapping_status = 'linked'
		LIMIT 1
	`

	mapping, err := scanMapping(r.db.QueryRow(ctx, query, tenantID, environmentID, canonicalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping by canonical: %w", err)
	}

	return mapping, nil
}

// ListByEnvironment lists every mapping of one environment
func (r *MappingRepository) ListByEnvironment(ctx context.Context, tenantID string, environmentID uuid.UUID) ([]*models.EnvironmentMapping, error) {
	query := `
		SELECT ` + mappingColumns + `
		FROM environment_mapping
		WHERE tenant_id = $1 AND environment_id = $2
		ORDER BY workflow_name ASC
	`

	rows, err := r.db.Query(ctx, query, tenantID, environmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*models.EnvironmentMapping
	for rows.Next() {
		mapping, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		mappings = append(mappings, mapping)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mappings: %w", err)
	}

	return mappings, nil
}

// Upsert inserts or updates a mapping by its surrogate id
func (r *MappingRepository) Upsert(ctx context.Context, mapping *models.EnvironmentMapping) error {
	query := `
		INSERT INTO environment_mapping (` + mappingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (mapping_id) DO UPDATE SET
			canonical_id = EXCLUDED.canonical_id,
			runtime_workflow_id = EXCLUDED.runtime_workflow_id,
			workflow_name = EXCLUDED.workflow_name,
			content_hash = EXCLUDED.content_hash,
			cached_body = EXCLUDED.cached_body,
			mapping_status = EXCLUDED.mapping_status,
			last_sync_at = EXCLUDED.last_sync_at,
			linked_at = EXCLUDED.linked_at,
			linked_by = EXCLUDED.linked_by
	`

	_, err := r.db.Exec(ctx, query,
		mapping.MappingID,
		mapping.TenantID,
		mapping.EnvironmentID,
		mapping.CanonicalID,
		mapping.RuntimeWorkflowID,
		mapping.WorkflowName,
		mapping.ContentHash,
		mapping.CachedBody,
		mapping.MappingStatus,
		mapping.LastSyncAt,
		mapping.LinkedAt,
		mapping.LinkedBy,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert mapping: %w", err)
	}

	return nil
}

// MarkDeleted transitions a mapping to deleted and clears the runtime
// id, keeping the row. A workflow that later returns under the same
// runtime id is treated as a brand new one.
func (r *MappingRepository) MarkDeleted(ctx context.Context, mappingID uuid.UUID) error {
	query := `
		UPDATE environment_mapping
		SET mapping_status = 'deleted', runtime_workflow_id = NULL
		WHERE mapping_id = $1
	`

	result, err := r.db.Exec(ctx, query, mappingID)
	if err != nil {
		return fmt.Errorf("failed to mark mapping deleted: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("mapping not found: %s", mappingID)
	}

	return nil
}
