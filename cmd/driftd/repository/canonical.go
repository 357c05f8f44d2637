package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/flowops/driftd/cmd/driftd/models"
	"github.com/flowops/driftd/common/db"
)

// CanonicalRepository handles database operations for canonical workflows
type CanonicalRepository struct {
	db *db.DB
}

// NewCanonicalRepository creates a new canonical workflow repository
func NewCanonicalRepository(db *db.DB) *CanonicalRepository {
	return &CanonicalRepository{db: db}
}

// Create inserts a new canonical workflow
func (r *CanonicalRepository) Create(ctx context.Context, workflow *models.CanonicalWorkflow) error {
	query := `
		INSERT INTO canonical_workflow (canonical_id, tenant_id, display_name, created_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Exec(ctx, query,
		workflow.CanonicalID,
		workflow.TenantID,
		workflow.DisplayName,
		workflow.CreatedAt,
		workflow.DeletedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create canonical workflow: %w", err)
	}

	return nil
}

// GetByName retrieves an active canonical workflow by display name
func (r *CanonicalRepository) GetByName(ctx context.Context, tenantID, name string) (*models.CanonicalWorkflow, error) {
	query := `
		SELECT canonical_id, tenant_id, display_name, created_at, deleted_at
		FROM canonical_workflow
		WHERE tenant_id = $1 AND display_name = $2 AND deleted_at IS NULL
	`

	workflow := &models.CanonicalWorkflow{}
	err := r.db.QueryRow(ctx, query, tenantID, name).Scan(
		&workflow.CanonicalID,
		&workflow.TenantID,
		&workflow.DisplayName,
		&workflow.CreatedAt,
		&workflow.DeletedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get canonical workflow: %w", err)
	}

	return workflow, nil
}

// ListActive lists a tenant's non-deleted canonical workflows
func (r *CanonicalRepository) ListActive(ctx context.Context, tenantID string) ([]*models.CanonicalWorkflow, error) {
	query := `
		SELECT canonical_id, tenant_id, display_name, created_at, deleted_at
		FROM canonical_workflow
		WHERE tenant_id = $1 AND deleted_at IS NULL
		ORDER BY display_name ASC
	`

	rows, err := r.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list canonical workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*models.CanonicalWorkflow
	for rows.Next() {
		workflow := &models.CanonicalWorkflow{}
		err := rows.Scan(
			&workflow.CanonicalID,
			&workflow.TenantID,
			&workflow.DisplayName,
			&workflow.CreatedAt,
			&workflow.DeletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan canonical workflow: %w", err)
		}
		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating canonical workflows: %w", err)
	}

	return workflows, nil
}
