package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/flowops/driftd/cmd/driftd/models"
	"github.com/flowops/driftd/common/db"
)

// RetentionRepository resolves tenant retention policies and purges the
// collaborator artifacts this service ages out.
type RetentionRepository struct {
	db *db.DB
}

// NewRetentionRepository creates a new retention repository
func NewRetentionRepository(db *db.DB) *RetentionRepository {
	return &RetentionRepository{db: db}
}

// GetPolicy retrieves a tenant's retention policy row
func (r *RetentionRepository) GetPolicy(ctx context.Context, tenantID string) (*models.RetentionPolicy, error) {
	query := `
		SELECT tenant_id, plan, drift_check_days, incident_payload_days,
		       reconciliation_days, approval_days
		FROM retention_policy
		WHERE tenant_id = $1
	`

	policy := &models.RetentionPolicy{}
	err := r.db.QueryRow(ctx, query, tenantID).Scan(
		&policy.TenantID,
		&policy.Plan,
		&policy.DriftCheckDays,
		&policy.IncidentPayloadDays,
		&policy.ReconciliationDays,
		&policy.ApprovalDays,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get retention policy: %w", err)
	}

	return policy, nil
}

// DeleteReconciliationArtifactsBefore removes reconciliation run records
// older than the cutoff.
func (r *RetentionRepository) DeleteReconciliationArtifactsBefore(ctx context.Context, tenantID string, before time.Time) (int, error) {
	query := `
		DELETE FROM reconciliation_artifact
		WHERE tenant_id = $1 AND created_at < $2
	`

	result, err := r.db.Exec(ctx, query, tenantID, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete reconciliation artifacts: %w", err)
	}

	return int(result.RowsAffected()), nil
}

// DeleteApprovalsBefore removes resolved approval records older than the
// cutoff. Pending approvals are never aged out.
func (r *RetentionRepository) DeleteApprovalsBefore(ctx context.Context, tenantID string, before time.Time) (int, error) {
	query := `
		DELETE FROM approval
		WHERE tenant_id = $1 AND resolved_at IS NOT NULL AND resolved_at < $2
	`

	result, err := r.db.Exec(ctx, query, tenantID, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete approvals: %w", err)
	}

	return int(result.RowsAffected()), nil
}

// PolicyRepository reads tenant auto-incident policies
type PolicyRepository struct {
	db *db.DB
}

// NewPolicyRepository creates a new auto-incident policy repository
func NewPolicyRepository(db *db.DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// GetAutoIncidentPolicy retrieves a tenant's auto-incident policy
func (r *PolicyRepository) GetAutoIncidentPolicy(ctx context.Context, tenantID string) (*models.AutoIncidentPolicy, error) {
	query := `
		SELECT tenant_id, enabled, production_only, filter_expression
		FROM auto_incident_policy
		WHERE tenant_id = $1
	`

	policy := &models.AutoIncidentPolicy{}
	err := r.db.QueryRow(ctx, query, tenantID).Scan(
		&policy.TenantID,
		&policy.Enabled,
		&policy.ProductionOnly,
		&policy.Filter,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get auto-incident policy: %w", err)
	}

	return policy, nil
}
