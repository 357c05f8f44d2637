package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/flowops/driftd/cmd/driftd/models"
	"github.com/flowops/driftd/common/db"
)

// EnvironmentRepository handles database operations for environments
type EnvironmentRepository struct {
	db *db.DB
}

// NewEnvironmentRepository creates a new environment repository
func NewEnvironmentRepository(db *db.DB) *EnvironmentRepository {
	return &EnvironmentRepository{db: db}
}

const environmentColumns = `
	environment_id, tenant_id, name, class, repo_configured,
	drift_detection_enabled, drift_status, last_drift_check_at,
	last_drift_detected_at, active_incident_id
`

func scanEnvironment(row pgx.Row) (*models.Environment, error) {
	env := &models.Environment{}
	err := row.Scan(
		&env.EnvironmentID,
		&env.TenantID,
		&env.Name,
		&env.Class,
		&env.RepoConfigured,
		&env.DriftDetectionEnabled,
		&env.DriftStatus,
		&env.LastDriftCheckAt,
		&env.LastDriftDetectedAt,
		&env.ActiveIncidentID,
	)
	return env, err
}

// Get retrieves an environment by id
func (r *EnvironmentRepository) Get(ctx context.Context, environmentID uuid.UUID) (*models.Environment, error) {
	query := `SELECT ` + environmentColumns + ` FROM environment WHERE environment_id = $1`

	env, err := scanEnvironment(r.db.QueryRow(ctx, query, environmentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get environment: %w", err)
	}

	return env, nil
}

// ListByTenant lists a tenant's environments
func (r *EnvironmentRepository) ListByTenant(ctx context.Context, tenantID string) ([]*models.Environment, error) {
	query := `SELECT ` + environmentColumns + ` FROM environment WHERE tenant_id = $1 ORDER BY name ASC`

	rows, err := r.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list environments: %w", err)
	}
	defer rows.Close()

	return collectEnvironments(rows)
}

// ListDriftEligible lists all environments the drift loop should scan.
// Dev-class environments treat the runtime as the source of truth and are
// excluded here rather than in the loop.
func (r *EnvironmentRepository) ListDriftEligible(ctx context.Context) ([]*models.Environment, error) {
	query := `
		SELECT ` + environmentColumns + `
		FROM environment
		WHERE class != 'dev'
		  AND repo_configured = TRUE
		  AND drift_detection_enabled = TRUE
		ORDER BY tenant_id, name
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list drift-eligible environments: %w", err)
	}
	defer rows.Close()

	return collectEnvironments(rows)
}

// ListTenants lists every tenant that owns at least one environment
func (r *EnvironmentRepository) ListTenants(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT tenant_id FROM environment ORDER BY tenant_id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var tenantID string
		if err := rows.Scan(&tenantID); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, tenantID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}

	return tenants, nil
}

// UpdateDriftStatus writes the result of one drift check onto the
// environment record, bumping last_drift_detected_at only on a hit.
func (r *EnvironmentRepository) UpdateDriftStatus(ctx context.Context, environmentID uuid.UUID, status models.DriftStatus, checkedAt time.Time, driftFound bool) error {
	query := `
		UPDATE environment
		SET drift_status = $2,
		    last_drift_check_at = $3,
		    last_drift_detected_at = CASE WHEN $4 THEN $3 ELSE last_drift_detected_at END
		WHERE environment_id = $1
	`

	result, err := r.db.Exec(ctx, query, environmentID, status, checkedAt, driftFound)
	if err != nil {
		return fmt.Errorf("failed to update drift status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("environment not found: %s", environmentID)
	}

	return nil
}

// SetActiveIncident attaches an incident to the environment and flips its
// drift status to detected.
func (r *EnvironmentRepository) SetActiveIncident(ctx context.Context, environmentID, incidentID uuid.UUID) error {
	query := `
		UPDATE environment
		SET active_incident_id = $2, drift_status = 'drift_detected'
		WHERE environment_id = $1
	`

	result, err := r.db.Exec(ctx, query, environmentID, incidentID)
	if err != nil {
		return fmt.Errorf("failed to set active incident: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("environment not found: %s", environmentID)
	}

	return nil
}

// ClearActiveIncident detaches the active incident and resets the drift
// status until the next detection pass.
func (r *EnvironmentRepository) ClearActiveIncident(ctx context.Context, environmentID uuid.UUID) error {
	query := `
		UPDATE environment
		SET active_incident_id = NULL, drift_status = 'in_sync'
		WHERE environment_id = $1
	`

	result, err := r.db.Exec(ctx, query, environmentID)
	if err != nil {
		return fmt.Errorf("failed to clear active incident: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("environment not found: %s", environmentID)
	}

	return nil
}

func collectEnvironments(rows pgx.Rows) ([]*models.Environment, error) {
	var environments []*models.Environment
	for rows.Next() {
		env, err := scanEnvironment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan environment: %w", err)
		}
		environments = append(environments, env)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating environments: %w", err)
	}

	return environments, nil
}
