package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/flowops/driftd/cmd/driftd/models"
	"github.com/flowops/driftd/common/db"
)

// IncidentRepository handles database operations for drift incidents.
// Rows are never deleted; retention clears payload columns only.
type IncidentRepository struct {
	db *db.DB
}

// NewIncidentRepository creates a new incident repository
func NewIncidentRepository(db *db.DB) *IncidentRepository {
	return &IncidentRepository{db: db}
}

const incidentColumns = `
	incident_id, tenant_id, environment_id, status, severity,
	detected_at, detected_by, acknowledged_at, acknowledged_by,
	stabilized_at, stabilized_by, reconciled_at, reconciled_by,
	closed_at, closed_by, affected_workflows, drift_snapshot,
	expires_at, ttl_warning_sent_at, resolution_type, resolution_reason,
	payload_purged_at, is_deleted
`

func scanIncident(row pgx.Row) (*models.DriftIncident, error) {
	incident := &models.DriftIncident{}
	var affectedJSON []byte
	var snapshotJSON []byte
	err := row.Scan(
		&incident.IncidentID,
		&incident.TenantID,
		&incident.EnvironmentID,
		&incident.Status,
		&incident.Severity,
		&incident.DetectedAt,
		&incident.DetectedBy,
		&incident.AcknowledgedAt,
		&incident.AcknowledgedBy,
		&incident.StabilizedAt,
		&incident.StabilizedBy,
		&incident.ReconciledAt,
		&incident.ReconciledBy,
		&incident.ClosedAt,
		&incident.ClosedBy,
		&affectedJSON,
		&snapshotJSON,
		&incident.ExpiresAt,
		&incident.TTLWarningSentAt,
		&incident.ResolutionType,
		&incident.ResolutionReason,
		&incident.PayloadPurgedAt,
		&incident.IsDeleted,
	)
	if err != nil {
		return nil, err
	}

	if len(affectedJSON) > 0 {
		if err := json.Unmarshal(affectedJSON, &incident.AffectedWorkflows); err != nil {
			return nil, fmt.Errorf("failed to decode affected workflows: %w", err)
		}
	}
	if len(snapshotJSON) > 0 {
		incident.DriftSnapshot = json.RawMessage(snapshotJSON)
	}

	return incident, nil
}

// Create inserts a new incident
func (r *IncidentRepository) Create(ctx context.Context, incident *models.DriftIncident) error {
	affectedJSON, err := json.Marshal(incident.AffectedWorkflows)
	if err != nil {
		return fmt.Errorf("failed to encode affected workflows: %w", err)
	}

	query := `
		INSERT INTO drift_incident (` + incidentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`

	_, err = r.db.Exec(ctx, query,
		incident.IncidentID,
		incident.TenantID,
		incident.EnvironmentID,
		incident.Status,
		incident.Severity,
		incident.DetectedAt,
		incident.DetectedBy,
		incident.AcknowledgedAt,
		incident.AcknowledgedBy,
		incident.StabilizedAt,
		incident.StabilizedBy,
		incident.ReconciledAt,
		incident.ReconciledBy,
		incident.ClosedAt,
		incident.ClosedBy,
		affectedJSON,
		[]byte(incident.DriftSnapshot),
		incident.ExpiresAt,
		incident.TTLWarningSentAt,
		incident.ResolutionType,
		incident.ResolutionReason,
		incident.PayloadPurgedAt,
		incident.IsDeleted,
	)

	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}

	return nil
}

// Get retrieves one incident by id
func (r *IncidentRepository) Get(ctx context.Context, incidentID uuid.UUID) (*models.DriftIncident, error) {
	query := `SELECT ` + incidentColumns + ` FROM drift_incident WHERE incident_id = $1`

	incident, err := scanIncident(r.db.QueryRow(ctx, query, incidentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}

	return incident, nil
}

// Update rewrites the mutable columns of an incident
func (r *IncidentRepository) Update(ctx context.Context, incident *models.DriftIncident) error {
	affectedJSON, err := json.Marshal(incident.AffectedWorkflows)
	if err != nil {
		return fmt.Errorf("failed to encode affected workflows: %w", err)
	}

	query := `
		UPDATE drift_incident
		SET status = $2, severity = $3,
		    acknowledged_at = $4, acknowledged_by = $5,
		    stabilized_at = $6, stabilized_by = $7,
		    reconciled_at = $8, reconciled_by = $9,
		    closed_at = $10, closed_by = $11,
		    affected_workflows = $12, drift_snapshot = $13,
		    expires_at = $14, ttl_warning_sent_at = $15,
		    resolution_type = $16, resolution_reason = $17
		WHERE incident_id = $1
	`

	result, err := r.db.Exec(ctx, query,
		incident.IncidentID,
		incident.Status,
		incident.Severity,
		incident.AcknowledgedAt,
		incident.AcknowledgedBy,
		incident.StabilizedAt,
		incident.StabilizedBy,
		incident.ReconciledAt,
		incident.ReconciledBy,
		incident.ClosedAt,
		incident.ClosedBy,
		affectedJSON,
		[]byte(incident.DriftSnapshot),
		incident.ExpiresAt,
		incident.TTLWarningSentAt,
		incident.ResolutionType,
		incident.ResolutionReason,
	)

	if err != nil {
		return fmt.Errorf("failed to update incident: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("incident not found: %s", incident.IncidentID)
	}

	return nil
}

// GetActiveByEnvironment retrieves the single non-closed incident of an
// environment, if any.
func (r *IncidentRepository) GetActiveByEnvironment(ctx context.Context, tenantID string, environmentID uuid.UUID) (*models.DriftIncident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM drift_incident
		WHERE tenant_id = $1 AND environment_id = $2 AND status != 'closed'
		ORDER BY detected_at DESC
		LIMIT 1
	`

	incident, err := scanIncident(r.db.QueryRow(ctx, query, tenantID, environmentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active incident: %w", err)
	}

	return incident, nil
}

// ListRecentByEnvironment lists incidents detected since the given time,
// closed ones included, newest first.
func (r *IncidentRepository) ListRecentByEnvironment(ctx context.Context, tenantID string, environmentID uuid.UUID, since time.Time) ([]*models.DriftIncident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM drift_incident
		WHERE tenant_id = $1 AND environment_id = $2 AND detected_at >= $3
		ORDER BY detected_at DESC
	`

	rows, err := r.db.Query(ctx, query, tenantID, environmentID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent incidents: %w", err)
	}
	defer rows.Close()

	return collectIncidents(rows)
}

// ListOpenWithExpiry lists every open incident that carries an expiry,
// across all tenants, soonest-expiring first.
func (r *IncidentRepository) ListOpenWithExpiry(ctx context.Context) ([]*models.DriftIncident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM drift_incident
		WHERE status != 'closed' AND expires_at IS NOT NULL
		ORDER BY expires_at ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring incidents: %w", err)
	}
	defer rows.Close()

	return collectIncidents(rows)
}

// ListByTenant lists a tenant's incidents, newest first
func (r *IncidentRepository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*models.DriftIncident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM drift_incident
		WHERE tenant_id = $1
		ORDER BY detected_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	return collectIncidents(rows)
}

// MarkTTLWarningSent records the pre-expiry warning timestamp
func (r *IncidentRepository) MarkTTLWarningSent(ctx context.Context, incidentID uuid.UUID, at time.Time) error {
	query := `
		UPDATE drift_incident
		SET ttl_warning_sent_at = $2
		WHERE incident_id = $1 AND ttl_warning_sent_at IS NULL
	`

	_, err := r.db.Exec(ctx, query, incidentID, at)
	if err != nil {
		return fmt.Errorf("failed to mark ttl warning sent: %w", err)
	}

	return nil
}

// PurgePayloads clears snapshot and affected-workflow payloads of closed
// incidents older than the cutoff. The rows themselves survive.
func (r *IncidentRepository) PurgePayloads(ctx context.Context, tenantID string, before time.Time) (int, error) {
	query := `
		UPDATE drift_incident
		SET drift_snapshot = NULL,
		    affected_workflows = '[]'::jsonb,
		    payload_purged_at = NOW()
		WHERE tenant_id = $1
		  AND status = 'closed'
		  AND closed_at < $2
		  AND payload_purged_at IS NULL
	`

	result, err := r.db.Exec(ctx, query, tenantID, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge incident payloads: %w", err)
	}

	return int(result.RowsAffected()), nil
}

func collectIncidents(rows pgx.Rows) ([]*models.DriftIncident, error) {
	var incidents []*models.DriftIncident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		incidents = append(incidents, incident)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating incidents: %w", err)
	}

	return incidents, nil
}
