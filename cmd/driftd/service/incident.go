package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"github.com/flowops/driftd/cmd/driftd/adapters"
	"github.com/flowops/driftd/cmd/driftd/models"
	"github.com/flowops/driftd/common/logger"
)

// DuplicateWindow is how far back incident creation looks for an
// identical incident before rejecting the new one as a duplicate.
const DuplicateWindow = 24 * time.Hour

// IncidentService owns the drift incident lifecycle: a validated state
// machine with duplicate suppression and non-destructive retention.
type IncidentService struct {
	incidents    IncidentStore
	environments EnvironmentStore
	notifier     adapters.Notifier
	log          *logger.Logger
	now          func() time.Time
}

// NewIncidentService creates a new incident lifecycle manager
func NewIncidentService(
	incidents IncidentStore,
	environments EnvironmentStore,
	notifier adapters.Notifier,
	log *logger.Logger,
) *IncidentService {
	return &IncidentService{
		incidents:    incidents,
		environments: environments,
		notifier:     notifier,
		log:          log,
		now:          time.Now,
	}
}

// CreateIncidentRequest is the input for raising a new drift incident
type CreateIncidentRequest struct {
	TenantID          string                    `json:"tenant_id"`
	EnvironmentID     uuid.UUID                 `json:"environment_id"`
	Severity          models.Severity           `json:"severity"`
	AffectedWorkflows []models.AffectedWorkflow `json:"affected_workflows"`
	DriftSnapshot     json.RawMessage           `json:"drift_snapshot,omitempty"`
	ExpiresAt         *time.Time                `json:"expires_at,omitempty"`
	DetectedBy        *string                   `json:"detected_by,omitempty"`
}

// CreateIncident raises a new incident unless one is already active for
// the environment or an identical incident was created in the last 24h.
// Rejections carry the conflicting incident's identity.
func (s *IncidentService) CreateIncident(ctx context.Context, req *CreateIncidentRequest) (*models.DriftIncident, error) {
	active, err := s.incidents.GetActiveByEnvironment(ctx, req.TenantID, req.EnvironmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to check for active incident: %w", err)
	}
	if active != nil {
		return nil, &models.ConflictError{
			Kind:       models.ConflictActiveIncident,
			IncidentID: active.IncidentID,
			Status:     active.Status,
			DetectedAt: active.DetectedAt,
		}
	}

	now := s.now().UTC()

	recent, err := s.incidents.ListRecentByEnvironment(ctx, req.TenantID, req.EnvironmentID, now.Add(-DuplicateWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to check for duplicate incident: %w", err)
	}

	candidate := &models.DriftIncident{AffectedWorkflows: req.AffectedWorkflows}
	newIDs := candidate.AffectedWorkflowIDs()
	for _, existing := range recent {
		if !stringSetsEqual(existing.AffectedWorkflowIDs(), newIDs) {
			continue
		}
		// Content-sensitive only when both sides carry a snapshot;
		// otherwise workflow-set equality decides.
		if len(existing.DriftSnapshot) > 0 && len(req.DriftSnapshot) > 0 &&
			!jsonpatch.Equal(existing.DriftSnapshot, req.DriftSnapshot) {
			continue
		}
		return nil, &models.ConflictError{
			Kind:       models.ConflictDuplicateIncident,
			IncidentID: existing.IncidentID,
			Status:     existing.Status,
			DetectedAt: existing.DetectedAt,
		}
	}

	incidentID, err := uuid.NewV7()
	if err != nil {
		incidentID = uuid.New()
	}

	severity := req.Severity
	if severity == "" {
		severity = models.SeverityMedium
	}

	incident := &models.DriftIncident{
		IncidentID:        incidentID,
		TenantID:          req.TenantID,
		EnvironmentID:     req.EnvironmentID,
		Status:            models.IncidentDetected,
		Severity:          severity,
		DetectedAt:        now,
		DetectedBy:        req.DetectedBy,
		AffectedWorkflows: req.AffectedWorkflows,
		DriftSnapshot:     req.DriftSnapshot,
		ExpiresAt:         req.ExpiresAt,
	}

	if err := s.incidents.Create(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to create incident: %w", err)
	}

	// Point the environment at its new active incident
	if err := s.environments.SetActiveIncident(ctx, req.EnvironmentID, incident.IncidentID); err != nil {
		return nil, fmt.Errorf("failed to attach incident to environment: %w", err)
	}

	s.emit(ctx, incident, adapters.EventDriftDetected, map[string]interface{}{
		"incident_id":    incident.IncidentID.String(),
		"severity":       string(incident.Severity),
		"affected_count": len(incident.AffectedWorkflows),
	})

	s.log.Info("drift incident created",
		"incident_id", incident.IncidentID,
		"tenant_id", incident.TenantID,
		"environment_id", incident.EnvironmentID,
		"severity", incident.Severity,
	)

	return incident, nil
}

// Transition moves an incident to a new non-closed status. adminOverride
// forces any transition except out of closed; closing always goes
// through CloseIncident so its validation applies.
func (s *IncidentService) Transition(ctx context.Context, incidentID uuid.UUID, to models.IncidentStatus, actor string, adminOverride bool) (*models.DriftIncident, error) {
	incident, err := s.mustGet(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	if to == models.IncidentClosed {
		return nil, &models.ValidationError{
			Field:  "status",
			Reason: "closing requires CloseIncident with a resolution",
		}
	}

	if incident.Status.IsTerminal() {
		return nil, &models.TransitionError{From: incident.Status, To: to, Allowed: nil}
	}

	if !incident.Status.CanTransitionTo(to) && !adminOverride {
		return nil, &models.TransitionError{
			From:    incident.Status,
			To:      to,
			Allowed: models.ValidTransitions[incident.Status],
		}
	}

	now := s.now().UTC()
	switch to {
	case models.IncidentAcknowledged:
		incident.AcknowledgedAt = &now
		incident.AcknowledgedBy = &actor
	case models.IncidentStabilized:
		incident.StabilizedAt = &now
		incident.StabilizedBy = &actor
	case models.IncidentReconciled:
		incident.ReconciledAt = &now
		incident.ReconciledBy = &actor
	case models.IncidentDetected:
		// Override-only rewind; keeps the original detected_at
	default:
		return nil, &models.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", to)}
	}

	incident.Status = to
	if err := s.incidents.Update(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to update incident: %w", err)
	}

	s.log.Info("incident transitioned",
		"incident_id", incident.IncidentID,
		"status", incident.Status,
		"actor", actor,
		"admin_override", adminOverride,
	)

	return incident, nil
}

// CloseIncident closes the incident and detaches it from its
// environment. Closing before reconciled requires a resolution type and
// a reason; closing from reconciled requires a reason.
func (s *IncidentService) CloseIncident(ctx context.Context, incidentID uuid.UUID, actor, resolutionType, reason string) (*models.DriftIncident, error) {
	incident, err := s.mustGet(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	if incident.Status.IsTerminal() {
		return nil, &models.TransitionError{From: incident.Status, To: models.IncidentClosed, Allowed: nil}
	}

	if incident.Status == models.IncidentReconciled {
		if reason == "" {
			return nil, &models.ValidationError{
				Field:  "resolution_reason",
				Reason: "closing a reconciled incident requires resolution notes",
			}
		}
	} else {
		// Closing without ever reaching reconciled requires explaining
		// both how and why.
		if resolutionType == "" || reason == "" {
			return nil, &models.ValidationError{
				Field:  "resolution",
				Reason: fmt.Sprintf("closing from %s requires a resolution type and a reason", incident.Status),
			}
		}
	}

	now := s.now().UTC()
	incident.Status = models.IncidentClosed
	incident.ClosedAt = &now
	incident.ClosedBy = &actor
	if resolutionType != "" {
		incident.ResolutionType = &resolutionType
	}
	incident.ResolutionReason = &reason

	if err := s.incidents.Update(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to close incident: %w", err)
	}

	// Closing always releases the environment's active-incident pointer
	// and resets its drift status.
	if err := s.environments.ClearActiveIncident(ctx, incident.EnvironmentID); err != nil {
		return nil, fmt.Errorf("failed to detach incident from environment: %w", err)
	}

	s.log.Info("incident closed",
		"incident_id", incident.IncidentID,
		"actor", actor,
		"resolution_type", resolutionType,
	)

	return incident, nil
}

// UpdateIncidentRequest carries the mutable incident fields. The drift
// snapshot may be set once if absent; changing an existing snapshot is
// rejected.
type UpdateIncidentRequest struct {
	Severity      *models.Severity `json:"severity,omitempty"`
	ExpiresAt     *time.Time       `json:"expires_at,omitempty"`
	DriftSnapshot json.RawMessage  `json:"drift_snapshot,omitempty"`
}

// UpdateIncident applies the mutable fields of an open incident
func (s *IncidentService) UpdateIncident(ctx context.Context, incidentID uuid.UUID, req *UpdateIncidentRequest) (*models.DriftIncident, error) {
	incident, err := s.mustGet(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	if len(req.DriftSnapshot) > 0 {
		if len(incident.DriftSnapshot) > 0 && !jsonpatch.Equal(incident.DriftSnapshot, req.DriftSnapshot) {
			return nil, &models.ImmutableFieldError{Field: "drift_snapshot"}
		}
		incident.DriftSnapshot = req.DriftSnapshot
	}

	if req.Severity != nil {
		incident.Severity = *req.Severity
	}
	if req.ExpiresAt != nil {
		incident.ExpiresAt = req.ExpiresAt
	}

	if err := s.incidents.Update(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to update incident: %w", err)
	}

	return incident, nil
}

// Get returns one incident by id
func (s *IncidentService) Get(ctx context.Context, incidentID uuid.UUID) (*models.DriftIncident, error) {
	return s.mustGet(ctx, incidentID)
}

// ListByTenant lists recent incidents for a tenant
func (s *IncidentService) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*models.DriftIncident, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.incidents.ListByTenant(ctx, tenantID, limit)
}

func (s *IncidentService) mustGet(ctx context.Context, incidentID uuid.UUID) (*models.DriftIncident, error) {
	incident, err := s.incidents.Get(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load incident: %w", err)
	}
	if incident == nil {
		return nil, fmt.Errorf("incident %s not found", incidentID)
	}
	return incident, nil
}

func (s *IncidentService) emit(ctx context.Context, incident *models.DriftIncident, eventType string, metadata map[string]interface{}) {
	if err := s.notifier.Emit(ctx, incident.TenantID, eventType, incident.EnvironmentID, metadata); err != nil {
		s.log.Warn("notification emit failed",
			"incident_id", incident.IncidentID,
			"event_type", eventType,
			"error", err)
	}
}

func stringSetsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
