package models

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// IncidentStatus is the drift incident state machine position
type IncidentStatus string

const (
	IncidentDetected     IncidentStatus = "detected"
	IncidentAcknowledged IncidentStatus = "acknowledged"
	IncidentStabilized   IncidentStatus = "stabilized"
	IncidentReconciled   IncidentStatus = "reconciled"
	IncidentClosed       IncidentStatus = "closed"
)

// ValidTransitions is the incident state machine. closed is terminal and
// never appears as a source state.
var ValidTransitions = map[IncidentStatus][]IncidentStatus{
	IncidentDetected:     {IncidentAcknowledged, IncidentClosed},
	IncidentAcknowledged: {IncidentStabilized, IncidentReconciled, IncidentClosed},
	IncidentStabilized:   {IncidentReconciled, IncidentClosed},
	IncidentReconciled:   {IncidentClosed},
	IncidentClosed:       {},
}

// CanTransitionTo reports whether the plain (non-override) state machine
// allows moving from s to next.
func (s IncidentStatus) CanTransitionTo(next IncidentStatus) bool {
	for _, allowed := range ValidTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible, even with
// an administrative override.
func (s IncidentStatus) IsTerminal() bool {
	return s == IncidentClosed
}

// Severity of a drift incident
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AffectedWorkflow is one workflow implicated in a drift incident
type AffectedWorkflow struct {
	WorkflowID string `json:"workflow_id"`
	Name       string `json:"name"`
	DriftType  string `json:"drift_type"`
}

// DriftIncident tracks one episode of drift in one environment. At most
// one non-closed incident exists per (tenant, environment). DriftSnapshot
// is immutable once set. Rows are never deleted; retention purges payload
// fields only.
type DriftIncident struct {
	IncidentID    uuid.UUID      `db:"incident_id" json:"incident_id"`
	TenantID      string         `db:"tenant_id" json:"tenant_id"`
	EnvironmentID uuid.UUID      `db:"environment_id" json:"environment_id"`
	Status        IncidentStatus `db:"status" json:"status"`
	Severity      Severity       `db:"severity" json:"severity"`

	DetectedAt     time.Time  `db:"detected_at" json:"detected_at"`
	DetectedBy     *string    `db:"detected_by" json:"detected_by,omitempty"`
	AcknowledgedAt *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	AcknowledgedBy *string    `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	StabilizedAt   *time.Time `db:"stabilized_at" json:"stabilized_at,omitempty"`
	StabilizedBy   *string    `db:"stabilized_by" json:"stabilized_by,omitempty"`
	ReconciledAt   *time.Time `db:"reconciled_at" json:"reconciled_at,omitempty"`
	ReconciledBy   *string    `db:"reconciled_by" json:"reconciled_by,omitempty"`
	ClosedAt       *time.Time `db:"closed_at" json:"closed_at,omitempty"`
	ClosedBy       *string    `db:"closed_by" json:"closed_by,omitempty"`

	AffectedWorkflows []AffectedWorkflow `db:"affected_workflows" json:"affected_workflows"`
	DriftSnapshot     json.RawMessage    `db:"drift_snapshot" json:"drift_snapshot,omitempty"`

	ExpiresAt        *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	TTLWarningSentAt *time.Time `db:"ttl_warning_sent_at" json:"ttl_warning_sent_at,omitempty"`

	ResolutionType   *string    `db:"resolution_type" json:"resolution_type,omitempty"`
	ResolutionReason *string    `db:"resolution_reason" json:"resolution_reason,omitempty"`
	PayloadPurgedAt  *time.Time `db:"payload_purged_at" json:"payload_purged_at,omitempty"`

	// Reserved, always false today
	IsDeleted bool `db:"is_deleted" json:"is_deleted"`
}

// IsOpen reports whether the incident still counts as active for
// duplicate suppression and TTL handling.
func (i *DriftIncident) IsOpen() bool {
	return i.Status != IncidentClosed
}

// AffectedWorkflowIDs returns the sorted set of affected workflow ids,
// used for the 24h duplicate-suppression comparison.
func (i *DriftIncident) AffectedWorkflowIDs() []string {
	ids := make([]string, 0, len(i.AffectedWorkflows))
	for _, w := range i.AffectedWorkflows {
		ids = append(ids, w.WorkflowID)
	}
	sort.Strings(ids)
	return ids
}
