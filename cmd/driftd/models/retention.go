package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RetentionPolicy holds per-tenant retention windows in days. Zero-valued
// fields fall back to the tenant's plan defaults, then to the hard-coded
// minimal default.
type RetentionPolicy struct {
	TenantID            string `db:"tenant_id" json:"tenant_id"`
	Plan                string `db:"plan" json:"plan"`
	DriftCheckDays      int    `db:"drift_check_days" json:"drift_check_days"`
	IncidentPayloadDays int    `db:"incident_payload_days" json:"incident_payload_days"`
	ReconciliationDays  int    `db:"reconciliation_days" json:"reconciliation_days"`
	ApprovalDays        int    `db:"approval_days" json:"approval_days"`
}

// PlanRetentionDefaults maps a billing plan to its default windows
var PlanRetentionDefaults = map[string]RetentionPolicy{
	"free":       {DriftCheckDays: 7, IncidentPayloadDays: 30, ReconciliationDays: 14, ApprovalDays: 30},
	"pro":        {DriftCheckDays: 30, IncidentPayloadDays: 90, ReconciliationDays: 60, ApprovalDays: 90},
	"enterprise": {DriftCheckDays: 90, IncidentPayloadDays: 365, ReconciliationDays: 180, ApprovalDays: 365},
}

// MinimalRetention is the last-resort fallback when neither a tenant row
// nor a known plan applies.
var MinimalRetention = RetentionPolicy{
	DriftCheckDays:      7,
	IncidentPayloadDays: 30,
	ReconciliationDays:  14,
	ApprovalDays:        30,
}

// Resolve fills zero-valued windows from plan defaults and the minimal
// fallback. A nil policy resolves to the minimal default.
func (p *RetentionPolicy) Resolve() RetentionPolicy {
	out := MinimalRetention
	if p == nil {
		return out
	}
	if planDefault, ok := PlanRetentionDefaults[p.Plan]; ok {
		out = planDefault
	}
	out.TenantID = p.TenantID
	out.Plan = p.Plan
	if p.DriftCheckDays > 0 {
		out.DriftCheckDays = p.DriftCheckDays
	}
	if p.IncidentPayloadDays > 0 {
		out.IncidentPayloadDays = p.IncidentPayloadDays
	}
	if p.ReconciliationDays > 0 {
		out.ReconciliationDays = p.ReconciliationDays
	}
	if p.ApprovalDays > 0 {
		out.ApprovalDays = p.ApprovalDays
	}
	return out
}

// DriftCheck is one historical drift-check result for an environment
type DriftCheck struct {
	CheckID       uuid.UUID       `db:"check_id" json:"check_id"`
	TenantID      string          `db:"tenant_id" json:"tenant_id"`
	EnvironmentID uuid.UUID       `db:"environment_id" json:"environment_id"`
	Status        DriftStatus     `db:"status" json:"status"`
	Summary       json.RawMessage `db:"summary" json:"summary,omitempty"`
	CheckedAt     time.Time       `db:"checked_at" json:"checked_at"`
}

// SyncCheckpoint is the persisted progress marker for one environment's
// batch sync, letting a restarted process resume at the next batch.
type SyncCheckpoint struct {
	TenantID      string    `db:"tenant_id" json:"tenant_id"`
	EnvironmentID uuid.UUID `db:"environment_id" json:"environment_id"`
	LastIndex     int       `db:"last_index" json:"last_index"`
	Total         int       `db:"total" json:"total"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// AutoIncidentPolicy is a tenant's opt-in configuration for incident
// auto-creation by the drift loop. Filter is an optional CEL expression
// over {environment_name, environment_class, affected_count, severity};
// empty means the policy applies unconditionally.
type AutoIncidentPolicy struct {
	TenantID       string `db:"tenant_id" json:"tenant_id"`
	Enabled        bool   `db:"enabled" json:"enabled"`
	ProductionOnly bool   `db:"production_only" json:"production_only"`
	Filter         string `db:"filter_expression" json:"filter_expression,omitempty"`
}
