package models

import (
	"time"

	"github.com/google/uuid"
)

// EnvironmentClass buckets environments by role. Drift detection skips the
// dev class: dev uses the runtime as its own source of truth.
type EnvironmentClass string

const (
	ClassDev        EnvironmentClass = "dev"
	ClassStaging    EnvironmentClass = "staging"
	ClassProduction EnvironmentClass = "production"
)

// DriftStatus is the environment-level drift state
type DriftStatus string

const (
	DriftStatusInSync    DriftStatus = "in_sync"
	DriftStatusDetected  DriftStatus = "drift_detected"
	DriftStatusUntracked DriftStatus = "untracked"
	DriftStatusError     DriftStatus = "error"
	DriftStatusUnknown   DriftStatus = "unknown"
)

// Environment is one live runtime environment of a tenant
type Environment struct {
	EnvironmentID         uuid.UUID        `db:"environment_id" json:"environment_id"`
	TenantID              string           `db:"tenant_id" json:"tenant_id"`
	Name                  string           `db:"name" json:"name"`
	Class                 EnvironmentClass `db:"class" json:"class"`
	RepoConfigured        bool             `db:"repo_configured" json:"repo_configured"`
	DriftDetectionEnabled bool             `db:"drift_detection_enabled" json:"drift_detection_enabled"`
	DriftStatus           DriftStatus      `db:"drift_status" json:"drift_status"`
	LastDriftCheckAt      *time.Time       `db:"last_drift_check_at" json:"last_drift_check_at,omitempty"`
	LastDriftDetectedAt   *time.Time       `db:"last_drift_detected_at" json:"last_drift_detected_at,omitempty"`
	ActiveIncidentID      *uuid.UUID       `db:"active_incident_id" json:"active_incident_id,omitempty"`
}

// DriftEligible reports whether the drift loop should consider this
// environment at all.
func (e *Environment) DriftEligible() bool {
	return e.Class != ClassDev && e.RepoConfigured && e.DriftDetectionEnabled
}
