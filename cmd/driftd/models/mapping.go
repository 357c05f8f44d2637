package models

import (
	"time"

	"github.com/google/uuid"
)

// MappingStatus describes how a runtime workflow relates to its canonical
// identity in one environment.
type MappingStatus string

const (
	MappingLinked    MappingStatus = "linked"
	MappingUntracked MappingStatus = "untracked"
	MappingMissing   MappingStatus = "missing"
	MappingIgnored   MappingStatus = "ignored"
	MappingDeleted   MappingStatus = "deleted"
)

// InDiffScope reports whether a mapping with this status participates in
// drift/diff computation. Only linked and untracked do; the rest are
// suppressed from any cross-environment view.
func (s MappingStatus) InDiffScope() bool {
	return s == MappingLinked || s == MappingUntracked
}

// EnvironmentMapping records how one runtime workflow in one environment
// relates to a canonical workflow. Rows are never deleted: when the
// underlying runtime workflow disappears the status becomes "deleted"
// and the runtime id is cleared.
//
// CanonicalID is nil for untracked rows: they exist to record "seen but
// unmatched" and carry no real link.
type EnvironmentMapping struct {
	MappingID         uuid.UUID     `db:"mapping_id" json:"mapping_id"`
	TenantID          string        `db:"tenant_id" json:"tenant_id"`
	EnvironmentID     uuid.UUID     `db:"environment_id" json:"environment_id"`
	CanonicalID       *uuid.UUID    `db:"canonical_id" json:"canonical_id,omitempty"`
	RuntimeWorkflowID *string       `db:"runtime_workflow_id" json:"runtime_workflow_id,omitempty"`
	WorkflowName      string        `db:"workflow_name" json:"workflow_name"`
	ContentHash       string        `db:"content_hash" json:"content_hash"`
	CachedBody        []byte        `db:"cached_body" json:"-"`
	MappingStatus     MappingStatus `db:"mapping_status" json:"mapping_status"`
	LastSyncAt        time.Time     `db:"last_sync_at" json:"last_sync_at"`
	LinkedAt          *time.Time    `db:"linked_at" json:"linked_at,omitempty"`
	LinkedBy          *string       `db:"linked_by" json:"linked_by,omitempty"`
}

// IsLinked reports whether the mapping carries a real canonical link
func (m *EnvironmentMapping) IsLinked() bool {
	return m.MappingStatus == MappingLinked && m.CanonicalID != nil
}
