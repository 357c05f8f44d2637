package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowDocument is the freeform body of a workflow as returned by a
// runtime platform or the repository provider. Kept as an open map on
// purpose: platforms disagree on the exact field set, and the normalizer
// only cares about a small, known subset.
type WorkflowDocument map[string]interface{}

// WorkflowSummary is the list-endpoint shape of a runtime workflow.
// Body may be a partial document; the sync engine falls back to it when
// the full fetch for one item fails.
type WorkflowSummary struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	UpdatedAt time.Time        `json:"updated_at"`
	Body      WorkflowDocument `json:"body,omitempty"`
}

// CanonicalWorkflow is the tenant-scoped logical identity of a workflow,
// independent of its per-environment runtime id.
type CanonicalWorkflow struct {
	CanonicalID uuid.UUID  `db:"canonical_id" json:"canonical_id"`
	TenantID    string     `db:"tenant_id" json:"tenant_id"`
	DisplayName string     `db:"display_name" json:"display_name"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	DeletedAt   *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the canonical workflow is soft-deleted
func (w *CanonicalWorkflow) IsDeleted() bool {
	return w.DeletedAt != nil
}
