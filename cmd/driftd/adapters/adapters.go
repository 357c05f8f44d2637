package adapters

import (
	"context"

	"github.com/google/uuid"

	"github.com/flowops/driftd/cmd/driftd/models"
)

// RuntimeAdapter is the capability set the sync and drift engines need
// from a runtime automation platform. New platforms are added by
// implementing this interface, never by branching on a type string.
type RuntimeAdapter interface {
	ListWorkflows(ctx context.Context) ([]models.WorkflowSummary, error)
	GetWorkflow(ctx context.Context, id string) (models.WorkflowDocument, error)
	TestConnection(ctx context.Context) error
}

// RuntimeAdapterFactory resolves the adapter for one environment. The
// concrete HTTP clients behind it live outside this service.
type RuntimeAdapterFactory interface {
	ForEnvironment(ctx context.Context, env *models.Environment) (RuntimeAdapter, error)
}

// RepoProvider reads workflow documents from the source-control provider.
// Populated git state comes from repository sync; this is the read path
// the drift engine uses to fetch a document at a pinned ref.
type RepoProvider interface {
	GetFileContent(ctx context.Context, path, ref string) (models.WorkflowDocument, error)
}

// ProgressSink receives job progress from long-running syncs. Implemented
// by an external background-job tracker.
type ProgressSink interface {
	UpdateProgress(ctx context.Context, jobID string, current, total int, message string) error
	Complete(ctx context.Context, jobID string, result interface{}) error
	Fail(ctx context.Context, jobID string, jobErr error) error
}

// Notification event types emitted by this service
const (
	EventDriftDetected = "drift.detected"
	EventTTLWarning    = "drift.ttl_warning"
	EventTTLExpired    = "drift.ttl_expired"
)

// Notifier dispatches outbound notifications. Fire-and-forget from this
// service's point of view; rendering happens elsewhere.
type Notifier interface {
	Emit(ctx context.Context, tenantID, eventType string, environmentID uuid.UUID, metadata map[string]interface{}) error
}
