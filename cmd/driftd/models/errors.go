package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConflictKind classifies why an incident creation was rejected
type ConflictKind string

const (
	ConflictActiveIncident    ConflictKind = "active_incident_exists"
	ConflictDuplicateIncident ConflictKind = "duplicate_incident_exists"
)

// ConflictError rejects an incident creation and surfaces the conflicting
// incident's identity so the caller can act on it instead of retrying.
type ConflictError struct {
	Kind       ConflictKind
	IncidentID uuid.UUID
	Status     IncidentStatus
	DetectedAt time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: incident %s (status=%s, detected_at=%s)",
		e.Kind, e.IncidentID, e.Status, e.DetectedAt.Format(time.RFC3339))
}

// TransitionError rejects an invalid incident state transition and carries
// the transitions that would have been allowed.
type TransitionError struct {
	From    IncidentStatus
	To      IncidentStatus
	Allowed []IncidentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s (allowed: %v)", e.From, e.To, e.Allowed)
}

// ImmutableFieldError rejects a mutation of a field that is immutable
// after creation. Attempts must fail explicitly, never be silently
// ignored.
type ImmutableFieldError struct {
	Field string
}

func (e *ImmutableFieldError) Error() string {
	return fmt.Sprintf("field %q is immutable after creation", e.Field)
}

// ValidationError rejects a close or update that is missing required
// input, such as a resolution reason.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
