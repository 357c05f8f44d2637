package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/flowops/driftd/cmd/driftd/models"
)

// writeError maps domain errors onto HTTP responses. Conflicts carry the
// conflicting incident's identity so clients can act on it.
func writeError(c echo.Context, err error) error {
	var conflict *models.ConflictError
	if errors.As(err, &conflict) {
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error":       conflict.Kind,
			"incident_id": conflict.IncidentID,
			"status":      conflict.Status,
			"detected_at": conflict.DetectedAt,
		})
	}

	var transition *models.TransitionError
	if errors.As(err, &transition) {
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error":   "invalid_transition",
			"from":    transition.From,
			"to":      transition.To,
			"allowed": transition.Allowed,
		})
	}

	var immutable *models.ImmutableFieldError
	if errors.As(err, &immutable) {
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
			"error": "immutable_field",
			"field": immutable.Field,
		})
	}

	var validation *models.ValidationError
	if errors.As(err, &validation) {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":  "validation_failed",
			"field":  validation.Field,
			"reason": validation.Reason,
		})
	}

	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": err.Error(),
	})
}
