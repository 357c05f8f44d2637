package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/flowops/driftd/cmd/driftd/container"
	"github.com/flowops/driftd/cmd/driftd/middleware"
)

// EnvironmentHandler handles sync, reconciliation, drift detection and
// the matrix view.
type EnvironmentHandler struct {
	container *container.Container
}

// NewEnvironmentHandler creates a new environment handler
func NewEnvironmentHandler(c *container.Container) *EnvironmentHandler {
	return &EnvironmentHandler{container: c}
}

// GetMatrix returns the tenant's cross-environment matrix
// GET /api/v1/matrix
func (h *EnvironmentHandler) GetMatrix(c echo.Context) error {
	matrix, err := h.container.MatrixService.Build(c.Request().Context(), middleware.GetTenant(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, matrix)
}

// SyncEnvironment runs one environment sync
// POST /api/v1/environments/:id/sync?resume=true
func (h *EnvironmentHandler) SyncEnvironment(c echo.Context) error {
	environmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid environment id"})
	}

	jobID := c.QueryParam("job_id")
	if jobID == "" {
		jobID = uuid.NewString()
	}
	resume := c.QueryParam("resume") == "true"

	result, err := h.container.SyncService.SyncEnvironment(
		c.Request().Context(), middleware.GetTenant(c), environmentID, jobID, resume)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"job_id": jobID,
		"result": result,
	})
}

// ReconcileEnvironment reconciles the environment against every other
// environment of the tenant, in both directions.
// POST /api/v1/environments/:id/reconcile?force=true
func (h *EnvironmentHandler) ReconcileEnvironment(c echo.Context) error {
	environmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid environment id"})
	}

	force := c.QueryParam("force") == "true"

	result, err := h.container.ReconcileService.ReconcileAllPairsForEnvironment(
		c.Request().Context(), middleware.GetTenant(c), environmentID, force)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

// ReconcilePair reconciles one ordered environment pair
// POST /api/v1/reconcile/:source/:target?force=true
func (h *EnvironmentHandler) ReconcilePair(c echo.Context) error {
	sourceID, err := uuid.Parse(c.Param("source"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid source environment id"})
	}
	targetID, err := uuid.Parse(c.Param("target"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid target environment id"})
	}

	force := c.QueryParam("force") == "true"

	result, err := h.container.ReconcileService.ReconcilePair(
		c.Request().Context(), middleware.GetTenant(c), sourceID, targetID, force)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

// DetectDrift runs one drift detection pass for an environment
// POST /api/v1/environments/:id/drift-check
func (h *EnvironmentHandler) DetectDrift(c echo.Context) error {
	environmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid environment id"})
	}

	summary, err := h.container.DriftService.DetectDrift(
		c.Request().Context(), middleware.GetTenant(c), environmentID)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, summary)
}

type linkRequest struct {
	CanonicalID uuid.UUID `json:"canonical_id"`
}

// LinkMapping manually links an untracked workflow
// POST /api/v1/mappings/:id/link
func (h *EnvironmentHandler) LinkMapping(c echo.Context) error {
	mappingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid mapping id"})
	}

	var req linkRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
	}
	if req.CanonicalID == uuid.Nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "canonical_id is required"})
	}

	mapping, err := h.container.MatrixService.LinkWorkflow(
		c.Request().Context(), mappingID, req.CanonicalID, middleware.GetActor(c))
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, mapping)
}

// IgnoreMapping marks an untracked workflow as ignored
// POST /api/v1/mappings/:id/ignore
func (h *EnvironmentHandler) IgnoreMapping(c echo.Context) error {
	mappingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid mapping id"})
	}

	mapping, err := h.container.MatrixService.IgnoreWorkflow(
		c.Request().Context(), mappingID, middleware.GetActor(c))
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, mapping)
}
