package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/flowops/driftd/cmd/driftd/container"
	"github.com/flowops/driftd/cmd/driftd/middleware"
	"github.com/flowops/driftd/cmd/driftd/models"
	"github.com/flowops/driftd/cmd/driftd/service"
)

// IncidentHandler handles drift incident lifecycle requests
type IncidentHandler struct {
	container *container.Container
}

// NewIncidentHandler creates a new incident handler
func NewIncidentHandler(c *container.Container) *IncidentHandler {
	return &IncidentHandler{container: c}
}

// ListIncidents lists the tenant's incidents
// GET /api/v1/incidents?limit=50
func (h *IncidentHandler) ListIncidents(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	incidents, err := h.container.IncidentService.ListByTenant(
		c.Request().Context(), middleware.GetTenant(c), limit)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"incidents": incidents})
}

// GetIncident retrieves one incident
// GET /api/v1/incidents/:id
func (h *IncidentHandler) GetIncident(c echo.Context) error {
	incidentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid incident id"})
	}

	incident, err := h.container.IncidentService.Get(c.Request().Context(), incidentID)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, incident)
}

// CreateIncident raises a new drift incident
// POST /api/v1/incidents
func (h *IncidentHandler) CreateIncident(c echo.Context) error {
	var req service.CreateIncidentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
	}
	req.TenantID = middleware.GetTenant(c)
	if req.DetectedBy == nil {
		actor := middleware.GetActor(c)
		req.DetectedBy = &actor
	}

	incident, err := h.container.IncidentService.CreateIncident(c.Request().Context(), &req)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusCreated, incident)
}

type transitionRequest struct {
	Status        models.IncidentStatus `json:"status"`
	AdminOverride bool                  `json:"admin_override,omitempty"`
}

// TransitionIncident moves an incident to a new non-closed status
// POST /api/v1/incidents/:id/transition
func (h *IncidentHandler) TransitionIncident(c echo.Context) error {
	incidentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid incident id"})
	}

	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
	}

	incident, err := h.container.IncidentService.Transition(
		c.Request().Context(), incidentID, req.Status, middleware.GetActor(c), req.AdminOverride)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, incident)
}

type closeRequest struct {
	ResolutionType   string `json:"resolution_type,omitempty"`
	ResolutionReason string `json:"resolution_reason"`
}

// CloseIncident closes an incident with its resolution
// POST /api/v1/incidents/:id/close
func (h *IncidentHandler) CloseIncident(c echo.Context) error {
	incidentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid incident id"})
	}

	var req closeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
	}

	incident, err := h.container.IncidentService.CloseIncident(
		c.Request().Context(), incidentID, middleware.GetActor(c),
		req.ResolutionType, req.ResolutionReason)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, incident)
}

// UpdateIncident updates the mutable fields of an incident
// PATCH /api/v1/incidents/:id
func (h *IncidentHandler) UpdateIncident(c echo.Context) error {
	incidentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid incident id"})
	}

	var req service.UpdateIncidentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
	}

	incident, err := h.container.IncidentService.UpdateIncident(c.Request().Context(), incidentID, &req)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, incident)
}
