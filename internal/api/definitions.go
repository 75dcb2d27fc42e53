package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"labelworks/orchestrator/internal/machine"
	"labelworks/orchestrator/pkg/models"
)

// CreateWorkflow authors a new workflow definition
// (POST /workflows)
func (s *Server) CreateWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	var def models.WorkflowDefinition
	if err := c.Bind(&def); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	created, err := s.Definitions.Create(ctx, &def)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

// ListWorkflows returns definitions filtered by status and project
// (GET /workflows?status=&projectId=&limit=)
func (s *Server) ListWorkflows(c echo.Context) error {
	defs, err := s.Definitions.List(c.Request().Context(),
		c.QueryParam("status"), c.QueryParam("projectId"), queryInt(c, "limit", 100))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, defs)
}

// GetWorkflow returns one definition
// (GET /workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	def, err := s.Definitions.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, def)
}

// UpdateWorkflow applies a partial update
// (PATCH /workflows/:id)
func (s *Server) UpdateWorkflow(c echo.Context) error {
	var patch models.DefinitionPatch
	if err := c.Bind(&patch); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	def, err := s.Definitions.Update(c.Request().Context(), c.Param("id"), patch)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, def)
}

// DeleteWorkflow removes a definition with no live instances
// (DELETE /workflows/:id)
func (s *Server) DeleteWorkflow(c echo.Context) error {
	if err := s.Definitions.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ValidateWorkflow re-runs structural validation
// (POST /workflows/:id/validate)
func (s *Server) ValidateWorkflow(c echo.Context) error {
	report, err := s.Definitions.Validate(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// SimulateRequest scripts a dry run of a definition.
type SimulateRequest struct {
	Context map[string]any  `json:"context,omitempty"`
	Events  []machine.Event `json:"events"`
}

// SimulateWorkflow dry-runs a scripted event list; nothing is persisted
// (POST /workflows/:id/simulate)
func (s *Server) SimulateWorkflow(c echo.Context) error {
	var req SimulateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if len(req.Events) == 0 {
		return badRequest(c, "events must not be empty")
	}

	result, err := s.Definitions.Simulate(c.Request().Context(), c.Param("id"), req.Context, req.Events)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// VisualizeWorkflow renders the definition graph as a Graphviz digraph
// (GET /workflows/:id/visualization)
func (s *Server) VisualizeWorkflow(c echo.Context) error {
	dot, err := s.Definitions.Visualization(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.Blob(http.StatusOK, "text/vnd.graphviz", []byte(dot))
}

// WorkflowAnalytics aggregates ledger rows over a trailing window
// (GET /workflows/:id/analytics?period=)
func (s *Server) WorkflowAnalytics(c echo.Context) error {
	analytics, err := s.Ledger.Analytics(c.Request().Context(), c.Param("id"), c.QueryParam("period"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, analytics)
}
