package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"labelworks/orchestrator/pkg/models"
)

// ListTransitions queries the ledger
// (GET /state-transitions?entityType=&entityId=&workflowId=&eventType=&fromDate=&limit=)
func (s *Server) ListTransitions(c echo.Context) error {
	filter := models.TransitionFilter{
		EntityType: c.QueryParam("entityType"),
		EntityID:   c.QueryParam("entityId"),
		WorkflowID: c.QueryParam("workflowId"),
		EventType:  c.QueryParam("eventType"),
		Limit:      queryInt(c, "limit", 100),
	}
	if raw := c.QueryParam("fromDate"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return badRequest(c, "fromDate must be RFC 3339: "+err.Error())
		}
		filter.FromDate = from
	}

	rows, err := s.Ledger.Find(c.Request().Context(), filter)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, rows)
}

// GetTransition returns a single ledger row
// (GET /state-transitions/:id)
func (s *Server) GetTransition(c echo.Context) error {
	tr, err := s.Ledger.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, tr)
}
