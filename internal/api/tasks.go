package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"labelworks/orchestrator/internal/machine"
	"labelworks/orchestrator/pkg/models"
)

// entityTypeTask is the ledger entity type behind the /tasks routes. Tasks
// are owned by the task-management service; only their workflow state lives
// here.
const entityTypeTask = "task"

// InitTaskStateRequest seeds a task at its workflow's initial state.
type InitTaskStateRequest struct {
	WorkflowID string         `json:"workflow_id"`
	Context    map[string]any `json:"context,omitempty"`
}

// InitTaskState seeds the cached state for a task
// (POST /tasks/:taskId/state)
func (s *Server) InitTaskState(c echo.Context) error {
	var req InitTaskStateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.WorkflowID == "" {
		return badRequest(c, "workflow_id is required")
	}

	state, err := s.Entities.InitState(c.Request().Context(), entityTypeTask, c.Param("taskId"),
		req.WorkflowID, req.Context, c.QueryParam("userId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, state)
}

// SendTaskEvent applies one event to a task's cached state
// (POST /tasks/:taskId/events?workflowId=&userId=)
func (s *Server) SendTaskEvent(c echo.Context) error {
	workflowID := c.QueryParam("workflowId")
	if workflowID == "" {
		return badRequest(c, "workflowId query parameter is required")
	}
	var event machine.Event
	if err := c.Bind(&event); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if event.Type == "" {
		return badRequest(c, "event type is required")
	}

	tr, err := s.Entities.SendEvent(c.Request().Context(), entityTypeTask, c.Param("taskId"),
		workflowID, event, c.QueryParam("userId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, tr)
}

// GetTaskState returns the cached state plus the legally sendable events
// (GET /tasks/:taskId/state?workflowId=)
func (s *Server) GetTaskState(c echo.Context) error {
	workflowID := c.QueryParam("workflowId")
	if workflowID == "" {
		return badRequest(c, "workflowId query parameter is required")
	}

	state, err := s.Entities.CurrentState(c.Request().Context(), entityTypeTask, c.Param("taskId"), workflowID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, state)
}

// GetTaskStateHistory reads the ledger newest-first, independent of the
// cache
// (GET /tasks/:taskId/state-history?limit=)
func (s *Server) GetTaskStateHistory(c echo.Context) error {
	history, err := s.Entities.StateHistory(c.Request().Context(), entityTypeTask, c.Param("taskId"),
		queryInt(c, "limit", 50))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, history)
}

// RestoreTaskStateRequest rolls a task back to a historical transition's
// from-state.
type RestoreTaskStateRequest struct {
	TransitionID string `json:"transition_id"`
	Reason       string `json:"reason,omitempty"`
}

// RestoreTaskState overwrites the cached state from history
// (POST /tasks/:taskId/state/restore)
func (s *Server) RestoreTaskState(c echo.Context) error {
	var req RestoreTaskStateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.TransitionID == "" {
		return badRequest(c, "transition_id is required")
	}

	state, err := s.Entities.RestoreState(c.Request().Context(), entityTypeTask, c.Param("taskId"),
		req.TransitionID, req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, state)
}

// GetTaskTransitions queries the ledger for one task
// (GET /tasks/:taskId/transitions?workflowId=&limit=)
func (s *Server) GetTaskTransitions(c echo.Context) error {
	rows, err := s.Ledger.Find(c.Request().Context(), models.TransitionFilter{
		EntityType: entityTypeTask,
		EntityID:   c.Param("taskId"),
		WorkflowID: c.QueryParam("workflowId"),
		Limit:      queryInt(c, "limit", 50),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, rows)
}

// BatchEventsRequest applies events to many entities in one call.
type BatchEventsRequest struct {
	Items []models.BatchEventItem `json:"items"`
}

// SendBatchEvents applies each item independently; one rejection does not
// abort the rest
// (POST /events/batch?userId=)
func (s *Server) SendBatchEvents(c echo.Context) error {
	var req BatchEventsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if len(req.Items) == 0 {
		return badRequest(c, "items must not be empty")
	}

	results := s.Entities.SendBatch(c.Request().Context(), req.Items, c.QueryParam("userId"))
	return c.JSON(http.StatusOK, results)
}
