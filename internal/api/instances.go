package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"labelworks/orchestrator/internal/machine"
	"labelworks/orchestrator/internal/services"
	"labelworks/orchestrator/pkg/models"
)

// CreateInstance instantiates a workflow as a running actor
// (POST /workflow-instances)
func (s *Server) CreateInstance(c echo.Context) error {
	var in services.CreateInstanceInput
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if in.WorkflowID == "" {
		return badRequest(c, "workflow_id is required")
	}

	inst, err := s.Instances.Create(c.Request().Context(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, inst)
}

// ListInstances returns instances filtered by workflow, batch, and status
// (GET /workflow-instances?workflowId=&batchId=&status=&limit=)
func (s *Server) ListInstances(c echo.Context) error {
	insts, err := s.Instances.List(c.Request().Context(), models.InstanceFilter{
		WorkflowID: c.QueryParam("workflowId"),
		BatchID:    c.QueryParam("batchId"),
		Status:     models.InstanceStatus(c.QueryParam("status")),
		Limit:      queryInt(c, "limit", 100),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, insts)
}

// GetInstance returns one instance
// (GET /workflow-instances/:id)
func (s *Server) GetInstance(c echo.Context) error {
	inst, err := s.Instances.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, inst)
}

// SendInstanceEvent applies one event to an instance's actor
// (POST /workflow-instances/:id/events)
func (s *Server) SendInstanceEvent(c echo.Context) error {
	var event machine.Event
	if err := c.Bind(&event); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if event.Type == "" {
		return badRequest(c, "event type is required")
	}

	tr, err := s.Instances.SendEvent(c.Request().Context(), c.Param("id"), event)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, tr)
}

// PauseInstance checkpoints a running instance
// (POST /workflow-instances/:id/pause)
func (s *Server) PauseInstance(c echo.Context) error {
	inst, err := s.Instances.Pause(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, inst)
}

// ResumeInstance rehydrates a paused instance
// (POST /workflow-instances/:id/resume)
func (s *Server) ResumeInstance(c echo.Context) error {
	inst, err := s.Instances.Resume(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, inst)
}

// StopRequest carries the terminal stop request.
type StopRequest struct {
	Reason string `json:"reason,omitempty"`
	Force  bool   `json:"force,omitempty"`
}

// StopInstance terminally stops an instance
// (POST /workflow-instances/:id/stop)
func (s *Server) StopInstance(c echo.Context) error {
	var req StopRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	inst, err := s.Instances.Stop(c.Request().Context(), c.Param("id"), req.Reason, req.Force)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, inst)
}

// GetInstanceSnapshot returns the current durable snapshot
// (GET /workflow-instances/:id/snapshot)
func (s *Server) GetInstanceSnapshot(c echo.Context) error {
	snap, err := s.Instances.Snapshot(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// RestoreInstance force-overwrites an instance's actor state
// (POST /workflow-instances/:id/restore)
func (s *Server) RestoreInstance(c echo.Context) error {
	var snap machine.Snapshot
	if err := c.Bind(&snap); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if snap.Value == "" {
		return badRequest(c, "snapshot value is required")
	}

	inst, err := s.Instances.Restore(c.Request().Context(), c.Param("id"), snap)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, inst)
}

// GetChildActors returns the instances parented by this one, ordered by
// start time
// (GET /workflow-instances/:id/actors)
func (s *Server) GetChildActors(c echo.Context) error {
	children, err := s.Instances.ChildActors(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, children)
}
