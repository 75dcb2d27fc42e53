// Package api contains the HTTP handlers for the orchestration service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/goliatone/go-errors"
	"github.com/labstack/echo/v4"

	"labelworks/orchestrator/internal/services"
)

// Server holds the service-layer dependencies for the API server.
type Server struct {
	Definitions *services.DefinitionService
	Instances   *services.InstanceService
	Entities    *services.EntityService
	Ledger      *services.LedgerService
}

// NewServer creates a new Server.
func NewServer(definitions *services.DefinitionService, instances *services.InstanceService,
	entities *services.EntityService, ledger *services.LedgerService) *Server {
	return &Server{
		Definitions: definitions,
		Instances:   instances,
		Entities:    entities,
		Ledger:      ledger,
	}
}

// RegisterHandlers mounts every route on the given group.
func RegisterHandlers(g *echo.Group, s *Server) {
	g.POST("/workflows", s.CreateWorkflow)
	g.GET("/workflows", s.ListWorkflows)
	g.GET("/workflows/:id", s.GetWorkflow)
	g.PATCH("/workflows/:id", s.UpdateWorkflow)
	g.DELETE("/workflows/:id", s.DeleteWorkflow)
	g.POST("/workflows/:id/validate", s.ValidateWorkflow)
	g.POST("/workflows/:id/simulate", s.SimulateWorkflow)
	g.GET("/workflows/:id/visualization", s.VisualizeWorkflow)
	g.GET("/workflows/:id/analytics", s.WorkflowAnalytics)

	g.POST("/workflow-instances", s.CreateInstance)
	g.GET("/workflow-instances", s.ListInstances)
	g.GET("/workflow-instances/:id", s.GetInstance)
	g.POST("/workflow-instances/:id/events", s.SendInstanceEvent)
	g.POST("/workflow-instances/:id/pause", s.PauseInstance)
	g.POST("/workflow-instances/:id/resume", s.ResumeInstance)
	g.POST("/workflow-instances/:id/stop", s.StopInstance)
	g.GET("/workflow-instances/:id/snapshot", s.GetInstanceSnapshot)
	g.POST("/workflow-instances/:id/restore", s.RestoreInstance)
	g.GET("/workflow-instances/:id/actors", s.GetChildActors)

	g.POST("/tasks/:taskId/state", s.InitTaskState)
	g.GET("/tasks/:taskId/state", s.GetTaskState)
	g.POST("/tasks/:taskId/state/restore", s.RestoreTaskState)
	g.GET("/tasks/:taskId/state-history", s.GetTaskStateHistory)
	g.POST("/tasks/:taskId/events", s.SendTaskEvent)
	g.GET("/tasks/:taskId/transitions", s.GetTaskTransitions)
	g.POST("/events/batch", s.SendBatchEvents)

	g.GET("/state-transitions", s.ListTransitions)
	g.GET("/state-transitions/:id", s.GetTransition)
}

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// Health returns basic health status (always 200 OK).
func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "workflow-orchestrator",
		Version:   "1.0.0",
	})
}

// ProblemDetails represents an RFC 7807 Problem Details response.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Code     string `json:"code,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// respondError writes an RFC 7807 Problem Details JSON error response, with
// the status derived from the error's category.
func respondError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	detail := err.Error()
	code := ""

	var ge *apperrors.Error
	if errors.As(err, &ge) {
		status = categoryStatus(ge.Category)
		detail = ge.Message
		code = ge.TextCode
	}

	problem := ProblemDetails{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
		Code:   code,
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	c.Response().WriteHeader(status)
	return json.NewEncoder(c.Response()).Encode(problem)
}

func categoryStatus(category apperrors.Category) int {
	switch category {
	case apperrors.CategoryValidation:
		return http.StatusUnprocessableEntity
	case apperrors.CategoryNotFound:
		return http.StatusNotFound
	case apperrors.CategoryConflict:
		return http.StatusConflict
	case apperrors.CategoryBadInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(c echo.Context, detail string) error {
	return respondError(c, apperrors.New(detail, apperrors.CategoryBadInput))
}

// queryInt parses an integer query parameter, falling back to def when the
// parameter is absent or malformed.
func queryInt(c echo.Context, name string, def int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
