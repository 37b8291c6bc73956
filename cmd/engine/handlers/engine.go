// Package handlers holds the echo request handlers for the engine API.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telflow/telflow/cmd/engine/runtime"
	"github.com/telflow/telflow/cmd/engine/service"
	"github.com/telflow/telflow/common/models"
	"github.com/telflow/telflow/common/repository"
)

// EngineHandler serves the validate/compile/execute/log-query contract.
type EngineHandler struct {
	exec *service.ExecutionService
}

func NewEngineHandler(exec *service.ExecutionService) *EngineHandler {
	return &EngineHandler{exec: exec}
}

// Validate checks a description and reports issues without side effects.
// POST /workflows/validate
func (h *EngineHandler) Validate(c echo.Context) error {
	var desc models.WorkflowDescription
	if err := c.Bind(&desc); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", err.Error()))
	}

	result := h.exec.Compile(&desc)
	return c.JSON(http.StatusOK, map[string]any{
		"valid":    result.Valid,
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// Compile returns the full execution graph for a valid description.
// POST /workflows/compile
func (h *EngineHandler) Compile(c echo.Context) error {
	var desc models.WorkflowDescription
	if err := c.Bind(&desc); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", err.Error()))
	}

	result := h.exec.Compile(&desc)
	if !result.Valid {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"success":  false,
			"errors":   result.Errors,
			"warnings": result.Warnings,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":  true,
		"graph":    result.Graph,
		"warnings": result.Warnings,
	})
}

type executeRequest struct {
	Workflow       *models.WorkflowDescription `json:"workflow"`
	WorkflowID     *uuid.UUID                  `json:"workflow_id"`
	TriggerPayload map[string]any              `json:"trigger_payload"`
	SessionID      string                      `json:"session_id"`
	Subscriber     string                      `json:"subscriber"`
	Options        *runtime.InvokeOptions      `json:"options"`
}

// Execute runs an inline description or a stored workflow.
// POST /workflows/execute
func (h *EngineHandler) Execute(c echo.Context) error {
	var req executeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", err.Error()))
	}
	if req.Workflow == nil && req.WorkflowID == nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", "one of workflow or workflow_id is required"))
	}

	execReq := service.ExecuteRequest{
		TriggerPayload: req.TriggerPayload,
		SessionID:      req.SessionID,
		Subscriber:     req.Subscriber,
		Options:        req.Options,
	}

	if req.Workflow != nil {
		run, result, err := h.exec.ExecuteDescription(c.Request().Context(), req.Workflow, execReq)
		if err != nil {
			return h.executeError(c, err)
		}
		if run == nil {
			return c.JSON(http.StatusBadRequest, map[string]any{
				"success":  false,
				"errors":   result.Errors,
				"warnings": result.Warnings,
			})
		}
		return c.JSON(http.StatusOK, run)
	}

	run, err := h.exec.ExecuteStored(c.Request().Context(), *req.WorkflowID, execReq)
	if err != nil {
		return h.executeError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

func (h *EngineHandler) executeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrWorkflowNotFound):
		return c.JSON(http.StatusNotFound, errorBody("workflow_not_found", err.Error()))
	case errors.Is(err, service.ErrSessionConflict):
		return c.JSON(http.StatusConflict, errorBody(models.CodeSessionConflict, err.Error()))
	case errors.Is(err, service.ErrWorkflowInvalid):
		return c.JSON(http.StatusConflict, errorBody(models.CodeSchemaValidation, err.Error()))
	default:
		return c.JSON(http.StatusInternalServerError, errorBody("internal_error", err.Error()))
	}
}

// GetExecution returns one execution log.
// GET /workflows/executions/:id
func (h *EngineHandler) GetExecution(c echo.Context) error {
	log, err := h.exec.GetExecution(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("internal_error", err.Error()))
	}
	if log == nil {
		return c.JSON(http.StatusNotFound, errorBody("execution_not_found", "no execution with that id"))
	}
	return c.JSON(http.StatusOK, log)
}

// ListExecutions queries execution logs, newest first.
// GET /workflows/executions?workflow_id=&state=&from=&to=&limit=
func (h *EngineHandler) ListExecutions(c echo.Context) error {
	var filter models.LogFilter

	if raw := c.QueryParam("workflow_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody("invalid_request", "workflow_id must be a uuid"))
		}
		filter.WorkflowID = &id
	}
	filter.State = models.ExecutionState(c.QueryParam("state"))
	if raw := c.QueryParam("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody("invalid_request", "from must be RFC 3339"))
		}
		filter.From = &t
	}
	if raw := c.QueryParam("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody("invalid_request", "to must be RFC 3339"))
		}
		filter.To = &t
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody("invalid_request", "limit must be an integer"))
		}
		filter.Limit = limit
	}

	logs, err := h.exec.QueryExecutions(c.Request().Context(), filter)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("internal_error", err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]any{"executions": logs})
}

func errorBody(code, message string) map[string]any {
	return map[string]any{"error": code, "message": message}
}
