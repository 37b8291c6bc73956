package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telflow/telflow/cmd/engine/compiler"
	"github.com/telflow/telflow/cmd/engine/service"
	"github.com/telflow/telflow/common/models"
	"github.com/telflow/telflow/common/repository"
)

// WorkflowHandler serves stored-workflow CRUD and patching.
type WorkflowHandler struct {
	workflows *service.WorkflowService
}

func NewWorkflowHandler(workflows *service.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{workflows: workflows}
}

// Create persists a workflow after compiling it.
// POST /api/v1/workflows
func (h *WorkflowHandler) Create(c echo.Context) error {
	var desc models.WorkflowDescription
	if err := c.Bind(&desc); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", err.Error()))
	}

	saved, result, err := h.workflows.Create(c.Request().Context(), &desc)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("internal_error", err.Error()))
	}
	if saved == nil {
		return compileFailure(c, result)
	}
	return c.JSON(http.StatusCreated, saved)
}

// Get returns one stored workflow.
// GET /api/v1/workflows/:id
func (h *WorkflowHandler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", "id must be a uuid"))
	}
	desc, err := h.workflows.Get(c.Request().Context(), id)
	if err != nil {
		return h.storeError(c, err)
	}
	return c.JSON(http.StatusOK, desc)
}

// List returns all stored workflows, newest first.
// GET /api/v1/workflows
func (h *WorkflowHandler) List(c echo.Context) error {
	workflows, err := h.workflows.List(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("internal_error", err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]any{"workflows": workflows})
}

// Update replaces a stored workflow and bumps its version.
// PUT /api/v1/workflows/:id
func (h *WorkflowHandler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", "id must be a uuid"))
	}
	var desc models.WorkflowDescription
	if err := c.Bind(&desc); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", err.Error()))
	}

	saved, result, err := h.workflows.Update(c.Request().Context(), id, &desc)
	if err != nil {
		return h.storeError(c, err)
	}
	if saved == nil {
		return compileFailure(c, result)
	}
	return c.JSON(http.StatusOK, saved)
}

// Patch applies a JSON patch to a stored workflow. The request is treated as
// an RFC 6902 operation list when the body is a JSON array, and as an
// RFC 7386 merge patch otherwise.
// PATCH /api/v1/workflows/:id
func (h *WorkflowHandler) Patch(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", "id must be a uuid"))
	}
	body, err := io.ReadAll(c.Request().Body)
	if err != nil || len(body) == 0 {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", "patch body is required"))
	}

	merge := true
	for _, b := range body {
		if b == ' ' || b == '\t' || b == '\n' || b == '\r' {
			continue
		}
		merge = b != '['
		break
	}

	saved, result, patchErr := h.workflows.Patch(c.Request().Context(), id, body, merge)
	if patchErr != nil {
		if errors.Is(patchErr, repository.ErrWorkflowNotFound) {
			return c.JSON(http.StatusNotFound, errorBody("workflow_not_found", patchErr.Error()))
		}
		return c.JSON(http.StatusBadRequest, errorBody("invalid_patch", patchErr.Error()))
	}
	if saved == nil {
		return compileFailure(c, result)
	}
	return c.JSON(http.StatusOK, saved)
}

// Delete removes a stored workflow. Execution logs survive deletion.
// DELETE /api/v1/workflows/:id
func (h *WorkflowHandler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", "id must be a uuid"))
	}
	if err := h.workflows.Delete(c.Request().Context(), id); err != nil {
		return h.storeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *WorkflowHandler) storeError(c echo.Context, err error) error {
	if errors.Is(err, repository.ErrWorkflowNotFound) {
		return c.JSON(http.StatusNotFound, errorBody("workflow_not_found", err.Error()))
	}
	return c.JSON(http.StatusInternalServerError, errorBody("internal_error", err.Error()))
}

func compileFailure(c echo.Context, result *compiler.Result) error {
	return c.JSON(http.StatusBadRequest, map[string]any{
		"success":  false,
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}
