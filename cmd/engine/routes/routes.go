// Package routes maps the engine API onto echo.
package routes

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/telflow/telflow/cmd/engine/container"
	"github.com/telflow/telflow/cmd/engine/handlers"
)

// RegisterEngineRoutes mounts the core validate/compile/execute contract.
func RegisterEngineRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewEngineHandler(c.ExecutionService)

	e.POST("/workflows/validate", h.Validate)
	e.POST("/workflows/compile", h.Compile)
	e.POST("/workflows/execute", h.Execute)
	e.GET("/workflows/executions", h.ListExecutions)
	e.GET("/workflows/executions/:id", h.GetExecution)
}

// RegisterWorkflowRoutes mounts stored-workflow CRUD and patching.
func RegisterWorkflowRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewWorkflowHandler(c.WorkflowService)

	wf := e.Group("/api/v1/workflows")
	wf.POST("", h.Create)
	wf.GET("", h.List)
	wf.GET("/:id", h.Get)
	wf.PUT("/:id", h.Update)
	wf.PATCH("/:id", h.Patch)
	wf.DELETE("/:id", h.Delete)
}

// RegisterEventRoutes mounts the inbound provider callbacks.
func RegisterEventRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewEventHandler(c.EventService)

	events := e.Group("/api/v1/events")
	events.POST("/ussd", h.USSD)
	events.POST("/sms", h.SMS)
	events.POST("/voice", h.Voice)
	events.POST("/payment", h.Payment)

	e.Any("/api/v1/webhooks/*", h.Webhook)
}

// RegisterHealth mounts the liveness endpoint. Backend checks run when the
// container has them configured.
func RegisterHealth(e *echo.Echo, c *container.Container) {
	e.GET("/health", func(ctx echo.Context) error {
		body := map[string]any{
			"status":    "ok",
			"service":   c.Components.Config.Service.Name,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		if err := c.Components.Health(ctx.Request().Context()); err != nil {
			body["status"] = "degraded"
			body["detail"] = err.Error()
			return ctx.JSON(http.StatusServiceUnavailable, body)
		}
		return ctx.JSON(http.StatusOK, body)
	})
}
