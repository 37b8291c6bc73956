package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/telflow/telflow/cmd/engine/container"
	"github.com/telflow/telflow/cmd/engine/routes"
	"github.com/telflow/telflow/common/bootstrap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Setup(ctx, "engine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap engine: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	if err := serviceContainer.StartBackground(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start background workers: %v\n", err)
		os.Exit(1)
	}
	defer serviceContainer.Stop()

	e := setupEcho()
	setupMiddleware(e)
	registerRoutes(e, serviceContainer)

	startServer(ctx, e, components)
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

func registerRoutes(e *echo.Echo, c *container.Container) {
	routes.RegisterHealth(e, c)
	routes.RegisterEngineRoutes(e, c)
	routes.RegisterWorkflowRoutes(e, c)
	routes.RegisterEventRoutes(e, c)
}

func startServer(ctx context.Context, e *echo.Echo, components *bootstrap.Components) {
	port := components.Config.Service.Port
	components.Logger.Info("Starting engine", "port", port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			components.Logger.Error("Server shutdown", "error", err)
		}
	}()

	if err := e.Start(fmt.Sprintf(":%d", port)); err != nil {
		components.Logger.Info("Server stopped", "reason", err)
	}
}
