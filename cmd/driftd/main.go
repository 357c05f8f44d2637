package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"

	"github.com/flowops/driftd/cmd/driftd/container"
	"github.com/flowops/driftd/cmd/driftd/repository"
	"github.com/flowops/driftd/cmd/driftd/routes"
	"github.com/flowops/driftd/common/bootstrap"
	"github.com/flowops/driftd/common/db"
	"github.com/flowops/driftd/common/server"
)

func main() {
	ctx := context.Background()

	// Bootstrap common components (config, logger, db, redis)
	components, err := bootstrap.Setup(ctx, "driftd",
		bootstrap.WithDBInitHook(func(database *db.DB) error {
			return repository.InitSchema(ctx, database)
		}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap driftd: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	// Initialize service container (singleton pattern)
	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e, serviceContainer)
	registerRoutes(e, serviceContainer)

	// Background control loops: drift detection, incident TTL, retention
	serviceContainer.Scheduler.Start(ctx)

	srv := server.New("driftd", components.Config.Service.Port, e, components.Logger)
	if err := srv.Start(serviceContainer.Scheduler.Stop); err != nil {
		components.Logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(echomiddleware.RequestID())
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, c *container.Container) {
	e.GET("/health", func(ec echo.Context) error {
		if err := c.Components.Health(ec.Request().Context()); err != nil {
			return ec.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
		}
		return ec.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "driftd",
		})
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, c *container.Container) {
	routes.RegisterEnvironmentRoutes(e, c)
	routes.RegisterIncidentRoutes(e, c)
}
