package server

import (
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	machineapi "github.com/lsst-sqre/cachemachine/internal/api/machine"
	machinectl "github.com/lsst-sqre/cachemachine/internal/machine"
	"github.com/lsst-sqre/cachemachine/internal/repoman"
	"github.com/lsst-sqre/cachemachine/pkg/logging"
)

// Server represents the management API server
type Server struct {
	echo       *echo.Echo
	manager    *machinectl.Manager
	instanceID string
}

// New creates a new API server instance
func New(
	e *echo.Echo,
	manager *machinectl.Manager,
	cluster machinectl.ClusterClient,
	newRegistry repoman.RegistryFactory,
	interval time.Duration,
	instanceID string, // API instance ID for verification
) *Server {
	srv := &Server{
		echo:       e,
		manager:    manager,
		instanceID: instanceID,
	}

	machineHandler := machineapi.NewHandler(manager, cluster, newRegistry, interval)
	machineapi.RegisterRoutes(e.Group("/cachemachine"), machineHandler)

	// Health check (no auth required - for load balancers/probes)
	// Supports ?info=true to return the API instance ID
	e.GET("/health", srv.handleHealth)

	return srv
}

// handleHealth handles the health check endpoint
// Returns 200 OK for normal health checks
// Returns JSON with API info when ?info=true is specified
func (s *Server) handleHealth(c echo.Context) error {
	if c.QueryParam("info") == "true" {
		info := map[string]string{
			"api_id": s.instanceID,
		}
		return c.JSON(200, info)
	}

	return c.NoContent(200)
}

// Start starts the API server
func (s *Server) Start() error {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	port = ":" + port
	logging.Logger.Info("Starting server", zap.String("port", port))
	return s.echo.Start(port)
}
