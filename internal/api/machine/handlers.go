// Package machine exposes the management API for cache machines.
package machine

import (
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	machinectl "github.com/lsst-sqre/cachemachine/internal/machine"
	"github.com/lsst-sqre/cachemachine/internal/repoman"
	"github.com/lsst-sqre/cachemachine/pkg/logging"
)

// Handler handles machine-related HTTP requests
type Handler struct {
	manager     *machinectl.Manager
	cluster     machinectl.ClusterClient
	newRegistry repoman.RegistryFactory
	interval    time.Duration
}

// NewHandler creates a new machine handler
func NewHandler(
	manager *machinectl.Manager,
	cluster machinectl.ClusterClient,
	newRegistry repoman.RegistryFactory,
	interval time.Duration,
) *Handler {
	return &Handler{
		manager:     manager,
		cluster:     cluster,
		newRegistry: newRegistry,
		interval:    interval,
	}
}

// CreateMachine handles POST /cachemachine
func (h *Handler) CreateMachine(c echo.Context) error {
	var req CreateRequest

	if err := c.Bind(&req); err != nil {
		logging.Logger.Error("Failed to bind request", zap.Error(err))
		return c.String(400, "Invalid request")
	}
	if err := c.Validate(&req); err != nil {
		logging.Logger.Error("Request validation failed", zap.Error(err))
		return c.String(400, err.Error())
	}

	repomen := make([]repoman.RepoMan, 0, len(req.Repomen))
	for _, raw := range req.Repomen {
		r, err := repoman.New(c.Request().Context(), raw, h.newRegistry)
		if err != nil {
			logging.Logger.Error("Invalid repoman configuration",
				zap.String("name", req.Name),
				zap.Error(err))
			return c.String(400, fmt.Sprintf("Invalid repoman configuration: %s", err))
		}
		repomen = append(repomen, r)
	}

	logging.Logger.Info("Machine creation request",
		zap.String("name", req.Name),
		zap.Any("labels", req.Labels),
		zap.String("ip", c.RealIP()))

	m := machinectl.New(machinectl.Config{
		Name:     req.Name,
		Labels:   req.Labels,
		RepoMen:  repomen,
		Cluster:  h.cluster,
		Interval: h.interval,
	})
	h.manager.Manage(m)

	return c.JSON(201, m.Snapshot())
}

// ListMachines handles GET /cachemachine
func (h *Handler) ListMachines(c echo.Context) error {
	return c.JSON(200, h.manager.List())
}

// GetMachine handles GET /cachemachine/:name
func (h *Handler) GetMachine(c echo.Context) error {
	name := c.Param("name")

	m, err := h.manager.Get(name)
	if err != nil {
		return c.String(404, fmt.Sprintf("Machine '%s' not found", name))
	}
	return c.JSON(200, m.Snapshot())
}

// GetAvailableImages handles GET /cachemachine/:name/available
func (h *Handler) GetAvailableImages(c echo.Context) error {
	name := c.Param("name")

	m, err := h.manager.Get(name)
	if err != nil {
		return c.String(404, fmt.Sprintf("Machine '%s' not found", name))
	}
	snap := m.Snapshot()
	return c.JSON(200, ImagesResponse{Images: snap.Available, All: snap.All})
}

// GetDesiredImages handles GET /cachemachine/:name/desired
func (h *Handler) GetDesiredImages(c echo.Context) error {
	name := c.Param("name")

	m, err := h.manager.Get(name)
	if err != nil {
		return c.String(404, fmt.Sprintf("Machine '%s' not found", name))
	}
	snap := m.Snapshot()
	return c.JSON(200, ImagesResponse{Images: snap.Desired, All: snap.All})
}

// DeleteMachine handles DELETE /cachemachine/:name
func (h *Handler) DeleteMachine(c echo.Context) error {
	name := c.Param("name")

	logging.Logger.Info("Machine delete request",
		zap.String("name", name),
		zap.String("ip", c.RealIP()))

	// Releasing is idempotent; deleting an absent machine succeeds.
	h.manager.Release(name)
	return c.NoContent(204)
}
