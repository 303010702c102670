package machine

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers machine routes
func RegisterRoutes(g *echo.Group, handler *Handler) {
	g.POST("", handler.CreateMachine)
	g.GET("", handler.ListMachines)
	g.GET("/:name", handler.GetMachine)
	g.GET("/:name/available", handler.GetAvailableImages)
	g.GET("/:name/desired", handler.GetDesiredImages)
	g.DELETE("/:name", handler.DeleteMachine)
}
