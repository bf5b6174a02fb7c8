package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ollama-chat/constants"
	"ollama-chat/database"
	"ollama-chat/models"
)

// RegisterHealthRoutes wires the health probe.
func RegisterHealthRoutes(rg *gin.RouterGroup, d Deps) {
	rg.GET("/health", func(c *gin.Context) { health(c, d) })
}

func health(c *gin.Context, d Deps) {
	out := models.HealthResponse{
		Status:   constants.StatusHealthy,
		Ollama:   constants.StateConnected,
		Database: constants.StateConnected,
	}
	if err := database.Ping(d.DB); err != nil {
		out.Status = constants.StatusUnhealthy
		out.Database = constants.StateDisconnected
		out.Error = err.Error()
	}
	if _, err := d.Ollama.Tags(c.Request.Context()); err != nil {
		out.Status = constants.StatusUnhealthy
		out.Ollama = constants.StateDisconnected
		out.Error = err.Error()
	}
	if out.Status != constants.StatusHealthy {
		c.JSON(http.StatusServiceUnavailable, out)
		return
	}
	c.JSON(http.StatusOK, out)
}
