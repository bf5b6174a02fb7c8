package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ollama-chat/constants"
	"ollama-chat/models"
)

// RegisterModelRoutes wires the model list passthrough.
func RegisterModelRoutes(rg *gin.RouterGroup, d Deps) {
	rg.GET("/models", func(c *gin.Context) { listModels(c, d) })
}

func listModels(c *gin.Context, d Deps) {
	raw, err := d.Ollama.Tags(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": constants.ErrFetchModels})
		return
	}
	c.JSON(http.StatusOK, models.RawModelList(raw))
}
