package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ollama-chat/constants"
	"ollama-chat/logging"
	"ollama-chat/models"
)

// HistoryPageSize caps GET /api/conversations/:userName.
const HistoryPageSize = 100

// RegisterConversationRoutes wires history listing and clearing.
func RegisterConversationRoutes(rg *gin.RouterGroup, d Deps) {
	rg.GET("/conversations/:userName", func(c *gin.Context) { listConversations(c, d) })
	rg.DELETE("/conversations/:userName", func(c *gin.Context) { clearConversations(c, d) })
}

func listConversations(c *gin.Context, d Deps) {
	name := c.Param("userName")
	user, err := d.Users.Lookup(c.Request.Context(), name)
	if errors.Is(err, models.ErrNotFound) {
		userNotFound(c, name)
		return
	}
	if err != nil {
		respondError(c, err, constants.ErrFetchUser)
		return
	}

	turns, err := d.Log.Recent(c.Request.Context(), user.ID, HistoryPageSize)
	if err != nil {
		logging.FromContext(c, d.Logger).Warn("history unavailable", zap.Uint("user_id", user.ID), zap.Error(err))
		turns = []models.Turn{}
	}
	c.JSON(http.StatusOK, models.ConversationsResponse{Conversations: turns})
}

func clearConversations(c *gin.Context, d Deps) {
	name := c.Param("userName")
	user, err := d.Users.Lookup(c.Request.Context(), name)
	if errors.Is(err, models.ErrNotFound) {
		userNotFound(c, name)
		return
	}
	if err != nil {
		respondError(c, err, constants.ErrClearConversations)
		return
	}

	n, err := d.Log.Clear(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err, constants.ErrClearConversations)
		return
	}
	logging.FromContext(c, d.Logger).Info("history cleared", zap.Uint("user_id", user.ID), zap.Int64("deleted", n))
	c.JSON(http.StatusOK, models.ClearResponse{
		Success:      true,
		Message:      fmt.Sprintf(constants.MessageClearedHistory, n),
		DeletedCount: n,
	})
}
