package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ollama-chat/constants"
	"ollama-chat/logging"
	"ollama-chat/models"
)

// RegisterUserRoutes wires login and user lookup.
func RegisterUserRoutes(rg *gin.RouterGroup, d Deps) {
	rg.POST("/user/login", func(c *gin.Context) { login(c, d) })
	rg.GET("/user/:name", func(c *gin.Context) { getUser(c, d) })
}

func login(c *gin.Context, d Deps) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		msg := constants.ErrNameRequired
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			msg = constants.ErrInvalidBody
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}
	user, created, err := d.Users.Resolve(c.Request.Context(), req.Name)
	if err != nil {
		if statusFor(err) == http.StatusBadRequest {
			c.JSON(http.StatusBadRequest, gin.H{"error": constants.ErrNameRequired})
			return
		}
		respondError(c, err, constants.ErrLoginFailed)
		return
	}

	msg := constants.MessageWelcomeBack
	if created {
		msg = constants.MessageNewUser
		logging.FromContext(c, d.Logger).Info("user created", zap.String("user", user.Name), zap.Uint("user_id", user.ID))
	}
	c.JSON(http.StatusOK, models.LoginResponse{Success: true, User: user, Message: msg})
}

func getUser(c *gin.Context, d Deps) {
	name := c.Param("name")
	user, err := d.Users.Lookup(c.Request.Context(), name)
	if errors.Is(err, models.ErrNotFound) {
		userNotFound(c, name)
		return
	}
	if err != nil {
		respondError(c, err, constants.ErrFetchUser)
		return
	}
	stats, err := d.Users.Stats(c.Request.Context(), user.ID)
	if err != nil {
		// Reads degrade to an empty result.
		logging.FromContext(c, d.Logger).Warn("user stats unavailable", zap.Uint("user_id", user.ID), zap.Error(err))
		stats = models.UserStats{}
	}
	c.JSON(http.StatusOK, models.UserResponse{User: user, Stats: stats})
}

// userNotFound renders the 404 used by the per-user routes.
func userNotFound(c *gin.Context, name string) {
	_ = c.Error(fmt.Errorf("%w: user %q", models.ErrNotFound, name))
	c.JSON(http.StatusNotFound, gin.H{"error": constants.ErrUserNotFound})
}
