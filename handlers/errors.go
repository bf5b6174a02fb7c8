package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ollama-chat/models"
)

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"error": ...}. Client-fixable errors carry their own
// message; server-side failures use fallback and keep the cause in "detail".
func respondError(c *gin.Context, err error, fallback string) {
	status := statusFor(err)
	_ = c.Error(err)
	if status < http.StatusInternalServerError {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(status, gin.H{"error": fallback, "detail": err.Error()})
}
