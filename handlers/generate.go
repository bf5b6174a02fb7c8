package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ollama-chat/constants"
	"ollama-chat/generation"
	"ollama-chat/logging"
	"ollama-chat/models"
)

// RegisterGenerateRoutes wires generation and the streaming pass-through.
func RegisterGenerateRoutes(rg *gin.RouterGroup, d Deps) {
	rg.POST("/generate", func(c *gin.Context) { generate(c, d) })
	rg.POST("/generate/stream", func(c *gin.Context) { generateStream(c, d) })
}

func bindGenerate(c *gin.Context) (generation.Request, bool) {
	var body models.GenerateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		msg := constants.ErrInvalidBody
		if errors.Is(err, models.ErrValidation) {
			msg = err.Error()
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return generation.Request{}, false
	}
	return generation.Request{
		Model:    body.Model,
		Prompt:   body.Prompt,
		UserName: body.UserName,
		Images:   body.Images,
		Options:  body.Options,
	}, true
}

func generate(c *gin.Context, d Deps) {
	req, ok := bindGenerate(c)
	if !ok {
		return
	}

	res, err := d.Orchestrator.Generate(c.Request.Context(), req)
	if err != nil && !(errors.Is(err, models.ErrPersistence) && res.Raw != nil) {
		respondError(c, err, constants.ErrGenerate)
		return
	}

	body := make(gin.H, len(res.Raw)+2)
	for k, v := range res.Raw {
		body[k] = v
	}
	body["response"] = res.Response
	body["history_saved"] = res.HistorySaved
	if err != nil {
		// The reply is already paid for; return it and flag the lost write.
		_ = c.Error(err)
		body["warning"] = constants.MessageHistoryNotSaved
	}
	c.JSON(http.StatusOK, body)
}

func generateStream(c *gin.Context, d Deps) {
	req, ok := bindGenerate(c)
	if !ok {
		return
	}

	stream, err := d.Orchestrator.Stream(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, constants.ErrStream)
		return
	}
	defer stream.Close()

	c.Header("Content-Type", "text/plain")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	buf := make([]byte, 32*1024)
	for {
		n, readErr := stream.Read(buf)
		if n > 0 {
			if _, err := c.Writer.Write(buf[:n]); err != nil {
				logging.FromContext(c, d.Logger).Warn("stream client gone", zap.Error(err))
				return
			}
			c.Writer.Flush()
		}
		if readErr == io.EOF {
			return
		}
		if readErr != nil {
			logging.FromContext(c, d.Logger).Warn("stream error", zap.Error(readErr))
			return
		}
	}
}
