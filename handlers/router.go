package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ollama-chat/generation"
	"ollama-chat/history"
	"ollama-chat/logging"
	"ollama-chat/ollama"
)

// MaxBodyBytes bounds request bodies; images travel inline as base64.
const MaxBodyBytes = 50 << 20

// Deps carries the services used by the HTTP handlers.
type Deps struct {
	DB           *gorm.DB
	Users        *history.Directory
	Log          *history.Log
	Orchestrator *generation.Orchestrator
	Ollama       *ollama.Client
	Logger       *zap.Logger
}

// NewDeps wires the default service graph on top of db and client.
func NewDeps(db *gorm.DB, client *ollama.Client, logger *zap.Logger) Deps {
	users := history.NewDirectory(db)
	log := history.NewLog(db)
	orch := generation.New(users, history.NewWindowBuilder(log), log, client, generation.WithLogger(logger))
	return Deps{DB: db, Users: users, Log: log, Orchestrator: orch, Ollama: client, Logger: logger}
}

// NewRouter builds the gin engine with every /api route mounted.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(logging.Recovery(d.Logger), logging.Middleware(d.Logger), withCORS(), withBodyLimit(MaxBodyBytes))

	api := r.Group("/api")
	RegisterUserRoutes(api, d)
	RegisterConversationRoutes(api, d)
	RegisterGenerateRoutes(api, d)
	RegisterModelRoutes(api, d)
	RegisterHealthRoutes(api, d)
	return r
}

// withCORS adds permissive CORS headers for browser front-ends.
func withCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, "+logging.RequestIDHeader)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func withBodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}
