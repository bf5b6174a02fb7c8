package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ollama-chat/database"
	"ollama-chat/handlers"
	"ollama-chat/ollama"
)

const shutdownGrace = 10 * time.Second

var (
	servePort      string
	serveOllamaURL string
	serveDBPath    string
	serveTimeout   time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "Listen port (env PORT)")
	serveCmd.Flags().StringVar(&serveOllamaURL, "ollama-url", "", "Ollama base URL (env OLLAMA_URL)")
	serveCmd.Flags().StringVar(&serveDBPath, "db", "", "sqlite database path (env CHAT_DB_PATH)")
	serveCmd.Flags().DurationVar(&serveTimeout, "request-timeout", 0, "Timeout for Ollama calls, 0 waits indefinitely")
}

func runServe(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = servePort
	}
	if flags.Changed("ollama-url") {
		cfg.OllamaURL = serveOllamaURL
	}
	if flags.Changed("db") {
		cfg.DatabasePath = serveDBPath
	}
	if flags.Changed("request-timeout") {
		cfg.RequestTimeout = serveTimeout
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close(db) }()

	client := ollama.NewClient(cfg.OllamaURL, cfg.RequestTimeout)
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handlers.NewRouter(handlers.NewDeps(db, client, logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("ollama", client.Endpoint()),
			zap.String("database", cfg.DatabasePath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
