package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"contactgraph/backend/internal/app"
	"contactgraph/backend/pkg/config"
	"contactgraph/backend/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	// Initialize logger
	if err := logger.Init(cfg.Env); err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()
	log := logger.Get()

	log.Info("Starting contactgraph server",
		zap.String("env", cfg.Env),
		zap.String("store", cfg.StoreBackend))

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	application, err := app.Build(startCtx, cfg, log)
	cancelStart()
	if err != nil {
		log.Fatal("Failed to initialize components", zap.Error(err))
	}

	srv := newHTTPServer(cfg, application.Server().Handler())

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := application.Close(ctx); err != nil {
		log.Error("Failed to close components", zap.Error(err))
	}

	log.Info("Server exited")
}

// newHTTPServer leaves room in the write timeout for the longest discover wait.
func newHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
