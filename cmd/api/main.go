// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/authgate/internal/config"
	"github.com/yourusername/authgate/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup("authgate-api", cfg.LogFormat, cfg.LogLevel, nil)
	slog.SetDefault(logger)

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	deps, err := setupDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	router, err := newRouter(cfg, logger, deps)
	if err != nil {
		return err
	}

	if deps.audit != nil {
		deps.audit.StartWorkers()
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting API server", "addr", server.Addr, "mode", cfg.GinMode, "store", cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
		logger.Info("shutting down API server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if serveErr == nil {
		serveErr = server.Shutdown(shutdownCtx)
	}
	if deps.audit != nil {
		if err := deps.audit.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to stop audit worker", "error", err)
		}
	}
	return serveErr
}
