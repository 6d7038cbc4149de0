package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kaiwa-app/kaiwa-client/internal/config"
	"github.com/kaiwa-app/kaiwa-client/internal/devserver"
	"github.com/kaiwa-app/kaiwa-client/internal/logger"
)

func main() {
	defer logger.Sync()
	cfg := config.LoadServer()

	store := devserver.NewMemStore()
	tokens := devserver.NewTokenManager(cfg.JWTSecret, time.Duration(cfg.TokenTTLSec)*time.Second)
	svc := devserver.NewService(store, tokens)
	h := devserver.NewHandler(svc)
	ws := devserver.NewWSHandler(svc)
	router := devserver.NewRouter(h, ws, cfg.AllowedOrigins)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown用のシグナルチャネル
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// サーバーを別goroutineで起動
	go func() {
		logger.Info("devserver listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// シャットダウンシグナルを待つ
	<-sigChan
	logger.Info("shutdown signal received, shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
}
