package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/park285/cheese-board-editor/internal/boardbuilder"
	appcfg "github.com/park285/cheese-board-editor/internal/config"
	"github.com/park285/cheese-board-editor/internal/obslog"
	"github.com/park285/cheese-board-editor/internal/transport/boardhttp"
	"github.com/park285/cheese-board-editor/internal/transport/boardws"
	"go.uber.org/zap"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := appcfg.Load()
	if err != nil {
		logger.Fatal("config error", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	deps, err := boardbuilder.New(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal("init error", zap.Error(err))
	}
	defer deps.Close()

	mux := http.NewServeMux()
	mux.Handle("GET /ws", boardws.NewHandler(deps.Manager, deps.Formatter, obslog.Named("ws")))
	boardhttp.New(deps.Manager, deps.Formatter, deps.Renderer, deps.Journal, obslog.Named("http")).Register(mux)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("board editor listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	// Wait for termination signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}
