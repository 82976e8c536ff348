package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/payrecon/internal/app"
	"github.com/punchamoorthee/payrecon/internal/config"
	"github.com/punchamoorthee/payrecon/internal/logging"
	"github.com/punchamoorthee/payrecon/internal/scheduler"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Unable to start", zap.Error(err))
	}
	defer a.Close()

	go scheduler.Every(ctx, cfg.PollInterval, logger, "poll", func(ctx context.Context) error {
		_, err := a.Poller.Run(ctx)
		return err
	})
	go scheduler.Every(ctx, cfg.CleanupInterval, logger, "cleanup", func(ctx context.Context) error {
		_, err := a.Cleaner.Run(ctx)
		return err
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	logger.Info("Server starting", zap.String("port", cfg.Port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server", zap.Error(err))
	}
	logger.Info("Server stopped")
}
