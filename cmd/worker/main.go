// Package main runs the background worker: claim repair jobs and periodic reconciliation.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/luqma-backoffice/backend/config"
	"github.com/luqma-backoffice/backend/internal/app"
	"github.com/luqma-backoffice/backend/internal/reconcile"
	"github.com/luqma-backoffice/backend/internal/worker"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.Store.Backend == config.StoreBackendMemory {
		logger.Fatal("worker needs a shared store; STORE_BACKEND=memory is not supported here")
	}

	backends, err := app.Open(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("backends", zap.Error(err))
	}
	defer backends.Close()

	job := backends.ReconcileJob()
	scheduler := worker.NewReconcileScheduler(job, cfg.Reconcile.Interval, reconcile.Options{
		Concurrency: cfg.Reconcile.Concurrency,
		Archive:     true,
	}, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	if backends.Queue != nil {
		processor := worker.NewClaimsResyncProcessor(job, backends.Queue, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			processor.Run(workerCtx)
		}()
	} else {
		logger.Warn("redis disabled; claims resync jobs are not consumed")
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(workerCtx)
	}()
	logger.Info("worker started", zap.Duration("reconcile_interval", cfg.Reconcile.Interval))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	wg.Wait()
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
