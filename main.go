package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"batchdl/api"
	"batchdl/config"
	"batchdl/fetch"
	"batchdl/queue"
	"github.com/sirupsen/logrus"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	// 2. Initialize the fetch runner (the execute collaborator)
	runner, err := fetch.NewRunner(cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize fetch runner: %v", err)
	}

	// 3. Initialize the batch download manager
	qm, err := queue.NewManager(queue.Options{
		BatchSize:     cfg.BatchSize,
		MaxConcurrent: cfg.MaxConcurrent,
		MaxRetries:    cfg.MaxRetries,
		BackoffUnit:   cfg.BackoffUnit,
		OnProgress: func(item queue.Item, message string) {
			logrus.WithField("item", item.DisplayName()).Info(message)
		},
	})
	if err != nil {
		logrus.Fatalf("Failed to initialize download manager: %v", err)
	}

	// 4. Set up router and server
	router := api.SetupRouter(qm, runner.Execute, cfg)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logrus.Infof("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("listen: %s", err)
		}
	}()

	// 5. Wait for interrupt signal for graceful shutdown
	<-ctx.Done()
	stop()
	logrus.Info("Shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Fatal("Server forced to shutdown: ", err)
	}

	logrus.Info("Server exiting")
}
