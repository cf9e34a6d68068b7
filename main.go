// Command doubao-api serves an OpenAI-compatible API backed by a pool of doubao web sessions.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"doubao-api/internal/config"
	"doubao-api/internal/container"
	"doubao-api/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	utils.SetupLogger(cfg)
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	c, err := container.BuildContainer(cfg)
	if err != nil {
		logrus.Fatalf("Failed to build container: %v", err)
	}
	if err := c.Invoke(run); err != nil {
		logrus.Fatalf("Failed to start application: %v", err)
	}
}

func run(app container.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		app.Scheduler.Run(schedulerCtx)
	}()

	server := &http.Server{
		Addr:              app.Config.Address(),
		Handler:           app.Server.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logrus.WithFields(logrus.Fields{
			"address":  server.Addr,
			"accounts": len(app.Config.Accounts),
		}).Info("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logrus.Info("Shutting down...")
	case runErr = <-serverErr:
		logrus.WithError(runErr).Error("Server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.Server.GracefulShutdown)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("Server shutdown did not complete in time")
	}

	stopScheduler()
	<-schedulerDone
	app.RequestLog.Stop()
	if err := app.Store.Close(); err != nil {
		logrus.WithError(err).Warn("Failed to close store")
	}

	logrus.Info("Server exited")
	return runErr
}
