package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cylinderworks/cylinderworks/internal/config"
	"github.com/cylinderworks/cylinderworks/internal/core/observability/log"
	"github.com/cylinderworks/cylinderworks/internal/injector"
)

func main() {
	configPath := flag.String("config", "configs/server.yaml", "path to a .yaml or .json config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Provide().Fatal("Failed to load config", log.String("path", *configPath), log.Error(err))
	}

	srv, cleanup, err := injector.InitializeServer(cfg)
	if err != nil {
		log.Provide().Fatal("Failed to build server", log.Error(err))
	}
	defer cleanup()
	logger := log.Provide()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)

	if err = srv.Start(ctx); err != nil {
		logger.Error("Error starting server", log.Error(err))
		return
	}

	sig := <-stopCh
	logger.Info("Shutting down", log.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err = srv.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping server", log.Error(err))
	}
}
