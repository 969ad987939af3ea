package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/lk2023060901/file-service/internal/conf"
	"github.com/lk2023060901/file-service/internal/pkg/injector"
	"github.com/lk2023060901/file-service/internal/pkg/logger"
	"go.uber.org/zap"
)

var (
	configFile = flag.String("config", "configs/config.yaml", "config file path")
)

func main() {
	flag.Parse()

	// Load configuration
	config, err := conf.LoadConfig(*configFile)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(config.Log)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("config loaded successfully", zap.String("path", *configFile))

	app, cleanup, err := injector.InitializeApp(config, log)
	if err != nil {
		log.Fatal("failed to initialize app", zap.Error(err))
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		log.Fatal("failed to start scheduler", zap.Error(err))
	}

	go func() {
		if err := app.HTTPServer.Start(); err != nil {
			log.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	log.Info("server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		log.Error("HTTP server forced to shutdown", zap.Error(err))
	}
	cancel()

	log.Info("server exited")
}
