package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/garyjia/access-approval/internal/config"
	"github.com/garyjia/access-approval/internal/container"
	httpiface "github.com/garyjia/access-approval/internal/interfaces/http"
	"github.com/garyjia/access-approval/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}

	path := *configPath
	if _, err := os.Stat(path); err != nil {
		path = ""
	}

	// Load configuration
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if path == "" {
		logger.Info("No configuration file found, using defaults and environment", zap.String("path", *configPath))
	}

	logger.Info("Starting access approval service",
		zap.String("version", "1.0.0"),
		zap.String("store", cfg.Store.Driver),
		zap.Int("port", cfg.Server.Port))

	containerCfg, err := cfg.ToContainerConfig()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := container.NewContainer(containerCfg, logger)
	if err != nil {
		logger.Fatal("Failed to create container", zap.Error(err))
	}
	if err := app.Start(ctx); err != nil {
		logger.Fatal("Failed to start container", zap.Error(err))
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("Container shutdown error", zap.Error(err))
		}
	}()

	server := httpiface.NewServer(
		httpiface.ServerConfig{
			Host:           containerCfg.Server.Host,
			Port:           containerCfg.Server.Port,
			ReadTimeout:    containerCfg.Server.ReadTimeout,
			WriteTimeout:   containerCfg.Server.WriteTimeout,
			IdentityHeader: containerCfg.Server.IdentityHeader,
		},
		app.WorkflowEngine(),
		app.Services().Submission,
		app.Services().Decision,
		utils.NewKVLogger(logger),
		httpiface.WithHealthChecker(app),
	)

	// Blocks until SIGINT/SIGTERM, then shuts the listener down
	if err := server.Start(ctx); err != nil {
		logger.Error("HTTP server stopped with error", zap.Error(err))
	}

	logger.Info("Server exited")
}
