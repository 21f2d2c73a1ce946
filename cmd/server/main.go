package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/config"
	"github.com/garyjia/approval-engine/internal/engine"
	httpserver "github.com/garyjia/approval-engine/internal/interfaces/http"
	"github.com/garyjia/approval-engine/internal/persistence"
	"github.com/garyjia/approval-engine/internal/worker"
	"github.com/garyjia/approval-engine/pkg/database"
	"github.com/garyjia/approval-engine/pkg/logging"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	// .env is optional; environment variables override the config file
	_ = gotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting approval engine",
		zap.Int("port", cfg.Server.Port),
		zap.Duration("timeout_check_interval", cfg.Engine.TimeoutCheckInterval))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	store, err := persistence.NewSQLiteStore(db.DB, logger)
	if err != nil {
		logger.Fatal("Failed to initialize persistence store", zap.Error(err))
	}

	eng := engine.New(store, logger)

	manager := worker.NewManager(logger)
	manager.Register(engine.NewTimeoutChecker(eng, cfg.Engine.TimeoutCheckInterval, logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.StartAll(ctx); err != nil {
		logger.Fatal("Failed to start background workers", zap.Error(err))
	}
	defer manager.StopAll()

	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, eng, logger)

	if err := server.Start(ctx); err != nil {
		logger.Error("HTTP server exited with error", zap.Error(err))
	}

	logger.Info("Server exited")
}
