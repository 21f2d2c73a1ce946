// Command export-report renders the persisted approval state into an
// xlsx audit workbook.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/config"
	"github.com/garyjia/approval-engine/internal/persistence"
	"github.com/garyjia/approval-engine/internal/report"
	"github.com/garyjia/approval-engine/pkg/database"
	"github.com/garyjia/approval-engine/pkg/logging"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	output := flag.String("output", "approval-report.xlsx", "path of the workbook to write")
	flag.Parse()

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

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	store, err := persistence.NewSQLiteStore(db.DB, logger)
	if err != nil {
		logger.Fatal("Failed to initialize persistence store", zap.Error(err))
	}

	snap, err := store.Load()
	if err != nil {
		logger.Fatal("Failed to load approval state", zap.Error(err))
	}

	if err := report.NewWriter(logger).Write(snap, *output); err != nil {
		logger.Fatal("Failed to write report", zap.Error(err))
	}

	logger.Info("Report complete", zap.String("output", *output))
}
