package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/invoice-lifecycle/internal/application/idgen"
	"github.com/garyjia/invoice-lifecycle/internal/application/port"
	"github.com/garyjia/invoice-lifecycle/internal/application/service"
	"github.com/garyjia/invoice-lifecycle/internal/config"
	"github.com/garyjia/invoice-lifecycle/internal/infrastructure/export"
	"github.com/garyjia/invoice-lifecycle/internal/infrastructure/persistence/repository"
	"github.com/garyjia/invoice-lifecycle/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/invoice-lifecycle/pkg/database"
	"github.com/garyjia/invoice-lifecycle/pkg/utils"
)

// application holds the wired object graph shared by every command
type application struct {
	cfg    *config.Config
	logger *zap.Logger

	raw       *database.DB
	db        *sqlite.DB
	ids       *idgen.Allocator
	exporter  *export.XLSXExporter
	invoices  service.InvoiceService
	recurring service.RecurringService
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
}

func openDatabase(cfg *config.Config, logger *zap.Logger) (*database.DB, error) {
	return database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		BusyTimeout:     cfg.Database.BusyTimeout,
	}, logger)
}

// bootstrap opens the database, applies migrations when enabled and builds the services
func bootstrap(ctx context.Context, cfg *config.Config) (*application, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	mode, err := service.ParseBatchMode(cfg.Recurring.BatchMode)
	if err != nil {
		return nil, err
	}

	raw, err := openDatabase(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if _, err := database.NewMigrator(raw, logger).Run(); err != nil {
			_ = raw.Close()
			return nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
	}

	db := sqlite.NewDB(raw.DB, logger)
	uow := repository.NewUnitOfWork(db, logger)

	ids := idgen.NewAllocator(uow.Invoices(), idgen.Config{
		Prefix: cfg.Invoice.IDPrefix,
		Width:  cfg.Invoice.IDWidth,
	}, logger)
	if err := ids.Initialize(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}

	clock := port.SystemClock{}
	exporter := export.NewXLSXExporter(logger)

	return &application{
		cfg:       cfg,
		logger:    logger,
		raw:       raw,
		db:        db,
		ids:       ids,
		exporter:  exporter,
		invoices:  service.NewInvoiceService(uow, ids, clock, exporter, logger),
		recurring: service.NewRecurringService(uow, ids, clock, mode, logger),
	}, nil
}

func (a *application) Close() {
	if err := a.raw.Close(); err != nil {
		a.logger.Error("Failed to close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}
