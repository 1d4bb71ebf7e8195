package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/invoice-lifecycle/internal/config"
	"github.com/garyjia/invoice-lifecycle/internal/infrastructure/worker"
	httpapi "github.com/garyjia/invoice-lifecycle/internal/interfaces/http"
	"github.com/garyjia/invoice-lifecycle/pkg/database"
)

var version = "1.0.0"

var (
	configPath string
	envFile    string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "invoice-server",
		Short:         "Invoice lifecycle and recurring generation service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before the environment")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and background workers",
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "generate-recurring",
			Short: "Generate today's recurring invoice instances once and exit",
			RunE:  runGenerate,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending database migrations",
			RunE:  runMigrate,
		},
		newExportCmd(),
	)
	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	app, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	logger := app.logger
	logger.Info("Starting invoice lifecycle service",
		zap.String("version", version),
		zap.String("address", cfg.Server.Address()),
		zap.String("batch_mode", cfg.Recurring.BatchMode))

	workers := worker.NewWorkerManager(logger)
	if cfg.Recurring.Enabled {
		workers.Register(worker.NewRecurringWorker(worker.RecurringWorkerConfig{
			Interval:   cfg.Recurring.Interval,
			RunOnStart: cfg.Recurring.RunOnStart,
			Timeout:    cfg.Recurring.Timeout,
		}, app.recurring, logger))
	}
	if cfg.Cache.RefreshInterval > 0 {
		workers.Register(worker.NewCacheRefreshWorker(cfg.Cache.RefreshInterval, app.ids, logger))
	}
	if err := workers.StartAll(ctx); err != nil {
		return err
	}
	defer func() {
		if err := workers.StopAll(); err != nil {
			logger.Error("Failed to stop workers", zap.Error(err))
		}
	}()

	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Mode:            cfg.Server.Mode,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, app.invoices, app.recurring, app.exporter, app.db, logger)

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("Service exited gracefully")
	return nil
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	app, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	res := app.recurring.GenerateRecurringInvoices(ctx)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("recurring generation failed: %s", res.Message)
	}
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	db, err := openDatabase(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := database.NewMigrator(db, logger).Run()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s) to %s\n", applied, cfg.Database.Path)
	return nil
}

func newExportCmd() *cobra.Command {
	var userID, output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a user's invoice statement to a spreadsheet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			app, err := bootstrap(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			if output == "" {
				output = userID + "-invoices" + app.exporter.FileExtension()
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}

			res := app.invoices.ExportInvoices(ctx, userID, f)
			if cerr := f.Close(); cerr != nil && res.Success {
				return cerr
			}
			if !res.Success {
				_ = os.Remove(output)
				return fmt.Errorf("export failed: %s", res.Message)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d invoice(s) to %s\n", res.Result, output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "owner of the invoices to export")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default <user>-invoices.xlsx)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
