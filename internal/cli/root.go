// Package cli wires the reconciler commands.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/eshaffer321/receipt-reconciler/internal/application/service"
	"github.com/eshaffer321/receipt-reconciler/internal/infrastructure/config"
	"github.com/eshaffer321/receipt-reconciler/internal/infrastructure/logging"
	"github.com/eshaffer321/receipt-reconciler/internal/infrastructure/storage"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

// GlobalFlags are shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	flags := &GlobalFlags{}

	rootCmd := &cobra.Command{
		Use:     "reconciler",
		Short:   "Match bank expenses to receipt uploads",
		Version: Version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "config.yaml", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(
		newServeCommand(flags),
		newMatchCommand(flags),
		newUndoCommand(flags),
		newImportCommand(flags),
		newWorkerCommand(flags),
	)
	return rootCmd
}

// app holds what every command needs once config is loaded.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *storage.Storage
	svc    *service.ReconcileService
}

func loadConfig(flags *GlobalFlags) (*config.Config, error) {
	cfg := config.LoadOrEnvWithPath(flags.ConfigPath)
	if flags.Verbose {
		cfg.Observability.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openApp loads config, opens the database and builds the service.
// Callers must call close.
func openApp(ctx context.Context, flags *GlobalFlags, system string) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	logger := logging.NewLoggerWithSystem(cfg.Observability.Logging, system)

	store, err := storage.NewStorage(ctx, cfg.Storage.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	svc := service.NewReconcileService(store, service.Config{
		Matching:       cfg.Matching.Config,
		Concurrency:    cfg.Matching.Concurrency,
		StaleRetries:   cfg.Matching.StaleRetries,
		TriggerRetries: cfg.Matching.TriggerRetries,
		TriggerBackoff: cfg.Matching.TriggerBackoff,
	}, logger)

	return &app{cfg: cfg, logger: logger, store: store, svc: svc}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing storage", slog.Any("error", err))
	}
}
