package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eshaffer321/receipt-reconciler/internal/api"
)

func newServeCommand(flags *GlobalFlags) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, flags, "api")
			if err != nil {
				return err
			}
			defer a.close()

			apiCfg := api.Config{
				Port:           a.cfg.API.Port,
				AllowedOrigins: a.cfg.API.AllowedOrigins,
				MatchOnIngest:  a.cfg.Matching.MatchOnIngest,
			}
			if cmd.Flags().Changed("port") {
				apiCfg.Port = port
			}
			return runServer(ctx, api.NewServer(apiCfg, a.svc, a.logger), a.logger)
		},
	}
	cmd.Flags().IntVar(&port, "port", 8080, "Port to listen on (overrides api.port)")
	return cmd
}

// runServer blocks until ctx is cancelled, then drains in-flight requests.
func runServer(ctx context.Context, server *api.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		return err
	}

	logger.Info("server stopped")
	return <-errCh
}
