package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eshaffer321/receipt-reconciler/internal/adapters/feed"
)

func newWorkerCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume bank feed batches from AMQP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, flags, "worker")
			if err != nil {
				return err
			}
			defer a.close()

			client, err := feed.NewClient(a.cfg.Feed, a.logger)
			if err != nil {
				return err
			}
			defer client.Close()

			worker := feed.NewWorker(a.svc, a.cfg.Feed.MatchAfter, a.logger)
			err = client.Consume(ctx, worker.HandleBatch)
			if errors.Is(err, context.Canceled) {
				a.logger.Info("worker stopped")
				return nil
			}
			return err
		},
	}
}
