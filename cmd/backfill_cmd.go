package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func backfillCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Embed messages stored without a vector or with another model's vector",
		Long: `Backfill pages through messages whose embedding is missing or was
computed by a model other than the configured one, embeds them and writes
the vectors. A vector is only written if the message text is still the
text it was computed from.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(contextOrBackground(cmd.Context()), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.gen.Ping(ctx); err != nil {
				return fmt.Errorf("embedding service: %w", err)
			}
			res, err := a.pipeline(false, 0).Backfill(ctx, limit)
			if res != nil {
				fmt.Printf("Scanned %d, embedded %d, failed %d, skipped as stale %d\n", res.Scanned, res.Embedded, res.Failed, res.Stale)
			}
			if err != nil {
				return err
			}
			if res.Failed > 0 {
				return errors.New("some messages could not be embedded; run backfill again later")
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "stop after this many messages (0 = all)")
	return cmd
}
