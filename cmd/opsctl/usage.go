package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"crm_backend/internal/models"
	"crm_backend/internal/queue"
	"crm_backend/internal/usage"
)

var dlqLimit int

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Inspect the usage event queue",
}

var usageQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show how many usage events wait to be written",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withUsageWorker(cmd.Context(), func(w *usage.Worker) error {
			n, err := w.QueueLength(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued=%d\n", n)
			return nil
		})
	},
}

var usageDLQCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Manage usage events that exhausted their retries",
}

var usageDLQListCmd = &cobra.Command{
	Use:   "list",
	Short: "List parked usage events, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withUsageWorker(cmd.Context(), func(w *usage.Worker) error {
			items, err := w.DeadLetters(cmd.Context(), dlqLimit)
			if err != nil {
				return err
			}
			return printDeadLetters(cmd.OutOrStdout(), items)
		})
	},
}

var usageDLQRetryCmd = &cobra.Command{
	Use:   "retry <id>...",
	Short: "Put parked usage events back on the queue",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUsageWorker(cmd.Context(), func(w *usage.Worker) error {
			return retryDeadLetters(cmd.Context(), cmd.OutOrStdout(), w, args)
		})
	},
}

func init() {
	usageDLQListCmd.Flags().IntVar(&dlqLimit, "limit", 50, "maximum events to list (0 lists all)")
	usageDLQCmd.AddCommand(usageDLQListCmd, usageDLQRetryCmd)
	usageCmd.AddCommand(usageQueueCmd, usageDLQCmd)
}

// withUsageWorker builds a worker over the deployment's Redis queues. The
// worker is never started; only its queue operations are used.
func withUsageWorker(ctx context.Context, fn func(w *usage.Worker) error) error {
	rc, err := redisClient(ctx)
	if err != nil {
		return err
	}
	defer rc.Close()

	qc := cfg.Usage.QueueConfig()
	w := usage.NewWorker(
		queue.NewRedisQueue[models.UsageEvent](rc, qc),
		queue.NewRedisDeadLetterQueue[models.UsageEvent](rc, qc),
		nil, qc, logger,
	)
	return fn(w)
}

type deadLetterRetrier interface {
	RetryDeadLetter(ctx context.Context, id string) error
}

func retryDeadLetters(ctx context.Context, out io.Writer, w deadLetterRetrier, ids []string) error {
	failed := 0
	for _, id := range ids {
		if err := w.RetryDeadLetter(ctx, id); err != nil {
			failed++
			fmt.Fprintf(out, "%s\tfailed: %v\n", id, err)
			continue
		}
		fmt.Fprintf(out, "%s\tre-queued\n", id)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d events could not be re-queued", failed, len(ids))
	}
	return nil
}

func printDeadLetters(out io.Writer, items []queue.DeadLetterItem[models.UsageEvent]) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPARKED\tORGANIZATION\tFEATURE\tPROVIDER\tERROR")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			it.ID,
			it.Timestamp.UTC().Format(time.RFC3339),
			it.Item.OrganizationID,
			it.Item.Feature,
			it.Item.ProviderType,
			it.Error,
		)
	}
	return tw.Flush()
}
