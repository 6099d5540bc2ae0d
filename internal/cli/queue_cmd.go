package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/atlassonic/atlas/internal/domain"
	"github.com/spf13/cobra"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the orchestration queue",
	}

	cmd.AddCommand(newQueueListCmd())
	cmd.AddCommand(newQueueStatsCmd())
	return cmd
}

func newQueueListCmd() *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openLocal()
			if err != nil {
				return err
			}
			defer l.Close()

			entries, err := l.db.Queue().List(cmd.Context(), l.tenant, domain.QueueStatus(status), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "queue is empty")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTASK\tAGENT\tSTATUS\tGROUP\tATTEMPTS\tCREATED")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
					e.ID, e.TaskID, e.AgentID, e.Status, e.ParallelGroup, e.Attempts, e.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only entries in this status")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum entries to list")
	return cmd
}

func newQueueStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue and fleet counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openLocal()
			if err != nil {
				return err
			}
			defer l.Close()

			st, err := l.orch.Status(cmd.Context(), l.tenant)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}
