package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/atlassonic/atlas/internal/domain"
	"github.com/atlassonic/atlas/internal/store"
	"github.com/spf13/cobra"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks in the local store",
	}

	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskCreateCmd())
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var (
		status string
		agent  string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openLocal()
			if err != nil {
				return err
			}
			defer l.Close()

			tasks, err := l.db.Tasks().List(cmd.Context(), l.tenant, store.TaskFilter{
				Status:  domain.TaskStatus(status),
				AgentID: agent,
				Limit:   limit,
			})
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no tasks")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tSECTOR\tPRIORITY\tSTATUS\tAGENT\tDEPENDS ON")
			for _, t := range tasks {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					t.ID, t.Title, t.Sector, t.Priority, t.Status, dash(t.AssignedAgentID), dash(strings.Join(t.DependsOn, ",")))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only tasks in this status")
	cmd.Flags().StringVar(&agent, "agent", "", "only tasks assigned to this agent")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum tasks to list")
	return cmd
}

type taskOptions struct {
	Title        string   `validate:"required,max=500"`
	Description  string   `validate:"max=10000"`
	Type         string   `validate:"max=100"`
	Sector       string   `validate:"max=100"`
	Priority     string   `validate:"oneof=low medium high critical"`
	Capabilities []string `validate:"max=50,dive,required,max=100"`
	DependsOn    []string `validate:"max=100,dive,required"`
	Minutes      int      `validate:"gte=0"`
}

func newTaskCreateCmd() *cobra.Command {
	var opts taskOptions
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a pending task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Title = strings.TrimSpace(args[0])
			opts.Priority = strings.ToLower(opts.Priority)
			if err := validate.Struct(opts); err != nil {
				return err
			}

			l, err := openLocal()
			if err != nil {
				return err
			}
			defer l.Close()

			caps := make(domain.StringList, 0, len(opts.Capabilities))
			for _, c := range opts.Capabilities {
				caps = append(caps, strings.ToLower(strings.TrimSpace(c)))
			}
			t := &domain.Task{
				TenantID:             l.tenant,
				Title:                opts.Title,
				Description:          opts.Description,
				Type:                 opts.Type,
				Sector:               strings.ToLower(strings.TrimSpace(opts.Sector)),
				Priority:             domain.Priority(opts.Priority),
				Status:               domain.TaskPending,
				RequiredCapabilities: caps,
				DependsOn:            domain.StringList(opts.DependsOn),
				EstimatedMinutes:     opts.Minutes,
			}
			if err := l.db.Tasks().Create(cmd.Context(), t); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), t)
		},
	}
	cmd.Flags().StringVar(&opts.Description, "description", "", "task description")
	cmd.Flags().StringVar(&opts.Type, "type", "", "task type")
	cmd.Flags().StringVar(&opts.Sector, "sector", "", "preferred sector")
	cmd.Flags().StringVar(&opts.Priority, "priority", string(domain.PriorityMedium), "low, medium, high or critical")
	cmd.Flags().StringSliceVar(&opts.Capabilities, "capabilities", nil, "comma separated required capabilities")
	cmd.Flags().StringSliceVar(&opts.DependsOn, "depends-on", nil, "comma separated task ids this task waits for")
	cmd.Flags().IntVar(&opts.Minutes, "minutes", 0, "estimated minutes")
	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
