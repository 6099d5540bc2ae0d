package cli

import (
	"strings"

	"github.com/atlassonic/atlas/internal/domain"
	"github.com/atlassonic/atlas/internal/orchestration"
	"github.com/spf13/cobra"
)

func newOrchestrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "orchestrate",
		Aliases: []string{"orch"},
		Short:   "Run orchestration actions against the local store",
	}

	cmd.AddCommand(newOrchestrateAssignCmd())
	cmd.AddCommand(newOrchestrateCoordinateCmd())
	cmd.AddCommand(newOrchestrateSwarmCmd())
	cmd.AddCommand(newOrchestrateCommandCmd())
	return cmd
}

func newOrchestrateAssignCmd() *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "assign <task-id>",
		Short: "Assign a pending task to the best agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openLocal()
			if err != nil {
				return err
			}
			defer l.Close()

			var a *domain.Assignment
			if agentID != "" {
				a, err = l.orch.AssignTaskTo(cmd.Context(), l.tenant, args[0], agentID)
			} else {
				a, err = l.orch.AssignTask(cmd.Context(), l.tenant, args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a)
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "assign to this agent instead of the best match")
	return cmd
}

func newOrchestrateCoordinateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "coordinate [task-id...]",
		Short: "Plan and assign a batch of tasks (all pending tasks when none given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openLocal()
			if err != nil {
				return err
			}
			defer l.Close()

			plan, err := l.orch.CoordinateTasks(cmd.Context(), l.tenant, args)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), plan)
		},
	}
}

func newOrchestrateSwarmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swarm",
		Short: "Form or disband agent swarms",
	}

	var req orchestration.SwarmRequest
	var formation string
	form := &cobra.Command{
		Use:   "form <objective>",
		Short: "Form a swarm for an objective",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Objective = strings.Join(args, " ")
			req.Formation = domain.Formation(formation)
			if err := validate.Struct(req); err != nil {
				return err
			}

			l, err := openLocal()
			if err != nil {
				return err
			}
			defer l.Close()

			sw, err := l.orch.FormSwarm(cmd.Context(), l.tenant, req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sw)
		},
	}
	form.Flags().IntVar(&req.Size, "size", 0, "number of agents (default orchestration.defaultSwarmSize)")
	form.Flags().StringSliceVar(&req.Sectors, "sectors", nil, "comma separated sectors to draw from")
	form.Flags().StringSliceVar(&req.Capabilities, "capabilities", nil, "comma separated capabilities to favor")
	form.Flags().StringVar(&formation, "formation", "", "hierarchical, mesh, ring or star")

	disband := &cobra.Command{
		Use:   "disband <swarm-id>",
		Short: "Disband a swarm",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openLocal()
			if err != nil {
				return err
			}
			defer l.Close()

			sw, err := l.orch.DisbandSwarm(cmd.Context(), l.tenant, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sw)
		},
	}

	cmd.AddCommand(form, disband)
	return cmd
}

func newOrchestrateCommandCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "command <text>",
		Short: "Run an operator command, e.g. \"scale finance to 40\"",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openLocal()
			if err != nil {
				return err
			}
			defer l.Close()

			res, err := l.orch.Execute(cmd.Context(), l.tenant, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}
