package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/atlassonic/atlas/internal/domain"
	"github.com/atlassonic/atlas/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
)

var validate = validator.New()

// sectorCapabilities are the skills seeded agents get for each stock sector.
var sectorCapabilities = map[string][]string{
	"technology":    {"engineering", "devops", "security", "data"},
	"finance":       {"accounting", "forecasting", "compliance", "data"},
	"healthcare":    {"clinical", "compliance", "research"},
	"manufacturing": {"operations", "quality", "supply-chain"},
	"retail":        {"marketing", "sales", "support"},
	"energy":        {"operations", "forecasting", "compliance"},
	"logistics":     {"supply-chain", "routing", "operations"},
}

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents in the local store",
	}

	cmd.AddCommand(newAgentListCmd())
	cmd.AddCommand(newAgentCreateCmd())
	cmd.AddCommand(newAgentSeedCmd())
	return cmd
}

func newAgentListCmd() *cobra.Command {
	var (
		status string
		sector string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openLocal()
			if err != nil {
				return err
			}
			defer l.Close()

			f := store.AgentFilter{Sector: sector, Limit: limit}
			if status != "" {
				f.Statuses = []domain.AgentStatus{domain.AgentStatus(status)}
			}
			agents, err := l.db.Agents().List(cmd.Context(), l.tenant, f)
			if err != nil {
				return err
			}
			if len(agents) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no agents")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSECTOR\tSTATUS\tLOAD\tPERF\tSUCCESS\tCAPABILITIES")
			for _, a := range agents {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%.0f\t%.2f\t%s\n",
					a.ID, a.Name, a.Sector, a.Status, a.CurrentTasks, a.MaxConcurrent,
					a.PerformanceScore, a.SuccessRate, strings.Join(a.Capabilities, ","))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only agents in this status")
	cmd.Flags().StringVar(&sector, "sector", "", "only agents in this sector")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum agents to list")
	return cmd
}

type agentOptions struct {
	Name             string   `validate:"required,max=200"`
	Sector           string   `validate:"required,max=100"`
	Capabilities     []string `validate:"max=50,dive,required,max=100"`
	MaxConcurrent    int      `validate:"gte=0,lte=1000"`
	PerformanceScore float64  `validate:"gte=0,lte=100"`
	SuccessRate      float64  `validate:"gte=0,lte=1"`
}

func newAgentCreateCmd() *cobra.Command {
	opts := agentOptions{SuccessRate: 1}
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Name = strings.TrimSpace(args[0])
			opts.Sector = strings.ToLower(strings.TrimSpace(opts.Sector))
			if err := validate.Struct(opts); err != nil {
				return err
			}

			l, err := openLocal()
			if err != nil {
				return err
			}
			defer l.Close()

			a := newAgent(l, opts)
			if err := l.db.Agents().Create(cmd.Context(), a); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a)
		},
	}
	cmd.Flags().StringVar(&opts.Sector, "sector", "", "agent sector (required)")
	cmd.Flags().StringSliceVar(&opts.Capabilities, "capabilities", nil, "comma separated capabilities")
	cmd.Flags().IntVar(&opts.MaxConcurrent, "max-concurrent", 0, "concurrent task limit (default orchestration.defaultMaxConcurrent)")
	cmd.Flags().Float64Var(&opts.PerformanceScore, "performance", 0, "performance score 0-100")
	cmd.Flags().Float64Var(&opts.SuccessRate, "success-rate", 1, "success rate 0-1")
	return cmd
}

func newAgent(l *local, o agentOptions) *domain.Agent {
	caps := make(domain.StringList, 0, len(o.Capabilities))
	for _, c := range o.Capabilities {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			caps = append(caps, c)
		}
	}
	a := &domain.Agent{
		TenantID:         l.tenant,
		Name:             o.Name,
		Sector:           o.Sector,
		Status:           domain.AgentIdle,
		Capabilities:     caps,
		MaxConcurrent:    o.MaxConcurrent,
		PerformanceScore: o.PerformanceScore,
		SuccessRate:      o.SuccessRate,
	}
	if a.MaxConcurrent == 0 {
		a.MaxConcurrent = l.cfg.Orchestration.DefaultMaxConcurrent
	}
	return a
}

func newAgentSeedCmd() *cobra.Command {
	var perSector int
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a starter set of agents for every configured sector",
		RunE: func(cmd *cobra.Command, args []string) error {
			if perSector < 1 || perSector > 100 {
				return fmt.Errorf("per-sector must be 1-100, got %d", perSector)
			}
			l, err := openLocal()
			if err != nil {
				return err
			}
			defer l.Close()

			var agents []*domain.Agent
			for _, s := range l.cfg.Fleet.Sectors {
				sector := strings.ToLower(s.Name)
				for i := range perSector {
					agents = append(agents, newAgent(l, agentOptions{
						Name:         fmt.Sprintf("%s-%02d", sector, i+1),
						Sector:       sector,
						Capabilities: sectorCapabilities[sector],
						// Spread performance so seeded agents don't tie.
						PerformanceScore: float64(60 + (i*13+len(sector)*7)%40),
						SuccessRate:      0.8 + float64((i*3)%20)/100,
					}))
				}
			}

			err = l.db.InTx(cmd.Context(), func(tx *store.Tx) error {
				for _, a := range agents {
					if err := tx.Agents().Create(cmd.Context(), a); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d agents across %d sectors for tenant %s\n",
				len(agents), len(l.cfg.Fleet.Sectors), l.tenant)
			return nil
		},
	}
	cmd.Flags().IntVar(&perSector, "per-sector", 3, "agents to create per sector")
	return cmd
}
