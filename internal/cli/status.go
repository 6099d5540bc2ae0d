package cli

import (
	"fmt"
	"strings"

	"github.com/atlassonic/atlas/internal/config"
	"github.com/atlassonic/atlas/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show Atlas paths and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Atlas %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:   %s\n", paths.Config)
			fmt.Fprintf(out, "Data:     %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:     %s\n", paths.Logs)
			fmt.Fprintln(out)

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:   error loading: %v\n", err)
				return nil
			}

			fmt.Fprintf(out, "Gateway:  port=%d bind=%s auth=%s tls=%v\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode, cfg.Gateway.TLS.Enabled)

			where := cfg.Store.Path
			if cfg.Store.Driver == "postgres" {
				where = "dsn"
			} else if where == "" {
				where = paths.Database
			}
			fmt.Fprintf(out, "Store:    driver=%s at=%s fetchLimit=%d\n", cfg.Store.Driver, where, cfg.Store.FetchLimit)

			o := cfg.Orchestration
			fmt.Fprintf(out, "Scoring:  sector=%g capability=%g performance=%g availability=%g reliability=%g minScore=%g\n",
				o.Weights.Sector, o.Weights.Capability, o.Weights.Performance,
				o.Weights.Availability, o.Weights.Reliability, o.MinScore)

			sectors := make([]string, 0, len(cfg.Fleet.Sectors))
			for _, s := range cfg.Fleet.Sectors {
				sectors = append(sectors, fmt.Sprintf("%s=%g", s.Name, s.Share))
			}
			fmt.Fprintf(out, "Fleet:    capacity=%d sectors=%s\n", cfg.Fleet.TotalCapacity, strings.Join(sectors, ","))

			bridge := "off"
			if cfg.Realtime.Redis.Addr != "" {
				bridge = cfg.Realtime.Redis.Addr
			}
			fmt.Fprintf(out, "Realtime: debounce=%dms redis=%s\n", cfg.Realtime.DebounceMs, bridge)
			fmt.Fprintf(out, "Cache:    backend=%s size=%d ttl=%ds\n", cfg.Cache.Backend, cfg.Cache.Size, cfg.Cache.TTLSeconds)

			if cfg.AI.Endpoint != "" {
				fmt.Fprintf(out, "AI:       endpoint=%s model=%s\n", cfg.AI.Endpoint, cfg.AI.Model)
			} else {
				fmt.Fprintln(out, "AI:       (not configured)")
			}

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}
			return nil
		},
	}

	return cmd
}
