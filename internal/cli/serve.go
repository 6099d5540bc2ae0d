package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/atlassonic/atlas/internal/cache"
	"github.com/atlassonic/atlas/internal/dashboard"
	"github.com/atlassonic/atlas/internal/fleet"
	"github.com/atlassonic/atlas/internal/gateway"
	"github.com/atlassonic/atlas/internal/generator"
	"github.com/atlassonic/atlas/internal/hooks"
	"github.com/atlassonic/atlas/internal/hubs"
	"github.com/atlassonic/atlas/internal/llm"
	"github.com/atlassonic/atlas/internal/logging"
	"github.com/atlassonic/atlas/internal/metrics"
	"github.com/atlassonic/atlas/internal/orchestration"
	"github.com/atlassonic/atlas/internal/realtime"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"gateway"},
		Short:   "Start the HTTP and WebSocket gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			if logLevel == "" {
				l, closeLog, err := logging.Open(logging.Options{
					Level: cfg.Logging.Level,
					Style: cfg.Logging.Style,
					File:  cfg.Logging.File,
				})
				if err != nil {
					return err
				}
				defer closeLog()
				log = l
			}

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			log.Info().Str("driver", db.Driver()).Msg("store ready")

			m := metrics.New()
			hookMgr := hooks.NewManager(log)
			audit := log.Sub("audit")
			hookMgr.OnAll("audit-log", func(_ context.Context, p hooks.Payload) error {
				audit.Info().Str("event", p.Event).Str("tenant", p.TenantID).Interface("data", p.Data).Msg("lifecycle event")
				return nil
			})

			broker := realtime.NewBroker(cfg.Realtime, log, m)
			defer broker.Close()

			if cfg.Realtime.Redis.Addr != "" {
				rdb, err := realtime.NewRedisClient(ctx, cfg.Realtime.Redis)
				if err != nil {
					return err
				}
				defer rdb.Close()
				bridge := realtime.NewRedisBridge(rdb, cfg.Realtime.Channel, broker, log)
				if err := bridge.Start(ctx); err != nil {
					return err
				}
				defer bridge.Close()
			}

			c, err := cache.New(ctx, cfg.Cache, m)
			if err != nil {
				return fmt.Errorf("initializing cache: %w", err)
			}
			defer c.Close()

			fleetMgr := fleet.New(db, cfg.Fleet,
				fleet.WithLogger(log),
				fleet.WithHooks(hookMgr),
				fleet.WithPublisher(broker),
			)
			hubMgr := hubs.New(db, broker, log)
			dashboards := dashboard.New(db,
				dashboard.WithCache(c),
				dashboard.WithFleet(fleetMgr),
				dashboard.WithPublisher(broker),
				dashboard.WithLogger(log),
			)
			orch := orchestration.NewService(db, cfg.Orchestration, cfg.Store.FetchLimit,
				orchestration.WithLogger(log),
				orchestration.WithHooks(hookMgr),
				orchestration.WithPublisher(broker),
				orchestration.WithMetrics(m),
				orchestration.WithFleet(fleetMgr),
			)

			opts := []gateway.ServerOption{
				gateway.WithBroker(broker),
				gateway.WithHooks(hookMgr),
				gateway.WithMetrics(m),
			}
			if cfg.AI.Endpoint != "" {
				client := llm.NewGatewayClient(cfg.AI, log)
				opts = append(opts, gateway.WithGenerator(generator.New(client, m, log)))
				log.Info().Str("endpoint", cfg.AI.Endpoint).Str("model", cfg.AI.Model).Msg("AI generation enabled")
			} else {
				log.Warn().Msg("ai.endpoint not set, business plan and widget generation are unavailable")
			}

			srv := gateway.New(cfg, gateway.Services{
				DB:            db,
				Orchestration: orch,
				Fleet:         fleetMgr,
				Hubs:          hubMgr,
				Dashboards:    dashboards,
			}, log, opts...)

			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (auto, lan, loopback, custom)")

	return cmd
}
