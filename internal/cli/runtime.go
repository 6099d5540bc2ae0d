package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/atlassonic/atlas/internal/config"
	"github.com/atlassonic/atlas/internal/fleet"
	"github.com/atlassonic/atlas/internal/orchestration"
	"github.com/atlassonic/atlas/internal/store"
)

// loadConfig reads and validates the config file. Every issue is logged
// before the error is returned.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// openStore connects to the configured backend. A sqlite store without an
// explicit path lives in the data directory.
func openStore(cfg config.Config) (*store.DB, error) {
	target := cfg.Store.Path
	switch cfg.Store.Driver {
	case store.DriverPostgres:
		target = cfg.Store.DSN
	default:
		if target == "" {
			if err := paths.EnsureDirs(); err != nil {
				return nil, fmt.Errorf("creating data directory: %w", err)
			}
			target = paths.Database
		}
	}
	db, err := store.Connect(cfg.Store.Driver, target, cfg.Store.MaxOpenConns, log)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return db, nil
}

// local is the offline toolset used by commands that work on the store
// directly instead of through a running gateway.
type local struct {
	cfg    config.Config
	db     *store.DB
	tenant string
	fleet  *fleet.Manager
	orch   *orchestration.Service
}

func openLocal() (*local, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	db, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	t := tenant
	if t == "" {
		t = cfg.Gateway.DefaultTenant
	}
	fl := fleet.New(db, cfg.Fleet, fleet.WithLogger(log))
	orch := orchestration.NewService(db, cfg.Orchestration, cfg.Store.FetchLimit,
		orchestration.WithLogger(log),
		orchestration.WithFleet(fl),
	)
	return &local{cfg: cfg, db: db, tenant: t, fleet: fl, orch: orch}, nil
}

func (l *local) Close() error { return l.db.Close() }

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
