package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issuePaths(issues []ValidationIssue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Path)
	}
	return out
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"bad port", func(c *Config) { c.Gateway.Port = 70000 }, "gateway.port"},
		{"bad bind", func(c *Config) { c.Gateway.Bind = "tailnet" }, "gateway.bind"},
		{"custom bind without host", func(c *Config) { c.Gateway.Bind = "custom" }, "gateway.customBindHost"},
		{"bad auth mode", func(c *Config) { c.Gateway.Auth.Mode = "oauth" }, "gateway.auth.mode"},
		{"tls without cert", func(c *Config) { c.Gateway.TLS.Enabled = true }, "gateway.tls"},
		{"zero burst", func(c *Config) { c.Gateway.RateLimit.Burst = 0 }, "gateway.rateLimit.burst"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log style", func(c *Config) { c.Logging.Style = "compact" }, "logging.style"},
		{"bad driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }, "store.dsn"},
		{"weights off", func(c *Config) { c.Orchestration.Weights.Sector = 0.9 }, "orchestration.weights"},
		{"negative weight", func(c *Config) {
			c.Orchestration.Weights.Sector = -0.1
			c.Orchestration.Weights.Capability = 0.65
		}, "orchestration.weights.sector"},
		{"min score", func(c *Config) { c.Orchestration.MinScore = 120 }, "orchestration.minScore"},
		{"swarm default above max", func(c *Config) { c.Orchestration.DefaultSwarmSize = 99 }, "orchestration.defaultSwarmSize"},
		{"sector shares", func(c *Config) { c.Fleet.Sectors = []SectorEntry{{Name: "a", Share: 0.5}} }, "fleet.sectors"},
		{"duplicate sector", func(c *Config) {
			c.Fleet.Sectors = []SectorEntry{{Name: "a", Share: 0.5}, {Name: "A", Share: 0.5}}
		}, "fleet.sectors[1].name"},
		{"redis cache without addr", func(c *Config) { c.Cache.Backend = "redis" }, "cache.redis.addr"},
		{"temperature", func(c *Config) { c.AI.Temperature = 3 }, "ai.temperature"},
		{"endpoint scheme", func(c *Config) { c.AI.Endpoint = "ftp://x" }, "ai.endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			issues := Validate(&cfg)
			require.NotEmpty(t, issues)
			assert.Contains(t, issuePaths(issues), tt.path)
		})
	}
}

func TestValidate_MultipleIssues(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Port = -1
	cfg.Logging.Level = "loud"
	cfg.Cache.Backend = "disk"

	issues := Validate(&cfg)
	assert.Len(t, issues, 3)
}

func TestValidationIssueString(t *testing.T) {
	issue := ValidationIssue{Path: "gateway.port", Message: "bad"}
	assert.Equal(t, "gateway.port: bad", issue.String())
}
