// Package config loads, validates and edits the Atlas YAML configuration.
package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// DefaultPort is the gateway's listen port when none is configured.
const DefaultPort = 54321

// DefaultFleetCapacity is the advertised size of the agent fleet.
const DefaultFleetCapacity = 144000

// DefaultWeights are the scorer coefficients used when none are configured.
func DefaultWeights() ScoringWeights {
	return ScoringWeights{
		Sector:       0.30,
		Capability:   0.25,
		Performance:  0.20,
		Availability: 0.15,
		Reliability:  0.10,
	}
}

// DefaultSectors is the stock sector split of the fleet.
func DefaultSectors() []SectorEntry {
	return []SectorEntry{
		{Name: "technology", Share: 0.25},
		{Name: "finance", Share: 0.20},
		{Name: "healthcare", Share: 0.15},
		{Name: "manufacturing", Share: 0.15},
		{Name: "retail", Share: 0.10},
		{Name: "energy", Share: 0.10},
		{Name: "logistics", Share: 0.05},
	}
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Port: DefaultPort,
			Bind: "loopback",
			Auth: GatewayAuth{
				Mode: "token",
			},
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 20,
				Burst:             40,
			},
			DefaultTenant: "default",
		},
		Logging: LoggingConfig{
			Level: "info",
			Style: "pretty",
		},
		Store: StoreConfig{
			Driver:     "sqlite",
			FetchLimit: 100,
		},
		Orchestration: OrchestrationConfig{
			Weights:              DefaultWeights(),
			DefaultMaxConcurrent: 3,
			MaxBatch:             50,
			DefaultSwarmSize:     5,
			MaxSwarmSize:         50,
			MaxAttempts:          3,
		},
		Fleet: FleetConfig{
			TotalCapacity: DefaultFleetCapacity,
			Sectors:       DefaultSectors(),
		},
		Realtime: RealtimeConfig{
			DebounceMs: 250,
			MaxPending: 100,
			Channel:    "atlas:changes",
		},
		Cache: CacheConfig{
			Backend:    "memory",
			Size:       256,
			TTLSeconds: 15,
		},
		AI: AIConfig{
			Endpoint:       "https://ai.gateway.lovable.dev/v1",
			Model:          "google/gemini-2.5-flash",
			MaxTokens:      2048,
			Temperature:    0.7,
			TimeoutSeconds: 60,
			MaxRetries:     3,
		},
	}
}
