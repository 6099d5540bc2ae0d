package config

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// weightTolerance is how far the scorer weights may drift from summing to 1.
const weightTolerance = 0.001

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// Gateway
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}
	validBinds := []string{"auto", "lan", "loopback", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		add("gateway.bind", "must be one of %v, got %q", validBinds, cfg.Gateway.Bind)
	}
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		add("gateway.customBindHost", "required when bind is custom")
	}
	validAuthModes := []string{"token", "password", "none"}
	if cfg.Gateway.Auth.Mode != "" && !slices.Contains(validAuthModes, cfg.Gateway.Auth.Mode) {
		add("gateway.auth.mode", "must be one of %v, got %q", validAuthModes, cfg.Gateway.Auth.Mode)
	}
	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		add("gateway.tls", "certPath and keyPath are required when TLS is enabled")
	}
	if cfg.Gateway.RateLimit.RequestsPerSecond < 0 {
		add("gateway.rateLimit.requestsPerSecond", "must not be negative")
	}
	if cfg.Gateway.RateLimit.RequestsPerSecond > 0 && cfg.Gateway.RateLimit.Burst < 1 {
		add("gateway.rateLimit.burst", "must be at least 1 when rate limiting is on")
	}

	// Logging
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", validLogLevels, cfg.Logging.Level)
	}
	validStyles := []string{"pretty", "json"}
	if cfg.Logging.Style != "" && !slices.Contains(validStyles, cfg.Logging.Style) {
		add("logging.style", "must be one of %v, got %q", validStyles, cfg.Logging.Style)
	}

	// Store
	validDrivers := []string{"sqlite", "postgres"}
	if !slices.Contains(validDrivers, cfg.Store.Driver) {
		add("store.driver", "must be one of %v, got %q", validDrivers, cfg.Store.Driver)
	}
	if cfg.Store.Driver == "postgres" && cfg.Store.DSN == "" {
		add("store.dsn", "required when driver is postgres")
	}
	if cfg.Store.FetchLimit < 1 {
		add("store.fetchLimit", "must be at least 1, got %d", cfg.Store.FetchLimit)
	}

	// Orchestration
	o := cfg.Orchestration
	for name, w := range map[string]float64{
		"sector":       o.Weights.Sector,
		"capability":   o.Weights.Capability,
		"performance":  o.Weights.Performance,
		"availability": o.Weights.Availability,
		"reliability":  o.Weights.Reliability,
	} {
		if w < 0 {
			add("orchestration.weights."+name, "must not be negative, got %g", w)
		}
	}
	if math.Abs(o.Weights.Sum()-1) > weightTolerance {
		add("orchestration.weights", "must sum to 1, got %g", o.Weights.Sum())
	}
	if o.MinScore < 0 || o.MinScore > 100 {
		add("orchestration.minScore", "must be 0-100, got %g", o.MinScore)
	}
	if o.DefaultMaxConcurrent < 1 {
		add("orchestration.defaultMaxConcurrent", "must be at least 1, got %d", o.DefaultMaxConcurrent)
	}
	if o.MaxBatch < 1 {
		add("orchestration.maxBatch", "must be at least 1, got %d", o.MaxBatch)
	}
	if o.MaxSwarmSize < 1 {
		add("orchestration.maxSwarmSize", "must be at least 1, got %d", o.MaxSwarmSize)
	}
	if o.DefaultSwarmSize < 1 || o.DefaultSwarmSize > o.MaxSwarmSize {
		add("orchestration.defaultSwarmSize", "must be 1-%d, got %d", o.MaxSwarmSize, o.DefaultSwarmSize)
	}
	if o.MaxAttempts < 1 {
		add("orchestration.maxAttempts", "must be at least 1, got %d", o.MaxAttempts)
	}

	// Fleet
	if cfg.Fleet.TotalCapacity < 1 {
		add("fleet.totalCapacity", "must be at least 1, got %d", cfg.Fleet.TotalCapacity)
	}
	if len(cfg.Fleet.Sectors) > 0 {
		seen := map[string]bool{}
		var share float64
		for i, s := range cfg.Fleet.Sectors {
			name := strings.ToLower(s.Name)
			if name == "" {
				add(fmt.Sprintf("fleet.sectors[%d].name", i), "name is required")
			} else if seen[name] {
				add(fmt.Sprintf("fleet.sectors[%d].name", i), "duplicate sector %q", s.Name)
			}
			seen[name] = true
			if s.Share <= 0 {
				add(fmt.Sprintf("fleet.sectors[%d].share", i), "must be positive, got %g", s.Share)
			}
			share += s.Share
		}
		if math.Abs(share-1) > weightTolerance {
			add("fleet.sectors", "shares must sum to 1, got %g", share)
		}
	}

	// Realtime
	if cfg.Realtime.DebounceMs < 0 {
		add("realtime.debounceMs", "must not be negative")
	}
	if cfg.Realtime.MaxPending < 1 {
		add("realtime.maxPending", "must be at least 1, got %d", cfg.Realtime.MaxPending)
	}

	// Cache
	validBackends := []string{"memory", "redis"}
	if !slices.Contains(validBackends, cfg.Cache.Backend) {
		add("cache.backend", "must be one of %v, got %q", validBackends, cfg.Cache.Backend)
	}
	if cfg.Cache.Backend == "redis" && cfg.Cache.Redis.Addr == "" {
		add("cache.redis.addr", "required when backend is redis")
	}
	if cfg.Cache.Size < 1 {
		add("cache.size", "must be at least 1, got %d", cfg.Cache.Size)
	}

	// AI gateway
	if cfg.AI.Temperature < 0 || cfg.AI.Temperature > 2 {
		add("ai.temperature", "must be 0-2, got %g", cfg.AI.Temperature)
	}
	if cfg.AI.MaxRetries < 0 {
		add("ai.maxRetries", "must not be negative")
	}
	if cfg.AI.Endpoint != "" && !strings.HasPrefix(cfg.AI.Endpoint, "http://") && !strings.HasPrefix(cfg.AI.Endpoint, "https://") {
		add("ai.endpoint", "must be an http(s) URL, got %q", cfg.AI.Endpoint)
	}

	return issues
}
