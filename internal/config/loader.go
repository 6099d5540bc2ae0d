package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields resolves ${ENV_VAR} references in credential and
// connection-string fields.
func expandSensitiveFields(cfg *Config) {
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.Gateway.Auth.Password = expandEnvVars(cfg.Gateway.Auth.Password)
	cfg.Store.DSN = expandEnvVars(cfg.Store.DSN)
	cfg.Cache.Redis.Password = expandEnvVars(cfg.Cache.Redis.Password)
	cfg.Realtime.Redis.Password = expandEnvVars(cfg.Realtime.Redis.Password)
	cfg.AI.APIKey = expandEnvVars(cfg.AI.APIKey)
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields left empty by a partial file.
func applyDefaults(cfg *Config) {
	d := Defaults()

	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = d.Gateway.Port
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = d.Gateway.Bind
	}
	if cfg.Gateway.Auth.Mode == "" {
		cfg.Gateway.Auth.Mode = d.Gateway.Auth.Mode
	}
	if cfg.Gateway.RateLimit.RequestsPerSecond == 0 {
		cfg.Gateway.RateLimit = d.Gateway.RateLimit
	}
	if cfg.Gateway.DefaultTenant == "" {
		cfg.Gateway.DefaultTenant = d.Gateway.DefaultTenant
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Style == "" {
		cfg.Logging.Style = d.Logging.Style
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = d.Store.Driver
	}
	if cfg.Store.FetchLimit == 0 {
		cfg.Store.FetchLimit = d.Store.FetchLimit
	}

	o := &cfg.Orchestration
	if o.Weights.Sum() == 0 {
		o.Weights = d.Orchestration.Weights
	}
	if o.DefaultMaxConcurrent == 0 {
		o.DefaultMaxConcurrent = d.Orchestration.DefaultMaxConcurrent
	}
	if o.MaxBatch == 0 {
		o.MaxBatch = d.Orchestration.MaxBatch
	}
	if o.DefaultSwarmSize == 0 {
		o.DefaultSwarmSize = d.Orchestration.DefaultSwarmSize
	}
	if o.MaxSwarmSize == 0 {
		o.MaxSwarmSize = d.Orchestration.MaxSwarmSize
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = d.Orchestration.MaxAttempts
	}

	if cfg.Fleet.TotalCapacity == 0 {
		cfg.Fleet.TotalCapacity = d.Fleet.TotalCapacity
	}
	if len(cfg.Fleet.Sectors) == 0 {
		cfg.Fleet.Sectors = d.Fleet.Sectors
	}

	if cfg.Realtime.DebounceMs == 0 {
		cfg.Realtime.DebounceMs = d.Realtime.DebounceMs
	}
	if cfg.Realtime.MaxPending == 0 {
		cfg.Realtime.MaxPending = d.Realtime.MaxPending
	}
	if cfg.Realtime.Channel == "" {
		cfg.Realtime.Channel = d.Realtime.Channel
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = d.Cache.Backend
	}
	if cfg.Cache.Size == 0 {
		cfg.Cache.Size = d.Cache.Size
	}
	if cfg.Cache.TTLSeconds == 0 {
		cfg.Cache.TTLSeconds = d.Cache.TTLSeconds
	}

	if cfg.AI.Endpoint == "" {
		cfg.AI.Endpoint = d.AI.Endpoint
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = d.AI.Model
	}
	if cfg.AI.MaxTokens == 0 {
		cfg.AI.MaxTokens = d.AI.MaxTokens
	}
	if cfg.AI.TimeoutSeconds == 0 {
		cfg.AI.TimeoutSeconds = d.AI.TimeoutSeconds
	}
}

// applyEnvOverrides reads ATLAS_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ATLAS_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("ATLAS_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("ATLAS_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Token = v
	}
	if v := os.Getenv("ATLAS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("ATLAS_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("ATLAS_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("ATLAS_REDIS_ADDR"); v != "" {
		cfg.Cache.Redis.Addr = v
		cfg.Realtime.Redis.Addr = v
	}
	if v := os.Getenv("ATLAS_AI_ENDPOINT"); v != "" {
		cfg.AI.Endpoint = v
	}
	if v := os.Getenv("ATLAS_AI_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
}
