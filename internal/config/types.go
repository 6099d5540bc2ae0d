package config

// Config is the root configuration for Atlas.
type Config struct {
	Gateway       GatewayConfig       `yaml:"gateway,omitempty"`
	Logging       LoggingConfig       `yaml:"logging,omitempty"`
	Store         StoreConfig         `yaml:"store,omitempty"`
	Orchestration OrchestrationConfig `yaml:"orchestration,omitempty"`
	Fleet         FleetConfig         `yaml:"fleet,omitempty"`
	Realtime      RealtimeConfig      `yaml:"realtime,omitempty"`
	Cache         CacheConfig         `yaml:"cache,omitempty"`
	AI            AIConfig            `yaml:"ai,omitempty"`
}

// GatewayConfig controls the HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int             `yaml:"port,omitempty"`
	Bind           string          `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string          `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth     `yaml:"auth,omitempty"`
	TLS            GatewayTLS      `yaml:"tls,omitempty"`
	AllowedOrigins []string        `yaml:"allowedOrigins,omitempty"`
	RateLimit      RateLimitConfig `yaml:"rateLimit,omitempty"`
	// DefaultTenant is used when a request carries no X-Tenant-ID header.
	DefaultTenant string `yaml:"defaultTenant,omitempty"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "token" | "password" | "none"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// RateLimitConfig bounds per-client request rates on the HTTP surface.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond,omitempty"`
	Burst             int     `yaml:"burst,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	Style string `yaml:"style,omitempty"` // "pretty" | "json"
	File  string `yaml:"file,omitempty"`
}

// StoreConfig selects and tunes the SQL backend.
type StoreConfig struct {
	Driver       string `yaml:"driver,omitempty"` // "sqlite" | "postgres"
	Path         string `yaml:"path,omitempty"`   // sqlite file; defaults under the data dir
	DSN          string `yaml:"dsn,omitempty"`    // postgres connection string
	FetchLimit   int    `yaml:"fetchLimit,omitempty"`
	MaxOpenConns int    `yaml:"maxOpenConns,omitempty"`
}

// ScoringWeights are the coefficients of the agent scorer. They must sum to 1.
type ScoringWeights struct {
	Sector       float64 `yaml:"sector"`
	Capability   float64 `yaml:"capability"`
	Performance  float64 `yaml:"performance"`
	Availability float64 `yaml:"availability"`
	Reliability  float64 `yaml:"reliability"`
}

// Sum returns the total of all weights.
func (w ScoringWeights) Sum() float64 {
	return w.Sector + w.Capability + w.Performance + w.Availability + w.Reliability
}

// OrchestrationConfig tunes task assignment and swarm formation.
type OrchestrationConfig struct {
	Weights              ScoringWeights `yaml:"weights,omitempty"`
	MinScore             float64        `yaml:"minScore,omitempty"`
	DefaultMaxConcurrent int            `yaml:"defaultMaxConcurrent,omitempty"`
	MaxBatch             int            `yaml:"maxBatch,omitempty"`
	DefaultSwarmSize     int            `yaml:"defaultSwarmSize,omitempty"`
	MaxSwarmSize         int            `yaml:"maxSwarmSize,omitempty"`
	MaxAttempts          int            `yaml:"maxAttempts,omitempty"`
}

// FleetConfig is the static capacity description of the agent fleet.
type FleetConfig struct {
	TotalCapacity int           `yaml:"totalCapacity,omitempty"`
	Sectors       []SectorEntry `yaml:"sectors,omitempty"`
}

// SectorEntry is one sector's share of fleet capacity.
type SectorEntry struct {
	Name  string  `yaml:"name"`
	Share float64 `yaml:"share"`
}

// RedisConfig is a redis connection.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// RealtimeConfig controls change fan-out to subscribers.
type RealtimeConfig struct {
	DebounceMs int `yaml:"debounceMs,omitempty"`
	MaxPending int `yaml:"maxPending,omitempty"`
	// Redis, when set, bridges changes between gateway instances.
	Redis   RedisConfig `yaml:"redis,omitempty"`
	Channel string      `yaml:"channel,omitempty"`
}

// CacheConfig controls the aggregate cache.
type CacheConfig struct {
	Backend    string      `yaml:"backend,omitempty"` // "memory" | "redis"
	Size       int         `yaml:"size,omitempty"`
	TTLSeconds int         `yaml:"ttlSeconds,omitempty"`
	Redis      RedisConfig `yaml:"redis,omitempty"`
}

// AIConfig points at the OpenAI-compatible completion gateway.
type AIConfig struct {
	Endpoint       string  `yaml:"endpoint,omitempty"`
	APIKey         string  `yaml:"apiKey,omitempty"`
	Model          string  `yaml:"model,omitempty"`
	MaxTokens      int     `yaml:"maxTokens,omitempty"`
	Temperature    float64 `yaml:"temperature,omitempty"`
	TimeoutSeconds int     `yaml:"timeoutSeconds,omitempty"`
	MaxRetries     int     `yaml:"maxRetries,omitempty"`
}
