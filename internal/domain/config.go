package domain

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	Server ServerConfig `json:"server" yaml:"server"`

	// Tier determines which backends are wired
	Tier Tier `json:"tier" yaml:"tier"`

	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"event_bus"`

	Analytics AnalyticsConfig `json:"analytics" yaml:"analytics"`
	Narrator  NarratorConfig  `json:"narrator" yaml:"narrator"`

	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"write_timeout"` // seconds
}

// AnalyticsConfig tunes the analysis engines.
type AnalyticsConfig struct {
	// Seed feeds the Monte Carlo generator and the isolation forest.
	Seed       uint64 `json:"seed" yaml:"seed"`
	Iterations int    `json:"iterations" yaml:"iterations"`

	// MaxIterations and MaxHorizonDays bound caller supplied simulation
	// and forecast sizes.
	MaxIterations  int `json:"maxIterations" yaml:"max_iterations"`
	MaxHorizonDays int `json:"maxHorizonDays" yaml:"max_horizon_days"`

	// BatchSize is the number of iterations drawn from one substream.
	// Changing it changes results; Workers does not.
	BatchSize int `json:"batchSize" yaml:"batch_size"`
	Workers   int `json:"workers" yaml:"workers"`

	Horizons         []int            `json:"horizons" yaml:"horizons"`
	OverdueReference OverdueReference `json:"overdueReference" yaml:"overdue_reference"`

	// CacheTTL bounds how long a computed analysis is reused.
	CacheTTL time.Duration `json:"cacheTtl" yaml:"cache_ttl"`

	// Worker alert thresholds.
	AlertSurvivalBelow   float64 `json:"alertSurvivalBelow" yaml:"alert_survival_below"`
	AlertInsolvencyAbove float64 `json:"alertInsolvencyAbove" yaml:"alert_insolvency_above"`
}

// NarratorConfig selects and tunes the report narrator.
type NarratorConfig struct {
	// Provider is "auto", "genai" or "fallback". Auto uses genai when an
	// API key is present.
	Provider    string  `json:"provider" yaml:"provider"`
	Model       string  `json:"model" yaml:"model"`
	MaxTokens   int32   `json:"maxTokens" yaml:"max_tokens"`
	Temperature float32 `json:"temperature" yaml:"temperature"`
	APIKey      string  `json:"-" yaml:"api_key"`

	// BaseURL overrides the model endpoint, for proxies and tests.
	BaseURL string `json:"baseUrl,omitempty" yaml:"base_url"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" yaml:"service_name"`
}

// Limits applied when AnalyticsConfig leaves them unset.
const (
	DefaultMaxIterations  = 1_000_000
	DefaultMaxHorizonDays = 3650
)

// IterationLimit returns MaxIterations, or its default when unset.
func (c AnalyticsConfig) IterationLimit() int {
	if c.MaxIterations <= 0 {
		return DefaultMaxIterations
	}
	return c.MaxIterations
}

// HorizonLimit returns MaxHorizonDays, or its default when unset.
func (c AnalyticsConfig) HorizonLimit() int {
	if c.MaxHorizonDays <= 0 {
		return DefaultMaxHorizonDays
	}
	return c.MaxHorizonDays
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity runs on SQLite, an in-process LRU and Go channels.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS.
	TierPro Tier = "pro"
)

// DefaultConfig returns the Community tier configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 256,
		},
		Analytics: AnalyticsConfig{
			Seed:                 42,
			Iterations:           1000,
			MaxIterations:        DefaultMaxIterations,
			MaxHorizonDays:       DefaultMaxHorizonDays,
			BatchSize:            256,
			Workers:              4,
			Horizons:             []int{30, 60, 90},
			OverdueReference:     OverdueWallClock,
			CacheTTL:             10 * time.Minute,
			AlertSurvivalBelow:   40,
			AlertInsolvencyAbove: 0.3,
		},
		Narrator: NarratorConfig{
			Provider:    "auto",
			Model:       "gemini-2.0-flash",
			MaxTokens:   700,
			Temperature: 0.2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns the Pro tier configuration.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   500,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// LoadConfig builds the configuration for a tier, overlays the YAML file at
// path when path is non-empty, then applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if Tier(os.Getenv("KESTREL_TIER")) == TierPro {
		cfg = ProConfig()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("KESTREL_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("KESTREL_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		c.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_PASSWORD"); v != "" {
		c.Repository.PostgresPassword = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		c.EventBus.NATSUrl = v
	}
	if v := os.Getenv("KESTREL_OVERDUE_REFERENCE"); v != "" {
		c.Analytics.OverdueReference = OverdueReference(strings.ToLower(v))
	}
	if v := os.Getenv("KESTREL_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("KESTREL_SEED: %w", err)
		}
		c.Analytics.Seed = seed
	}
	if v := os.Getenv("KESTREL_NARRATOR"); v != "" {
		c.Narrator.Provider = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Narrator.APIKey = v
	} else if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		c.Narrator.APIKey = v
	}
	if os.Getenv("KESTREL_DEBUG") == "true" {
		c.Logging.Level = "debug"
	}
	return nil
}

// Validate rejects settings the engines cannot run with.
func (c *Config) Validate() error {
	if !c.Analytics.OverdueReference.Valid() {
		return fmt.Errorf("invalid overdue reference %q", c.Analytics.OverdueReference)
	}
	if c.Analytics.MaxIterations < 0 || c.Analytics.MaxHorizonDays < 0 {
		return fmt.Errorf("analytics limits must not be negative")
	}
	if c.Analytics.Iterations > c.Analytics.IterationLimit() {
		return fmt.Errorf("iterations %d exceed limit %d", c.Analytics.Iterations, c.Analytics.IterationLimit())
	}
	for _, h := range c.Analytics.Horizons {
		if h <= 0 || h > c.Analytics.HorizonLimit() {
			return fmt.Errorf("invalid forecast horizon %d", h)
		}
	}
	switch c.Narrator.Provider {
	case "auto", "genai", "fallback":
	default:
		return fmt.Errorf("invalid narrator provider %q", c.Narrator.Provider)
	}
	return nil
}
