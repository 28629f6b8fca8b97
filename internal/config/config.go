package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/accesslens/accesslens/internal/safefile"
)

// MaxConfigBytes caps the size of a config file.
const MaxConfigBytes = 1 << 20

// Environment variables that override file values. Secrets belong here
// rather than in the YAML file.
const (
	EnvDBDriver      = "ACCESSLENS_DB_DRIVER"
	EnvDBDSN         = "ACCESSLENS_DB_DSN"
	EnvRedisAddr     = "ACCESSLENS_REDIS_ADDR"
	EnvRedisPassword = "ACCESSLENS_REDIS_PASSWORD"
)

// DefaultPrivilegeWeightThreshold is the excessive-privilege cutoff used
// when the config does not set one.
const DefaultPrivilegeWeightThreshold = 120

// Config is the top-level accesslens configuration.
type Config struct {
	Version  string         `yaml:"version"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis,omitempty"`
	Risk     RiskConfig     `yaml:"risk"`
	Explain  ExplainConfig  `yaml:"explain"`
	Tracing  TracingConfig  `yaml:"tracing,omitempty"`
	Webhooks []Webhook      `yaml:"webhooks,omitempty"`
}

// ServerConfig holds API server settings.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	Bind     string `yaml:"bind"` // default 127.0.0.1
	LogLevel string `yaml:"log_level"`
}

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`    // file path for sqlite
}

// RedisConfig enables the cross-process recompute lock. An empty Addr
// keeps the lock in process.
type RedisConfig struct {
	Addr           string `yaml:"addr"`
	Password       string `yaml:"password,omitempty"`
	DB             int    `yaml:"db,omitempty"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds,omitempty"`
}

// RiskConfig tunes the rule engine.
type RiskConfig struct {
	PrivilegeWeightThreshold int `yaml:"privilege_weight_threshold"`
	Workers                  int `yaml:"workers,omitempty"` // 0 or 1 runs sequentially
}

// ExplainConfig selects the explanation provider.
type ExplainConfig struct {
	Provider string `yaml:"provider"` // only "mock" ships
}

// TracingConfig controls span export.
type TracingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Output  string `yaml:"output,omitempty"` // stderr (default), stdout, or a file path
}

// Webhook defines an outgoing notification endpoint.
type Webhook struct {
	URL      string   `yaml:"url"`
	Events   []string `yaml:"events"`             // critical_findings, finding_closed; empty means all
	Template string   `yaml:"template,omitempty"` // plain text with {{TAG}} placeholders, sent as Slack JSON
}

// Load reads and parses a config file, then applies environment
// overrides.
func Load(path string) (*Config, error) {
	data, err := safefile.ReadFile(path, MaxConfigBytes)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Apply zero-value defaults after unmarshal
	if cfg.Risk.PrivilegeWeightThreshold == 0 {
		cfg.Risk.PrivilegeWeightThreshold = DefaultPrivilegeWeightThreshold
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Explain.Provider == "" {
		cfg.Explain.Provider = "mock"
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// Defaults returns a config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Version: "1",
		Server: ServerConfig{
			Port:     8080,
			Bind:     "127.0.0.1",
			LogLevel: "info",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "accesslens.db",
		},
		Redis: RedisConfig{
			LockTTLSeconds: 300,
		},
		Risk: RiskConfig{
			PrivilegeWeightThreshold: DefaultPrivilegeWeightThreshold,
		},
		Explain: ExplainConfig{Provider: "mock"},
	}
}

// ApplyEnv overlays the ACCESSLENS_* environment variables.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvDBDriver)); v != "" {
		c.Database.Driver = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDBDSN)); v != "" {
		c.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRedisAddr)); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		c.Redis.Password = v
	}
}

// Save writes the config to a YAML file at the given path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := safefile.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Validate checks that the config is consistent.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	switch strings.ToLower(c.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.Server.LogLevel)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid database driver %q (want sqlite or postgres)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if c.Risk.PrivilegeWeightThreshold <= 0 {
		return fmt.Errorf("risk.privilege_weight_threshold must be positive, got %d", c.Risk.PrivilegeWeightThreshold)
	}
	if c.Risk.Workers < 0 {
		return fmt.Errorf("risk.workers must not be negative")
	}
	if c.Explain.Provider != "mock" {
		return fmt.Errorf("unknown explain provider %q", c.Explain.Provider)
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhook %d has no url", i)
		}
		for _, ev := range wh.Events {
			switch ev {
			case "critical_findings", "finding_closed":
			default:
				return fmt.Errorf("webhook %d has unknown event %q", i, ev)
			}
		}
	}
	return nil
}
