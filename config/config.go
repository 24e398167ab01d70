// Package config provides configuration management for the triaged daemon.
// It supports loading configuration from YAML files and environment
// variables, with validated defaults for both classification domains.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/triaged/pkg/db"
	"github.com/otherjamesbrown/triaged/pkg/logging"
	"github.com/otherjamesbrown/triaged/pkg/triage"
	"github.com/otherjamesbrown/triaged/pkg/triage/gateway"
	"github.com/otherjamesbrown/triaged/pkg/triage/scheduler"
)

// Default configuration values.
const (
	DefaultConfigFile  = "triaged.yaml"
	DefaultMetricsAddr = ":9109"
	DefaultRedisAddr   = "localhost:6379"
)

// RedisConfig holds the event-publisher connection settings.
type RedisConfig struct {
	// Enabled turns event publishing on. When false, events are discarded.
	Enabled bool `yaml:"enabled"`

	// Addr is the Redis host:port.
	Addr string `yaml:"addr"`

	// Password is the Redis auth password, if any.
	Password string `yaml:"password"`

	// DB is the Redis database number.
	DB int `yaml:"db"`
}

// DomainConfig holds one classification domain's harness settings.
type DomainConfig struct {
	// Enabled turns the domain's harness on.
	Enabled bool `yaml:"enabled"`

	// Interval between timer-driven cycles.
	Interval time.Duration `yaml:"interval"`

	// DailyTokenQuota bounds inference spend per local day. 0 = unlimited.
	DailyTokenQuota int `yaml:"daily_token_quota"`

	// StalenessThreshold for the progress-domain sweep.
	StalenessThreshold time.Duration `yaml:"staleness_threshold"`

	// Mode is "full" or "hybrid".
	Mode string `yaml:"mode"`

	// HeuristicThreshold is the rule-confidence bar for the hybrid mode's
	// heuristics-first pass.
	HeuristicThreshold float64 `yaml:"heuristic_threshold"`

	// EstimateTokensPerItem is the ledger fallback when the provider
	// reports no usage. Approximate by design of the providers, not ours.
	EstimateTokensPerItem int `yaml:"estimate_tokens_per_item"`

	// VIPSenders is the priority-domain sender allow-list.
	VIPSenders []string `yaml:"vip_senders"`
}

// HarnessConfig converts the domain settings into a scheduler config.
func (d DomainConfig) HarnessConfig(domain triage.Domain) scheduler.Config {
	cfg := scheduler.DefaultHarnessConfig(domain)
	if d.Interval > 0 {
		cfg.Interval = d.Interval
	}
	cfg.DailyTokenQuota = d.DailyTokenQuota
	if d.StalenessThreshold > 0 {
		cfg.StaleThreshold = d.StalenessThreshold
	}
	if d.Mode != "" {
		cfg.Mode = scheduler.Mode(d.Mode)
	}
	if d.HeuristicThreshold > 0 {
		cfg.HeuristicThreshold = d.HeuristicThreshold
	}
	if d.EstimateTokensPerItem > 0 {
		cfg.EstimateTokensPerItem = d.EstimateTokensPerItem
	}
	cfg.VIPSenders = d.VIPSenders
	return cfg
}

// Config is the daemon configuration root.
type Config struct {
	// Logging configures output level and format.
	Logging logging.Config `yaml:"logging"`

	// DB is the PostgreSQL connection configuration.
	DB *db.Config `yaml:"db"`

	// Redis configures the pub/sub event publisher.
	Redis RedisConfig `yaml:"redis"`

	// Gateway is the inference provider configuration.
	Gateway gateway.Config `yaml:"gateway"`

	// MetricsAddr is the Prometheus listen address. Empty disables the
	// metrics endpoint.
	MetricsAddr string `yaml:"metrics_addr"`

	// Priority configures the priority-domain harness.
	Priority DomainConfig `yaml:"priority"`

	// Progress configures the progress-domain harness.
	Progress DomainConfig `yaml:"progress"`
}

// DefaultConfig returns the daemon defaults: both domains enabled in full
// mode with a 50k daily token quota each.
func DefaultConfig() *Config {
	return &Config{
		Logging:     *logging.DefaultConfig(),
		DB:          db.DefaultConfig(),
		Redis:       RedisConfig{Addr: DefaultRedisAddr},
		Gateway:     gateway.DefaultConfig(),
		MetricsAddr: DefaultMetricsAddr,
		Priority: DomainConfig{
			Enabled:         true,
			Interval:        30 * time.Minute,
			DailyTokenQuota: 50000,
			Mode:            string(scheduler.ModeFull),
		},
		Progress: DomainConfig{
			Enabled:            true,
			Interval:           45 * time.Minute,
			DailyTokenQuota:    50000,
			StalenessThreshold: 72 * time.Hour,
			Mode:               string(scheduler.ModeFull),
		},
	}
}

// LoadConfig loads the daemon configuration. Sources, later overriding
// earlier: defaults, the YAML file at path (or $TRIAGE_CONFIG, or
// ./triaged.yaml when present), then environment variables.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("TRIAGE_CONFIG")
	}
	if path == "" {
		path = DefaultConfigFile
	}
	if _, err := os.Stat(path); err == nil {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// loadFromFile overlays configuration from a YAML file.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	// Duration fields arrive as strings ("30m"); decode via a file struct.
	type domainFile struct {
		Enabled               *bool    `yaml:"enabled"`
		Interval              string   `yaml:"interval"`
		DailyTokenQuota       *int     `yaml:"daily_token_quota"`
		StalenessThreshold    string   `yaml:"staleness_threshold"`
		Mode                  string   `yaml:"mode"`
		HeuristicThreshold    float64  `yaml:"heuristic_threshold"`
		EstimateTokensPerItem int      `yaml:"estimate_tokens_per_item"`
		VIPSenders            []string `yaml:"vip_senders"`
	}
	type dbFile struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Database string `yaml:"database"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		SSLMode  string `yaml:"sslmode"`
	}
	type gatewayFile struct {
		BaseURL    string `yaml:"base_url"`
		APIKey     string `yaml:"api_key"`
		Model      string `yaml:"model"`
		Structured *bool  `yaml:"structured"`
		Timeout    string `yaml:"timeout"`
	}
	type configFile struct {
		LogLevel    string       `yaml:"log_level"`
		LogFormat   string       `yaml:"log_format"`
		DB          *dbFile      `yaml:"db"`
		Redis       *RedisConfig `yaml:"redis"`
		Gateway     *gatewayFile `yaml:"gateway"`
		MetricsAddr string       `yaml:"metrics_addr"`
		Priority    *domainFile  `yaml:"priority"`
		Progress    *domainFile  `yaml:"progress"`
	}

	var fileCfg configFile
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	if fileCfg.LogLevel != "" {
		cfg.Logging.Level = logging.Level(fileCfg.LogLevel)
	}
	if fileCfg.LogFormat != "" {
		cfg.Logging.JSONFormat = fileCfg.LogFormat == "json"
	}
	if fileCfg.MetricsAddr != "" {
		cfg.MetricsAddr = fileCfg.MetricsAddr
	}
	if fileCfg.Redis != nil {
		cfg.Redis = *fileCfg.Redis
		if cfg.Redis.Addr == "" {
			cfg.Redis.Addr = DefaultRedisAddr
		}
	}

	if f := fileCfg.DB; f != nil {
		if f.Host != "" {
			cfg.DB.Host = f.Host
		}
		if f.Port != 0 {
			cfg.DB.Port = f.Port
		}
		if f.Database != "" {
			cfg.DB.Database = f.Database
		}
		if f.User != "" {
			cfg.DB.User = f.User
		}
		if f.Password != "" {
			cfg.DB.Password = f.Password
		}
		if f.SSLMode != "" {
			cfg.DB.SSLMode = f.SSLMode
		}
	}

	if f := fileCfg.Gateway; f != nil {
		if f.BaseURL != "" {
			cfg.Gateway.BaseURL = f.BaseURL
		}
		if f.APIKey != "" {
			cfg.Gateway.APIKey = f.APIKey
		}
		if f.Model != "" {
			cfg.Gateway.Model = f.Model
		}
		if f.Structured != nil {
			cfg.Gateway.Structured = *f.Structured
		}
		if f.Timeout != "" {
			d, err := time.ParseDuration(f.Timeout)
			if err != nil {
				return fmt.Errorf("parsing gateway timeout: %w", err)
			}
			cfg.Gateway.Timeout = d
		}
	}

	overlay := func(dst *DomainConfig, f *domainFile, name string) error {
		if f == nil {
			return nil
		}
		if f.Enabled != nil {
			dst.Enabled = *f.Enabled
		}
		if f.Interval != "" {
			d, err := time.ParseDuration(f.Interval)
			if err != nil {
				return fmt.Errorf("parsing %s interval: %w", name, err)
			}
			dst.Interval = d
		}
		if f.DailyTokenQuota != nil {
			dst.DailyTokenQuota = *f.DailyTokenQuota
		}
		if f.StalenessThreshold != "" {
			d, err := time.ParseDuration(f.StalenessThreshold)
			if err != nil {
				return fmt.Errorf("parsing %s staleness threshold: %w", name, err)
			}
			dst.StalenessThreshold = d
		}
		if f.Mode != "" {
			dst.Mode = f.Mode
		}
		if f.HeuristicThreshold > 0 {
			dst.HeuristicThreshold = f.HeuristicThreshold
		}
		if f.EstimateTokensPerItem > 0 {
			dst.EstimateTokensPerItem = f.EstimateTokensPerItem
		}
		if f.VIPSenders != nil {
			dst.VIPSenders = f.VIPSenders
		}
		return nil
	}
	if err := overlay(&cfg.Priority, fileCfg.Priority, "priority"); err != nil {
		return err
	}
	if err := overlay(&cfg.Progress, fileCfg.Progress, "progress"); err != nil {
		return err
	}

	return nil
}

// loadFromEnv overlays configuration from environment variables.
func loadFromEnv(cfg *Config) {
	if v := os.Getenv("TRIAGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = logging.Level(v)
	}
	if v := os.Getenv("TRIAGE_LOG_FORMAT"); v != "" {
		cfg.Logging.JSONFormat = v == "json"
	}
	if v := os.Getenv("TRIAGE_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}

	if v := os.Getenv("TRIAGE_DB_HOST"); v != "" {
		cfg.DB.Host = v
	}
	if v := os.Getenv("TRIAGE_DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.DB.Port = p
		}
	}
	if v := os.Getenv("TRIAGE_DB_NAME"); v != "" {
		cfg.DB.Database = v
	}
	if v := os.Getenv("TRIAGE_DB_USER"); v != "" {
		cfg.DB.User = v
	}
	if v := os.Getenv("TRIAGE_DB_PASSWORD"); v != "" {
		cfg.DB.Password = v
	}
	if v := os.Getenv("TRIAGE_DB_SSLMODE"); v != "" {
		cfg.DB.SSLMode = v
	}

	if v := os.Getenv("TRIAGE_REDIS_ADDR"); v != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("TRIAGE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TRIAGE_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}

	if v := os.Getenv("TRIAGE_GATEWAY_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("TRIAGE_GATEWAY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("TRIAGE_GATEWAY_MODEL"); v != "" {
		cfg.Gateway.Model = v
	}
}

// Validate checks the configuration for semantic errors.
func (c *Config) Validate() error {
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway base_url is required")
	}
	if c.Gateway.Model == "" {
		return fmt.Errorf("gateway model is required")
	}
	if err := c.DB.Validate(); err != nil {
		return fmt.Errorf("db: %w", err)
	}

	validate := func(d DomainConfig, name string) error {
		if !d.Enabled {
			return nil
		}
		switch scheduler.Mode(strings.ToLower(d.Mode)) {
		case scheduler.ModeFull, scheduler.ModeHybrid, "":
		default:
			return fmt.Errorf("%s: mode must be %q or %q", name, scheduler.ModeFull, scheduler.ModeHybrid)
		}
		if d.Interval < 0 {
			return fmt.Errorf("%s: interval must be positive", name)
		}
		if d.DailyTokenQuota < 0 {
			return fmt.Errorf("%s: daily_token_quota must not be negative", name)
		}
		if d.HeuristicThreshold < 0 || d.HeuristicThreshold > 1 {
			return fmt.Errorf("%s: heuristic_threshold must be in [0,1]", name)
		}
		return nil
	}
	if err := validate(c.Priority, "priority"); err != nil {
		return err
	}
	if err := validate(c.Progress, "progress"); err != nil {
		return err
	}
	return nil
}
