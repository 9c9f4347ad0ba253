// Package config loads engine settings from defaults, an optional config file
// and environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/codecalc/junction-engine/internal/cover"
)

// Config holds all engine settings.
type Config struct {
	Port           string `mapstructure:"port"`
	LogLevel       string `mapstructure:"log_level"`
	AllowedOrigins string `mapstructure:"allowed_origins"`
	AuthToken      string `mapstructure:"api_auth_token"`
	GinMode        string `mapstructure:"gin_mode"`

	Store     StoreConfig     `mapstructure:"store"`
	Sheets    SheetsConfig    `mapstructure:"sheets"`
	Solver    cover.Config    `mapstructure:"solver"`
	Junction  JunctionConfig  `mapstructure:"junction"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Shadow    ShadowConfig    `mapstructure:"shadow"`
}

// StoreConfig selects the persistence backend. An empty driver runs without one.
type StoreConfig struct {
	Driver      string `mapstructure:"driver"` // postgres, sqlite or ""
	DatabaseURL string `mapstructure:"database_url"`
	SQLitePath  string `mapstructure:"sqlite_path"`
}

// SheetsConfig locates the certificate spreadsheets. Bucket takes precedence over Dir.
type SheetsConfig struct {
	Bucket          string        `mapstructure:"bucket"`
	Prefix          string        `mapstructure:"prefix"`
	CredentialsJSON string        `mapstructure:"credentials_json"`
	Dir             string        `mapstructure:"dir"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// JunctionConfig carries the commercial defaults.
type JunctionConfig struct {
	BaseCommission         float64 `mapstructure:"base_commission"`
	DefaultExtraCommission float64 `mapstructure:"default_extra_commission"`
	DefaultEntryCeiling    float64 `mapstructure:"default_entry_ceiling"`
	MaxResults             int     `mapstructure:"max_results"`
	Workers                int     `mapstructure:"workers"`
}

// WebhookConfig configures outbound notifications. An empty URL disables them.
type WebhookConfig struct {
	URL      string        `mapstructure:"url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxTries uint          `mapstructure:"max_tries"`
}

// RateLimitConfig bounds junction requests per client IP.
type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute"`
	Burst     int `mapstructure:"burst"`
}

// ShadowConfig enables the exact-vs-approximate audit on small groups.
type ShadowConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// envAliases keeps the environment names used by earlier deployments working.
var envAliases = map[string][]string{
	"port":                       {"PORT"},
	"log_level":                  {"LOG_LEVEL"},
	"allowed_origins":            {"ALLOWED_ORIGINS"},
	"api_auth_token":             {"API_AUTH_TOKEN"},
	"gin_mode":                   {"GIN_MODE"},
	"store.driver":               {"STORE_DRIVER"},
	"store.database_url":         {"DATABASE_URL"},
	"store.sqlite_path":          {"SQLITE_PATH"},
	"sheets.bucket":              {"GCS_BUCKET"},
	"sheets.prefix":              {"GCS_PREFIX"},
	"sheets.credentials_json":    {"GCP_SERVICE_ACCOUNT_JSON"},
	"sheets.dir":                 {"SHEETS_DIR"},
	"sheets.refresh_interval":    {"SHEETS_REFRESH_INTERVAL"},
	"solver.exact_threshold":     {"SOLVER_EXACT_THRESHOLD"},
	"solver.epsilon":             {"SOLVER_EPSILON", "CODE_FPTAS_EPS"},
	"solver.max_frontier_states": {"SOLVER_MAX_FRONTIER_STATES", "CODE_FPTAS_MAX"},
	"webhook.url":                {"WEBHOOK_URL"},
	"shadow.enabled":             {"SHADOW_ENABLED"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "5339")
	v.SetDefault("log_level", "info")
	v.SetDefault("allowed_origins", "")
	v.SetDefault("api_auth_token", "")
	v.SetDefault("gin_mode", "")

	v.SetDefault("store.driver", "")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "junction.db")

	v.SetDefault("sheets.bucket", "")
	v.SetDefault("sheets.prefix", "")
	v.SetDefault("sheets.credentials_json", "")
	v.SetDefault("sheets.dir", "")
	v.SetDefault("sheets.refresh_interval", 5*time.Minute)

	v.SetDefault("solver.exact_threshold", cover.DefaultExactThreshold)
	v.SetDefault("solver.epsilon", cover.DefaultEpsilon)
	v.SetDefault("solver.max_frontier_states", cover.DefaultMaxFrontierStates)

	v.SetDefault("junction.base_commission", 0.05)
	v.SetDefault("junction.default_extra_commission", 0.02)
	v.SetDefault("junction.default_entry_ceiling", 0.47)
	v.SetDefault("junction.max_results", cover.DefaultMaxResults)
	v.SetDefault("junction.workers", 0)

	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.timeout", 10*time.Second)
	v.SetDefault("webhook.max_tries", 4)

	v.SetDefault("rate_limit.per_minute", 30)
	v.SetDefault("rate_limit.burst", 10)

	v.SetDefault("shadow.enabled", false)
}

// Load reads the configuration. configFile may be empty. Every key can be set
// from the environment as its upper-cased path with dots replaced by
// underscores (JUNCTION_MAX_RESULTS), plus the aliases above.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range envAliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Store.Driver == "" && cfg.Store.DatabaseURL != "" {
		cfg.Store.Driver = "postgres"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks for invalid configuration values.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Solver.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Store.Driver {
	case "", "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("store driver postgres requires DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	if c.Junction.BaseCommission < 0 || c.Junction.BaseCommission >= 1 {
		errs = append(errs, fmt.Errorf("base commission must be in [0, 1), got %.4f", c.Junction.BaseCommission))
	}
	if c.Junction.DefaultExtraCommission < 0 {
		errs = append(errs, fmt.Errorf("default extra commission must be >= 0, got %.4f", c.Junction.DefaultExtraCommission))
	}
	if c.Junction.DefaultEntryCeiling <= 0 {
		errs = append(errs, fmt.Errorf("default entry ceiling must be > 0, got %.4f", c.Junction.DefaultEntryCeiling))
	}
	if c.Junction.MaxResults < 1 {
		errs = append(errs, fmt.Errorf("max results must be >= 1, got %d", c.Junction.MaxResults))
	}
	if c.RateLimit.PerMinute < 1 || c.RateLimit.Burst < 1 {
		errs = append(errs, fmt.Errorf("rate limit must be positive, got %d/min burst %d", c.RateLimit.PerMinute, c.RateLimit.Burst))
	}
	if c.Webhook.URL != "" && c.Webhook.MaxTries < 1 {
		errs = append(errs, errors.New("webhook max tries must be >= 1"))
	}
	return errors.Join(errs...)
}
