package infra

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration. Secrets can be supplied
// via environment variables which override the file values.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading struct {
		Mode string `yaml:"mode"` // "paper" or "live"
	} `yaml:"trading"`

	Broker struct {
		RestURL   string `yaml:"rest_url"`
		FeedWSURL string `yaml:"feed_ws_url"`
		APIKey    string `yaml:"api_key"`
		APISecret string `yaml:"api_secret"`
	} `yaml:"broker"`

	Retry struct {
		Attempts    int  `yaml:"attempts"`
		DelaySec    int  `yaml:"delay_sec"`
		Exponential bool `yaml:"exponential"`
	} `yaml:"retry"`

	Loops struct {
		PlacementIntervalSec int `yaml:"placement_interval_sec"`
		RatchetIntervalSec   int `yaml:"ratchet_interval_sec"`
		ReconcileIntervalSec int `yaml:"reconcile_interval_sec"`
		ReconcileMissBudget  int `yaml:"reconcile_miss_budget"`
	} `yaml:"loops"`

	Portfolio struct {
		MaxPositions    int     `yaml:"max_positions"`
		CapitalPerTrade float64 `yaml:"capital_per_trade"`
	} `yaml:"portfolio"`

	RateLimit struct {
		Burst     int     `yaml:"burst"`
		PerSecond float64 `yaml:"per_second"`
	} `yaml:"rate_limit"`

	Calendar struct {
		Holidays []string `yaml:"holidays"` // YYYY-MM-DD
	} `yaml:"calendar"`

	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // "text" or "json"
	} `yaml:"logging"`
}

// LoadConfig reads and parses the config file, applies environment
// overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Trading.Mode == "" {
		c.Trading.Mode = "paper"
	}
	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = 3
	}
	if c.Retry.DelaySec == 0 {
		c.Retry.DelaySec = 2
	}
	if c.Loops.PlacementIntervalSec == 0 {
		c.Loops.PlacementIntervalSec = 60
	}
	if c.Loops.RatchetIntervalSec == 0 {
		c.Loops.RatchetIntervalSec = 60
	}
	if c.Loops.ReconcileIntervalSec == 0 {
		c.Loops.ReconcileIntervalSec = 60
	}
	if c.Loops.ReconcileMissBudget == 0 {
		c.Loops.ReconcileMissBudget = 3
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 5
	}
	if c.RateLimit.PerSecond == 0 {
		c.RateLimit.PerSecond = 3
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = "orders.db"
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Trading.Mode != "paper" && c.Trading.Mode != "live" {
		return fmt.Errorf("trading mode must be paper or live, got %q", c.Trading.Mode)
	}
	if c.Trading.Mode == "live" && c.Broker.RestURL == "" {
		return fmt.Errorf("broker rest_url is required in live mode")
	}
	if c.Portfolio.MaxPositions <= 0 {
		return fmt.Errorf("portfolio max_positions must be positive")
	}
	if c.Portfolio.CapitalPerTrade <= 0 {
		return fmt.Errorf("portfolio capital_per_trade must be positive")
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1")
	}
	return nil
}

// RetryPolicy builds the broker-call retry schedule from config.
func (c *Config) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:    c.Retry.Attempts,
		Delay:       time.Duration(c.Retry.DelaySec) * time.Second,
		Exponential: c.Retry.Exponential,
	}
}

// overrideWithEnv applies environment variables over file values. Env wins
// so secrets can stay out of the config file.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("TRADE_AGENT_API_KEY"); key != "" {
		cfg.Broker.APIKey = key
	}
	if secret := os.Getenv("TRADE_AGENT_API_SECRET"); secret != "" {
		cfg.Broker.APISecret = secret
	}
	if mode := os.Getenv("TRADE_AGENT_MODE"); mode != "" {
		cfg.Trading.Mode = mode
	}
}
