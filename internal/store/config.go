package store

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Mode     string `yaml:"mode"` // DRY_RUN or LIVE
	Exchange string `yaml:"exchange"`

	Auth struct {
		LoginURL            string   `yaml:"login_url"`   // optional override of the Kite login URL
		TokenParam          string   `yaml:"token_param"` // redirect query parameter carrying the auth code
		MaxAttempts         int      `yaml:"max_attempts"`
		StageTimeoutSeconds int      `yaml:"stage_timeout_seconds"`
		BackoffInitialMs    int      `yaml:"backoff_initial_ms"`
		BackoffMaxMs        int      `yaml:"backoff_max_ms"`
		SafetyMarginMinutes int      `yaml:"safety_margin_minutes"`
		LockoutPatterns     []string `yaml:"lockout_patterns"`
		InvalidCodePatterns []string `yaml:"invalid_code_patterns"`
	} `yaml:"auth"`

	Driver struct {
		CacheDir      string `yaml:"cache_dir"`
		BrowserBinary string `yaml:"browser_binary"`
		Headless      bool   `yaml:"headless"`
		SHA256        string `yaml:"sha256"` // optional pinned checksum for the driver archive
		MaxAttempts   int    `yaml:"max_attempts"`
	} `yaml:"driver"`

	Health struct {
		IntervalSeconds int `yaml:"interval_seconds"`
	} `yaml:"health"`
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if c.Auth.MaxAttempts < 1 {
		return fmt.Errorf("auth.max_attempts must be >= 1, got %d", c.Auth.MaxAttempts)
	}
	if c.Auth.StageTimeoutSeconds < 1 {
		return fmt.Errorf("auth.stage_timeout_seconds must be >= 1, got %d", c.Auth.StageTimeoutSeconds)
	}
	if c.Driver.MaxAttempts < 1 {
		return fmt.Errorf("driver.max_attempts must be >= 1, got %d", c.Driver.MaxAttempts)
	}
	return nil
}

func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.Auth.StageTimeoutSeconds) * time.Second
}

func (c *Config) SafetyMargin() time.Duration {
	return time.Duration(c.Auth.SafetyMarginMinutes) * time.Minute
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.Mode == "" {
		c.Mode = "DRY_RUN"
	}
	if c.Exchange == "" {
		c.Exchange = "NSE"
	}
	if c.Auth.TokenParam == "" {
		c.Auth.TokenParam = "request_token"
	}
	if c.Auth.MaxAttempts == 0 {
		c.Auth.MaxAttempts = 3
	}
	if c.Auth.StageTimeoutSeconds == 0 {
		c.Auth.StageTimeoutSeconds = 30
	}
	if c.Auth.BackoffInitialMs == 0 {
		c.Auth.BackoffInitialMs = 2000
	}
	if c.Auth.BackoffMaxMs == 0 {
		c.Auth.BackoffMaxMs = 30000
	}
	if c.Auth.SafetyMarginMinutes == 0 {
		c.Auth.SafetyMarginMinutes = 5
	}
	if len(c.Auth.LockoutPatterns) == 0 {
		c.Auth.LockoutPatterns = []string{"account is blocked", "too many attempts", "captcha"}
	}
	if len(c.Auth.InvalidCodePatterns) == 0 {
		c.Auth.InvalidCodePatterns = []string{"invalid totp", "invalid code"}
	}
	if c.Driver.CacheDir == "" {
		home, _ := os.UserHomeDir()
		c.Driver.CacheDir = home + "/.cache/kite-trading-bot/drivers"
	}
	if c.Driver.BrowserBinary == "" {
		c.Driver.BrowserBinary = "google-chrome"
	}
	if c.Driver.MaxAttempts == 0 {
		c.Driver.MaxAttempts = 3
	}
	if c.Health.IntervalSeconds == 0 {
		c.Health.IntervalSeconds = 300
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}
