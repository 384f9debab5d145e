package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AppConfig holds process-level settings.
type AppConfig struct {
	Timezone            string  `yaml:"timezone"`
	ReportPath          string  `yaml:"report_path"`
	DatabasePath        string  `yaml:"database_path"`
	UserAgent           string  `yaml:"user_agent"`
	RequestDelaySeconds float64 `yaml:"request_delay_seconds"`
}

// SourceConfig enables a listing site and names the search URLs to poll.
type SourceConfig struct {
	Enabled bool     `yaml:"enabled"`
	URLs    []string `yaml:"urls"`
}

// TelegramConfig configures the Telegram notification sink. The bot
// token is deliberately not part of the file; it comes from the
// TELEGRAM_BOT_TOKEN environment variable.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	ChatID  string `yaml:"chat_id"`
}

type NotificationsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// Config is the full monitor configuration loaded from config.yaml.
type Config struct {
	App           AppConfig               `yaml:"app"`
	Sources       map[string]SourceConfig `yaml:"sources"`
	Notifications NotificationsConfig     `yaml:"notifications"`
}

// Load reads and parses a YAML config file, expanding ${ENV} references
// and applying defaults for unset app fields. A load failure is fatal
// to the run, so errors carry the path for the operator.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Timezone == "" {
		c.App.Timezone = "Europe/Berlin"
	}
	if c.App.ReportPath == "" {
		c.App.ReportPath = "reports/latest.md"
	}
	if c.App.DatabasePath == "" {
		c.App.DatabasePath = "data/monitor.db"
	}
	if c.App.UserAgent == "" {
		c.App.UserAgent = "porsche-monitor/0.1 (+contact: you@example.com)"
	}
	if c.App.RequestDelaySeconds == 0 {
		c.App.RequestDelaySeconds = 4.0
	}
	if c.Sources == nil {
		c.Sources = map[string]SourceConfig{}
	}
}
