package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SMTPConfig holds outbound mail settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`     // mail relay host
	Port     int    `yaml:"port"`     // default 587
	Username string `yaml:"username"` // empty = no auth
	Password string `yaml:"password"`
	From     string `yaml:"from"` // sender address
}

// RTIRConfig holds the incident tracker endpoint. Leave URL empty to
// disable ticket creation.
type RTIRConfig struct {
	URL      string `yaml:"url"` // e.g. https://rtir.example.org
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Queue    string `yaml:"queue"` // default "Incident Reports"
}

// CaptureConfig points at the headless-browser capture service.
type CaptureConfig struct {
	URL     string        `yaml:"url"`     // capture API endpoint
	MaxTime time.Duration `yaml:"maxTime"` // default 60s wall clock per capture
}

// Config holds oju runtime configuration. Operator-tunable monitoring
// settings (proxies, whitelist, scan toggles) live in the database; this file
// covers service-level wiring only.
type Config struct {
	ListenAddr   string        `yaml:"listenAddr"`   // default ":8080"
	MetricsPath  string        `yaml:"metricsPath"`  // default "/metrics"
	DatabasePath string        `yaml:"databasePath"` // default "oju.db"
	MediaDir     string        `yaml:"mediaDir"`     // screenshot root, default "media"
	SettingsTTL  time.Duration `yaml:"settingsTTL"`  // default 12h
	SMTP         SMTPConfig    `yaml:"smtp"`
	RTIR         RTIRConfig    `yaml:"rtir"`
	Capture      CaptureConfig `yaml:"capture"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		ListenAddr:   ":8080",
		MetricsPath:  "/metrics",
		DatabasePath: "oju.db",
		MediaDir:     "media",
		SettingsTTL:  12 * time.Hour,
		SMTP:         SMTPConfig{Port: 587},
		RTIR:         RTIRConfig{Queue: "Incident Reports"},
		Capture:      CaptureConfig{MaxTime: 60 * time.Second},
	}
}

// Load reads a YAML config file and merges with defaults.
func Load(path string) (*Config, error) {
	c := Defaults()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return c, nil
}

// Validate checks that the config values are sane.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listenAddr must not be empty")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("databasePath must not be empty")
	}
	if c.SettingsTTL <= 0 {
		return fmt.Errorf("settingsTTL must be positive, got %s", c.SettingsTTL)
	}
	if c.Capture.MaxTime < time.Second {
		return fmt.Errorf("capture.maxTime must be at least 1s, got %s", c.Capture.MaxTime)
	}
	if c.SMTP.Host != "" && c.SMTP.Port <= 0 {
		return fmt.Errorf("smtp.port must be positive, got %d", c.SMTP.Port)
	}
	return nil
}
