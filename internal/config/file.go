// Package config loads the engine configuration from YAML and persists the
// user options in SQLite.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level engine configuration.
type Config struct {
	Browser   BrowserConfig   `yaml:"browser"`
	Scan      ScanConfig      `yaml:"scan"`
	Negotiate NegotiateConfig `yaml:"negotiate"`
	Quiesce   QuiesceConfig   `yaml:"quiesce"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	DBPath    string          `yaml:"db_path"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// BrowserConfig controls the Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Stealth          string        `yaml:"stealth"` // headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
}

type ScanConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

type NegotiateConfig struct {
	ListboxWait time.Duration `yaml:"listbox_wait"`
}

// QuiesceConfig tunes the wait for a table to stop changing.
type QuiesceConfig struct {
	StableChecks int           `yaml:"stable_checks"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchWindow  time.Duration `yaml:"batch_window"`
	Deadline     time.Duration `yaml:"deadline"`
}

// DeliveryConfig selects where downloads go. Dir receives files; Webhook,
// when set, also receives every export.
type DeliveryConfig struct {
	Dir     string `yaml:"dir"`
	Webhook string `yaml:"webhook"`
}

type SessionsConfig struct {
	MaxOpen int `yaml:"max_open"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Scan.Debounce <= 0 {
		c.Scan.Debounce = 500 * time.Millisecond
	}
	if c.Negotiate.ListboxWait <= 0 {
		c.Negotiate.ListboxWait = time.Second
	}
	if c.Quiesce.StableChecks <= 0 {
		c.Quiesce.StableChecks = 3
	}
	if c.Quiesce.PollInterval <= 0 {
		c.Quiesce.PollInterval = 500 * time.Millisecond
	}
	if c.Quiesce.BatchWindow <= 0 {
		c.Quiesce.BatchWindow = 250 * time.Millisecond
	}
	if c.Quiesce.Deadline <= 0 {
		c.Quiesce.Deadline = 30 * time.Second
	}
	if c.Delivery.Dir == "" {
		c.Delivery.Dir = "."
	}
	if c.Sessions.MaxOpen <= 0 {
		c.Sessions.MaxOpen = 8
	}
	if c.DBPath == "" {
		c.DBPath = "tablesniff.db"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8088"
	}
}

func (c *Config) validate() error {
	switch c.Browser.Stealth {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.stealth must be headless or headful, got %q", c.Browser.Stealth)
	}
	return nil
}
