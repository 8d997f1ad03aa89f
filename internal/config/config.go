package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models upkeep.yml.
type Config struct {
	Service struct {
		ID string `yaml:"id"`
	} `yaml:"service"`
	// Timezone is the IANA zone used to normalize service dates to calendar
	// days for dedup and to bound the cron trigger's "today" window.
	Timezone string `yaml:"timezone"`
	Cron     struct {
		Schedule string `yaml:"schedule"`
	} `yaml:"cron"`
	WorkOrders struct {
		NumberPrefix    string `yaml:"number_prefix"`
		RecurringPrefix string `yaml:"recurring_prefix"`
	} `yaml:"work_orders"`
	Notifications struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"notifications"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run upkeep init or pass --workspace", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default("upkeep"), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Service.ID == "" {
		return fmt.Errorf("config.service.id is required")
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("config.timezone %q: %w", c.Timezone, err)
		}
	}
	if c.Cron.Schedule == "" {
		return fmt.Errorf("config.cron.schedule is required")
	}
	if c.WorkOrders.NumberPrefix == "" {
		return fmt.Errorf("config.work_orders.number_prefix is required")
	}
	if c.WorkOrders.RecurringPrefix == "" {
		return fmt.Errorf("config.work_orders.recurring_prefix is required")
	}
	return nil
}

// Location resolves the configured time zone, defaulting to UTC.
func (c *Config) Location() *time.Location {
	if c == nil || c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "upkeep.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(serviceID string) string {
	return fmt.Sprintf(defaultTemplate, serviceID)
}

// Default returns the default Config struct for a service.
func Default(serviceID string) *Config {
	var cfg Config
	cfg.Service.ID = serviceID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, serviceID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `service:
  id: %s

timezone: UTC

cron:
  schedule: "0 6 * * *"

work_orders:
  number_prefix: WO
  recurring_prefix: RWO

notifications:
  enabled: true
`
