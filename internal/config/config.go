// Package config loads daemon configuration: compiled defaults, then an
// optional YAML file, then environment variable overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Duration accepts "20s"-style strings in both YAML and env values.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

type Config struct {
	// SaveDirs are the directories polled for *.sav files. One directory
	// holds one playthrough's saves.
	SaveDirs []string `yaml:"save_dirs" env:"DASHBOARD_SAVE_DIRS" envSeparator:":"`

	// DataDir holds the database, snapshot archives and ingest logs.
	DataDir string `yaml:"data_dir" env:"DASHBOARD_DATA_DIR"`

	HTTPAddr string `yaml:"http_addr" env:"DASHBOARD_HTTP_ADDR"`

	PollInterval Duration `yaml:"poll_interval" env:"DASHBOARD_POLL_INTERVAL"`
	StablePolls  int      `yaml:"stable_polls" env:"DASHBOARD_STABLE_POLLS"`
	Workers      int      `yaml:"workers" env:"DASHBOARD_WORKERS"`
	RetryCap     int      `yaml:"retry_cap" env:"DASHBOARD_RETRY_CAP"`
}

func defaults() Config {
	return Config{
		DataDir:      "data",
		HTTPAddr:     ":28015",
		PollInterval: Duration(20 * time.Second),
		StablePolls:  2,
		Workers:      2,
		RetryCap:     3,
	}
}

// Load reads path (skipped when empty), applies env overrides and
// validates. The zero path with no env set yields the defaults.
func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	var dirs []string
	for _, d := range c.SaveDirs {
		if d = strings.TrimSpace(d); d != "" {
			dirs = append(dirs, d)
		}
	}
	c.SaveDirs = dirs
	if c.StablePolls < 1 {
		c.StablePolls = 1
	}
}

func (c Config) Validate() error {
	if len(c.SaveDirs) == 0 {
		return fmt.Errorf("save_dirs must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("http_addr must not be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be > 0")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1")
	}
	if c.RetryCap < 1 {
		return fmt.Errorf("retry_cap must be >= 1")
	}
	return nil
}
