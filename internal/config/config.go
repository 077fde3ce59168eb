// Package config loads the daemon configuration: defaults, then an optional
// YAML file, then NETCAP_* environment variables. Command-line flags are
// applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rsclarke/netcap/internal/settings"
)

type Config struct {
	DevToolsURL     string        `yaml:"devtools_url"`
	DBPath          string        `yaml:"db_path"`
	APIAddr         string        `yaml:"api_addr"`
	APIAuth         bool          `yaml:"api_auth"`
	ServerURL       string        `yaml:"server_url"`
	ScopeDomains    []string      `yaml:"scope_domains"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
	QueueSize       int           `yaml:"queue_size"`
}

func Default() Config {
	return Config{
		DevToolsURL:     "http://127.0.0.1:9222",
		DBPath:          "netcap.db",
		APIAddr:         "127.0.0.1:8089",
		APIAuth:         true,
		DeliveryTimeout: 10 * time.Second,
		QueueSize:       1024,
	}
}

// Load returns the defaults overlaid with the file at path (skipped when
// path is empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from NETCAP_* variables that are set.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("NETCAP_DEVTOOLS_URL"); v != "" {
		c.DevToolsURL = v
	}
	if v := getenv("NETCAP_DB"); v != "" {
		c.DBPath = v
	}
	if v := getenv("NETCAP_API_ADDR"); v != "" {
		c.APIAddr = v
	}
	if v := getenv("NETCAP_API_AUTH"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse NETCAP_API_AUTH: %w", err)
		}
		c.APIAuth = b
	}
	if v := getenv("NETCAP_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := getenv("NETCAP_SCOPE"); v != "" {
		c.ScopeDomains = settings.ParseDomains(v)
	}
	if v := getenv("NETCAP_DELIVERY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse NETCAP_DELIVERY_TIMEOUT: %w", err)
		}
		c.DeliveryTimeout = d
	}
	if v := getenv("NETCAP_QUEUE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse NETCAP_QUEUE_SIZE: %w", err)
		}
		c.QueueSize = n
	}
	return nil
}

// Validate checks the values the daemon cannot run without.
func (c Config) Validate() error {
	var errs []error
	if c.DevToolsURL == "" {
		errs = append(errs, errors.New("devtools_url is required"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.APIAddr == "" {
		errs = append(errs, errors.New("api_addr is required"))
	}
	if c.DeliveryTimeout <= 0 {
		errs = append(errs, errors.New("delivery_timeout must be positive"))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, errors.New("queue_size must be positive"))
	}
	if c.ServerURL != "" {
		if err := settings.Validate(settings.Snapshot{ServerURL: c.ServerURL}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Seed returns the settings used when none have been persisted yet.
func (c Config) Seed() settings.Snapshot {
	snap := settings.Default()
	if c.ServerURL != "" {
		snap.ServerURL = c.ServerURL
	}
	if c.ScopeDomains != nil {
		snap.ScopeDomains = c.ScopeDomains
	}
	return settings.Normalize(snap)
}
