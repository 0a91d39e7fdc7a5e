package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/cyface-de/uplink/common"
)

type CollectorConfig struct {
	URL               string `yaml:"url"`                // measurements endpoint
	LoginURL          string `yaml:"login_url"`          // empty when a static token is used
	Username          string `yaml:"username"`
	Password          string `yaml:"password"`
	Token             string `yaml:"token"`              // static bearer token, overrides login
	UploadLimitBytes  int64  `yaml:"upload_limit_bytes"` // 0 = unknown server limit
	StallTimeoutSecs  int    `yaml:"stall_timeout_seconds"`
	RequestsPerSecond int    `yaml:"requests_per_second"`
}

type DeviceConfig struct {
	ID         string `yaml:"id"` // generated and persisted on first start
	Type       string `yaml:"type"`
	OsVersion  string `yaml:"os_version"`
	AppVersion string `yaml:"app_version"`
	Modality   string `yaml:"modality"`
}

type SyncConfig struct {
	DatabasePath    string `yaml:"database_path"`
	TempDir         string `yaml:"temp_dir"`
	IntervalSeconds int    `yaml:"interval_seconds"` // 0 = single pass
	MetricsAddr     string `yaml:"metrics_addr"`     // empty disables the metrics listener
}

type Config struct {
	Collector CollectorConfig `yaml:"collector"`
	Device    DeviceConfig    `yaml:"device"`
	Sync      SyncConfig      `yaml:"sync"`
}

func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

func (c *Config) StallTimeout() time.Duration {
	return time.Duration(c.Collector.StallTimeoutSecs) * time.Second
}

func (c *Config) validate() error {
	if c.Collector.URL == "" {
		return fmt.Errorf("collector.url is required")
	}
	if c.Collector.Token == "" && (c.Collector.LoginURL == "" || c.Collector.Username == "") {
		return fmt.Errorf("either collector.token or collector.login_url with credentials is required")
	}
	if c.Sync.DatabasePath == "" {
		return fmt.Errorf("sync.database_path is required")
	}
	if !slices.Contains(common.ValidModalities, c.Device.Modality) {
		return fmt.Errorf("device.modality %q is not one of %v", c.Device.Modality, common.ValidModalities)
	}
	return nil
}

// Load reads the YAML configuration, fills defaults and, on a first start
// without a device id, generates one and writes it back so the collector
// sees a stable identifier across restarts.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Device.Modality == "" {
		cfg.Device.Modality = "UNKNOWN"
	}
	if cfg.Collector.StallTimeoutSecs == 0 {
		cfg.Collector.StallTimeoutSecs = 60
	}
	if cfg.Collector.RequestsPerSecond == 0 {
		cfg.Collector.RequestsPerSecond = 1
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// only a valid config is written back; a broken file stays untouched
	if cfg.Device.ID == "" {
		cfg.Device.ID = uuid.NewString()
		out, merr := yaml.Marshal(cfg)
		if merr == nil {
			merr = os.WriteFile(path, out, 0644)
		}
		if merr != nil {
			return nil, fmt.Errorf("persist generated device id: %w", merr)
		}
	}
	return cfg, nil
}
