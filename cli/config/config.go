package config

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Config represents a cinema.yaml configuration file.
// All values are optional and act as defaults for the matching command
// flags. CLI flags always override config values.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Collector CollectorConfig `yaml:"collector"`
	Producer  ProducerConfig  `yaml:"producer"`
	Storage   StorageConfig   `yaml:"storage"`
	Adapter   AdapterConfig   `yaml:"adapter"`
}

// CollectorConfig holds cinema collect defaults.
type CollectorConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	Output      string   `yaml:"output"`
	Timesteps   int      `yaml:"timesteps"`
	Phi         int      `yaml:"phi"`
	Theta       int      `yaml:"theta"`
	MaxPayload  string   `yaml:"max_payload"`
	IdleTimeout Duration `yaml:"idle_timeout"`
	MetricsAddr string   `yaml:"metrics_addr"`
}

// ProducerConfig holds cinema send and cinema watch defaults.
type ProducerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	Input          string   `yaml:"input"`
	Ledger         string   `yaml:"ledger"`
	Name           string   `yaml:"name"`
	TimestepFilter bool     `yaml:"timestep_filter"`
	Timeout        Duration `yaml:"timeout"`
	Count          int      `yaml:"count"`
	Interval       Duration `yaml:"interval"`
}

// StorageConfig selects where the collector writes.
type StorageConfig struct {
	Backend     string `yaml:"backend"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds adapter defaults from the config file.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	List    string            `yaml:"list,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Validate checks values that cannot be checked by the YAML decoder.
func (c *Config) Validate() error {
	for _, p := range []struct {
		name string
		port int
	}{
		{"collector.port", c.Collector.Port},
		{"producer.port", c.Producer.Port},
	} {
		if p.port < 0 || p.port > 65535 {
			return fmt.Errorf("%s must be in 0-65535, got %d", p.name, p.port)
		}
	}
	if c.Collector.MaxPayload != "" {
		if _, err := humanize.ParseBytes(c.Collector.MaxPayload); err != nil {
			return fmt.Errorf("collector.max_payload: %w", err)
		}
	}
	switch c.Storage.Backend {
	case "", "fs", "s3":
	default:
		return fmt.Errorf("storage.backend must be fs or s3, got %q", c.Storage.Backend)
	}
	switch c.Adapter.Type {
	case "", "redis", "webhook":
	default:
		return fmt.Errorf("adapter.type must be redis or webhook, got %q", c.Adapter.Type)
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		return fmt.Errorf("adapter.url is required for adapter type %q", c.Adapter.Type)
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		return fmt.Errorf("adapter.retries must be >= 0, got %d", *c.Adapter.Retries)
	}
	return nil
}
