package workers

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceConfig tunes a single data source
type SourceConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// Config is the worker pool configuration loaded from sources.yaml
type Config struct {
	Queue       string                  `yaml:"queue"`
	Concurrency int                     `yaml:"concurrency"`
	Sources     map[string]SourceConfig `yaml:"sources"`
}

// DefaultConfig returns sane defaults used when no sources.yaml exists
func DefaultConfig() *Config {
	return &Config{
		Queue:       "studentquery:work",
		Concurrency: 4,
	}
}

// LoadConfig reads worker configuration from a YAML file. A missing file is
// not an error; defaults apply.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read worker config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse worker config: %w", err)
	}

	if cfg.Queue == "" {
		cfg.Queue = "studentquery:work"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return cfg, nil
}

// SourceTimeout returns the per-source timeout, falling back to the given
// default when the source has no override
func (c *Config) SourceTimeout(source string, fallback time.Duration) time.Duration {
	if sc, ok := c.Sources[source]; ok && sc.Timeout > 0 {
		return sc.Timeout
	}
	return fallback
}
