// Package config loads the service configuration file and the
// optional Docker registry credentials mounted next to it.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Logging controls the service log output.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the service configuration file structure.
type Config struct {
	Logging Logging `yaml:"logging"`

	// PollInterval is the delay between machine ticks.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Namespace to create pull jobs in. Detected from the service
	// account when empty.
	Namespace string `yaml:"namespace"`

	// DockerSecretName is copied into each pull job's pod spec as
	// an image pull secret.
	DockerSecretName string `yaml:"docker_secret_name"`

	// DockerConfigPath points at a mounted .dockerconfigjson used
	// to authenticate registry API calls.
	DockerConfigPath string `yaml:"docker_config_path"`
}

// Load reads configuration from a YAML file and applies defaults.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 60 * time.Second
	}
	if c.DockerSecretName == "" {
		c.DockerSecretName = "pull-secret"
	}
}
