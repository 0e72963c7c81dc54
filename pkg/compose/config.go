package compose

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a compose file, validates it, and returns the
// static service graph. The returned config is never mutated afterwards.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read compose file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse compose file %s: %w", path, err)
	}

	return cfg, nil
}

// Parse decodes compose YAML and validates the resulting service graph.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if len(cfg.Services) == 0 {
		return nil, fmt.Errorf("compose file defines no services")
	}

	for name, svc := range cfg.Services {
		svc.Name = name
		// Secrets and tokens may reference environment variables.
		for i := range svc.Triggers {
			svc.Triggers[i].Secret = os.ExpandEnv(svc.Triggers[i].Secret)
			svc.Triggers[i].Token = os.ExpandEnv(svc.Triggers[i].Token)
		}
		cfg.Services[name] = svc
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ServiceNames returns all service names in unspecified order.
func (c *Config) ServiceNames() []string {
	names := make([]string, 0, len(c.Services))
	for name := range c.Services {
		names = append(names, name)
	}
	return names
}
