package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Role is a static agent definition referenced by a service's role_ref.
// Loaded once at startup, never mutated afterwards.
type Role struct {
	Name        string  `yaml:"name"`
	Instruction string  `yaml:"instruction"`
	Model       string  `yaml:"model,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
	MaxSteps    int     `yaml:"max_steps,omitempty"`
}

// LoadRole reads and parses one role definition file.
func LoadRole(path string) (Role, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Role{}, fmt.Errorf("failed to read role file: %w", err)
	}

	var role Role
	if err := yaml.Unmarshal(data, &role); err != nil {
		return Role{}, fmt.Errorf("failed to parse role file %s: %w", path, err)
	}

	if role.Instruction == "" {
		return Role{}, fmt.Errorf("role file %s: instruction is required", path)
	}

	return role, nil
}
