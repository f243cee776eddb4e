package runtime

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// WorkloadConfig is the parsed form of a workload's opaque
// runtimeConfig string. Both bundled runtimes understand the same
// shape; unknown keys are rejected so typos fail at create time rather
// than silently.
type WorkloadConfig struct {
	Image   string            `yaml:"image"`
	Command []string          `yaml:"commandArgs,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Ports   []PortMapping     `yaml:"ports,omitempty"`
	Mounts  []Mount           `yaml:"mounts,omitempty"`
}

// PortMapping publishes a container port on the host.
type PortMapping struct {
	HostPort      int    `yaml:"hostPort"`
	ContainerPort int    `yaml:"containerPort"`
	Protocol      string `yaml:"protocol,omitempty"`
}

// Mount binds a host path into the container.
type Mount struct {
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	ReadOnly bool   `yaml:"readOnly,omitempty"`
}

// ParseWorkloadConfig parses and validates a runtimeConfig string.
func ParseWorkloadConfig(raw string) (WorkloadConfig, error) {
	var cfg WorkloadConfig
	dec := yaml.NewDecoder(strings.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing runtime config: %w", err)
	}
	if cfg.Image == "" {
		return cfg, fmt.Errorf("runtime config misses the image field")
	}
	return cfg, nil
}

// EnvList renders the env map as KEY=VALUE pairs.
func (c WorkloadConfig) EnvList() []string {
	out := make([]string, 0, len(c.Env))
	for k, v := range c.Env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}
