// Package config loads Fuel's agent definitions, complexity→agent mapping,
// concurrency caps, and review policy from .fuel/config.yaml.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	defaultMaxConcurrent    = 2
	defaultMaxAgentAttempts = 3
	defaultCooldownSeconds  = 300
	defaultConsumePort      = 7731
)

// AgentDef configures one named agent executable.
type AgentDef struct {
	Command           string   `yaml:"command"`
	Args              []string `yaml:"args,omitempty"`
	MaxConcurrent     int      `yaml:"max_concurrent"`
	SessionResumeFlag string   `yaml:"session_resume_flag,omitempty"`
}

// ComplexityMapping maps a complexity level to an agent (and optionally a
// specific model).
type ComplexityMapping struct {
	Agent string `yaml:"agent"`
	Model string `yaml:"model,omitempty"`
}

// UnmarshalYAML accepts either a bare agent name string or a mapping object.
func (c *ComplexityMapping) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&c.Agent)
	}
	type plain ComplexityMapping
	return value.Decode((*plain)(c))
}

// ReviewPolicy configures the post-success review step.
type ReviewPolicy struct {
	Agent string `yaml:"agent,omitempty"`
	Model string `yaml:"model,omitempty"`
	Skip  bool   `yaml:"skip,omitempty"`
}

// ConsumePolicy configures the daemon's runtime behavior.
type ConsumePolicy struct {
	Port              int `yaml:"port"`
	MaxAgentAttempts  int `yaml:"max_agent_attempts"`
	CooldownSeconds   int `yaml:"cooldown_seconds"`
}

// Config is the full, resolved configuration document.
type Config struct {
	Agents     map[string]AgentDef          `yaml:"agents"`
	Complexity map[string]ComplexityMapping `yaml:"complexity"`
	Primary    string                       `yaml:"primary"`
	Review     ReviewPolicy                 `yaml:"review"`
	Consume    ConsumePolicy                `yaml:"consume"`
}

// Option customizes loading behavior.
type Option func(*loadOptions)

type loadOptions struct {
	path string
}

// WithPath overrides the config file path (defaults to the one resolved
// from the FuelContext by the caller).
func WithPath(path string) Option {
	return func(o *loadOptions) { o.path = path }
}

// Load reads and validates the config file at path, applying defaults for
// any option the document omits.
func Load(path string, opts ...Option) (*Config, error) {
	o := &loadOptions{path: path}
	for _, opt := range opts {
		opt(o)
	}

	cfg := &Config{
		Agents:     map[string]AgentDef{},
		Complexity: map[string]ComplexityMapping{},
		Consume: ConsumePolicy{
			Port:             defaultConsumePort,
			MaxAgentAttempts: defaultMaxAgentAttempts,
			CooldownSeconds:  defaultCooldownSeconds,
		},
	}

	data, err := os.ReadFile(o.path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", o.path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", o.path, err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Consume.Port == 0 {
		cfg.Consume.Port = defaultConsumePort
	}
	if cfg.Consume.MaxAgentAttempts == 0 {
		cfg.Consume.MaxAgentAttempts = defaultMaxAgentAttempts
	}
	if cfg.Consume.CooldownSeconds == 0 {
		cfg.Consume.CooldownSeconds = defaultCooldownSeconds
	}
	for name, def := range cfg.Agents {
		if def.MaxConcurrent == 0 {
			def.MaxConcurrent = defaultMaxConcurrent
			cfg.Agents[name] = def
		}
	}
}

// AgentAndModel resolves the (agent, model) pair for a complexity level,
// falling back to Primary when no explicit mapping exists.
func (c *Config) AgentAndModel(complexity string) (agent, model string) {
	if m, ok := c.Complexity[complexity]; ok && m.Agent != "" {
		return m.Agent, m.Model
	}
	return c.Primary, ""
}

// AgentMaxConcurrent returns the configured cap for agent, defaulting to 2
// (asserted by the misconfiguration boundary test) when the agent has no
// explicit entry.
func (c *Config) AgentMaxConcurrent(agent string) int {
	if def, ok := c.Agents[agent]; ok && def.MaxConcurrent > 0 {
		return def.MaxConcurrent
	}
	return defaultMaxConcurrent
}
