// Package config loads the YAML configuration for the slide
// production engine. Missing values fall back to defaults; malformed
// values are configuration errors surfaced before a session starts.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig                 `yaml:"app"`
	Supervisor SupervisorConfig          `yaml:"supervisor"`
	Providers  map[string]ProviderConfig `yaml:"providers"`
	Images     ImageConfig               `yaml:"images"`
	Memory     MemoryConfig              `yaml:"memory"`
	Policy     PolicyConfig              `yaml:"policy"`
}

type AppConfig struct {
	Name      string `yaml:"name"`
	Workspace string `yaml:"workspace"`
	PromptDir string `yaml:"prompt_dir"`
}

type SupervisorConfig struct {
	MaxRetries            int      `yaml:"max_retries"`
	MaxReplans            int      `yaml:"max_replans"`
	ReplanEnabled         *bool    `yaml:"replan_enabled"`
	StepTimeout           Duration `yaml:"step_timeout"`
	VisualizerConcurrency int      `yaml:"visualizer_concurrency"`
}

// Duration decodes YAML strings like "90s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty"`
	Enabled bool   `yaml:"enabled"`
}

type ImageConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

type MemoryConfig struct {
	Path string `yaml:"path"`
}

type PolicyConfig struct {
	DeniedTools    []string `yaml:"denied_tools"`
	DeniedPatterns []string `yaml:"denied_patterns"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	replan := true
	return &Config{
		App: AppConfig{
			Name:      "slidesmith",
			Workspace: "workspace",
		},
		Supervisor: SupervisorConfig{
			MaxRetries:            3,
			MaxReplans:            3,
			ReplanEnabled:         &replan,
			StepTimeout:           Duration(5 * time.Minute),
			VisualizerConcurrency: 5,
		},
		Memory: MemoryConfig{Path: "slidesmith.db"},
	}
}

// Load reads the YAML file at path over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Supervisor.MaxRetries < 0 {
		return fmt.Errorf("supervisor.max_retries must be >= 0, got %d", c.Supervisor.MaxRetries)
	}
	if c.Supervisor.MaxReplans < 0 {
		return fmt.Errorf("supervisor.max_replans must be >= 0, got %d", c.Supervisor.MaxReplans)
	}
	if c.Supervisor.VisualizerConcurrency < 1 {
		c.Supervisor.VisualizerConcurrency = 1
	}
	return nil
}

// ReplanEnabled resolves the tri-state flag; unset means enabled.
func (c *Config) ReplanEnabled() bool {
	if c.Supervisor.ReplanEnabled == nil {
		return true
	}
	return *c.Supervisor.ReplanEnabled
}

// GetDefaultProvider returns the first enabled provider.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	for name, p := range c.Providers {
		if p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}
