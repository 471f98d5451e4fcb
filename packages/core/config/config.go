package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Worker kinds.
const (
	WorkerGoTest = "gotest"
	WorkerScript = "script"
)

// Config represents the vptest configuration
type Config struct {
	Worker          string        `yaml:"worker,omitempty"`
	Script          string        `yaml:"script,omitempty"` // script file for the script worker
	GoBinary        string        `yaml:"goBinary,omitempty"`
	EnvFile         string        `yaml:"envFile,omitempty"`
	StopGracePeriod time.Duration `yaml:"stopGracePeriod,omitempty"` // zero waits for the worker indefinitely
	MaxSplitSize    int           `yaml:"maxSplitSize,omitempty"`    // results view height cap
	ProgressRate    float64       `yaml:"progressRate,omitempty"`    // progress echoes per second
	HistoryPath     string        `yaml:"historyPath,omitempty"`
	History         *bool         `yaml:"history,omitempty"`
	NoColor         *bool         `yaml:"noColor,omitempty"`
	Output          string        `yaml:"output,omitempty"`
}

// BoolPtr returns a pointer to b
func BoolPtr(b bool) *bool {
	return &b
}

// getBool returns the value of a bool pointer, or the default if nil
func getBool(b *bool, defaultVal bool) bool {
	if b == nil {
		return defaultVal
	}
	return *b
}

// GetHistory returns whether finished runs are recorded, defaulting to true
func (c *Config) GetHistory() bool {
	return getBool(c.History, true)
}

// GetNoColor returns the no color setting, defaulting to false
func (c *Config) GetNoColor() bool {
	return getBool(c.NoColor, false)
}

// ConfigFilenames contains the possible config file names
var ConfigFilenames = []string{
	".vptest.yaml",
	".vptest.yml",
	"vptest.yaml",
}

// LoadConfig loads configuration from the specified path or searches for config files
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		return loadConfigFromFile(path)
	}
	return FindAndLoadConfig(".")
}

// FindAndLoadConfig searches for a config file in the given directory
func FindAndLoadConfig(dir string) (*Config, error) {
	for _, filename := range ConfigFilenames {
		configPath := filepath.Join(dir, filename)
		if _, err := os.Stat(configPath); err == nil {
			return loadConfigFromFile(configPath)
		}
	}
	return DefaultConfig(), nil
}

func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Worker {
	case "", WorkerGoTest:
	case WorkerScript:
		if c.Script == "" {
			return fmt.Errorf("worker %q needs a script file", WorkerScript)
		}
	default:
		return fmt.Errorf("unknown worker %q", c.Worker)
	}
	if c.StopGracePeriod < 0 {
		return fmt.Errorf("stopGracePeriod must not be negative")
	}
	if c.MaxSplitSize < 0 {
		return fmt.Errorf("maxSplitSize must not be negative")
	}
	return nil
}

// Merge merges another config into this one, with other taking precedence
func (c *Config) Merge(other *Config) *Config {
	if other == nil {
		return c
	}

	result := *c

	if other.Worker != "" {
		result.Worker = other.Worker
	}
	if other.Script != "" {
		result.Script = other.Script
	}
	if other.GoBinary != "" {
		result.GoBinary = other.GoBinary
	}
	if other.EnvFile != "" {
		result.EnvFile = other.EnvFile
	}
	if other.StopGracePeriod > 0 {
		result.StopGracePeriod = other.StopGracePeriod
	}
	if other.MaxSplitSize > 0 {
		result.MaxSplitSize = other.MaxSplitSize
	}
	if other.ProgressRate > 0 {
		result.ProgressRate = other.ProgressRate
	}
	if other.HistoryPath != "" {
		result.HistoryPath = other.HistoryPath
	}
	if other.Output != "" {
		result.Output = other.Output
	}

	// Boolean flags - only override if explicitly set in other config
	if other.History != nil {
		result.History = other.History
	}
	if other.NoColor != nil {
		result.NoColor = other.NoColor
	}

	return &result
}

// SaveConfig saves the configuration to a file
func (c *Config) SaveConfig(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
