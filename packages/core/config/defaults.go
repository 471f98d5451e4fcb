package config

import "path/filepath"

// DefaultHistoryPath is relative to the working directory.
var DefaultHistoryPath = filepath.Join(".vptest", "history.db")

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Worker:          WorkerGoTest,
		GoBinary:        "go",
		StopGracePeriod: 0,
		MaxSplitSize:    20,
		ProgressRate:    10,
		HistoryPath:     DefaultHistoryPath,
		History:         BoolPtr(true),
		NoColor:         BoolPtr(false),
		Output:          "console",
	}
}

// IsDefault returns true if the config matches defaults
func (c *Config) IsDefault() bool {
	d := DefaultConfig()
	return c.Worker == d.Worker &&
		c.Script == d.Script &&
		c.GoBinary == d.GoBinary &&
		c.EnvFile == d.EnvFile &&
		c.StopGracePeriod == d.StopGracePeriod &&
		c.MaxSplitSize == d.MaxSplitSize &&
		c.ProgressRate == d.ProgressRate &&
		c.HistoryPath == d.HistoryPath &&
		c.GetHistory() == d.GetHistory() &&
		c.GetNoColor() == d.GetNoColor() &&
		c.Output == d.Output
}
