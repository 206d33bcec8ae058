package config

import "path/filepath"

const (
	// Global layout under MSGBRIDGE_HOME.
	ConfigFilePath   = "config.toml"
	MessagesFileName = "messages.json"
	ActivityFileName = "activity.jsonl"
)

func homeConfigPath(home string) string {
	return filepath.Join(home, ConfigFilePath)
}

func defaultHomePath(home string) string {
	return filepath.Join(home, ".msgbridge")
}

func (c *Config) ConfigPath() string {
	return homeConfigPath(c.HomeDir)
}

// MessagesPath resolves simulator.messages_file; relative paths are taken from the home dir.
func (c *Config) MessagesPath() string {
	return c.resolve(c.Simulator.MessagesFile)
}

// ActivityPath resolves simulator.activity_file the same way. It is empty when the journal is disabled.
func (c *Config) ActivityPath() string {
	if c.Simulator.ActivityFile == "" {
		return ""
	}
	return c.resolve(c.Simulator.ActivityFile)
}

func (c *Config) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.HomeDir, path)
}
