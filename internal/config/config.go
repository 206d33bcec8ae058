// Package config loads msgbridge runtime configuration from a TOML file and environment variables, exposing typed structs for every section.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// PolicyYes answers every gating question with true.
	PolicyYes = "yes"
	// PolicyNo answers every gating question with false.
	PolicyNo = "no"
	// PolicySilent never answers, so the bridge falls back after its timeout.
	PolicySilent = "silent"
	// PolicyUnimplemented replies "not implemented", as a runtime without a handler would.
	PolicyUnimplemented = "unimplemented"
)

// Config is the runtime configuration loaded from defaults, config.toml, and env vars.
type Config struct {
	// HomeDir is runtime-resolved from MSGBRIDGE_HOME and not read from config.
	HomeDir   string          `mapstructure:"-"`
	Gate      GateConfig      `mapstructure:"gate"`
	Channel   ChannelConfig   `mapstructure:"channel"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Console   ConsoleConfig   `mapstructure:"console"`
	Log       LogConfig       `mapstructure:"log"`
}

// GateConfig controls the synchronous gating round trip.
type GateConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	// SaveDefault and ShowDefault are used whenever the runtime gives no timely boolean answer.
	SaveDefault bool `mapstructure:"save_default"`
	ShowDefault bool `mapstructure:"show_default"`
}

// ChannelConfig configures the method channel endpoint shared with the embedded runtime.
type ChannelConfig struct {
	Name         string        `mapstructure:"name"`
	Listen       string        `mapstructure:"listen"`
	Path         string        `mapstructure:"path"`
	URL          string        `mapstructure:"url"`
	QueueSize    int           `mapstructure:"queue_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// MetricsConfig configures the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// SimulatorConfig configures the built-in host SDK simulator used by serve.
type SimulatorConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	MessagesFile     string `mapstructure:"messages_file"`
	ExtensionVersion string `mapstructure:"extension_version"`
	// ActivityFile receives one JSON line per SDK-side message operation. Empty disables it.
	ActivityFile string `mapstructure:"activity_file"`
}

// ConsoleConfig configures the interactive runtime stand-in.
type ConsoleConfig struct {
	SavePolicy   string        `mapstructure:"save_policy"`
	ShowPolicy   string        `mapstructure:"show_policy"`
	ReconnectMax time.Duration `mapstructure:"reconnect_max"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaultConfig = Config{
	Gate: GateConfig{
		Timeout:     500 * time.Millisecond,
		SaveDefault: true,
		ShowDefault: true,
	},
	Channel: ChannelConfig{
		Name:         "flutter_aepmessaging",
		Listen:       "127.0.0.1:7766",
		Path:         "/channel",
		URL:          "ws://127.0.0.1:7766/channel",
		QueueSize:    64,
		WriteTimeout: 5 * time.Second,
	},
	Metrics: MetricsConfig{
		Enabled: true,
		Path:    "/metrics",
	},
	Simulator: SimulatorConfig{
		Enabled:          true,
		MessagesFile:     MessagesFileName,
		ExtensionVersion: "5.0.0",
		ActivityFile:     ActivityFileName,
	},
	Console: ConsoleConfig{
		SavePolicy:   PolicyYes,
		ShowPolicy:   PolicyYes,
		ReconnectMax: 30 * time.Second,
	},
	Log: LogConfig{
		Level:  "info",
		Format: "text",
	},
}

// homeDir returns the msgbridge home directory.
// Uses MSGBRIDGE_HOME env var if set, otherwise defaults to ~/.msgbridge.
func homeDir() (string, error) {
	if dir := os.Getenv("MSGBRIDGE_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return defaultHomePath(home), nil
}

// Load merges hardcoded defaults and config file values in that order.
// Config is always at $MSGBRIDGE_HOME/config.toml.
func Load() (*Config, error) {
	homeDir, err := homeDir()
	if err != nil {
		return nil, err
	}

	v, err := newViper(homeDir)
	if err != nil {
		return nil, err
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		expandEnvStringHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
	if err := v.Unmarshal(&cfg, func(c *mapstructure.DecoderConfig) {
		c.DecodeHook = decodeHook
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.HomeDir = homeDir

	return &cfg, nil
}

// Write writes the merged configuration (defaults overlaid by user
// config) to w in TOML format.
func Write(w io.Writer) error {
	if w == nil {
		return errors.New("writer is required")
	}

	homeDir, err := homeDir()
	if err != nil {
		return err
	}
	v, err := newViper(homeDir)
	if err != nil {
		return err
	}

	// Keep duration fields human-readable in generated TOML.
	for _, key := range durationKeys {
		v.Set(key, v.GetDuration(key).String())
	}

	if err := v.WriteConfigTo(w); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// DefaultUserConfigTOML renders the bootstrap user config as TOML.
func DefaultUserConfigTOML() (string, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)
	for _, key := range durationKeys {
		v.Set(key, v.GetDuration(key).String())
	}

	var out bytes.Buffer
	if err := v.WriteConfigTo(&out); err != nil {
		return "", fmt.Errorf("write default user config: %w", err)
	}
	return out.String(), nil
}

var durationKeys = []string{
	"gate.timeout",
	"channel.write_timeout",
	"console.reconnect_max",
}

func newViper(homeDir string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(homeConfigPath(homeDir))
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gate.timeout", defaultConfig.Gate.Timeout)
	v.SetDefault("gate.save_default", defaultConfig.Gate.SaveDefault)
	v.SetDefault("gate.show_default", defaultConfig.Gate.ShowDefault)

	v.SetDefault("channel.name", defaultConfig.Channel.Name)
	v.SetDefault("channel.listen", defaultConfig.Channel.Listen)
	v.SetDefault("channel.path", defaultConfig.Channel.Path)
	v.SetDefault("channel.url", defaultConfig.Channel.URL)
	v.SetDefault("channel.queue_size", defaultConfig.Channel.QueueSize)
	v.SetDefault("channel.write_timeout", defaultConfig.Channel.WriteTimeout)

	v.SetDefault("metrics.enabled", defaultConfig.Metrics.Enabled)
	v.SetDefault("metrics.path", defaultConfig.Metrics.Path)

	v.SetDefault("simulator.enabled", defaultConfig.Simulator.Enabled)
	v.SetDefault("simulator.messages_file", defaultConfig.Simulator.MessagesFile)
	v.SetDefault("simulator.extension_version", defaultConfig.Simulator.ExtensionVersion)
	v.SetDefault("simulator.activity_file", defaultConfig.Simulator.ActivityFile)

	v.SetDefault("console.save_policy", defaultConfig.Console.SavePolicy)
	v.SetDefault("console.show_policy", defaultConfig.Console.ShowPolicy)
	v.SetDefault("console.reconnect_max", defaultConfig.Console.ReconnectMax)

	v.SetDefault("log.level", defaultConfig.Log.Level)
	v.SetDefault("log.format", defaultConfig.Log.Format)
}

func expandEnvStringHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.String {
			return data, nil
		}
		value, ok := data.(string)
		if !ok {
			return data, nil
		}
		return os.ExpandEnv(value), nil
	}
}
