package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/neoclaw-ai/msgbridge/internal/logging"
)

// Validatable is implemented by config sections that can self-validate.
type Validatable interface {
	Validate() error
}

// Validate checks the gate timeout.
func (c GateConfig) Validate() error {
	if c.Timeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	return nil
}

// Validate checks listener address, path, and queue sizing.
func (c ChannelConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("name is required")
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("path %q must start with /", c.Path)
	}
	if c.QueueSize <= 0 {
		return errors.New("queue_size must be > 0")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write_timeout must be > 0")
	}
	if c.URL != "" {
		u, err := url.Parse(c.URL)
		if err != nil {
			return fmt.Errorf("invalid url %q: %w", c.URL, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("url %q must use ws or wss", c.URL)
		}
	}
	return nil
}

// Validate checks the metrics path when metrics are enabled.
func (c MetricsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("path %q must start with /", c.Path)
	}
	return nil
}

// Validate checks the simulator file setting when the simulator is enabled.
func (c SimulatorConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.MessagesFile) == "" {
		return errors.New("messages_file is required when enabled=true")
	}
	return nil
}

// Validate checks the console answer policies.
func (c ConsoleConfig) Validate() error {
	if _, err := ParsePolicy(c.SavePolicy); err != nil {
		return fmt.Errorf("save_policy: %w", err)
	}
	if _, err := ParsePolicy(c.ShowPolicy); err != nil {
		return fmt.Errorf("show_policy: %w", err)
	}
	return nil
}

// Validate checks log level and format names.
func (c LogConfig) Validate() error {
	if _, err := logging.ParseLevel(c.Level); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.Format)) {
	case "", logging.FormatText, logging.FormatJSON:
		return nil
	default:
		return fmt.Errorf("unsupported log format %q", c.Format)
	}
}

// Validate validates startup configuration and returns the first fatal error.
func (cfg *Config) Validate() error {
	sections := []struct {
		name string
		v    Validatable
	}{
		{"gate", cfg.Gate},
		{"channel", cfg.Channel},
		{"metrics", cfg.Metrics},
		{"simulator", cfg.Simulator},
		{"console", cfg.Console},
		{"log", cfg.Log},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// ParsePolicy normalizes a console answer policy name.
func ParsePolicy(raw string) (string, error) {
	policy := strings.ToLower(strings.TrimSpace(raw))
	if err := validatePolicy(policy); err != nil {
		return "", err
	}
	return policy, nil
}

func validatePolicy(policy string) error {
	switch policy {
	case PolicyYes, PolicyNo, PolicySilent, PolicyUnimplemented:
		return nil
	default:
		return fmt.Errorf("invalid policy %q (allowed: %q, %q, %q, %q)", policy, PolicyYes, PolicyNo, PolicySilent, PolicyUnimplemented)
	}
}
