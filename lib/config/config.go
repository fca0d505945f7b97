// Copyright 2026 The Linkbot Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "10m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
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

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the master configuration for the linkbot service.
type Config struct {
	// Child configures the supervised linking process.
	Child ChildConfig `yaml:"child"`

	// Session configures admission and eviction policy.
	Session SessionConfig `yaml:"session"`

	// Telegram configures the Bot API transport.
	Telegram TelegramConfig `yaml:"telegram"`

	// Health configures the HTTP liveness endpoint.
	Health HealthConfig `yaml:"health"`

	// Admin configures the local CBOR control socket.
	Admin AdminConfig `yaml:"admin"`
}

// ChildConfig configures the external linking binary.
type ChildConfig struct {
	// Command is the binary to launch for each session. Resolved via
	// PATH unless absolute.
	Command string `yaml:"command"`

	// ConfigPath is where the per-session configuration artifact is
	// written before each start. The child reads it at startup. Only
	// one session is ever active, so the path is reused sequentially.
	ConfigPath string `yaml:"config_path"`

	// WorkDir is the working directory for the child. Defaults to the
	// directory containing ConfigPath.
	WorkDir string `yaml:"work_dir"`

	// GracePeriod is how long Terminate waits after SIGTERM before
	// sending SIGKILL. Default: 5s.
	GracePeriod Duration `yaml:"grace_period"`
}

// SessionConfig configures the single-slot admission policy.
type SessionConfig struct {
	// InactivityTimeout evicts an active session whose owner has been
	// silent for this long. Default: 10m.
	InactivityTimeout Duration `yaml:"inactivity_timeout"`

	// CheckInterval is how often the eviction check runs. Default: 30s.
	CheckInterval Duration `yaml:"check_interval"`
}

// TelegramConfig configures the Bot API transport.
type TelegramConfig struct {
	// APIURL is the Bot API base URL. Overridable for tests and
	// self-hosted Bot API servers. Default: https://api.telegram.org.
	APIURL string `yaml:"api_url"`

	// PollTimeout is the long-poll hold time for getUpdates.
	// Default: 30s.
	PollTimeout Duration `yaml:"poll_timeout"`
}

// HealthConfig configures the HTTP liveness endpoint.
type HealthConfig struct {
	// Address is the TCP listen address (e.g., ":8080"). Empty
	// disables the endpoint.
	Address string `yaml:"address"`
}

// AdminConfig configures the local control socket.
type AdminConfig struct {
	// SocketPath is the Unix socket path for operator commands. Empty
	// disables the socket.
	SocketPath string `yaml:"socket_path"`
}

// Default returns the default configuration. These defaults exist to
// give every field a sensible zero-value base before the config file
// is merged in — the config file is still required.
func Default() *Config {
	return &Config{
		Child: ChildConfig{
			Command:     "gswarm",
			ConfigPath:  "/app/telegram-config.json",
			GracePeriod: Duration(5 * time.Second),
		},
		Session: SessionConfig{
			InactivityTimeout: Duration(10 * time.Minute),
			CheckInterval:     Duration(30 * time.Second),
		},
		Telegram: TelegramConfig{
			APIURL:      "https://api.telegram.org",
			PollTimeout: Duration(30 * time.Second),
		},
		Health: HealthConfig{
			Address: ":8080",
		},
		Admin: AdminConfig{
			SocketPath: "/run/linkbot/admin.sock",
		},
	}
}

// Load loads configuration from the LINKBOT_CONFIG environment
// variable. There are no fallbacks — if LINKBOT_CONFIG is not set,
// this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("LINKBOT_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("LINKBOT_CONFIG environment variable not set; " +
			"set it to the path of your linkbot.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merging it
// over the defaults and expanding ${VAR} patterns in paths.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in path
// fields for portability.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Child.ConfigPath = expandVars(c.Child.ConfigPath, vars)
	c.Child.WorkDir = expandVars(c.Child.WorkDir, vars)
	c.Admin.SocketPath = expandVars(c.Admin.SocketPath, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Child.Command == "" {
		errs = append(errs, fmt.Errorf("child.command is required"))
	}
	if c.Child.ConfigPath == "" {
		errs = append(errs, fmt.Errorf("child.config_path is required"))
	}
	if c.Child.GracePeriod <= 0 {
		errs = append(errs, fmt.Errorf("child.grace_period must be positive"))
	}
	if c.Session.InactivityTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session.inactivity_timeout must be positive"))
	}
	if c.Session.CheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("session.check_interval must be positive"))
	}
	if c.Telegram.APIURL == "" {
		errs = append(errs, fmt.Errorf("telegram.api_url is required"))
	}
	if c.Telegram.PollTimeout <= 0 {
		errs = append(errs, fmt.Errorf("telegram.poll_timeout must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
