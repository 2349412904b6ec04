// Package config provides configuration management for the lab
// session runtime.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the runtime's top-level configuration.
type Config struct {
	Session   SessionConfig   `toml:"session"`
	Container ContainerConfig `toml:"container"`
	Layout    LayoutConfig    `toml:"layout"`
	Heartbeat HeartbeatConfig `toml:"heartbeat"`
	Logging   LoggingConfig   `toml:"logging"`
}

// SessionConfig controls where a session's files live.
type SessionConfig struct {
	RootDir         string `toml:"root_dir"`
	SocketDir       string `toml:"socket_dir"`
	ShutdownTimeout int    `toml:"shutdown_timeout_seconds"`
}

// ContainerConfig controls the isolated shell container.
type ContainerConfig struct {
	Image              string `toml:"image"`
	HealthcheckTimeout int    `toml:"healthcheck_timeout_seconds"`
	ExecTimeout        int    `toml:"exec_timeout_seconds"`
}

// LayoutConfig controls the three-pane terminal layout (spec §4.10).
type LayoutConfig struct {
	TutorEnabled  bool `toml:"tutor_enabled"`
	TutorWidthPct int  `toml:"tutor_width_pct"`
	UIWidthPct    int  `toml:"ui_width_pct"`
	ShellWidthPct int  `toml:"shell_width_pct"`
}

// HeartbeatConfig controls orphan detection (spec §4.9).
type HeartbeatConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`
	MissThreshold   int `toml:"miss_threshold"`
}

// LoggingConfig mirrors the teacher's logging config shape.
type LoggingConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	Output     string `toml:"output"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// DefaultConfig returns the default configuration with all values set.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Session: SessionConfig{
			RootDir:         filepath.Join(home, ".lab-sessions"),
			SocketDir:       filepath.Join(home, ".lab-sessions", "sock"),
			ShutdownTimeout: 5,
		},
		Container: ContainerConfig{
			Image:              "lab-shell:latest",
			HealthcheckTimeout: 30,
			ExecTimeout:        10,
		},
		Layout: LayoutConfig{
			TutorEnabled:  true,
			TutorWidthPct: 25,
			UIWidthPct:    25,
			ShellWidthPct: 50,
		},
		Heartbeat: HeartbeatConfig{
			IntervalSeconds: 30,
			MissThreshold:   3,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "both",
			MaxSizeMB:  100,
			MaxBackups: 5,
		},
	}
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".lab-sessions", "config.toml")
}

// Load reads configuration from path, falling back to defaults for any
// section entirely absent from the file. A missing file is not an
// error; it yields DefaultConfig().
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration for internal consistency,
// aggregating every problem the way the teacher's config validation
// reports multiple misconfigurations together.
func (c *Config) Validate() error {
	var problems []string

	if c.Session.RootDir == "" {
		problems = append(problems, "session.root_dir is required")
	}
	if c.Session.SocketDir == "" {
		problems = append(problems, "session.socket_dir is required")
	}
	if c.Container.Image == "" {
		problems = append(problems, "container.image is required")
	}
	if c.Heartbeat.IntervalSeconds <= 0 {
		problems = append(problems, "heartbeat.interval_seconds must be positive")
	}
	if c.Heartbeat.MissThreshold <= 0 {
		problems = append(problems, "heartbeat.miss_threshold must be positive")
	}
	sum := c.Layout.TutorWidthPct + c.Layout.UIWidthPct + c.Layout.ShellWidthPct
	if c.Layout.TutorEnabled && sum != 100 {
		problems = append(problems, fmt.Sprintf("layout width percentages must sum to 100, got %d", sum))
	}

	if len(problems) == 0 {
		return nil
	}
	msg := "invalid configuration:"
	for _, p := range problems {
		msg += "\n  - " + p
	}
	return fmt.Errorf("%s", msg)
}

// EnsureDirectories creates the session root and socket directories.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Session.RootDir, 0755); err != nil {
		return fmt.Errorf("create session root dir: %w", err)
	}
	if err := os.MkdirAll(c.Session.SocketDir, 0755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	return nil
}

// SessionDir returns the filesystem directory for a given session id.
func (c *Config) SessionDir(sessionID string) string {
	return filepath.Join(c.Session.RootDir, sessionID)
}

// SocketPath returns the unix-domain socket path for a given session id.
func (c *Config) SocketPath(sessionID string) string {
	return filepath.Join(c.Session.SocketDir, sessionID+".sock")
}

// WriteExampleConfig writes a default configuration file to path.
func WriteExampleConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(DefaultConfig())
}
