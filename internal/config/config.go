// Package config loads perfdebug settings from a YAML file, then applies
// environment overrides. Flags are applied by main on top.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lotas/perfdebug/internal/types"
)

// Config is the top-level perfdebug configuration.
type Config struct {
	Port       int             `yaml:"port"`
	DBPath     string          `yaml:"db_path"`
	LogDir     string          `yaml:"log_dir"`
	Window     WindowConfig    `yaml:"window"`
	Toggle     ToggleConfig    `yaml:"toggle"`
	Extension  ExtensionConfig `yaml:"extension"`
	Parameters []string        `yaml:"parameters"`
	History    HistoryConfig   `yaml:"history"`
	Probe      ProbeConfig     `yaml:"probe"`
	Inspect    InspectConfig   `yaml:"inspect"`
}

// WindowConfig holds the defaults for a newly detached popup window.
type WindowConfig struct {
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Type   string `yaml:"type"` // popup | normal
	Page   string `yaml:"page"` // extension page loaded in the window
}

// ToggleConfig controls how long the toggle queue waits per flip.
type ToggleConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	LoadTimeout   time.Duration `yaml:"load_timeout"`
	SettleDelay   time.Duration `yaml:"settle_delay"`
	NoChangeDelay time.Duration `yaml:"no_change_delay"`
}

// ExtensionConfig bounds the round trips to the browser extension.
type ExtensionConfig struct {
	CallTimeout    time.Duration `yaml:"call_timeout"`    // one command and its reply
	MessageTimeout time.Duration `yaml:"message_timeout"` // one inline event or status message
}

type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`
}

type ProbeConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
	UserAgent   string        `yaml:"user_agent"`
}

// InspectConfig configures the headless Chrome run.
type InspectConfig struct {
	Remote   string        `yaml:"remote"` // ws:// debugger url; empty starts a local browser
	Headless bool          `yaml:"headless"`
	Timeout  time.Duration `yaml:"timeout"`
	Settle   time.Duration `yaml:"settle"`
}

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{History: HistoryConfig{Enabled: true}, Inspect: InspectConfig{Headless: true}}
	c.applyDefaults()
	return c
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := &Config{History: HistoryConfig{Enabled: true}, Inspect: InspectConfig{Headless: true}}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyDefaults()
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 19192
	}
	if c.Window.Width <= 0 {
		c.Window.Width = 800
	}
	if c.Window.Height <= 0 {
		c.Window.Height = 700
	}
	if c.Window.Type == "" {
		c.Window.Type = "popup"
	}
	if c.Window.Page == "" {
		c.Window.Page = "popup.html"
	}
	if c.Toggle.PollInterval <= 0 {
		c.Toggle.PollInterval = 200 * time.Millisecond
	}
	if c.Toggle.LoadTimeout <= 0 {
		c.Toggle.LoadTimeout = 15 * time.Second
	}
	if c.Toggle.SettleDelay <= 0 {
		c.Toggle.SettleDelay = 2 * time.Second
	}
	if c.Toggle.NoChangeDelay <= 0 {
		c.Toggle.NoChangeDelay = 300 * time.Millisecond
	}
	if c.Extension.CallTimeout <= 0 {
		c.Extension.CallTimeout = 10 * time.Second
	}
	if c.Extension.MessageTimeout <= 0 {
		c.Extension.MessageTimeout = 15 * time.Second
	}
	if len(c.Parameters) == 0 {
		c.Parameters = append([]string(nil), types.DebugParameters...)
	}
	if c.Probe.Timeout <= 0 {
		c.Probe.Timeout = 10 * time.Second
	}
	if c.Probe.Concurrency <= 0 {
		c.Probe.Concurrency = 10
	}
	if c.Probe.UserAgent == "" {
		c.Probe.UserAgent = "perfdebug/1.0"
	}
	if c.Inspect.Timeout <= 0 {
		c.Inspect.Timeout = 45 * time.Second
	}
	if c.Inspect.Settle <= 0 {
		c.Inspect.Settle = 3 * time.Second
	}
}

// applyEnv applies PERFDEBUG_PORT, PERFDEBUG_DB and PERFDEBUG_LOG_DIR.
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("PERFDEBUG_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p <= 0 || p > 65535 {
			return fmt.Errorf("PERFDEBUG_PORT: invalid port %q", v)
		}
		c.Port = p
	}
	if v := getenv("PERFDEBUG_DB"); v != "" {
		c.DBPath = v
	}
	if v := getenv("PERFDEBUG_LOG_DIR"); v != "" {
		c.LogDir = v
	}
	return nil
}

// DefaultPath returns ~/.config/perfdebug/config.yaml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get config directory: %w", err)
	}
	return filepath.Join(dir, "perfdebug", "config.yaml"), nil
}

// WindowDefaults returns the bounds used when no bounds were saved.
func (c *Config) WindowDefaults() types.Bounds {
	return types.Bounds{Width: c.Window.Width, Height: c.Window.Height}
}
