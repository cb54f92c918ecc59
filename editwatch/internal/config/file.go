// Package config handles editwatch configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level editwatch configuration.
type Config struct {
	Editor  EditorConfig  `yaml:"editor"`
	Server  ServerConfig  `yaml:"server"`
	Browser BrowserConfig `yaml:"browser"`
	History HistoryConfig `yaml:"history"`
	Sinks   []SinkConfig  `yaml:"sinks"`
}

// EditorConfig controls change coalescing.
type EditorConfig struct {
	// OnchangeTimeout is the compatibility-mode debounce delay in milliseconds.
	OnchangeTimeout int    `yaml:"onchange_timeout"`
	CompatibleMode  string `yaml:"compatible_mode"` // auto | on | off
	RootSelector    string `yaml:"root_selector"`
}

// OnchangeDelay returns OnchangeTimeout as a duration.
func (e EditorConfig) OnchangeDelay() time.Duration {
	return time.Duration(e.OnchangeTimeout) * time.Millisecond
}

// ServerConfig controls the HTTP and websocket listener.
type ServerConfig struct {
	Listen           string        `yaml:"listen"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// BrowserConfig controls Chrome for browser-observed pages.
type BrowserConfig struct {
	Remote   string       `yaml:"remote"`
	Headless *bool        `yaml:"headless"`
	Stealth  bool         `yaml:"stealth"`
	Pages    []PageConfig `yaml:"pages"`
}

// IsHeadless reports the effective headless setting (default true).
func (b BrowserConfig) IsHeadless() bool {
	return b.Headless == nil || *b.Headless
}

// PageConfig defines an editing page observed through Chrome.
type PageConfig struct {
	ID           string `yaml:"id"`
	URL          string `yaml:"url"`
	RootSelector string `yaml:"root_selector"`
}

// HistoryConfig controls the SQLite change history.
type HistoryConfig struct {
	Path         string `yaml:"path"`
	SanitizeHTML bool   `yaml:"sanitize_html"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook | sqlite
	URL  string `yaml:"url"`  // for webhook
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Editor.OnchangeTimeout == 0 {
		c.Editor.OnchangeTimeout = 200
	}
	if c.Editor.CompatibleMode == "" {
		c.Editor.CompatibleMode = "auto"
	}
	if c.Editor.RootSelector == "" {
		c.Editor.RootSelector = "#editor"
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8420"
	}
	if c.Server.HandshakeTimeout <= 0 {
		c.Server.HandshakeTimeout = 10 * time.Second
	}
	if c.History.Path == "" {
		c.History.Path = "editwatch.db"
	}
	for i := range c.Browser.Pages {
		if c.Browser.Pages[i].RootSelector == "" {
			c.Browser.Pages[i].RootSelector = c.Editor.RootSelector
		}
	}
}

// Validate rejects settings the coalescer cannot run with.
func (c *Config) Validate() error {
	if c.Editor.OnchangeTimeout <= 0 {
		return fmt.Errorf("config: editor.onchange_timeout must be positive, got %d", c.Editor.OnchangeTimeout)
	}
	switch c.Editor.CompatibleMode {
	case "auto", "on", "off":
	default:
		return fmt.Errorf("config: editor.compatible_mode must be auto, on or off, got %q", c.Editor.CompatibleMode)
	}
	for i, p := range c.Browser.Pages {
		if p.URL == "" {
			return fmt.Errorf("config: browser.pages[%d]: url is required", i)
		}
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout", "sqlite":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sinks[%d]: webhook needs a url", i)
			}
		default:
			return fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	return nil
}
