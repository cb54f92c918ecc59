package editwatch

import (
	"github.com/hazyhaar/editkit/editwatch/internal/config"
)

// Config is the top-level editwatch configuration. Re-exported from internal.
type Config = config.Config

// EditorConfig controls change coalescing.
type EditorConfig = config.EditorConfig

// ServerConfig controls the HTTP and websocket listener.
type ServerConfig = config.ServerConfig

// BrowserConfig controls Chrome for browser-observed pages.
type BrowserConfig = config.BrowserConfig

// PageConfig defines an editing page observed through Chrome.
type PageConfig = config.PageConfig

// HistoryConfig controls the SQLite change history.
type HistoryConfig = config.HistoryConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}
