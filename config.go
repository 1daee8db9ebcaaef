package tablesniff

import "github.com/hazyhaar/tablesniff/internal/config"

// Config is the engine configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls the Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config { return config.Default() }

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// OptionsStore persists user options in SQLite. Re-exported from internal.
type OptionsStore = config.Store

// OptionsSchema creates the tables an OptionsStore needs.
const OptionsSchema = config.Schema

// NewOptionsStore wraps a database that already carries OptionsSchema.
var NewOptionsStore = config.NewStore
