package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

var (
	validLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validFormats = map[string]bool{"text": true, "json": true}
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string         `yaml:"level"`  // debug, info, warn, error
	Format   string         `yaml:"format"` // text, json
	Dir      string         `yaml:"dir"`
	Rotation RotationConfig `yaml:"rotation"`
	Console  OutputConfig   `yaml:"console"`
	File     OutputConfig   `yaml:"file"`
	Dedup    DedupConfig    `yaml:"dedup"`
}

// RotationConfig holds lumberjack rotation settings
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // MB
	MaxBackups int  `yaml:"max_backups"` // files
	MaxAge     int  `yaml:"max_age"`     // days
	Compress   bool `yaml:"compress"`
}

// OutputConfig configures one log output. Empty level and format inherit
// the top-level values.
type OutputConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

// DedupConfig configures suppression of repeated records in the file
// outputs. A reconnect storm logs the same failure every retry delay.
type DedupConfig struct {
	Enabled bool          `yaml:"enabled"`
	Window  time.Duration `yaml:"window"`
}

// DefaultLoggingConfig returns default logging configuration. The console
// writes to stderr; stdout carries watcher output.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "text",
		Dir:    "logs",
		Rotation: RotationConfig{
			MaxSize:    100,
			MaxBackups: 10,
			MaxAge:     30,
			Compress:   true,
		},
		Console: OutputConfig{Enabled: true, Level: "info", Format: "text"},
		File:    OutputConfig{Enabled: false, Level: "info", Format: "json"},
		Dedup:   DedupConfig{Enabled: true, Window: 10 * time.Second},
	}
}

// ApplyDefaults fills in missing values with defaults
func (c *LoggingConfig) ApplyDefaults() {
	defaults := DefaultLoggingConfig()
	if c.Level == "" {
		c.Level = defaults.Level
	}
	if c.Format == "" {
		c.Format = defaults.Format
	}
	if c.Dir == "" {
		c.Dir = defaults.Dir
	}
	if c.Rotation.MaxSize == 0 {
		c.Rotation.MaxSize = defaults.Rotation.MaxSize
	}
	if c.Rotation.MaxBackups == 0 {
		c.Rotation.MaxBackups = defaults.Rotation.MaxBackups
	}
	if c.Rotation.MaxAge == 0 {
		c.Rotation.MaxAge = defaults.Rotation.MaxAge
	}
	if c.Dedup.Window == 0 {
		c.Dedup.Window = defaults.Dedup.Window
	}
	c.Console.inherit(c.Level, c.Format)
	c.File.inherit(c.Level, c.Format)
}

func (o *OutputConfig) inherit(level, format string) {
	if o.Level == "" {
		o.Level = level
	}
	if o.Format == "" {
		o.Format = format
	}
}

// ApplyEnvOverrides applies environment variable overrides
func (c *LoggingConfig) ApplyEnvOverrides() {
	// The level override applies to every output.
	envString("LOG_LEVEL", &c.Level)
	envString("LOG_LEVEL", &c.Console.Level)
	envString("LOG_LEVEL", &c.File.Level)
	envString("LOG_FORMAT", &c.Format)
	envString("LOG_DIR", &c.Dir)
	envBool("LOG_FILE_ENABLED", &c.File.Enabled)
}

// ResolvePaths resolves the log directory. A path starting with ".." is
// taken relative to configDir, any other relative path relative to its
// parent, so logs/ ends up next to config/.
func (c *LoggingConfig) ResolvePaths(configDir string) {
	if c.Dir == "" || filepath.IsAbs(c.Dir) {
		return
	}
	base := filepath.Dir(configDir)
	if strings.HasPrefix(c.Dir, "..") {
		base = configDir
	}
	c.Dir = filepath.Clean(filepath.Join(base, c.Dir))
}

// Validate validates the configuration
func (c *LoggingConfig) Validate() error {
	if !validLevels[c.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Level)
	}
	if !validFormats[c.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Format)
	}
	if c.File.Enabled && c.Dir == "" {
		return fmt.Errorf("log directory cannot be empty")
	}
	if err := c.Console.validate("console"); err != nil {
		return err
	}
	if err := c.File.validate("file"); err != nil {
		return err
	}
	if c.Dedup.Window < 0 {
		return fmt.Errorf("invalid dedup window: %s", c.Dedup.Window)
	}
	return nil
}

func (o *OutputConfig) validate(name string) error {
	if !o.Enabled {
		return nil
	}
	if o.Level != "" && !validLevels[o.Level] {
		return fmt.Errorf("invalid %s log level: %s", name, o.Level)
	}
	if o.Format != "" && !validFormats[o.Format] {
		return fmt.Errorf("invalid %s log format: %s", name, o.Format)
	}
	return nil
}
