package config

import (
	"log"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/syntrixbase/slotwatch/internal/docwatch"
	"github.com/syntrixbase/slotwatch/internal/kvwatch"
)

// DefaultDir is the directory LoadConfig reads when none is given.
const DefaultDir = "config"

// Config holds the application configuration
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Watcher WatcherConfig `yaml:"watcher"`
	Server  ServerConfig  `yaml:"server"`

	// Backends
	Solana SolanaConfig `yaml:"solana"`
	NATS   NATSConfig   `yaml:"nats"`
	Mongo  MongoConfig  `yaml:"mongo"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Logging: DefaultLoggingConfig(),
		Server:  DefaultServerConfig(),
		Solana:  DefaultSolanaConfig(),
		NATS:    NATSConfig{ProviderConfig: kvwatch.DefaultProviderConfig()},
		Mongo:   MongoConfig{Config: docwatch.DefaultConfig()},
	}
}

// LoadConfig loads configuration from configDir and the environment.
// Order: defaults -> config.yml -> config.local.yml -> ApplyDefaults ->
// ApplyEnvOverrides -> ResolvePaths -> Validate
func LoadConfig(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultDir
	}

	// Defaults first so YAML can override them, including bool fields
	cfg := Default()

	loadFile(filepath.Join(configDir, "config.yml"), cfg)
	loadFile(filepath.Join(configDir, "config.local.yml"), cfg)

	if err := ApplySections(configDir,
		&cfg.Logging,
		&cfg.Watcher,
		&cfg.Server,
		&cfg.Solana,
		&cfg.NATS,
		&cfg.Mongo,
	); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(filename string, cfg *Config) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		log.Printf("Warning: Error reading %s: %v", filename, err)
		return
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("Warning: Error parsing %s: %v", filename, err)
	}
}
