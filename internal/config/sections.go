package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/syntrixbase/slotwatch/internal/docwatch"
	"github.com/syntrixbase/slotwatch/internal/kvwatch"
	"github.com/syntrixbase/slotwatch/internal/solana"
	"github.com/syntrixbase/slotwatch/internal/watcher"
)

// WatcherConfig overrides the engine configuration of the selected adapter.
// Only fields set in a config file or the environment override the adapter's
// defaults; an explicit zero (poll_interval: 0, max_retries: 0) wins.
type WatcherConfig struct {
	watcher.Config `yaml:",inline"`

	// set holds the yaml keys given explicitly.
	set map[string]bool
}

// UnmarshalYAML decodes the section and records which keys were present.
func (c *WatcherConfig) UnmarshalYAML(value *yaml.Node) error {
	if err := value.Decode(&c.Config); err != nil {
		return err
	}
	if value.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		c.markSet(value.Content[i].Value)
	}
	return nil
}

func (c *WatcherConfig) markSet(key string) {
	if c.set == nil {
		c.set = make(map[string]bool)
	}
	c.set[key] = true
}

func (c *WatcherConfig) ApplyDefaults() {}

// ApplyEnvOverrides applies environment variable overrides.
func (c *WatcherConfig) ApplyEnvOverrides() {
	if envDuration("CONNECT_TIMEOUT", &c.ConnectTimeout) {
		c.markSet("connect_timeout")
	}
	if envDuration("POLL_INTERVAL", &c.PollInterval) {
		c.markSet("poll_interval")
	}
	if envDuration("POLL_TIMEOUT", &c.PollTimeout) {
		c.markSet("poll_timeout")
	}
	if envInt("MAX_RETRIES", &c.MaxRetries) {
		c.markSet("max_retries")
	}
	if envDuration("RETRY_DELAY", &c.RetryDelay) {
		c.markSet("retry_delay")
	}
	if envDuration("HEARTBEAT_INTERVAL", &c.HeartbeatInterval) {
		c.markSet("heartbeat_interval")
	}
	var policy string
	if envString("RETRY_POLICY", &policy) {
		c.Policy = watcher.RetryPolicy(policy)
		c.markSet("retry_policy")
	}
	if envDuration("RESUBSCRIBE_INTERVAL", &c.ResubscribeInterval) {
		c.markSet("resubscribe_interval")
	}
}

func (c *WatcherConfig) ResolvePaths(string) {}

// Merge returns base with every field of c that was set, or is non-zero,
// applied on top.
func (c WatcherConfig) Merge(base watcher.Config) watcher.Config {
	if c.has("connect_timeout", c.ConnectTimeout != 0) {
		base.ConnectTimeout = c.ConnectTimeout
	}
	if c.has("poll_interval", c.PollInterval != 0) {
		base.PollInterval = c.PollInterval
	}
	if c.has("poll_timeout", c.PollTimeout != 0) {
		base.PollTimeout = c.PollTimeout
	}
	if c.has("max_retries", c.MaxRetries != 0) {
		base.MaxRetries = c.MaxRetries
	}
	if c.has("retry_delay", c.RetryDelay != 0) {
		base.RetryDelay = c.RetryDelay
	}
	if c.has("heartbeat_interval", c.HeartbeatInterval != 0) {
		base.HeartbeatInterval = c.HeartbeatInterval
	}
	if c.has("retry_policy", c.Policy != "") {
		base.Policy = c.Policy
	}
	if c.has("resubscribe_interval", c.ResubscribeInterval != 0) {
		base.ResubscribeInterval = c.ResubscribeInterval
	}
	return base
}

func (c WatcherConfig) has(key string, nonZero bool) bool {
	return nonZero || c.set[key]
}

// SolanaConfig configures the Solana RPC endpoints.
type SolanaConfig struct {
	RPCURL string `yaml:"rpc_url"`
	// WSURL defaults to the pub/sub endpoint derived from RPCURL.
	WSURL       string        `yaml:"ws_url"`
	Commitment  string        `yaml:"commitment"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// DefaultSolanaConfig targets a local test validator.
func DefaultSolanaConfig() SolanaConfig {
	return SolanaConfig{
		RPCURL:      "http://127.0.0.1:8899",
		Commitment:  string(solana.CommitmentConfirmed),
		HTTPTimeout: 30 * time.Second,
	}
}

func (c *SolanaConfig) ApplyDefaults() {
	defaults := DefaultSolanaConfig()
	if c.RPCURL == "" {
		c.RPCURL = defaults.RPCURL
	}
	if c.Commitment == "" {
		c.Commitment = defaults.Commitment
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = defaults.HTTPTimeout
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *SolanaConfig) ApplyEnvOverrides() {
	envString("SOLANA_RPC_URL", &c.RPCURL)
	envString("SOLANA_WS_URL", &c.WSURL)
	envString("SOLANA_COMMITMENT", &c.Commitment)
}

func (c *SolanaConfig) ResolvePaths(_ string) { _ = c }

// Validate derives WSURL when it is unset.
func (c *SolanaConfig) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("solana.rpc_url is required")
	}
	if !solana.Commitment(c.Commitment).Valid() {
		return fmt.Errorf("solana.commitment %q must be processed, confirmed or finalized", c.Commitment)
	}
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("solana.http_timeout must not be negative")
	}
	if c.WSURL == "" {
		ws, err := solana.WebsocketURL(c.RPCURL)
		if err != nil {
			return fmt.Errorf("solana.ws_url: %w", err)
		}
		c.WSURL = ws
	}
	return nil
}

// NATSConfig configures the JetStream key-value connection.
type NATSConfig struct {
	kvwatch.ProviderConfig `yaml:",inline"`
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *NATSConfig) ApplyEnvOverrides() {
	envString("NATS_URL", &c.URL)
	envString("NATS_BUCKET", &c.Bucket)
	envBool("NATS_CREATE_BUCKET", &c.CreateBucket)
}

func (c *NATSConfig) ResolvePaths(_ string) { _ = c }

// MongoConfig configures the MongoDB connection.
type MongoConfig struct {
	docwatch.Config `yaml:",inline"`
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *MongoConfig) ApplyEnvOverrides() {
	envString("MONGO_URI", &c.URI)
	envString("MONGO_DATABASE", &c.Database)
	envString("MONGO_COLLECTION", &c.Collection)
}

func (c *MongoConfig) ResolvePaths(_ string) { _ = c }

// ServerConfig configures the health and metrics server.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{Addr: "127.0.0.1:9464"}
}

func (c *ServerConfig) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultServerConfig().Addr
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *ServerConfig) ApplyEnvOverrides() {
	envBool("SERVER_ENABLED", &c.Enabled)
	envString("SERVER_ADDR", &c.Addr)
}

func (c *ServerConfig) ResolvePaths(_ string) { _ = c }

func (c *ServerConfig) Validate() error {
	if c.Enabled && c.Addr == "" {
		return fmt.Errorf("server.addr is required when the server is enabled")
	}
	return nil
}
