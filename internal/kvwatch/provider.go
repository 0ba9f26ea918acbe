package kvwatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// natsConnectFunc dials NATS (injectable for testing).
type natsConnectFunc func(url string, opts ...nats.Option) (*nats.Conn, error)

// storeOpener binds a bucket on an established connection (injectable for testing).
type storeOpener func(ctx context.Context, nc *nats.Conn, bucket string, create bool) (Store, error)

var defaultNatsConnect natsConnectFunc = nats.Connect

var defaultStoreOpener storeOpener = func(ctx context.Context, nc *nats.Conn, bucket string, create bool) (Store, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream: %w", err)
	}
	if create {
		return js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: bucket})
	}
	return js.KeyValue(ctx, bucket)
}

// ProviderConfig configures the NATS connection.
type ProviderConfig struct {
	URL    string `yaml:"url"`
	Bucket string `yaml:"bucket"`
	// CreateBucket creates the bucket when it does not exist.
	CreateBucket bool `yaml:"create_bucket"`
	// ConnectTimeout bounds the initial dial.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// DefaultProviderConfig returns the default NATS configuration.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		URL:            nats.DefaultURL,
		Bucket:         "slotwatch",
		ConnectTimeout: 5 * time.Second,
	}
}

// ApplyDefaults fills in zero values.
func (c *ProviderConfig) ApplyDefaults() {
	defaults := DefaultProviderConfig()
	if c.URL == "" {
		c.URL = defaults.URL
	}
	if c.Bucket == "" {
		c.Bucket = defaults.Bucket
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaults.ConnectTimeout
	}
}

// Validate returns an error if the configuration is invalid.
func (c *ProviderConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("nats.bucket is required")
	}
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("nats.connect_timeout must not be negative")
	}
	return nil
}

// Provider manages the NATS connection and the key-value bucket it watches.
type Provider struct {
	cfg    ProviderConfig
	logger *slog.Logger

	nc    *nats.Conn
	store Store

	natsConnect natsConnectFunc // injectable for testing
	openStore   storeOpener     // injectable for testing
}

// NewProvider creates a provider. Connect must be called before Store.
func NewProvider(cfg ProviderConfig, logger *slog.Logger) *Provider {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		cfg:         cfg,
		logger:      logger.With("component", "kv-provider"),
		natsConnect: defaultNatsConnect,
		openStore:   defaultStoreOpener,
	}
}

// Connect dials NATS and binds the bucket.
func (p *Provider) Connect(ctx context.Context) error {
	nc, err := p.natsConnect(p.cfg.URL,
		nats.Name("slotwatch"),
		nats.Timeout(p.cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", p.cfg.URL, err)
	}

	store, err := p.openStore(ctx, nc, p.cfg.Bucket, p.cfg.CreateBucket)
	if err != nil {
		if nc != nil {
			nc.Close()
		}
		return fmt.Errorf("failed to open bucket %s: %w", p.cfg.Bucket, err)
	}

	p.nc = nc
	p.store = store
	p.logger.Info("connected to NATS", "url", p.cfg.URL, "bucket", p.cfg.Bucket)
	return nil
}

// Store returns the bound bucket.
func (p *Provider) Store() (Store, error) {
	if p.store == nil {
		return nil, fmt.Errorf("NATS not connected, call Connect first")
	}
	return p.store, nil
}

// Close closes the NATS connection.
func (p *Provider) Close() error {
	if p.nc != nil {
		p.logger.Info("closing NATS connection")
		p.nc.Close()
	}
	p.nc = nil
	p.store = nil
	return nil
}
