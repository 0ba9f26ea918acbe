package watcher

import (
	"fmt"
	"log/slog"
	"time"
)

// RetryPolicy selects what happens after the subscription is lost.
type RetryPolicy string

const (
	// PolicyFallback commits to polling once connect attempts are exhausted or
	// an established stream ends.
	PolicyFallback RetryPolicy = "fallback"

	// PolicyResubscribe reconnects after a stream ends and, while polling,
	// keeps trying to resubscribe every ResubscribeInterval.
	PolicyResubscribe RetryPolicy = "resubscribe"
)

// Config holds the timing configuration of a watcher.
type Config struct {
	// ConnectTimeout bounds a single subscribe attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// PollInterval is the time between poll cycles while polling.
	// Zero disables periodic polling; the immediate and seed polls still happen.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollTimeout bounds a single poll cycle. Zero leaves it bounded only by
	// cancellation.
	PollTimeout time.Duration `yaml:"poll_timeout"`

	// MaxRetries is the number of additional connect attempts after the first
	// one fails, before giving up on the subscription.
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay is the fixed delay between connect attempts.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// HeartbeatInterval polls periodically while streaming, independent of the
	// stream. Zero disables it.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// Policy is the retry policy. Defaults to PolicyFallback.
	Policy RetryPolicy `yaml:"retry_policy"`

	// ResubscribeInterval is how often PolicyResubscribe retries the
	// subscription while polling.
	ResubscribeInterval time.Duration `yaml:"resubscribe_interval"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:      8 * time.Second,
		RetryDelay:          2 * time.Second,
		Policy:              PolicyFallback,
		ResubscribeInterval: 30 * time.Second,
	}
}

// ApplyDefaults fills in zero values with defaults. PollInterval,
// PollTimeout, MaxRetries and HeartbeatInterval are left alone because zero
// is meaningful for them.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaults.ConnectTimeout
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = defaults.RetryDelay
	}
	if c.Policy == "" {
		c.Policy = defaults.Policy
	}
	if c.ResubscribeInterval == 0 {
		c.ResubscribeInterval = defaults.ResubscribeInterval
	}
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("%w: connect_timeout must not be negative", ErrInvalidOptions)
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("%w: poll_interval must not be negative", ErrInvalidOptions)
	}
	if c.PollTimeout < 0 {
		return fmt.Errorf("%w: poll_timeout must not be negative", ErrInvalidOptions)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must not be negative", ErrInvalidOptions)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("%w: retry_delay must not be negative", ErrInvalidOptions)
	}
	if c.HeartbeatInterval < 0 {
		return fmt.Errorf("%w: heartbeat_interval must not be negative", ErrInvalidOptions)
	}
	if c.ResubscribeInterval < 0 {
		return fmt.Errorf("%w: resubscribe_interval must not be negative", ErrInvalidOptions)
	}
	switch c.Policy {
	case "", PolicyFallback, PolicyResubscribe:
	default:
		return fmt.Errorf("%w: retry_policy must be %q or %q, got %q",
			ErrInvalidOptions, PolicyFallback, PolicyResubscribe, c.Policy)
	}
	return nil
}

// Options configures a single watcher.
type Options[T any] struct {
	Config

	// Name identifies the watcher in logs and metrics.
	Name string

	// OnUpdate receives every accepted update, in strictly increasing slot
	// order. A nil value means the resource is absent. Required.
	//
	// It may be called from the stream loop, the heartbeat task or the poll
	// loop; calls never overlap.
	OnUpdate func(slot Slot, value *T)

	// OnError receives every recoverable failure and the final unrecoverable
	// one. Optional.
	OnError func(err error)

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Observer receives lifecycle notifications. Optional.
	Observer Observer
}

func (o *Options[T]) validate() error {
	if o.OnUpdate == nil {
		return fmt.Errorf("%w: OnUpdate is required", ErrInvalidOptions)
	}
	return o.Config.Validate()
}
