// Package config defines configuration for the streaming core. Config is
// loaded from a YAML file with sensitive fields overridable via STREAM_*
// environment variables, the same way the market-making bot this package
// was adapted from loads its own configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/links234/streamcore/internal/ratelimit"
)

// Config is the top-level configuration for a streamer instance.
type Config struct {
	Host      HostConfig      `mapstructure:"host"`
	Transport TransportConfig `mapstructure:"transport"`
	Book      BookConfig      `mapstructure:"book"`
	Sync      SyncConfig      `mapstructure:"sync"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// RateLimitConfig holds the order-client's two rate-limit categories.
// These are deployment-specific (the exchange account tier this
// process runs under), not a constant this package should bake in.
type RateLimitConfig struct {
	Order  ratelimit.Policy `mapstructure:"order"`
	Cancel ratelimit.Policy `mapstructure:"cancel"`
}

// HostConfig names the endpoints the streamer connects to.
type HostConfig struct {
	RESTBaseURL string `mapstructure:"rest_base_url"`
	WSMarketURL string `mapstructure:"ws_market_url"`
	WSUserURL   string `mapstructure:"ws_user_url"`
	ApiKey      string `mapstructure:"api_key"`
	Secret      string `mapstructure:"secret"`
	Passphrase  string `mapstructure:"passphrase"`
}

// TransportConfig tunes the WebSocket client's connection lifecycle.
//
//   - HeartbeatInterval: how often a PING is sent; two missed PONGs force
//     a reconnect. Zero disables heartbeating (the read deadline alone
//     then governs liveness).
//   - MaxReconnectionAttempts: 0 means retry forever.
//   - InitialReconnectionDelay/MaxReconnectionDelay: bound the
//     exponential backoff wait = min(max, initial*2^attempt) + jitter.
//   - EventBufferSize: capacity of each subscriber's broadcast channel.
type TransportConfig struct {
	HeartbeatInterval        time.Duration `mapstructure:"heartbeat_interval"`
	MaxReconnectionAttempts  int           `mapstructure:"max_reconnection_attempts"`
	InitialReconnectionDelay time.Duration `mapstructure:"initial_reconnection_delay"`
	MaxReconnectionDelay     time.Duration `mapstructure:"max_reconnection_delay"`
	EventBufferSize          int           `mapstructure:"event_buffer_size"`
	RequestTimeout           time.Duration `mapstructure:"request_timeout"`
	IdleTimeout              time.Duration `mapstructure:"idle_timeout"`
}

// BookConfig controls order book hash verification behavior.
type BookConfig struct {
	SkipHashVerification   bool `mapstructure:"skip_hash_verification"`
	QuietHashMismatch      bool `mapstructure:"quiet_hash_mismatch"`
	AutoSyncOnHashMismatch bool `mapstructure:"auto_sync_on_hash_mismatch"`
}

// SyncConfig tunes the initial-state synchronizer's REST pre-fetch.
type SyncConfig struct {
	Concurrency       int           `mapstructure:"concurrency"`
	RequestSpacing    time.Duration `mapstructure:"request_spacing"`
	BurstSpacingEvery int           `mapstructure:"burst_spacing_every"`
	BurstSpacing      time.Duration `mapstructure:"burst_spacing"`
	MaxRetries        int           `mapstructure:"max_retries"`
}

// StrategyConfig tunes the normative SimpleStrategy example.
type StrategyConfig struct {
	MinSpread         float64       `mapstructure:"min_spread"`
	MaxSpread         float64       `mapstructure:"max_spread"`
	VolumeWindow      time.Duration `mapstructure:"volume_window"`
	MaxActiveOrders   int           `mapstructure:"max_active_orders"`
	BaseDiscount      float64       `mapstructure:"base_discount"`
	DiscountIncrement float64       `mapstructure:"discount_increment"`
	OrderTickInterval time.Duration `mapstructure:"order_tick_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns the configuration this package ships with when a
// caller doesn't override a value, mirroring the streaming service
// defaults it was grounded on.
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			HeartbeatInterval:        30 * time.Second,
			MaxReconnectionAttempts:  10,
			InitialReconnectionDelay: time.Second,
			MaxReconnectionDelay:     30 * time.Second,
			EventBufferSize:          10000,
			RequestTimeout:           5 * time.Second,
			IdleTimeout:              30 * time.Second,
		},
		Book: BookConfig{
			SkipHashVerification:   false,
			QuietHashMismatch:      false,
			AutoSyncOnHashMismatch: true,
		},
		Sync: SyncConfig{
			Concurrency:       3,
			RequestSpacing:    10 * time.Millisecond,
			BurstSpacingEvery: 100,
			BurstSpacing:      100 * time.Millisecond,
			MaxRetries:        5,
		},
		RateLimit: RateLimitConfig{
			Order:  ratelimit.Policy{Capacity: 350, RatePerSecond: 50},
			Cancel: ratelimit.Policy{Capacity: 300, RatePerSecond: 30},
		},
		Strategy: StrategyConfig{
			MinSpread:         0.01,
			MaxSpread:         0.05,
			VolumeWindow:      60 * time.Second,
			MaxActiveOrders:   4,
			BaseDiscount:      0.01,
			DiscountIncrement: 0.005,
			OrderTickInterval: time.Second,
			HeartbeatInterval: 30 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads config from a YAML file over the defaults, with env var
// overrides for credentials.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("STREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("STREAM_API_KEY"); key != "" {
		cfg.Host.ApiKey = key
	}
	if secret := os.Getenv("STREAM_API_SECRET"); secret != "" {
		cfg.Host.Secret = secret
	}
	if pass := os.Getenv("STREAM_PASSPHRASE"); pass != "" {
		cfg.Host.Passphrase = pass
	}

	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Host.RESTBaseURL == "" {
		return fmt.Errorf("host.rest_base_url is required")
	}
	if c.Host.WSMarketURL == "" {
		return fmt.Errorf("host.ws_market_url is required")
	}
	if c.Transport.MaxReconnectionAttempts < 0 {
		return fmt.Errorf("transport.max_reconnection_attempts must be >= 0 (0 means infinite)")
	}
	if c.Transport.InitialReconnectionDelay <= 0 {
		return fmt.Errorf("transport.initial_reconnection_delay must be > 0")
	}
	if c.Transport.MaxReconnectionDelay < c.Transport.InitialReconnectionDelay {
		return fmt.Errorf("transport.max_reconnection_delay must be >= initial_reconnection_delay")
	}
	if c.Transport.EventBufferSize <= 0 {
		return fmt.Errorf("transport.event_buffer_size must be > 0")
	}
	if c.Sync.Concurrency <= 0 {
		return fmt.Errorf("sync.concurrency must be > 0")
	}
	if err := c.RateLimit.Order.Validate("rate_limit.order"); err != nil {
		return err
	}
	if err := c.RateLimit.Cancel.Validate("rate_limit.cancel"); err != nil {
		return err
	}
	if c.Strategy.MinSpread <= 0 || c.Strategy.MaxSpread <= c.Strategy.MinSpread {
		return fmt.Errorf("strategy.max_spread must be > strategy.min_spread > 0")
	}
	if c.Strategy.MaxActiveOrders <= 0 {
		return fmt.Errorf("strategy.max_active_orders must be > 0")
	}
	return nil
}
