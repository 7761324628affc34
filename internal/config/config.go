// Package config loads and validates YAML client configuration.
package config

import (
	"time"

	"github.com/marketpulse/realtime/internal/cache"
	"github.com/marketpulse/realtime/internal/connection"
	"github.com/marketpulse/realtime/internal/job"
)

// ClientConfig is the root configuration for a realtime client.
type ClientConfig struct {
	Server  ServerConfig  `yaml:"server"`
	Channel ChannelConfig `yaml:"channel"`
	Jobs    JobsConfig    `yaml:"jobs"`
	Cache   CacheConfig   `yaml:"cache"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig holds the MarketPulse endpoints and credentials.
type ServerConfig struct {
	WSURL     string        `yaml:"ws_url"`   // Live channel endpoint
	RestURL   string        `yaml:"rest_url"` // REST API base
	AuthToken string        `yaml:"auth_token"`
	Timeout   time.Duration `yaml:"timeout"` // Per-request REST timeout
}

// ChannelConfig holds connection manager settings.
type ChannelConfig struct {
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PingTimeout    time.Duration `yaml:"ping_timeout"`
	BufferSize     int           `yaml:"buffer_size"`
}

// JobsConfig holds job tracker settings.
type JobsConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	ResultScope  string        `yaml:"result_scope"`
}

// CacheConfig holds cache synchronizer settings. Scopes overrides the
// built-in scope taxonomy when non-empty.
type CacheConfig struct {
	DebounceWindow time.Duration       `yaml:"debounce_window"`
	Scopes         map[string][]string `yaml:"scopes"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// ManagerConfig maps the loaded settings onto the connection manager.
func (c *ClientConfig) ManagerConfig() connection.ManagerConfig {
	return connection.ManagerConfig{
		URL:            c.Server.WSURL,
		AuthToken:      c.Server.AuthToken,
		DialTimeout:    c.Channel.DialTimeout,
		MaxAttempts:    c.Channel.MaxAttempts,
		RetryBaseDelay: c.Channel.RetryBaseDelay,
		WriteTimeout:   c.Channel.WriteTimeout,
		PingTimeout:    c.Channel.PingTimeout,
		BufferSize:     c.Channel.BufferSize,
	}
}

// JobConfig maps the loaded settings onto the job tracker.
func (c *ClientConfig) JobConfig() job.Config {
	return job.Config{
		PollInterval: c.Jobs.PollInterval,
		ResultScope:  c.Jobs.ResultScope,
	}
}

// CacheSyncConfig maps the loaded settings onto the cache synchronizer.
func (c *ClientConfig) CacheSyncConfig() cache.Config {
	cfg := cache.DefaultConfig()
	cfg.DebounceWindow = c.Cache.DebounceWindow
	if len(c.Cache.Scopes) > 0 {
		cfg.Scopes = c.Cache.Scopes
	}
	return cfg
}
