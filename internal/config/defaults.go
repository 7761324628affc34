package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestTimeout    = 30 * time.Second
	DefaultDialTimeout    = 10 * time.Second
	DefaultMaxAttempts    = 3
	DefaultRetryBaseDelay = 1 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
	DefaultPingTimeout    = 60 * time.Second
	DefaultBufferSize     = 256
	DefaultPollInterval   = 2 * time.Second
	DefaultResultScope    = "jobs"
	DefaultDebounceWindow = 500 * time.Millisecond
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
)

func (c *ClientConfig) applyDefaults() {
	// Server defaults
	if c.Server.Timeout == 0 {
		c.Server.Timeout = DefaultRestTimeout
	}

	// Channel defaults
	if c.Channel.DialTimeout == 0 {
		c.Channel.DialTimeout = DefaultDialTimeout
	}
	if c.Channel.MaxAttempts == 0 {
		c.Channel.MaxAttempts = DefaultMaxAttempts
	}
	if c.Channel.RetryBaseDelay == 0 {
		c.Channel.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.Channel.WriteTimeout == 0 {
		c.Channel.WriteTimeout = DefaultWriteTimeout
	}
	if c.Channel.PingTimeout == 0 {
		c.Channel.PingTimeout = DefaultPingTimeout
	}
	if c.Channel.BufferSize == 0 {
		c.Channel.BufferSize = DefaultBufferSize
	}

	// Jobs defaults
	if c.Jobs.PollInterval == 0 {
		c.Jobs.PollInterval = DefaultPollInterval
	}
	if c.Jobs.ResultScope == "" {
		c.Jobs.ResultScope = DefaultResultScope
	}

	// Cache defaults
	if c.Cache.DebounceWindow == 0 {
		c.Cache.DebounceWindow = DefaultDebounceWindow
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
