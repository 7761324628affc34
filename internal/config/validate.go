package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *ClientConfig) Validate() error {
	if c.Server.WSURL == "" {
		return errors.New("server.ws_url is required")
	}
	if err := validateURL(c.Server.WSURL, "server.ws_url", "ws", "wss"); err != nil {
		return err
	}
	if c.Server.RestURL == "" {
		return errors.New("server.rest_url is required")
	}
	if err := validateURL(c.Server.RestURL, "server.rest_url", "http", "https"); err != nil {
		return err
	}

	if c.Channel.MaxAttempts < 1 {
		return errors.New("channel.max_attempts must be >= 1")
	}
	if c.Channel.RetryBaseDelay <= 0 {
		return errors.New("channel.retry_base_delay must be > 0")
	}
	if c.Channel.BufferSize < 1 {
		return errors.New("channel.buffer_size must be >= 1")
	}

	if c.Jobs.PollInterval <= 0 {
		return errors.New("jobs.poll_interval must be > 0")
	}

	if c.Cache.DebounceWindow <= 0 {
		return errors.New("cache.debounce_window must be > 0")
	}
	for scope, prefixes := range c.Cache.Scopes {
		if len(prefixes) == 0 {
			return fmt.Errorf("cache.scopes.%s must list at least one key prefix", scope)
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func validateURL(raw, field string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s scheme must be %s, got %q", field, strings.Join(schemes, " or "), u.Scheme)
}
