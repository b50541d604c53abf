package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return errors.New("remote.base_url is required")
	}
	if err := validateURL("remote.base_url", c.Remote.BaseURL, "http", "https"); err != nil {
		return err
	}
	if c.Remote.WSURL != "" {
		if err := validateURL("remote.ws_url", c.Remote.WSURL, "ws", "wss"); err != nil {
			return err
		}
	}
	if c.Remote.HTTPTimeout < 0 {
		return errors.New("remote.http_timeout must be >= 0")
	}
	if c.Remote.RequestTimeout <= 0 {
		return errors.New("remote.request_timeout must be > 0")
	}

	if c.Connection.MaxAttempts < 1 {
		return errors.New("connection.max_attempts must be >= 1")
	}
	if c.Connection.BaseDelay <= 0 {
		return errors.New("connection.base_delay must be > 0")
	}
	if c.Connection.BufferSize < 1 {
		return errors.New("connection.buffer_size must be >= 1")
	}
	if c.Connection.PingInterval < 0 || c.Connection.PingTimeout < 0 {
		return errors.New("connection.ping_interval and ping_timeout must be >= 0")
	}

	if c.Gesture.MoveThreshold < 0 {
		return errors.New("gesture.move_threshold must be >= 0")
	}
	if c.Gesture.Throttle < 0 {
		return errors.New("gesture.throttle must be >= 0")
	}
	if c.Gesture.ClickMax <= 0 || c.Gesture.LongPress <= 0 {
		return errors.New("gesture.click_max and gesture.long_press must be > 0")
	}
	if c.Gesture.ClickMax >= c.Gesture.LongPress {
		return fmt.Errorf("gesture.click_max (%s) must be shorter than gesture.long_press (%s)",
			c.Gesture.ClickMax, c.Gesture.LongPress)
	}
	if c.Gesture.DPI < 0.1 || c.Gesture.DPI > 10 {
		return fmt.Errorf("gesture.dpi must be between 0.1 and 10, got %v", c.Gesture.DPI)
	}

	if c.Stats.Interval <= 0 {
		return errors.New("stats.interval must be > 0")
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return errors.New("metrics.port must be between 0 and 65535")
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}

	if _, err := c.LogLevel(); err != nil {
		return err
	}

	return nil
}

// LogLevel parses log.level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%s: missing host", field)
			}
			return nil
		}
	}
	return fmt.Errorf("%s: scheme must be one of %s", field, strings.Join(schemes, ", "))
}
