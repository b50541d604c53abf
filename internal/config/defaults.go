package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBaseURL          = "http://localhost:8080"
	DefaultHTTPTimeout      = 10 * time.Second
	DefaultRequestTimeout   = 5 * time.Second
	DefaultMaxAttempts      = 5
	DefaultBaseDelay        = 1 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultPingTimeout      = 60 * time.Second
	DefaultBufferSize       = 256
	DefaultMoveThreshold    = 2.0
	DefaultThrottle         = 16 * time.Millisecond
	DefaultLongPress        = 500 * time.Millisecond
	DefaultClickMax         = 200 * time.Millisecond
	DefaultDPI              = 1.0
	DefaultStatsInterval    = 3 * time.Second
	DefaultMetricsPath      = "/metrics"
	DefaultLogLevel         = "info"
)

func (c *Config) applyDefaults() {
	// Remote defaults
	if c.Remote.BaseURL == "" {
		c.Remote.BaseURL = DefaultBaseURL
	}
	if c.Remote.HTTPTimeout == 0 {
		c.Remote.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.Remote.RequestTimeout == 0 {
		c.Remote.RequestTimeout = DefaultRequestTimeout
	}

	// Connection defaults
	if c.Connection.MaxAttempts == 0 {
		c.Connection.MaxAttempts = DefaultMaxAttempts
	}
	if c.Connection.BaseDelay == 0 {
		c.Connection.BaseDelay = DefaultBaseDelay
	}
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.PingTimeout == 0 {
		c.Connection.PingTimeout = DefaultPingTimeout
	}
	if c.Connection.BufferSize == 0 {
		c.Connection.BufferSize = DefaultBufferSize
	}

	// Gesture defaults
	if c.Gesture.MoveThreshold == 0 {
		c.Gesture.MoveThreshold = DefaultMoveThreshold
	}
	if c.Gesture.Throttle == 0 {
		c.Gesture.Throttle = DefaultThrottle
	}
	if c.Gesture.LongPress == 0 {
		c.Gesture.LongPress = DefaultLongPress
	}
	if c.Gesture.ClickMax == 0 {
		c.Gesture.ClickMax = DefaultClickMax
	}
	if c.Gesture.DPI == 0 {
		c.Gesture.DPI = DefaultDPI
	}

	// Stats defaults
	if c.Stats.Interval == 0 {
		c.Stats.Interval = DefaultStatsInterval
	}

	// Metrics defaults
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}
