package config

import "time"

// Config is the root configuration for remotectl.
type Config struct {
	Remote     RemoteConfig     `yaml:"remote"`
	Connection ConnectionConfig `yaml:"connection"`
	Gesture    GestureConfig    `yaml:"gesture"`
	Stats      StatsConfig      `yaml:"stats"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// RemoteConfig locates the remote input service.
type RemoteConfig struct {
	BaseURL        string        `yaml:"base_url"`        // http(s)://host:port of the service
	WSURL          string        `yaml:"ws_url"`          // Optional; derived from base_url when empty
	HTTPTimeout    time.Duration `yaml:"http_timeout"`    // Per-call HTTP timeout
	RequestTimeout time.Duration `yaml:"request_timeout"` // Reply deadline on the websocket
	ForceHTTP      bool          `yaml:"force_http"`      // Never open the websocket
}

// ConnectionConfig holds websocket connection manager settings.
type ConnectionConfig struct {
	MaxAttempts      int           `yaml:"max_attempts"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	BufferSize       int           `yaml:"buffer_size"`
}

// GestureConfig holds recognizer thresholds.
type GestureConfig struct {
	MoveThreshold float64       `yaml:"move_threshold"` // Pixels
	Throttle      time.Duration `yaml:"throttle"`
	LongPress     time.Duration `yaml:"long_press"`
	ClickMax      time.Duration `yaml:"click_max"`
	DPI           float64       `yaml:"dpi"`
}

// StatsConfig holds stats poller settings.
type StatsConfig struct {
	Enabled  *bool         `yaml:"enabled"` // Default true
	Interval time.Duration `yaml:"interval"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"` // 0 disables the server
	Path string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// StatsEnabled reports whether the stats poller should run.
func (c *Config) StatsEnabled() bool {
	return c.Stats.Enabled == nil || *c.Stats.Enabled
}
