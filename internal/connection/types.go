package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/remote-input/internal/correlator"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrConnectionLost  = errors.New("connection lost")
	ErrTimeout         = correlator.ErrTimeout
)

// ConnectError reports that the duplex channel failed to open.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// RemoteError is an "error" reply correlated to a request.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote error: " + e.Message
}

// State is the connection manager state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFallbackHTTP
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFallbackHTTP:
		return "fallback_http"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Mode is the transport the user asked for.
type Mode int

const (
	ModeDuplex Mode = iota
	ModeHTTP
)

func (m Mode) String() string {
	if m == ModeHTTP {
		return "http"
	}
	return "websocket"
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // ws:// or wss:// URL of the /ws endpoint
	UserAgent        string        // Sent in the handshake
	HandshakeTimeout time.Duration // Dial handshake deadline
	PingInterval     time.Duration // Client keepalive ping period
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       256,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	Client         ClientConfig
	MaxAttempts    int           // Reconnect attempts before permanent HTTP fallback
	BaseDelay      time.Duration // First reconnect delay; doubles per attempt
	RequestTimeout time.Duration // Reply deadline for request/response sends
	ForceHTTP      bool          // Start in HTTP mode without dialing
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Client:         DefaultClientConfig(),
		MaxAttempts:    5,
		BaseDelay:      time.Second,
		RequestTimeout: correlator.DefaultTimeout,
	}
}

// ReconnectState tracks an in-progress reconnect sequence.
type ReconnectState struct {
	Attempt     int
	MaxAttempts int
	BaseDelay   time.Duration

	timer stopper
}

// Delay returns the backoff before the current attempt: BaseDelay * 2^(Attempt-1).
func (r *ReconnectState) Delay() time.Duration {
	if r.Attempt < 1 {
		return 0
	}
	return r.BaseDelay << (r.Attempt - 1)
}

// Exhausted reports whether no retries remain.
func (r *ReconnectState) Exhausted() bool {
	return r.Attempt >= r.MaxAttempts
}

// ManagerStats is a snapshot of the manager's counters.
type ManagerStats struct {
	State            State
	Attempt          int
	Pending          int
	MessagesSent     int64
	MessagesReceived int64
	DecodeErrors     int64
	Reconnects       int64
	Fallbacks        int64
}

// stopper is the part of *time.Timer the manager needs.
type stopper interface {
	Stop() bool
}
