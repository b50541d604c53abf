package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/remote-input/internal/correlator"
	"github.com/rickgao/remote-input/internal/wire"
)

// Manager owns the duplex channel lifecycle.
type Manager interface {
	// Start connects (unless HTTP mode is forced) and keeps the channel alive.
	Start(ctx context.Context) error

	// Stop closes the channel with the normal close code and rejects in-flight requests.
	Stop(ctx context.Context) error

	// Connect dials the channel from Disconnected or FallbackHTTP.
	Connect() error

	// SwitchMode is the manual toggle between the duplex channel and HTTP.
	SwitchMode(mode Mode) error

	// Send transmits a message. With expectResponse it waits for the correlated reply.
	Send(ctx context.Context, msgType string, data any, expectResponse bool) (map[string]any, error)

	// Dispatch handles one inbound frame.
	Dispatch(raw []byte)

	// State returns the current connection state.
	State() State

	// Stats returns current counters.
	Stats() ManagerStats
}

// PushHandler receives inbound messages that do not answer a pending request.
type PushHandler interface {
	HandlePush(env wire.Envelope)
}

// PushHandlerFunc is a function adapter for PushHandler.
type PushHandlerFunc func(wire.Envelope)

func (f PushHandlerFunc) HandlePush(env wire.Envelope) {
	f(env)
}

// Observer receives manager events. All methods must be cheap; they run with no lock held.
type Observer interface {
	StateChanged(from, to State)
	ReconnectScheduled(attempt int, delay time.Duration)
	DecodeFailed(err error)
}

// ManagerOption configures a manager.
type ManagerOption func(*manager)

// WithPushHandler sets the handler for unsolicited messages.
func WithPushHandler(h PushHandler) ManagerOption {
	return func(m *manager) {
		m.push = h
	}
}

// WithObserver registers an observer for state changes and failures.
func WithObserver(o Observer) ManagerOption {
	return func(m *manager) {
		m.observers = append(m.observers, o)
	}
}

// WithCorrelator shares a correlator (default: a private one).
func WithCorrelator(c *correlator.Correlator) ManagerOption {
	return func(m *manager) {
		m.pending = c
	}
}

// manager implements the Manager interface.
type manager struct {
	cfg       ManagerConfig
	logger    *slog.Logger
	pending   *correlator.Correlator
	ids       *correlator.IDGenerator
	push      PushHandler
	observers []Observer

	// Swapped in tests.
	newClient func(ClientConfig, *slog.Logger) Client
	afterFunc func(time.Duration, func()) stopper

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     State
	client    Client
	gen       uint64 // Bumped whenever the live client is replaced or dropped
	forceHTTP bool
	reconnect *ReconnectState

	sent       atomic.Int64
	received   atomic.Int64
	decodeErrs atomic.Int64
	reconnects atomic.Int64
	fallbacks  atomic.Int64
}

// NewManager creates a new Connection Manager in the Disconnected state.
func NewManager(cfg ManagerConfig, logger *slog.Logger, opts ...ManagerOption) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = correlator.DefaultTimeout
	}

	m := &manager{
		cfg:       cfg,
		logger:    logger,
		ids:       correlator.NewIDGenerator(),
		forceHTTP: cfg.ForceHTTP,
		newClient: NewClient,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		state: StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.pending == nil {
		m.pending = correlator.New(logger)
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	return m
}

// Start begins the connection manager.
func (m *manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.logger.Info("connection manager started",
		"url", m.cfg.Client.URL,
		"force_http", m.cfg.ForceHTTP,
		"max_attempts", m.cfg.MaxAttempts,
	)

	return m.Connect()
}

// Stop gracefully shuts down.
func (m *manager) Stop(ctx context.Context) error {
	m.logger.Info("stopping connection manager")

	m.mu.Lock()
	m.cancelReconnectLocked()
	c := m.dropClientLocked()
	from := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()
	m.notifyState(from, StateDisconnected)

	if c != nil {
		c.Close()
	}
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, forcing close")
		err = ctx.Err()
	}

	if n := m.pending.RejectAll(ErrConnectionLost); n > 0 {
		m.logger.Debug("rejected in-flight requests on stop", "count", n)
	}

	m.logger.Info("connection manager stopped")
	return err
}

// Connect moves Disconnected/FallbackHTTP to Connecting and dials.
func (m *manager) Connect() error {
	m.mu.Lock()
	if m.forceHTTP {
		from := m.setStateLocked(StateFallbackHTTP)
		m.mu.Unlock()
		m.notifyState(from, StateFallbackHTTP)
		return nil
	}
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	from := m.setStateLocked(StateConnecting)
	gen := m.gen
	m.mu.Unlock()
	m.notifyState(from, StateConnecting)

	return m.dial(gen)
}

// SwitchMode implements the manual transport toggle.
func (m *manager) SwitchMode(mode Mode) error {
	m.mu.Lock()
	m.cancelReconnectLocked()
	c := m.dropClientLocked()

	if mode == ModeHTTP {
		m.forceHTTP = true
		from := m.setStateLocked(StateFallbackHTTP)
		m.mu.Unlock()

		if c != nil {
			c.Close()
		}
		m.pending.RejectAll(ErrConnectionLost)
		m.notifyState(from, StateFallbackHTTP)
		m.logger.Info("switched to http mode")
		return nil
	}

	m.forceHTTP = false
	from := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if c != nil {
		c.Close()
	}
	m.pending.RejectAll(ErrConnectionLost)
	m.notifyState(from, StateDisconnected)
	m.logger.Info("switched to websocket mode")

	return m.Connect()
}

// Send transmits one message on the duplex channel.
func (m *manager) Send(ctx context.Context, msgType string, data any, expectResponse bool) (map[string]any, error) {
	m.mu.Lock()
	if m.state != StateConnected || m.client == nil {
		m.mu.Unlock()
		return nil, ErrNotConnected
	}
	c := m.client
	m.mu.Unlock()

	if !expectResponse {
		payload, err := wire.Encode(msgType, data, "")
		if err != nil {
			return nil, err
		}
		if err := c.Send(payload); err != nil {
			return nil, fmt.Errorf("send %s: %w", msgType, err)
		}
		m.sent.Add(1)
		return nil, nil
	}

	id := m.ids.Next()
	payload, err := wire.Encode(msgType, data, id)
	if err != nil {
		return nil, err
	}

	p := m.pending.Register(id, time.Now().Add(m.cfg.RequestTimeout))
	if err := c.Send(payload); err != nil {
		m.pending.Reject(id, err)
		return nil, fmt.Errorf("send %s: %w", msgType, err)
	}
	m.sent.Add(1)

	resp, err := p.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		// Caller gave up; release the entry. The remote action may still have happened.
		m.pending.Reject(id, ctx.Err())
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", msgType, id, err)
	}
	return resp, nil
}

// Dispatch handles one inbound frame: replies resolve pending requests, everything
// else goes to the push handler.
func (m *manager) Dispatch(raw []byte) {
	m.received.Add(1)

	env, err := wire.Decode(raw)
	if err != nil {
		m.decodeErrs.Add(1)
		m.logger.Warn("dropping malformed message", "error", err, "bytes", len(raw))
		for _, o := range m.observers {
			o.DecodeFailed(err)
		}
		return
	}

	if env.RequestID != "" {
		var handled bool
		if env.Type == wire.TypeError {
			msg := "unknown error"
			if payload, err := wire.DecodeData[wire.ErrorPayload](env); err == nil && payload.Message != "" {
				msg = payload.Message
			}
			handled = m.pending.Reject(env.RequestID, &RemoteError{Message: msg})
		} else {
			handled = m.pending.Resolve(env.RequestID, env.Data)
		}
		if handled {
			return
		}
		m.logger.Debug("reply for unknown or expired request",
			"type", env.Type,
			"request_id", env.RequestID,
		)
	}

	if m.push == nil {
		m.logger.Debug("unhandled push message", "type", env.Type)
		return
	}
	m.push.HandlePush(env)
}

// State returns the current connection state.
func (m *manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	m.mu.Lock()
	state := m.state
	attempt := 0
	if m.reconnect != nil {
		attempt = m.reconnect.Attempt
	}
	m.mu.Unlock()

	return ManagerStats{
		State:            state,
		Attempt:          attempt,
		Pending:          m.pending.Len(),
		MessagesSent:     m.sent.Load(),
		MessagesReceived: m.received.Load(),
		DecodeErrors:     m.decodeErrs.Load(),
		Reconnects:       m.reconnects.Load(),
		Fallbacks:        m.fallbacks.Load(),
	}
}

// dial opens a new client. gen is the generation observed when Connecting was entered;
// if it changed meanwhile a manual switch superseded this attempt.
func (m *manager) dial(gen uint64) error {
	wsURL := m.cfg.Client.URL
	if err := validateURL(wsURL); err != nil {
		// Construction errors cannot be fixed by retrying.
		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			return nil
		}
		m.reconnect = nil
		from := m.setStateLocked(StateFallbackHTTP)
		m.mu.Unlock()

		m.fallbacks.Add(1)
		m.notifyState(from, StateFallbackHTTP)
		m.logger.Error("invalid websocket url, using http", "url", wsURL, "error", err)
		return &ConnectError{URL: wsURL, Err: err}
	}

	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()

	c := m.newClient(m.cfg.Client, m.logger)
	err := c.Connect(ctx)

	m.mu.Lock()
	if m.gen != gen || m.state != StateConnecting {
		m.mu.Unlock()
		if err == nil {
			c.Close()
		}
		return nil
	}

	if err != nil {
		m.logger.Warn("websocket connect failed", "url", wsURL, "error", err)
		to := m.scheduleReconnectLocked()
		from := m.setStateLocked(to)
		m.mu.Unlock()
		m.notifyState(from, to)
		return &ConnectError{URL: wsURL, Err: err}
	}

	m.gen++
	gen = m.gen
	m.client = c
	if m.reconnect != nil {
		m.reconnects.Add(1)
	}
	m.reconnect = nil
	from := m.setStateLocked(StateConnected)
	m.wg.Add(1)
	go m.readLoop(ctx, c, gen)
	m.mu.Unlock()

	m.notifyState(from, StateConnected)
	m.logger.Info("websocket connected", "url", wsURL)
	return nil
}

// readLoop dispatches frames from one client until it fails or is replaced.
func (m *manager) readLoop(ctx context.Context, c Client, gen uint64) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-c.Messages():
			m.Dispatch(msg.Data)

		case err := <-c.Errors():
			// Drain frames that arrived before the failure so replies are not lost.
			for {
				select {
				case msg := <-c.Messages():
					m.Dispatch(msg.Data)
					continue
				default:
				}
				break
			}
			m.handleClose(gen, err)
			return
		}
	}
}

// handleClose reacts to the live channel ending.
func (m *manager) handleClose(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.client == nil {
		m.mu.Unlock()
		return
	}
	c := m.dropClientLocked()

	var to State
	if IsNormalClose(cause) {
		to = StateDisconnected
		m.logger.Info("websocket closed normally")
	} else {
		m.logger.Warn("websocket closed unexpectedly", "error", cause)
		to = m.scheduleReconnectLocked()
	}
	from := m.setStateLocked(to)
	m.mu.Unlock()

	c.Close()
	m.pending.RejectAll(ErrConnectionLost)
	m.notifyState(from, to)
}

// scheduleReconnectLocked arms the next retry and returns the state to enter:
// Connecting while retries remain, FallbackHTTP once they are exhausted.
func (m *manager) scheduleReconnectLocked() State {
	if m.reconnect == nil {
		m.reconnect = &ReconnectState{
			MaxAttempts: m.cfg.MaxAttempts,
			BaseDelay:   m.cfg.BaseDelay,
		}
	}
	rs := m.reconnect

	if rs.Exhausted() {
		m.logger.Warn("reconnect attempts exhausted, falling back to http",
			"attempts", rs.Attempt,
		)
		m.reconnect = nil
		m.fallbacks.Add(1)
		return StateFallbackHTTP
	}

	rs.Attempt++
	delay := rs.Delay()
	attempt := rs.Attempt
	gen := m.gen

	m.logger.Info("scheduling reconnect", "attempt", attempt, "delay", delay)
	rs.timer = m.afterFunc(delay, func() { m.retry(rs, gen) })

	for _, o := range m.observers {
		o.ReconnectScheduled(attempt, delay)
	}
	return StateConnecting
}

// retry is the backoff timer callback.
func (m *manager) retry(rs *ReconnectState, gen uint64) {
	m.mu.Lock()
	if m.reconnect != rs || m.gen != gen || m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.logger.Info("attempting reconnection", "attempt", rs.Attempt)
	if err := m.dial(gen); err != nil {
		m.logger.Debug("reconnection failed", "attempt", rs.Attempt, "error", err)
	}
}

func (m *manager) cancelReconnectLocked() {
	if m.reconnect != nil && m.reconnect.timer != nil {
		m.reconnect.timer.Stop()
	}
	m.reconnect = nil
}

// dropClientLocked detaches the live client and invalidates its read loop.
func (m *manager) dropClientLocked() Client {
	c := m.client
	m.client = nil
	m.gen++
	return c
}

func (m *manager) setStateLocked(to State) State {
	from := m.state
	m.state = to
	return from
}

func (m *manager) notifyState(from, to State) {
	if from == to {
		return
	}
	m.logger.Debug("connection state changed", "from", from, "to", to)
	for _, o := range m.observers {
		o.StateChanged(from, to)
	}
}

// validateURL catches errors that make dialing pointless.
func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
