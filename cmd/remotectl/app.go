package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/remote-input/internal/api"
	"github.com/rickgao/remote-input/internal/config"
	"github.com/rickgao/remote-input/internal/connection"
	"github.com/rickgao/remote-input/internal/gesture"
	"github.com/rickgao/remote-input/internal/metrics"
	"github.com/rickgao/remote-input/internal/poller"
	"github.com/rickgao/remote-input/internal/remote"
	"github.com/rickgao/remote-input/internal/router"
	"github.com/rickgao/remote-input/internal/version"
	"github.com/rickgao/remote-input/internal/wire"
)

// app is the wired client: HTTP transport, optional websocket manager, push routing,
// metrics and the controller on top.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	http    *api.Client
	mgr     connection.Manager // nil when HTTP only
	pushes  *router.PushRouter
	metrics *metrics.Metrics
	ctl     *remote.Controller
	states  *stateFanout

	dialFailed bool // First dial failed; the manager is retrying in the background
}

// newApp wires the components. When dial is false or remote.force_http is set no
// websocket manager is created.
func newApp(cfg *config.Config, logger *slog.Logger, dial bool) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		pushes:  router.NewPushRouter(logger),
		states:  newStateFanout(),
	}

	a.http = api.NewClient(cfg.Remote.BaseURL,
		api.WithTimeout(cfg.Remote.HTTPTimeout),
		api.WithLogger(logger),
		api.WithUserAgent(version.UserAgent()),
	)

	a.pushes.Handle(wire.TypeBroadcast, func(env wire.Envelope) {
		logger.Info("broadcast from remote", "data", env.Data)
	})
	a.pushes.Handle(wire.TypePong, func(env wire.Envelope) {
		logger.Debug("pong")
	})
	a.pushes.HandleUnknown(func(env wire.Envelope) {
		logger.Debug("unhandled push", "type", env.Type, "request_id", env.RequestID)
	})

	if dial && !cfg.Remote.ForceHTTP {
		mcfg, err := managerConfig(cfg)
		if err != nil {
			return nil, err
		}
		a.mgr = connection.NewManager(mcfg, logger,
			connection.WithPushHandler(a.pushes),
			connection.WithObserver(a.metrics),
			connection.WithObserver(a.states),
		)
	}

	a.ctl = remote.New(a.mgr, a.http, logger,
		remote.WithRecorder(a.metrics),
		remote.WithStatusListener(func(status string) {
			logger.Debug("status", "status", status)
		}),
	)
	a.states.add(a.ctl)

	return a, nil
}

// start launches push routing and the websocket manager.
func (a *app) start(ctx context.Context) error {
	if err := a.pushes.Start(ctx); err != nil {
		return fmt.Errorf("start push router: %w", err)
	}
	if a.mgr != nil {
		if err := a.mgr.Start(ctx); err != nil {
			var ce *connection.ConnectError
			if !errors.As(err, &ce) {
				return fmt.Errorf("start connection manager: %w", err)
			}
			// The manager retries and falls back to HTTP on its own.
			a.dialFailed = true
			a.logger.Warn("websocket unavailable, commands use http until it connects", "error", err)
		}
	}
	return nil
}

// stop shuts everything down, joining errors.
func (a *app) stop(ctx context.Context) error {
	var errs []error
	if a.mgr != nil {
		if err := a.mgr.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop connection manager: %w", err))
		}
	}
	if err := a.pushes.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop push router: %w", err))
	}
	return errors.Join(errs...)
}

// waitSettled blocks until the manager is connected or has fallen back to HTTP,
// or until timeout. It returns at once when the first dial already failed. Commands
// sent afterwards use whichever transport is live.
func (a *app) waitSettled(ctx context.Context, timeout time.Duration) connection.State {
	if a.mgr == nil {
		return connection.StateFallbackHTTP
	}
	if a.dialFailed {
		return a.mgr.State()
	}
	settled := a.states.wait(func(s connection.State) bool {
		return s == connection.StateConnected || s == connection.StateFallbackHTTP
	})
	if s := a.mgr.State(); s == connection.StateConnected || s == connection.StateFallbackHTTP {
		return s
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-settled:
	case <-timer.C:
		a.logger.Debug("websocket not settled, using current transport", "state", a.mgr.State())
	case <-ctx.Done():
	}
	return a.mgr.State()
}

// managerConfig maps the config file onto the connection manager.
func managerConfig(cfg *config.Config) (connection.ManagerConfig, error) {
	wsURL := cfg.Remote.WSURL
	if wsURL == "" {
		derived, err := api.WebSocketURL(cfg.Remote.BaseURL)
		if err != nil {
			return connection.ManagerConfig{}, fmt.Errorf("derive websocket url: %w", err)
		}
		wsURL = derived
	}
	return connection.ManagerConfig{
		Client: connection.ClientConfig{
			URL:              wsURL,
			UserAgent:        version.UserAgent(),
			HandshakeTimeout: cfg.Connection.HandshakeTimeout,
			PingInterval:     cfg.Connection.PingInterval,
			PingTimeout:      cfg.Connection.PingTimeout,
			WriteTimeout:     cfg.Connection.WriteTimeout,
			BufferSize:       cfg.Connection.BufferSize,
		},
		MaxAttempts:    cfg.Connection.MaxAttempts,
		BaseDelay:      cfg.Connection.BaseDelay,
		RequestTimeout: cfg.Remote.RequestTimeout,
		ForceHTTP:      cfg.Remote.ForceHTTP,
	}, nil
}

// gestureConfig maps the config file onto the recognizer thresholds.
func gestureConfig(cfg *config.Config) gesture.Config {
	gc := gesture.DefaultConfig()
	gc.MoveThreshold = cfg.Gesture.MoveThreshold
	gc.Throttle = cfg.Gesture.Throttle
	gc.LongPress = cfg.Gesture.LongPress
	gc.ClickMax = cfg.Gesture.ClickMax
	gc.DPI = cfg.Gesture.DPI
	return gc
}

// pollerConfig maps the config file onto the stats poller.
func pollerConfig(cfg *config.Config) poller.Config {
	pc := poller.DefaultConfig()
	pc.Interval = cfg.Stats.Interval
	if cfg.Remote.HTTPTimeout > 0 && cfg.Remote.HTTPTimeout < pc.Interval {
		pc.Timeout = cfg.Remote.HTTPTimeout
	}
	return pc
}

// stateFanout forwards manager events to observers registered after the manager
// was built, and lets callers wait for a state.
type stateFanout struct {
	mu      sync.Mutex
	obs     []connection.Observer
	waiters []stateWaiter
}

type stateWaiter struct {
	match func(connection.State) bool
	ch    chan struct{}
}

func newStateFanout() *stateFanout {
	return &stateFanout{}
}

func (f *stateFanout) add(o connection.Observer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.obs = append(f.obs, o)
}

// wait returns a channel closed on the first transition into a matching state.
func (f *stateFanout) wait(match func(connection.State) bool) <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := stateWaiter{match: match, ch: make(chan struct{})}
	f.waiters = append(f.waiters, w)
	return w.ch
}

func (f *stateFanout) snapshot() []connection.Observer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]connection.Observer(nil), f.obs...)
}

func (f *stateFanout) StateChanged(from, to connection.State) {
	f.mu.Lock()
	kept := f.waiters[:0]
	for _, w := range f.waiters {
		if w.match(to) {
			close(w.ch)
			continue
		}
		kept = append(kept, w)
	}
	f.waiters = kept
	f.mu.Unlock()

	for _, o := range f.snapshot() {
		o.StateChanged(from, to)
	}
}

func (f *stateFanout) ReconnectScheduled(attempt int, delay time.Duration) {
	for _, o := range f.snapshot() {
		o.ReconnectScheduled(attempt, delay)
	}
}

func (f *stateFanout) DecodeFailed(err error) {
	for _, o := range f.snapshot() {
		o.DecodeFailed(err)
	}
}
