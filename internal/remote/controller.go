package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/rickgao/remote-input/internal/api"
	"github.com/rickgao/remote-input/internal/connection"
	"github.com/rickgao/remote-input/internal/gesture"
	"github.com/rickgao/remote-input/internal/wire"
)

// Transport names used in status lines, latency samples and metrics.
const (
	TransportWebSocket = "websocket"
	TransportHTTP      = "http"
)

// HistorySize is the number of latency samples kept.
const HistorySize = 50

// ErrEmptyText is returned by TypeText for blank input.
var ErrEmptyText = errors.New("text is empty")

// HTTPTransport is the fallback path. *api.Client implements it.
type HTTPTransport interface {
	Press(ctx context.Context, key string, durationMS int) (string, error)
	Type(ctx context.Context, text string) (string, error)
	Actions(ctx context.Context, actions []api.Action) (string, error)
	TouchpadMove(ctx context.Context, move wire.TouchpadMove) error
	TouchpadClick(ctx context.Context, click wire.TouchpadClick) error
	TouchpadScroll(ctx context.Context, scroll wire.TouchpadScroll) error
	Stats(ctx context.Context) (api.Stats, error)
}

// Recorder records per-command outcomes, typically into metrics.
type Recorder interface {
	ObserveCommand(command, transport string, d time.Duration, err error)
}

// LatencySample is one completed call.
type LatencySample struct {
	At        time.Time
	Command   string
	Transport string
	Latency   time.Duration
	Err       string
}

// Option configures a Controller.
type Option func(*Controller)

// WithRecorder sets the command recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		c.recorder = r
	}
}

// WithStatusListener is called with every new status line.
func WithStatusListener(f func(status string)) Option {
	return func(c *Controller) {
		c.onStatus = f
	}
}

// Controller routes commands over the duplex channel or HTTP.
type Controller struct {
	mgr      connection.Manager // nil means HTTP only
	http     HTTPTransport
	logger   *slog.Logger
	recorder Recorder
	onStatus func(string)

	mu      sync.Mutex
	status  string
	history []LatencySample // Ring of HistorySize
	next    int
	filled  bool
}

// New creates a Controller. mgr may be nil.
func New(mgr connection.Manager, http HTTPTransport, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		mgr:     mgr,
		http:    http,
		logger:  logger,
		status:  "ready",
		history: make([]LatencySample, HistorySize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PressKey presses key for durationMS milliseconds.
func (c *Controller) PressKey(ctx context.Context, key string, durationMS int) (string, error) {
	if durationMS <= 0 {
		durationMS = api.DefaultPressDuration
	}
	key = strings.ToLower(strings.TrimSpace(key))
	return c.call(ctx, wire.TypeKeyPress, wire.KeyPress{Key: key, Duration: durationMS}, true,
		func(ctx context.Context) (string, error) {
			return c.http.Press(ctx, key, durationMS)
		})
}

// TypeText types text after normalising it to NFC, so composed characters reach the
// remote keyboard as single code points.
func (c *Controller) TypeText(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		c.setStatus("type_text failed: " + ErrEmptyText.Error())
		return "", ErrEmptyText
	}
	text = norm.NFC.String(text)
	return c.call(ctx, wire.TypeTypeText, wire.TypeText{Text: text}, true,
		func(ctx context.Context) (string, error) {
			return c.http.Type(ctx, text)
		})
}

// Actions submits a key sequence. Only the HTTP endpoint supports batches.
func (c *Controller) Actions(ctx context.Context, actions []api.Action) (string, error) {
	start := time.Now()
	resp, err := c.http.Actions(ctx, actions)
	c.finish("actions", TransportHTTP, start, err, true)
	return resp, err
}

// Move sends a relative pointer move. Deltas are already DPI-scaled, so the wire dpi is 1.
func (c *Controller) Move(ctx context.Context, dx, dy int) error {
	move := wire.TouchpadMove{DeltaX: dx, DeltaY: dy, DPI: 1}
	_, err := c.callQuiet(ctx, wire.TypeTouchpadMove, move, false,
		func(ctx context.Context) (string, error) {
			return "", c.http.TouchpadMove(ctx, move)
		})
	return err
}

// Click sends a single click with button.
func (c *Controller) Click(ctx context.Context, button string) error {
	return c.click(ctx, button, wire.ClickSingle)
}

// DoubleClick sends a double click with button.
func (c *Controller) DoubleClick(ctx context.Context, button string) error {
	return c.click(ctx, button, wire.ClickDouble)
}

func (c *Controller) click(ctx context.Context, button, kind string) error {
	if button != wire.ButtonLeft && button != wire.ButtonRight {
		return fmt.Errorf("unknown button %q", button)
	}
	click := wire.TouchpadClick{Button: button, Type: kind}
	_, err := c.call(ctx, wire.TypeTouchpadClick, click, true,
		func(ctx context.Context) (string, error) {
			return "", c.http.TouchpadClick(ctx, click)
		})
	return err
}

// Scroll sends a scroll by raw wheel delta.
func (c *Controller) Scroll(ctx context.Context, dx, dy int) error {
	scroll := wire.TouchpadScroll{DeltaX: dx, DeltaY: dy}
	_, err := c.call(ctx, wire.TypeTouchpadScroll, scroll, true,
		func(ctx context.Context) (string, error) {
			return "", c.http.TouchpadScroll(ctx, scroll)
		})
	return err
}

// Stats fetches the service statistics over HTTP.
func (c *Controller) Stats(ctx context.Context) (api.Stats, error) {
	return c.http.Stats(ctx)
}

// Emit implements gesture.Sink.
func (c *Controller) Emit(ctx context.Context, cmd gesture.Command) error {
	switch cmd.Kind {
	case gesture.CommandMove:
		return c.Move(ctx, cmd.DeltaX, cmd.DeltaY)
	case gesture.CommandClick:
		return c.Click(ctx, cmd.Button)
	case gesture.CommandScroll:
		return c.Scroll(ctx, cmd.DeltaX, cmd.DeltaY)
	default:
		return fmt.Errorf("unknown command %v", cmd.Kind)
	}
}

// SwitchMode toggles between the duplex channel and HTTP.
func (c *Controller) SwitchMode(mode connection.Mode) error {
	if c.mgr == nil {
		return errors.New("no websocket manager configured")
	}
	return c.mgr.SwitchMode(mode)
}

// Status returns the current status line.
func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Latencies returns the recorded samples, oldest first.
func (c *Controller) Latencies() []LatencySample {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.filled {
		return append([]LatencySample(nil), c.history[:c.next]...)
	}
	out := make([]LatencySample, 0, HistorySize)
	out = append(out, c.history[c.next:]...)
	return append(out, c.history[:c.next]...)
}

// AverageLatency is the mean over successful recorded samples.
func (c *Controller) AverageLatency() time.Duration {
	var sum time.Duration
	var n int
	for _, s := range c.Latencies() {
		if s.Err != "" {
			continue
		}
		sum += s.Latency
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / time.Duration(n)
}

// StateChanged implements connection.Observer.
func (c *Controller) StateChanged(from, to connection.State) {
	switch to {
	case connection.StateConnected:
		c.setStatus("connected (websocket)")
	case connection.StateConnecting:
		c.setStatus("connecting")
	case connection.StateFallbackHTTP:
		c.setStatus("using http")
	case connection.StateDisconnected:
		c.setStatus("disconnected")
	}
}

// ReconnectScheduled implements connection.Observer.
func (c *Controller) ReconnectScheduled(attempt int, delay time.Duration) {
	c.setStatus(fmt.Sprintf("reconnecting in %s (attempt %d)", delay, attempt))
}

// DecodeFailed implements connection.Observer.
func (c *Controller) DecodeFailed(err error) {}

// call sends over the duplex channel when connected, HTTP otherwise, and records the outcome.
func (c *Controller) call(ctx context.Context, msgType string, data any, expectResponse bool, viaHTTP func(context.Context) (string, error)) (string, error) {
	return c.dispatch(ctx, msgType, data, expectResponse, viaHTTP, true)
}

// callQuiet is call without history or status updates on success. Moves arrive at up to
// 60 Hz and would flush everything else out of the history.
func (c *Controller) callQuiet(ctx context.Context, msgType string, data any, expectResponse bool, viaHTTP func(context.Context) (string, error)) (string, error) {
	return c.dispatch(ctx, msgType, data, expectResponse, viaHTTP, false)
}

func (c *Controller) dispatch(ctx context.Context, msgType string, data any, expectResponse bool, viaHTTP func(context.Context) (string, error), record bool) (string, error) {
	start := time.Now()

	if c.mgr != nil && c.mgr.State() == connection.StateConnected {
		resp, err := c.mgr.Send(ctx, msgType, data, expectResponse)
		if !errors.Is(err, connection.ErrNotConnected) {
			c.finish(msgType, TransportWebSocket, start, err, record)
			if err != nil {
				return "", err
			}
			return formatReply(resp), nil
		}
		// The channel dropped between the state check and the send.
		c.logger.Debug("websocket unavailable, using http", "command", msgType)
	}

	resp, err := viaHTTP(ctx)
	c.finish(msgType, TransportHTTP, start, err, record)
	return resp, err
}

func (c *Controller) finish(command, transport string, start time.Time, err error, record bool) {
	latency := time.Since(start)
	if c.recorder != nil {
		c.recorder.ObserveCommand(command, transport, latency, err)
	}

	if err != nil {
		c.logger.Warn("command failed",
			"command", command,
			"transport", transport,
			"latency", latency,
			"error", err,
		)
		c.record(LatencySample{At: start, Command: command, Transport: transport, Latency: latency, Err: err.Error()})
		c.setStatus(fmt.Sprintf("%s failed via %s (%dms): %v", command, transport, latency.Milliseconds(), err))
		return
	}
	if !record {
		return
	}

	c.logger.Debug("command sent",
		"command", command,
		"transport", transport,
		"latency", latency,
	)
	c.record(LatencySample{At: start, Command: command, Transport: transport, Latency: latency})
	c.setStatus(fmt.Sprintf("%s sent via %s (%dms)", command, transport, latency.Milliseconds()))
}

func (c *Controller) record(s LatencySample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history[c.next] = s
	c.next = (c.next + 1) % HistorySize
	if c.next == 0 {
		c.filled = true
	}
}

func (c *Controller) setStatus(s string) {
	c.mu.Lock()
	c.status = s
	f := c.onStatus
	c.mu.Unlock()

	if f != nil {
		f(s)
	}
}

// formatReply renders a duplex reply the way the HTTP endpoints answer: as text.
func formatReply(data map[string]any) string {
	if len(data) == 0 {
		return "ok"
	}
	if msg, ok := data["message"].(string); ok {
		return msg
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "ok"
	}
	return string(b)
}
