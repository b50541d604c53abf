package remote

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/remote-input/internal/api"
	"github.com/rickgao/remote-input/internal/connection"
	"github.com/rickgao/remote-input/internal/gesture"
	"github.com/rickgao/remote-input/internal/wire"
)

// fakeManager is a connection.Manager with a scripted Send.
type fakeManager struct {
	mu    sync.Mutex
	state connection.State
	sends []sent
	reply map[string]any
	err   error
	mode  connection.Mode
}

type sent struct {
	msgType        string
	data           any
	expectResponse bool
}

func (f *fakeManager) Start(ctx context.Context) error { return nil }
func (f *fakeManager) Stop(ctx context.Context) error  { return nil }
func (f *fakeManager) Connect() error                  { return nil }
func (f *fakeManager) Dispatch(raw []byte)             {}

func (f *fakeManager) SwitchMode(mode connection.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = mode
	return nil
}

func (f *fakeManager) Send(ctx context.Context, msgType string, data any, expectResponse bool) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sent{msgType, data, expectResponse})
	return f.reply, f.err
}

func (f *fakeManager) State() connection.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeManager) Stats() connection.ManagerStats { return connection.ManagerStats{} }

// fakeHTTP records calls to the fallback transport.
type fakeHTTP struct {
	mu    sync.Mutex
	calls []string
	last  any
	err   error
}

func (f *fakeHTTP) note(name string, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	f.last = v
}

func (f *fakeHTTP) Press(ctx context.Context, key string, durationMS int) (string, error) {
	f.note("press", wire.KeyPress{Key: key, Duration: durationMS})
	return "pressed " + key, f.err
}

func (f *fakeHTTP) Type(ctx context.Context, text string) (string, error) {
	f.note("type", text)
	return "typed", f.err
}

func (f *fakeHTTP) Actions(ctx context.Context, actions []api.Action) (string, error) {
	f.note("actions", actions)
	return "queued", f.err
}

func (f *fakeHTTP) TouchpadMove(ctx context.Context, move wire.TouchpadMove) error {
	f.note("move", move)
	return f.err
}

func (f *fakeHTTP) TouchpadClick(ctx context.Context, click wire.TouchpadClick) error {
	f.note("click", click)
	return f.err
}

func (f *fakeHTTP) TouchpadScroll(ctx context.Context, scroll wire.TouchpadScroll) error {
	f.note("scroll", scroll)
	return f.err
}

func (f *fakeHTTP) Stats(ctx context.Context) (api.Stats, error) {
	f.note("stats", nil)
	return api.Stats{TotalRequests: 3}, f.err
}

type recordedCommand struct {
	command, transport string
	err                error
}

type fakeRecorder struct {
	mu   sync.Mutex
	seen []recordedCommand
}

func (r *fakeRecorder) ObserveCommand(command, transport string, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, recordedCommand{command, transport, err})
}

// Compile-time interface checks.
var (
	_ HTTPTransport       = (*api.Client)(nil)
	_ gesture.Sink        = (*Controller)(nil)
	_ connection.Observer = (*Controller)(nil)
)

func TestController_UsesWebSocketWhenConnected(t *testing.T) {
	mgr := &fakeManager{state: connection.StateConnected, reply: map[string]any{"message": "Key pressed"}}
	hc := &fakeHTTP{}
	rec := &fakeRecorder{}
	c := New(mgr, hc, nil, WithRecorder(rec))

	resp, err := c.PressKey(context.Background(), " Enter ", 0)
	if err != nil {
		t.Fatalf("PressKey() error = %v", err)
	}
	if resp != "Key pressed" {
		t.Errorf("resp = %q, want %q", resp, "Key pressed")
	}
	if len(hc.calls) != 0 {
		t.Errorf("http calls = %v, want none", hc.calls)
	}

	if len(mgr.sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(mgr.sends))
	}
	s := mgr.sends[0]
	if s.msgType != wire.TypeKeyPress || !s.expectResponse {
		t.Errorf("send = %+v", s)
	}
	if kp := s.data.(wire.KeyPress); kp.Key != "enter" || kp.Duration != api.DefaultPressDuration {
		t.Errorf("key press = %+v, want enter/50", kp)
	}

	if len(rec.seen) != 1 || rec.seen[0].transport != TransportWebSocket {
		t.Errorf("recorded = %+v", rec.seen)
	}
	if !strings.Contains(c.Status(), "key_press sent via websocket") {
		t.Errorf("status = %q", c.Status())
	}
}

func TestController_FallsBackToHTTP(t *testing.T) {
	tests := []struct {
		name string
		mgr  connection.Manager
	}{
		{"no manager", nil},
		{"http mode", &fakeManager{state: connection.StateFallbackHTTP}},
		{"connecting", &fakeManager{state: connection.StateConnecting}},
		{"dropped during send", &fakeManager{state: connection.StateConnected, err: connection.ErrNotConnected}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := &fakeHTTP{}
			c := New(tt.mgr, hc, nil)

			resp, err := c.PressKey(context.Background(), "a", 80)
			if err != nil {
				t.Fatalf("PressKey() error = %v", err)
			}
			if resp != "pressed a" {
				t.Errorf("resp = %q", resp)
			}
			if len(hc.calls) != 1 || hc.calls[0] != "press" {
				t.Errorf("http calls = %v, want [press]", hc.calls)
			}
			if kp := hc.last.(wire.KeyPress); kp.Duration != 80 {
				t.Errorf("duration = %d, want 80", kp.Duration)
			}
		})
	}
}

func TestController_WebSocketErrorIsNotRetriedOverHTTP(t *testing.T) {
	mgr := &fakeManager{state: connection.StateConnected, err: &connection.RemoteError{Message: "unsupported key"}}
	hc := &fakeHTTP{}
	c := New(mgr, hc, nil)

	_, err := c.PressKey(context.Background(), "f99", 0)
	var re *connection.RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v, want *RemoteError", err)
	}
	if len(hc.calls) != 0 {
		t.Errorf("http calls = %v, want none", hc.calls)
	}
	if !strings.Contains(c.Status(), "failed via websocket") {
		t.Errorf("status = %q", c.Status())
	}
}

func TestController_TypeTextNormalises(t *testing.T) {
	hc := &fakeHTTP{}
	c := New(nil, hc, nil)

	// "e" followed by a combining acute accent composes to U+00E9.
	if _, err := c.TypeText(context.Background(), "cafe\u0301"); err != nil {
		t.Fatalf("TypeText() error = %v", err)
	}
	if got := hc.last.(string); got != "caf\u00e9" {
		t.Errorf("typed %q, want NFC form", got)
	}

	if _, err := c.TypeText(context.Background(), "   "); !errors.Is(err, ErrEmptyText) {
		t.Errorf("TypeText(blank) error = %v, want ErrEmptyText", err)
	}
	if len(hc.calls) != 1 {
		t.Errorf("blank text reached transport: %v", hc.calls)
	}
}

func TestController_Emit(t *testing.T) {
	mgr := &fakeManager{state: connection.StateConnected}
	c := New(mgr, &fakeHTTP{}, nil)
	ctx := context.Background()

	cmds := []gesture.Command{
		{Kind: gesture.CommandMove, DeltaX: 5, DeltaY: -3},
		{Kind: gesture.CommandClick, Button: wire.ButtonRight},
		{Kind: gesture.CommandScroll, DeltaY: 120},
	}
	for _, cmd := range cmds {
		if err := c.Emit(ctx, cmd); err != nil {
			t.Fatalf("Emit(%+v) error = %v", cmd, err)
		}
	}

	if len(mgr.sends) != 3 {
		t.Fatalf("sends = %d, want 3", len(mgr.sends))
	}

	move := mgr.sends[0]
	if move.msgType != wire.TypeTouchpadMove || move.expectResponse {
		t.Errorf("move send = %+v, want fire-and-forget touchpad_move", move)
	}
	if m := move.data.(wire.TouchpadMove); m.DeltaX != 5 || m.DeltaY != -3 || m.DPI != 1 {
		t.Errorf("move = %+v", m)
	}

	click := mgr.sends[1].data.(wire.TouchpadClick)
	if click.Button != wire.ButtonRight || click.Type != wire.ClickSingle {
		t.Errorf("click = %+v", click)
	}

	if s := mgr.sends[2].data.(wire.TouchpadScroll); s.DeltaY != 120 {
		t.Errorf("scroll = %+v", s)
	}

	// Moves stay out of the latency history.
	for _, l := range c.Latencies() {
		if l.Command == wire.TypeTouchpadMove {
			t.Error("move recorded in latency history")
		}
	}

	if err := c.Emit(ctx, gesture.Command{Kind: gesture.CommandKind(42)}); err == nil {
		t.Error("unknown command should fail")
	}
}

func TestController_DoubleClickAndBadButton(t *testing.T) {
	hc := &fakeHTTP{}
	c := New(nil, hc, nil)

	if err := c.DoubleClick(context.Background(), wire.ButtonLeft); err != nil {
		t.Fatalf("DoubleClick() error = %v", err)
	}
	if click := hc.last.(wire.TouchpadClick); click.Type != wire.ClickDouble {
		t.Errorf("click = %+v, want double", click)
	}

	if err := c.Click(context.Background(), "middle"); err == nil {
		t.Error("Click(middle) should fail")
	}
}

func TestController_LatencyHistory(t *testing.T) {
	hc := &fakeHTTP{}
	c := New(nil, hc, nil)
	ctx := context.Background()

	for i := 0; i < HistorySize+10; i++ {
		c.Scroll(ctx, 0, i)
	}

	h := c.Latencies()
	if len(h) != HistorySize {
		t.Fatalf("history = %d samples, want %d", len(h), HistorySize)
	}
	for i := 1; i < len(h); i++ {
		if h[i].At.Before(h[i-1].At) {
			t.Fatalf("history not oldest-first at %d", i)
		}
	}

	hc.err = &api.TransportError{StatusCode: 500, Message: "HTTP 500"}
	if err := c.Scroll(ctx, 0, 1); err == nil {
		t.Fatal("Scroll() should fail")
	}
	last := c.Latencies()[HistorySize-1]
	if last.Err == "" || last.Transport != TransportHTTP {
		t.Errorf("last sample = %+v, want http error", last)
	}
	if !strings.Contains(c.Status(), "HTTP 500") {
		t.Errorf("status = %q, want the transport error", c.Status())
	}
	if c.AverageLatency() < 0 {
		t.Error("AverageLatency() negative")
	}
}

func TestController_StatusFollowsConnection(t *testing.T) {
	var seen []string
	c := New(nil, &fakeHTTP{}, nil, WithStatusListener(func(s string) { seen = append(seen, s) }))

	c.StateChanged(connection.StateDisconnected, connection.StateConnecting)
	c.StateChanged(connection.StateConnecting, connection.StateConnected)
	c.ReconnectScheduled(2, 2*time.Second)
	c.StateChanged(connection.StateConnecting, connection.StateFallbackHTTP)

	want := []string{"connecting", "connected (websocket)", "reconnecting in 2s (attempt 2)", "using http"}
	if len(seen) != len(want) {
		t.Fatalf("statuses = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("status[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
	if c.Status() != "using http" {
		t.Errorf("Status() = %q", c.Status())
	}
}

func TestController_SwitchMode(t *testing.T) {
	mgr := &fakeManager{}
	c := New(mgr, &fakeHTTP{}, nil)

	if err := c.SwitchMode(connection.ModeHTTP); err != nil {
		t.Fatalf("SwitchMode() error = %v", err)
	}
	if mgr.mode != connection.ModeHTTP {
		t.Errorf("mode = %v, want http", mgr.mode)
	}

	if err := New(nil, &fakeHTTP{}, nil).SwitchMode(connection.ModeDuplex); err == nil {
		t.Error("SwitchMode without manager should fail")
	}
}

func TestController_ActionsAndStats(t *testing.T) {
	hc := &fakeHTTP{}
	c := New(&fakeManager{state: connection.StateConnected}, hc, nil)

	resp, err := c.Actions(context.Background(), []api.Action{{Key: "a"}, {Key: "b"}})
	if err != nil || resp != "queued" {
		t.Errorf("Actions() = %q, %v", resp, err)
	}
	stats, err := c.Stats(context.Background())
	if err != nil || stats.TotalRequests != 3 {
		t.Errorf("Stats() = %+v, %v", stats, err)
	}
	if len(hc.calls) != 2 {
		t.Errorf("http calls = %v, want actions and stats over http", hc.calls)
	}
}

func TestFormatReply(t *testing.T) {
	tests := []struct {
		data map[string]any
		want string
	}{
		{nil, "ok"},
		{map[string]any{"message": "done"}, "done"},
		{map[string]any{"status": "ok"}, `{"status":"ok"}`},
	}
	for _, tt := range tests {
		if got := formatReply(tt.data); got != tt.want {
			t.Errorf("formatReply(%v) = %q, want %q", tt.data, got, tt.want)
		}
	}
}
