package connection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/remote-input/internal/wire"
)

// fakeClient is an in-memory Client.
type fakeClient struct {
	connectErr error

	messages chan TimestampedMessage
	errs     chan error

	mu     sync.Mutex
	sent   [][]byte
	closed bool
	onSend func(data []byte)
}

func newFakeClient(connectErr error) *fakeClient {
	return &fakeClient{
		connectErr: connectErr,
		messages:   make(chan TimestampedMessage, 16),
		errs:       make(chan error, 1),
	}
}

func (f *fakeClient) Connect(ctx context.Context) error { return f.connectErr }

func (f *fakeClient) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Send(data []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, data)
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook(data)
	}
	return nil
}

func (f *fakeClient) Messages() <-chan TimestampedMessage { return f.messages }
func (f *fakeClient) Errors() <-chan error                { return f.errs }
func (f *fakeClient) IsConnected() bool                   { return f.connectErr == nil }

func (f *fakeClient) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeClient) deliver(env wire.Envelope) {
	data, _ := wire.EncodeEnvelope(env)
	f.messages <- TimestampedMessage{Data: data, ReceivedAt: time.Now()}
}

// fakeTimers records scheduled callbacks so tests fire them by hand.
type fakeTimers struct {
	mu     sync.Mutex
	delays []time.Duration
	funcs  []func()
}

type fakeTimer struct{}

func (fakeTimer) Stop() bool { return true }

func (ft *fakeTimers) afterFunc(d time.Duration, f func()) stopper {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.delays = append(ft.delays, d)
	ft.funcs = append(ft.funcs, f)
	return fakeTimer{}
}

func (ft *fakeTimers) count() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.funcs)
}

func (ft *fakeTimers) fire(i int) {
	ft.mu.Lock()
	f := ft.funcs[i]
	ft.mu.Unlock()
	f()
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions []State
	decodeFails int
}

func (r *recordingObserver) StateChanged(from, to State) {
	r.mu.Lock()
	r.transitions = append(r.transitions, to)
	r.mu.Unlock()
}

func (r *recordingObserver) ReconnectScheduled(attempt int, delay time.Duration) {}

func (r *recordingObserver) DecodeFailed(err error) {
	r.mu.Lock()
	r.decodeFails++
	r.mu.Unlock()
}

func testManagerConfig() ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.Client.URL = "ws://remote.test/ws"
	cfg.RequestTimeout = time.Second
	return cfg
}

// newTestManager builds a manager whose dials hand out the given clients in order.
func newTestManager(t *testing.T, cfg ManagerConfig, clients []*fakeClient, opts ...ManagerOption) (*manager, *fakeTimers) {
	t.Helper()

	m := NewManager(cfg, slog.Default(), opts...).(*manager)
	timers := &fakeTimers{}
	m.afterFunc = timers.afterFunc

	var mu sync.Mutex
	next := 0
	m.newClient = func(ClientConfig, *slog.Logger) Client {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(clients) {
			t.Fatalf("unexpected dial #%d", next+1)
		}
		c := clients[next]
		next++
		return c
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Stop(ctx)
	})
	return m, timers
}

func waitForState(t *testing.T, m Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", m.State(), want)
}

func TestManager_StartConnects(t *testing.T) {
	c := newFakeClient(nil)
	obs := &recordingObserver{}
	m, _ := newTestManager(t, testManagerConfig(), []*fakeClient{c}, WithObserver(obs))

	if got := m.State(); got != StateDisconnected {
		t.Fatalf("initial state = %v, want disconnected", got)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := m.State(); got != StateConnected {
		t.Fatalf("state = %v, want connected", got)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	want := []State{StateConnecting, StateConnected}
	if len(obs.transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", obs.transitions, want)
	}
	for i := range want {
		if obs.transitions[i] != want[i] {
			t.Errorf("transitions[%d] = %v, want %v", i, obs.transitions[i], want[i])
		}
	}
}

func TestManager_NormalCloseDoesNotReconnect(t *testing.T) {
	c := newFakeClient(nil)
	m, timers := newTestManager(t, testManagerConfig(), []*fakeClient{c})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	c.errs <- &websocket.CloseError{Code: websocket.CloseNormalClosure}
	waitForState(t, m, StateDisconnected)

	// Give a stray reconnect a chance to show up.
	time.Sleep(20 * time.Millisecond)
	if n := timers.count(); n != 0 {
		t.Errorf("reconnect timers scheduled = %d, want 0", n)
	}
	if got := m.State(); got != StateDisconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
}

func TestManager_AbnormalCloseReconnects(t *testing.T) {
	first := newFakeClient(nil)
	second := newFakeClient(nil)
	m, timers := newTestManager(t, testManagerConfig(), []*fakeClient{first, second})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	first.errs <- &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	waitForState(t, m, StateConnecting)

	if n := timers.count(); n != 1 {
		t.Fatalf("timers = %d, want 1", n)
	}
	if timers.delays[0] != time.Second {
		t.Errorf("first delay = %v, want 1s", timers.delays[0])
	}
	if !first.isClosed() {
		t.Error("dropped client was not closed")
	}

	timers.fire(0)
	if got := m.State(); got != StateConnected {
		t.Fatalf("state after retry = %v, want connected", got)
	}

	stats := m.Stats()
	if stats.Reconnects != 1 {
		t.Errorf("Reconnects = %d, want 1", stats.Reconnects)
	}
	if stats.Attempt != 0 {
		t.Errorf("Attempt = %d after connect, want 0", stats.Attempt)
	}
}

func TestManager_BackoffThenFallback(t *testing.T) {
	dialErr := errors.New("connection refused")
	clients := make([]*fakeClient, 6)
	for i := range clients {
		clients[i] = newFakeClient(dialErr)
	}

	cfg := testManagerConfig()
	m, timers := newTestManager(t, cfg, clients)

	err := m.Start(context.Background())
	var connErr *ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("Start() error = %v, want *ConnectError", err)
	}
	if !errors.Is(err, dialErr) {
		t.Errorf("Start() error does not wrap dial error: %v", err)
	}

	for i := 0; i < cfg.MaxAttempts; i++ {
		if got := m.State(); got != StateConnecting {
			t.Fatalf("attempt %d: state = %v, want connecting", i+1, got)
		}
		timers.fire(i)
	}

	if got := m.State(); got != StateFallbackHTTP {
		t.Fatalf("state = %v, want fallback_http", got)
	}

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	if len(timers.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", timers.delays, want)
	}
	for i := range want {
		if timers.delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, timers.delays[i], want[i])
		}
	}

	if got := m.Stats().Fallbacks; got != 1 {
		t.Errorf("Fallbacks = %d, want 1", got)
	}
}

func TestManager_ForceHTTP(t *testing.T) {
	cfg := testManagerConfig()
	cfg.ForceHTTP = true
	m, _ := newTestManager(t, cfg, nil)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := m.State(); got != StateFallbackHTTP {
		t.Errorf("state = %v, want fallback_http", got)
	}
}

func TestManager_InvalidURLFallsBack(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"http scheme", "http://remote.test/ws"},
		{"missing host", "ws:///ws"},
		{"unparseable", "ws://[::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testManagerConfig()
			cfg.Client.URL = tt.url
			m, timers := newTestManager(t, cfg, nil)

			err := m.Start(context.Background())
			var connErr *ConnectError
			if !errors.As(err, &connErr) {
				t.Fatalf("Start() error = %v, want *ConnectError", err)
			}
			if got := m.State(); got != StateFallbackHTTP {
				t.Errorf("state = %v, want fallback_http", got)
			}
			if timers.count() != 0 {
				t.Error("construction error should not schedule retries")
			}
		})
	}
}

func TestManager_SendNotConnected(t *testing.T) {
	m, _ := newTestManager(t, testManagerConfig(), nil)

	_, err := m.Send(context.Background(), wire.TypeKeyPress, wire.KeyPress{Key: "a"}, true)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
}

func TestManager_SendFireAndForget(t *testing.T) {
	c := newFakeClient(nil)
	m, _ := newTestManager(t, testManagerConfig(), []*fakeClient{c})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := m.Send(context.Background(), wire.TypeTouchpadMove, wire.TouchpadMove{DeltaX: 3, DeltaY: -1, DPI: 1}, false)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp != nil {
		t.Errorf("resp = %v, want nil", resp)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) != 1 {
		t.Fatalf("sent = %d frames, want 1", len(c.sent))
	}

	var frame map[string]any
	if err := json.Unmarshal(c.sent[0], &frame); err != nil {
		t.Fatalf("sent frame is not JSON: %v", err)
	}
	if frame["type"] != wire.TypeTouchpadMove {
		t.Errorf("type = %v, want %s", frame["type"], wire.TypeTouchpadMove)
	}
	if frame["request_id"] != nil {
		t.Errorf("request_id = %v, want null", frame["request_id"])
	}
}

func TestManager_SendRequestResponse(t *testing.T) {
	c := newFakeClient(nil)
	c.onSend = func(data []byte) {
		env, err := wire.Decode(data)
		if err != nil {
			return
		}
		reply, err := wire.NewEnvelope(env.Type, map[string]any{"status": "ok", "key": env.Data["key"]}, env.RequestID)
		if err != nil {
			return
		}
		if env.Data["key"] == "bad" {
			reply, err = wire.NewEnvelope(wire.TypeError, wire.ErrorPayload{Message: "unknown key"}, env.RequestID)
			if err != nil {
				return
			}
		}
		go c.deliver(reply)
	}

	m, _ := newTestManager(t, testManagerConfig(), []*fakeClient{c})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := m.Send(context.Background(), wire.TypeKeyPress, wire.KeyPress{Key: "enter", Duration: 50}, true)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp["status"] != "ok" || resp["key"] != "enter" {
		t.Errorf("resp = %v", resp)
	}

	_, err = m.Send(context.Background(), wire.TypeKeyPress, wire.KeyPress{Key: "bad"}, true)
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("Send() error = %v, want *RemoteError", err)
	}
	if remoteErr.Message != "unknown key" {
		t.Errorf("Message = %q, want %q", remoteErr.Message, "unknown key")
	}

	if n := m.Stats().Pending; n != 0 {
		t.Errorf("Pending = %d, want 0", n)
	}
}

func TestManager_SendTimeout(t *testing.T) {
	c := newFakeClient(nil)
	cfg := testManagerConfig()
	cfg.RequestTimeout = 20 * time.Millisecond
	m, _ := newTestManager(t, cfg, []*fakeClient{c})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	_, err := m.Send(context.Background(), wire.TypeTouchpadClick, wire.TouchpadClick{Button: wire.ButtonLeft, Type: wire.ClickSingle}, true)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Send() error = %v, want ErrTimeout", err)
	}
}

func TestManager_SendContextCancelled(t *testing.T) {
	c := newFakeClient(nil)
	m, _ := newTestManager(t, testManagerConfig(), []*fakeClient{c})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.Send(ctx, wire.TypeTypeText, wire.TypeText{Text: "hi"}, true)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Send() error = %v, want context.DeadlineExceeded", err)
	}
	if n := m.Stats().Pending; n != 0 {
		t.Errorf("Pending = %d after cancel, want 0", n)
	}
}

func TestManager_ConnectionLossRejectsPending(t *testing.T) {
	c := newFakeClient(nil)
	c.onSend = func([]byte) {
		go func() { c.errs <- errors.New("read: connection reset by peer") }()
	}
	m, _ := newTestManager(t, testManagerConfig(), []*fakeClient{c})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	_, err := m.Send(context.Background(), wire.TypeKeyPress, wire.KeyPress{Key: "a"}, true)
	if !errors.Is(err, ErrConnectionLost) {
		t.Errorf("Send() error = %v, want ErrConnectionLost", err)
	}
}

func TestManager_Dispatch(t *testing.T) {
	var (
		mu     sync.Mutex
		pushed []wire.Envelope
	)
	push := PushHandlerFunc(func(env wire.Envelope) {
		mu.Lock()
		pushed = append(pushed, env)
		mu.Unlock()
	})
	obs := &recordingObserver{}
	m, _ := newTestManager(t, testManagerConfig(), nil, WithPushHandler(push), WithObserver(obs))

	m.Dispatch([]byte(`not json`))
	m.Dispatch([]byte(`{"data":{}}`))
	m.Dispatch([]byte(`{"type":"broadcast","data":{"message":"hello"},"timestamp":"2024-01-01T00:00:00Z","request_id":null}`))
	m.Dispatch([]byte(`{"type":"shiny_new_thing","data":{},"timestamp":"2024-01-01T00:00:00Z","request_id":null}`))
	// Late reply for a request nobody is waiting on is treated as a push.
	m.Dispatch([]byte(`{"type":"pong","data":{},"timestamp":"2024-01-01T00:00:00Z","request_id":"gone-1-1"}`))

	stats := m.Stats()
	if stats.DecodeErrors != 2 {
		t.Errorf("DecodeErrors = %d, want 2", stats.DecodeErrors)
	}
	if stats.MessagesReceived != 5 {
		t.Errorf("MessagesReceived = %d, want 5", stats.MessagesReceived)
	}

	obs.mu.Lock()
	if obs.decodeFails != 2 {
		t.Errorf("observer decodeFails = %d, want 2", obs.decodeFails)
	}
	obs.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	wantTypes := []string{wire.TypeBroadcast, "shiny_new_thing", wire.TypePong}
	if len(pushed) != len(wantTypes) {
		t.Fatalf("pushed %d messages, want %d", len(pushed), len(wantTypes))
	}
	for i, want := range wantTypes {
		if pushed[i].Type != want {
			t.Errorf("pushed[%d].Type = %q, want %q", i, pushed[i].Type, want)
		}
	}
	if pushed[0].Data["message"] != "hello" {
		t.Errorf("broadcast data = %v", pushed[0].Data)
	}
}

func TestManager_SwitchMode(t *testing.T) {
	first := newFakeClient(nil)
	second := newFakeClient(nil)
	m, timers := newTestManager(t, testManagerConfig(), []*fakeClient{first, second})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := m.SwitchMode(ModeHTTP); err != nil {
		t.Fatalf("SwitchMode(http) error = %v", err)
	}
	if got := m.State(); got != StateFallbackHTTP {
		t.Errorf("state = %v, want fallback_http", got)
	}
	if !first.isClosed() {
		t.Error("live client not closed on switch to http")
	}

	// The dropped client's late error must not schedule anything.
	first.errs <- errors.New("use of closed network connection")
	time.Sleep(20 * time.Millisecond)
	if timers.count() != 0 {
		t.Error("stale close scheduled a reconnect")
	}

	// Connect is a no-op while forced to HTTP.
	if err := m.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := m.State(); got != StateFallbackHTTP {
		t.Errorf("state = %v, want fallback_http", got)
	}

	if err := m.SwitchMode(ModeDuplex); err != nil {
		t.Fatalf("SwitchMode(websocket) error = %v", err)
	}
	if got := m.State(); got != StateConnected {
		t.Errorf("state = %v, want connected", got)
	}
}

func TestManager_SwitchModeCancelsBackoff(t *testing.T) {
	dialErr := errors.New("refused")
	m, timers := newTestManager(t, testManagerConfig(), []*fakeClient{newFakeClient(dialErr), newFakeClient(nil)})

	m.Start(context.Background())
	if timers.count() != 1 {
		t.Fatalf("timers = %d, want 1", timers.count())
	}

	if err := m.SwitchMode(ModeDuplex); err != nil {
		t.Fatalf("SwitchMode() error = %v", err)
	}
	if got := m.State(); got != StateConnected {
		t.Fatalf("state = %v, want connected", got)
	}

	// The superseded backoff timer fires late and must be ignored.
	timers.fire(0)
	if got := m.State(); got != StateConnected {
		t.Errorf("state = %v after stale retry, want connected", got)
	}
}

func TestReconnectState_Delay(t *testing.T) {
	rs := &ReconnectState{MaxAttempts: 5, BaseDelay: time.Second}
	want := []time.Duration{0, time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for attempt, d := range want {
		rs.Attempt = attempt
		if got := rs.Delay(); got != d {
			t.Errorf("Delay() at attempt %d = %v, want %v", attempt, got, d)
		}
	}
	rs.Attempt = 5
	if !rs.Exhausted() {
		t.Error("Exhausted() = false at attempt 5")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateFallbackHTTP, "fallback_http"},
		{State(99), "state(99)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}
