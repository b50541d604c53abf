package gesture

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/rickgao/remote-input/internal/router"
	"github.com/rickgao/remote-input/internal/wire"
)

// TouchpadState is the per-gesture state. It is reset fully when a gesture ends.
type TouchpadState struct {
	Tracking       bool
	LastX, LastY   float64 // Position at the last emitted move (or at Start)
	StartTime      time.Time
	LastSampleTime time.Time
	TouchCount     int
	DPIScale       float64

	longPress stopper       // Armed at Start, nil once cancelled or fired
	limiter   *rate.Limiter // Move throttle for the current gesture
	gen       uint64        // Identifies the gesture a long-press fire belongs to
}

// event is one item on the recognizer queue.
type event struct {
	sample Sample

	// Long-press fire for gesture gen.
	longPress bool
	gen       uint64

	// DPI change.
	setDPI bool
	dpi    float64
}

// RecognizerOption configures a Recognizer.
type RecognizerOption func(*Recognizer)

// WithObserver sets an observer for emitted commands.
func WithObserver(o Observer) RecognizerOption {
	return func(r *Recognizer) {
		r.observer = o
	}
}

// Recognizer classifies samples into commands and hands them to a Sink.
type Recognizer struct {
	cfg      Config
	sink     Sink
	logger   *slog.Logger
	observer Observer
	queue    *router.Queue[event]

	// Owned by the event loop.
	state TouchpadState

	// Swapped in tests.
	afterFunc func(time.Duration, func()) stopper

	dpiBits     atomic.Uint64
	samples     atomic.Int64
	moves       atomic.Int64
	clicks      atomic.Int64
	longPresses atomic.Int64
	scrolls     atomic.Int64
	throttled   atomic.Int64
	emitErrors  atomic.Int64
}

// New creates a Recognizer that sends commands to sink.
func New(cfg Config, sink Sink, logger *slog.Logger, opts ...RecognizerOption) *Recognizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DPI == 0 {
		cfg.DPI = 1.0
	}
	cfg.DPI = ClampDPI(cfg.DPI)

	r := &Recognizer{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		queue:  router.NewQueue[event](cfg.QueueSize),
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
	r.state.DPIScale = cfg.DPI
	r.dpiBits.Store(math.Float64bits(cfg.DPI))

	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit queues a sample for the event loop.
func (r *Recognizer) Submit(s Sample) error {
	if !r.queue.Push(event{sample: s}) {
		return ErrClosed
	}
	return nil
}

// SetDPI queues a DPI change and returns the clamped value that will apply.
func (r *Recognizer) SetDPI(v float64) (float64, error) {
	v = ClampDPI(v)
	if !r.queue.Push(event{setDPI: true, dpi: v}) {
		return 0, ErrClosed
	}
	return v, nil
}

// DPI returns the current move multiplier.
func (r *Recognizer) DPI() float64 {
	return math.Float64frombits(r.dpiBits.Load())
}

// Stats returns current counters.
func (r *Recognizer) Stats() Stats {
	return Stats{
		Samples:     r.samples.Load(),
		Moves:       r.moves.Load(),
		Clicks:      r.clicks.Load(),
		LongPresses: r.longPresses.Load(),
		Scrolls:     r.scrolls.Load(),
		Throttled:   r.throttled.Load(),
		EmitErrors:  r.emitErrors.Load(),
		DPI:         r.DPI(),
	}
}

// Run processes queued events until ctx is cancelled. After Run returns, Submit fails.
func (r *Recognizer) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		r.queue.Close()
	}()

	r.logger.Info("gesture recognizer started",
		"dpi", r.DPI(),
		"throttle", r.cfg.Throttle,
		"long_press", r.cfg.LongPress,
	)

	for {
		ev, ok := r.queue.Pop()
		if !ok {
			break
		}
		r.process(ctx, ev)
	}

	r.cancelLongPress()
	r.reset()
	r.logger.Info("gesture recognizer stopped")
	return ctx.Err()
}

// Handle processes one sample synchronously. It must not be called concurrently with Run.
func (r *Recognizer) Handle(ctx context.Context, s Sample) {
	r.process(ctx, event{sample: s})
}

func (r *Recognizer) process(ctx context.Context, ev event) {
	switch {
	case ev.longPress:
		r.onLongPress(ctx, ev.gen)
	case ev.setDPI:
		r.state.DPIScale = ev.dpi
		r.dpiBits.Store(math.Float64bits(ev.dpi))
		r.logger.Debug("dpi changed", "dpi", ev.dpi)
	default:
		r.samples.Add(1)
		switch ev.sample.Kind {
		case KindStart:
			r.onStart(ev.sample)
		case KindMove:
			r.onMove(ctx, ev.sample)
		case KindEnd:
			r.onEnd(ctx, ev.sample)
		case KindScroll:
			r.onScroll(ctx, ev.sample)
		default:
			r.logger.Debug("ignoring sample", "kind", ev.sample.Kind)
		}
	}
}

func (r *Recognizer) onStart(s Sample) {
	if r.state.Tracking {
		// A new pointer-down without an End ends the previous gesture silently.
		r.logger.Debug("gesture restarted without end")
		r.cancelLongPress()
		r.reset()
	}

	st := &r.state
	st.gen++
	st.Tracking = true
	st.LastX, st.LastY = s.X, s.Y
	st.StartTime = s.At
	st.LastSampleTime = s.At
	st.TouchCount = s.TouchCount
	st.limiter = r.newLimiter()

	gen := st.gen
	st.longPress = r.afterFunc(r.cfg.LongPress, func() {
		r.queue.Push(event{longPress: true, gen: gen})
	})
}

func (r *Recognizer) onMove(ctx context.Context, s Sample) {
	st := &r.state
	if !st.Tracking {
		return
	}
	if r.longPressDue(s) {
		// The hold outlasted the threshold before this sample was processed.
		r.fireLongPress(ctx)
		return
	}
	st.LastSampleTime = s.At
	if s.TouchCount > st.TouchCount {
		st.TouchCount = s.TouchCount
	}

	dx := s.X - st.LastX
	dy := s.Y - st.LastY
	if math.Hypot(dx, dy) < r.cfg.MoveThreshold {
		return
	}

	// Movement disqualifies a long press.
	r.cancelLongPress()

	mx := int(math.Round(dx * st.DPIScale))
	my := int(math.Round(dy * st.DPIScale))
	if mx == 0 && my == 0 {
		return
	}

	if !st.limiter.AllowN(s.At, 1) {
		r.throttled.Add(1)
		if r.observer != nil {
			r.observer.MoveThrottled()
		}
		return
	}

	st.LastX, st.LastY = s.X, s.Y
	r.moves.Add(1)
	r.emit(ctx, Command{Kind: CommandMove, DeltaX: mx, DeltaY: my})
}

func (r *Recognizer) onEnd(ctx context.Context, s Sample) {
	st := &r.state
	if !st.Tracking {
		return
	}

	if r.longPressDue(s) {
		r.fireLongPress(ctx)
		return
	}

	r.cancelLongPress()
	held := s.At.Sub(st.StartTime)
	r.reset()

	if held < r.cfg.ClickMax {
		r.clicks.Add(1)
		r.emit(ctx, Command{Kind: CommandClick, Button: wire.ButtonLeft})
		return
	}
	r.logger.Debug("gesture ended without click", "held", held)
}

func (r *Recognizer) onLongPress(ctx context.Context, gen uint64) {
	st := &r.state
	if !st.Tracking || st.gen != gen || st.longPress == nil {
		// Fired for a gesture that already ended or moved.
		return
	}

	r.fireLongPress(ctx)
}

// longPressDue reports whether s is timestamped past the long-press deadline of a
// gesture whose timer is still armed. Queued samples may be processed late.
func (r *Recognizer) longPressDue(s Sample) bool {
	st := &r.state
	return st.longPress != nil && s.At.Sub(st.StartTime) >= r.cfg.LongPress
}

// fireLongPress ends the gesture with a secondary click.
func (r *Recognizer) fireLongPress(ctx context.Context) {
	r.cancelLongPress()
	r.reset()

	r.longPresses.Add(1)
	r.emit(ctx, Command{Kind: CommandClick, Button: wire.ButtonRight})
}

func (r *Recognizer) onScroll(ctx context.Context, s Sample) {
	if s.TouchCount < 2 {
		return
	}
	r.scrolls.Add(1)
	r.emit(ctx, Command{
		Kind:   CommandScroll,
		DeltaX: int(math.Round(s.DeltaX)),
		DeltaY: int(math.Round(s.DeltaY)),
	})
}

func (r *Recognizer) emit(ctx context.Context, cmd Command) {
	if r.observer != nil {
		r.observer.CommandEmitted(cmd.Kind)
	}
	if r.sink == nil {
		return
	}
	if err := r.sink.Emit(ctx, cmd); err != nil {
		r.emitErrors.Add(1)
		if r.observer != nil {
			r.observer.EmitFailed(cmd.Kind)
		}
		r.logger.Warn("failed to send command",
			"command", cmd.Kind,
			"error", err,
		)
	}
}

func (r *Recognizer) cancelLongPress() {
	if r.state.longPress != nil {
		r.state.longPress.Stop()
		r.state.longPress = nil
	}
}

// reset clears the gesture but keeps the DPI and generation counter.
func (r *Recognizer) reset() {
	r.state = TouchpadState{
		DPIScale: r.state.DPIScale,
		gen:      r.state.gen,
	}
}

func (r *Recognizer) newLimiter() *rate.Limiter {
	if r.cfg.Throttle <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(r.cfg.Throttle), 1)
}
