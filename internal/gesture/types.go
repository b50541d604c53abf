package gesture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/remote-input/internal/wire"
)

// ErrClosed is returned by Submit after the recognizer stopped.
var ErrClosed = errors.New("recognizer closed")

// DPI bounds.
const (
	MinDPI = 0.1
	MaxDPI = 10.0
)

// DPIPresets are the discrete multipliers offered by the CLI.
var DPIPresets = []float64{0.5, 1.0, 1.5, 2.0, 3.0, 5.0}

// ClampDPI limits v to [MinDPI, MaxDPI].
func ClampDPI(v float64) float64 {
	switch {
	case v < MinDPI:
		return MinDPI
	case v > MaxDPI:
		return MaxDPI
	default:
		return v
	}
}

// Kind is the type of raw input sample.
type Kind int

const (
	KindStart  Kind = iota // pointer-down / touchstart
	KindMove               // pointer-move / touchmove
	KindEnd                // pointer-up / pointer-leave / touchend
	KindScroll             // wheel or two-finger scroll
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindMove:
		return "move"
	case KindEnd:
		return "end"
	case KindScroll:
		return "scroll"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sample is one raw pointer or touch event, with mouse and touch unified.
type Sample struct {
	Kind       Kind
	X, Y       float64   // Pointer position in pixels (Start, Move, End)
	DeltaX     float64   // Wheel delta (Scroll)
	DeltaY     float64   // Wheel delta (Scroll)
	TouchCount int       // Active touch points; 1 for a mouse
	At         time.Time // When the sample was taken
}

// CommandKind is the type of remote command.
type CommandKind int

const (
	CommandMove CommandKind = iota
	CommandClick
	CommandScroll
)

func (k CommandKind) String() string {
	switch k {
	case CommandMove:
		return "move"
	case CommandClick:
		return "click"
	case CommandScroll:
		return "scroll"
	default:
		return fmt.Sprintf("command(%d)", int(k))
	}
}

// Command is a discrete remote command produced by the recognizer.
type Command struct {
	Kind   CommandKind
	DeltaX int    // Move, Scroll
	DeltaY int    // Move, Scroll
	Button string // Click: wire.ButtonLeft or wire.ButtonRight
}

// Primary reports whether c is a left click.
func (c Command) Primary() bool {
	return c.Kind == CommandClick && c.Button == wire.ButtonLeft
}

// Secondary reports whether c is a right click.
func (c Command) Secondary() bool {
	return c.Kind == CommandClick && c.Button == wire.ButtonRight
}

// Sink receives recognized commands.
type Sink interface {
	Emit(ctx context.Context, cmd Command) error
}

// SinkFunc is a function adapter for Sink.
type SinkFunc func(ctx context.Context, cmd Command) error

func (f SinkFunc) Emit(ctx context.Context, cmd Command) error {
	return f(ctx, cmd)
}

// Observer receives recognizer activity, typically for metrics.
type Observer interface {
	CommandEmitted(kind CommandKind)
	MoveThrottled()
	EmitFailed(kind CommandKind)
}

// Config holds the recognizer thresholds.
type Config struct {
	MoveThreshold float64       // Minimum movement in pixels; smaller moves are ignored
	Throttle      time.Duration // Minimum spacing between emitted moves
	LongPress     time.Duration // Hold time that triggers a secondary click
	ClickMax      time.Duration // Gestures shorter than this end in a primary click
	DPI           float64       // Initial move multiplier
	QueueSize     int           // Initial event queue capacity
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MoveThreshold: 2,
		Throttle:      16 * time.Millisecond,
		LongPress:     500 * time.Millisecond,
		ClickMax:      200 * time.Millisecond,
		DPI:           1.0,
		QueueSize:     256,
	}
}

// Stats is a snapshot of recognizer counters.
type Stats struct {
	Samples     int64
	Moves       int64
	Clicks      int64
	LongPresses int64
	Scrolls     int64
	Throttled   int64
	EmitErrors  int64
	DPI         float64
}

// stopper is the part of *time.Timer the recognizer needs.
type stopper interface {
	Stop() bool
}
