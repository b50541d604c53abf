package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rickgao/remote-input/internal/connection"
	"github.com/rickgao/remote-input/internal/gesture"
)

// inputLine is one JSON line read by the run command. Pointer kinds become gesture
// samples; the rest are control commands.
//
//	{"kind":"start","x":10,"y":20}
//	{"kind":"scroll","dy":-120,"touches":2}
//	{"kind":"dpi","dpi":1.5}
//	{"kind":"mode","mode":"http"}
//	{"kind":"key","key":"enter"}
//	{"kind":"text","text":"hello"}
type inputLine struct {
	Kind    string  `json:"kind"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	DX      float64 `json:"dx"`
	DY      float64 `json:"dy"`
	Touches int     `json:"touches"`
	TimeMS  int64   `json:"t"` // Unix milliseconds; now when zero
	DPI     float64 `json:"dpi"`
	Mode    string  `json:"mode"`
	Key     string  `json:"key"`
	Text    string  `json:"text"`
}

func parseLine(raw string) (inputLine, error) {
	var line inputLine
	if err := json.Unmarshal([]byte(raw), &line); err != nil {
		return inputLine{}, fmt.Errorf("parse input line: %w", err)
	}
	line.Kind = strings.ToLower(strings.TrimSpace(line.Kind))
	if line.Kind == "" {
		return inputLine{}, fmt.Errorf("parse input line: missing kind")
	}
	return line, nil
}

// sample converts a pointer line. ok is false for control lines.
func (l inputLine) sample(now time.Time) (gesture.Sample, bool) {
	var kind gesture.Kind
	switch l.Kind {
	case "start":
		kind = gesture.KindStart
	case "move":
		kind = gesture.KindMove
	case "end":
		kind = gesture.KindEnd
	case "scroll":
		kind = gesture.KindScroll
	default:
		return gesture.Sample{}, false
	}

	at := now
	if l.TimeMS > 0 {
		at = time.UnixMilli(l.TimeMS)
	}
	touches := l.Touches
	if touches == 0 {
		// A wheel counts as a two-finger scroll; everything else as one finger.
		touches = 1
		if kind == gesture.KindScroll {
			touches = 2
		}
	}

	return gesture.Sample{
		Kind:       kind,
		X:          l.X,
		Y:          l.Y,
		DeltaX:     l.DX,
		DeltaY:     l.DY,
		TouchCount: touches,
		At:         at,
	}, true
}

// parseMode maps a mode name to a connection mode.
func parseMode(s string) (connection.Mode, error) {
	switch strings.ToLower(s) {
	case "websocket", "ws", "duplex":
		return connection.ModeDuplex, nil
	case "http":
		return connection.ModeHTTP, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

// inputReader feeds lines from r into the recognizer and controller.
type inputReader struct {
	app    *app
	rec    *gesture.Recognizer
	logger *slog.Logger
	now    func() time.Time
}

// scanLines reads r on its own goroutine so a blocked read never holds up shutdown.
func scanLines(r io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			text := strings.TrimSpace(sc.Text())
			if text == "" || strings.HasPrefix(text, "#") {
				continue
			}
			lines <- text
		}
		errc <- sc.Err()
	}()
	return lines, errc
}

// run consumes lines until the input ends or ctx is done. Bad lines are logged and skipped.
func (ir *inputReader) run(ctx context.Context, r io.Reader) error {
	lines, errc := scanLines(r)
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-lines:
			if !ok {
				if err := <-errc; err != nil {
					return fmt.Errorf("read input: %w", err)
				}
				return nil
			}
			if err := ir.handle(ctx, raw); err != nil {
				ir.logger.Warn("input line rejected", "error", err)
			}
		}
	}
}

func (ir *inputReader) handle(ctx context.Context, raw string) error {
	line, err := parseLine(raw)
	if err != nil {
		return err
	}

	if s, ok := line.sample(ir.now()); ok {
		return ir.rec.Submit(s)
	}

	switch line.Kind {
	case "dpi":
		applied, err := ir.rec.SetDPI(line.DPI)
		if err != nil {
			return err
		}
		ir.logger.Info("dpi changed", "dpi", applied)
		return nil
	case "mode":
		mode, err := parseMode(line.Mode)
		if err != nil {
			return err
		}
		return ir.app.ctl.SwitchMode(mode)
	case "key":
		_, err := ir.app.ctl.PressKey(ctx, line.Key, 0)
		return err
	case "text":
		_, err := ir.app.ctl.TypeText(ctx, line.Text)
		return err
	default:
		return fmt.Errorf("unknown kind %q", line.Kind)
	}
}
