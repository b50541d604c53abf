package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/remote-input/internal/api"
	"github.com/rickgao/remote-input/internal/wire"
)

// shutdownTimeout bounds how long commands wait for the manager to stop.
const shutdownTimeout = 5 * time.Second

// oneShot loads config, wires the app, waits for the transport to settle and runs fn.
func oneShot(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	a, err := newApp(cfg, logger, true)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.stop(shutdownCtx); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()
	if err := a.start(ctx); err != nil {
		return err
	}

	state := a.waitSettled(ctx, cfg.Connection.HandshakeTimeout)
	logger.Debug("transport ready", "state", state)

	return fn(ctx, a)
}

func pressCmd(opts *rootOptions) *cobra.Command {
	var duration int

	cmd := &cobra.Command{
		Use:   "press <key>",
		Short: "Press a single key",
		Long: `Press a single key on the remote keyboard.

Examples:
  remotectl press enter
  remotectl press a --duration 200`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(cmd, opts, func(ctx context.Context, a *app) error {
				reply, err := a.ctl.PressKey(ctx, args[0], duration)
				if err != nil {
					return err
				}
				printReply(cmd.OutOrStdout(), reply)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&duration, "duration", "d", api.DefaultPressDuration, "Hold time in milliseconds")

	return cmd
}

func typeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "type <text>...",
		Short: "Type text on the remote keyboard",
		Long: `Type text on the remote keyboard. Multiple arguments are joined with spaces.

Examples:
  remotectl type "hello world"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(cmd, opts, func(ctx context.Context, a *app) error {
				reply, err := a.ctl.TypeText(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				printReply(cmd.OutOrStdout(), reply)
				return nil
			})
		},
	}
	return cmd
}

func actionsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions <key[:ms]>...",
		Short: "Send a batch of key presses over HTTP",
		Long: `Send a batch of key presses in one request. Each argument is a key with an
optional hold time in milliseconds.

Examples:
  remotectl actions down down enter:100`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actions, err := parseActions(args)
			if err != nil {
				return err
			}
			return oneShot(cmd, opts, func(ctx context.Context, a *app) error {
				reply, err := a.ctl.Actions(ctx, actions)
				if err != nil {
					return err
				}
				printReply(cmd.OutOrStdout(), reply)
				return nil
			})
		},
	}
	return cmd
}

func moveCmd(opts *rootOptions) *cobra.Command {
	var dx, dy int

	cmd := &cobra.Command{
		Use:   "move",
		Short: "Move the remote pointer",
		Long: `Move the remote pointer by a relative offset in pixels.

Examples:
  remotectl move --dx 40 --dy -10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(cmd, opts, func(ctx context.Context, a *app) error {
				return a.ctl.Move(ctx, dx, dy)
			})
		},
	}

	cmd.Flags().IntVar(&dx, "dx", 0, "Horizontal offset")
	cmd.Flags().IntVar(&dy, "dy", 0, "Vertical offset")

	return cmd
}

func clickCmd(opts *rootOptions) *cobra.Command {
	var right, double bool

	cmd := &cobra.Command{
		Use:   "click",
		Short: "Click a remote mouse button",
		Long: `Click the left button, or the right one with --right.

Examples:
  remotectl click
  remotectl click --double
  remotectl click --right`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			button := wire.ButtonLeft
			if right {
				button = wire.ButtonRight
			}
			return oneShot(cmd, opts, func(ctx context.Context, a *app) error {
				if double {
					return a.ctl.DoubleClick(ctx, button)
				}
				return a.ctl.Click(ctx, button)
			})
		},
	}

	cmd.Flags().BoolVarP(&right, "right", "r", false, "Use the right button")
	cmd.Flags().BoolVar(&double, "double", false, "Send a double click")

	return cmd
}

func scrollCmd(opts *rootOptions) *cobra.Command {
	var dx, dy int

	cmd := &cobra.Command{
		Use:   "scroll",
		Short: "Scroll by a raw wheel delta",
		Long: `Scroll by a raw wheel delta. Positive dy scrolls down.

Examples:
  remotectl scroll --dy 120`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(cmd, opts, func(ctx context.Context, a *app) error {
				return a.ctl.Scroll(ctx, dx, dy)
			})
		},
	}

	cmd.Flags().IntVar(&dx, "dx", 0, "Horizontal wheel delta")
	cmd.Flags().IntVar(&dy, "dy", 0, "Vertical wheel delta")

	return cmd
}

func statsCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show remote service statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())
			a, err := newApp(cfg, logger, false)
			if err != nil {
				return err
			}

			stats, err := a.ctl.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			return printStats(cmd.OutOrStdout(), stats)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")

	return cmd
}

// parseActions parses "key" or "key:ms" arguments.
func parseActions(args []string) ([]api.Action, error) {
	actions := make([]api.Action, 0, len(args))
	for _, arg := range args {
		key, ms, found := strings.Cut(arg, ":")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("action %q: empty key", arg)
		}
		action := api.Action{Key: key}
		if found {
			d, err := strconv.Atoi(ms)
			if err != nil || d <= 0 {
				return nil, fmt.Errorf("action %q: duration must be a positive integer", arg)
			}
			action.Duration = d
		}
		actions = append(actions, action)
	}
	return actions, nil
}

func printReply(w io.Writer, reply string) {
	if reply == "" {
		return
	}
	fmt.Fprintln(w, reply)
}

func printStats(w io.Writer, s api.Stats) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Requests\t%d total, %d ok, %d failed, %d rejected\n",
		s.TotalRequests, s.SuccessRequests, s.FailedRequests, s.RejectedRequests)
	fmt.Fprintf(tw, "Success rate\t%.1f%%\n", s.SuccessRate)
	fmt.Fprintf(tw, "Average latency\t%d ms\n", s.AverageLatencyMS)
	fmt.Fprintf(tw, "Breakdown\tqueue %d ms, process %d ms, network %d ms\n",
		s.LatencyBreakdown.QueueMS, s.LatencyBreakdown.ProcessMS, s.LatencyBreakdown.NetworkMS)
	fmt.Fprintf(tw, "Queue\t%d/%d, %d processing\n", s.QueueLength, s.QueueCapacity, s.CurrentlyProcessing)
	if last := s.LastRequest(); !last.IsZero() {
		fmt.Fprintf(tw, "Last request\t%s\n", last.Local().Format(time.DateTime))
	}
	return tw.Flush()
}
