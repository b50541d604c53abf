package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/remote-input/internal/api"
	"github.com/rickgao/remote-input/internal/config"
	"github.com/rickgao/remote-input/internal/gesture"
	"github.com/rickgao/remote-input/internal/poller"
	"github.com/rickgao/remote-input/internal/version"
)

func runCmd(opts *rootOptions) *cobra.Command {
	var (
		metricsPort int
		keepAlive   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Stream gestures from stdin to the remote",
		Long: `Run the full client: the websocket manager with HTTP fallback, the gesture
recognizer fed by JSON lines on stdin, the stats poller and a health and
metrics server.

Each input line is a JSON object with a kind of start, move, end, scroll,
dpi, mode, key or text.

Examples:
  remotectl run < gestures.jsonl
  remotectl run --metrics-port 9090 --keep-alive`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("metrics-port") {
				cfg.Metrics.Port = metricsPort
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runClient(ctx, cfg, cmd.InOrStdin(), cmd.ErrOrStderr(), keepAlive)
		},
	}

	cmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "Health and metrics port, overrides metrics.port (0 disables)")
	cmd.Flags().BoolVar(&keepAlive, "keep-alive", false, "Keep running after input ends")

	return cmd
}

// runClient wires every component and runs until ctx is done. Unless keepAlive is
// set, the end of input also ends the run once pending gestures have settled.
func runClient(ctx context.Context, cfg *config.Config, in io.Reader, logOut io.Writer, keepAlive bool) error {
	logger := newLogger(cfg, logOut)
	logger.Info("starting remotectl",
		"version", version.Version,
		"commit", version.Commit,
		"base_url", cfg.Remote.BaseURL,
		"force_http", cfg.Remote.ForceHTTP,
	)

	a, err := newApp(cfg, logger, true)
	if err != nil {
		return err
	}

	rec := gesture.New(gestureConfig(cfg), a.ctl, logger, gesture.WithObserver(a.metrics))

	var pol *poller.Poller
	if cfg.StatsEnabled() {
		pol = poller.New(pollerConfig(cfg), a.http, poller.StatsHandlerFunc(func(s api.Stats) error {
			a.metrics.ObserveRemoteStats(s)
			return nil
		}), logger)
	}

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

	if pol != nil {
		if err := pol.Start(ctx); err != nil {
			return fmt.Errorf("start stats poller: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			pol.Stop(shutdownCtx)
		}()
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		if err := rec.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		ir := &inputReader{app: a, rec: rec, logger: logger, now: time.Now}
		if err := ir.run(gctx, in); err != nil {
			return err
		}
		if keepAlive {
			return nil
		}
		logger.Info("input ended, draining")
		// Leave room for a pending long press to fire.
		settle := time.NewTimer(cfg.Gesture.LongPress + cfg.Gesture.Throttle)
		defer settle.Stop()
		select {
		case <-settle.C:
		case <-gctx.Done():
		}
		cancelRun()
		return nil
	})

	if cfg.Metrics.Port > 0 {
		srv := &http.Server{
			Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Metrics.Port)),
			Handler:           newHTTPHandler(a, rec, pol),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("starting health server", "port", cfg.Metrics.Port, "metrics_path", cfg.Metrics.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()

	stats := rec.Stats()
	logger.Info("remotectl stopped",
		"samples", stats.Samples,
		"moves", stats.Moves,
		"clicks", stats.Clicks,
		"scrolls", stats.Scrolls,
		"avg_latency", a.ctl.AverageLatency(),
	)
	return err
}
