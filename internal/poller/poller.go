package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/remote-input/internal/api"
)

// StatsSource fetches a stats snapshot. *api.Client implements it.
type StatsSource interface {
	Stats(ctx context.Context) (api.Stats, error)
}

// StatsHandler receives fetched snapshots.
type StatsHandler interface {
	HandleStats(stats api.Stats) error
}

// StatsHandlerFunc is a function adapter for StatsHandler.
type StatsHandlerFunc func(api.Stats) error

func (f StatsHandlerFunc) HandleStats(s api.Stats) error {
	return f(s)
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Poll interval (default: 3s)
	Timeout  time.Duration // Per-request timeout (default: 2s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 3 * time.Second,
		Timeout:  2 * time.Second,
	}
}

// PollerStats contains runtime statistics.
type PollerStats struct {
	Polls    int64
	Failures int64
	LastOK   time.Time
}

// Poller periodically fetches the remote service statistics.
type Poller struct {
	cfg     Config
	source  StatsSource
	handler StatsHandler
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	polls    atomic.Int64
	failures atomic.Int64
	lastOK   atomic.Int64 // unix nanos
}

// New creates a new Poller.
func New(cfg Config, source StatsSource, handler StatsHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Poller{
		cfg:     cfg,
		source:  source,
		handler: handler,
		logger:  logger,
		ctx:     context.Background(),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("stats poller started", "interval", p.cfg.Interval)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("stats poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current statistics.
func (p *Poller) Stats() PollerStats {
	s := PollerStats{
		Polls:    p.polls.Load(),
		Failures: p.failures.Load(),
	}
	if ns := p.lastOK.Load(); ns > 0 {
		s.LastOK = time.Unix(0, ns)
	}
	return s
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.poll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

// poll fetches and handles one snapshot.
func (p *Poller) poll() {
	p.polls.Add(1)

	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	stats, err := p.source.Stats(ctx)
	if err != nil {
		if p.ctx.Err() != nil {
			return
		}
		p.failures.Add(1)
		p.logger.Warn("failed to poll stats", "error", err)
		return
	}

	if p.handler != nil {
		if err := p.handler.HandleStats(stats); err != nil {
			p.failures.Add(1)
			p.logger.Warn("stats handler failed", "error", err)
			return
		}
	}

	p.lastOK.Store(time.Now().UnixNano())
	p.logger.Debug("stats polled",
		"total_requests", stats.TotalRequests,
		"success_rate", stats.SuccessRate,
		"queue_length", stats.QueueLength,
	)
}
