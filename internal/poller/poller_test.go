package poller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/remote-input/internal/api"
)

func TestPoller_Poll(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stats" {
			t.Errorf("path = %s, want /stats", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"total_requests": 42,
			"success_rate":   97.5,
		})
	}))
	defer server.Close()

	client := api.NewClient(server.URL, api.WithTimeout(5*time.Second))

	var got api.Stats
	handler := StatsHandlerFunc(func(s api.Stats) error {
		got = s
		return nil
	})

	p := New(Config{Interval: time.Hour, Timeout: 5 * time.Second}, client, handler, nil)
	p.poll()

	if got.TotalRequests != 42 || got.SuccessRate != 97.5 {
		t.Errorf("stats = %+v", got)
	}
	stats := p.Stats()
	if stats.Polls != 1 || stats.Failures != 0 {
		t.Errorf("poller stats = %+v", stats)
	}
	if stats.LastOK.IsZero() {
		t.Error("LastOK not set after successful poll")
	}
}

func TestPoller_FailuresAreCounted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	var called atomic.Bool
	handler := StatsHandlerFunc(func(api.Stats) error {
		called.Store(true)
		return nil
	})

	p := New(DefaultConfig(), api.NewClient(server.URL), handler, nil)
	p.poll()
	p.poll()

	if called.Load() {
		t.Error("handler called on failed poll")
	}
	if got := p.Stats().Failures; got != 2 {
		t.Errorf("Failures = %d, want 2", got)
	}
}

type staticSource struct{}

func (staticSource) Stats(context.Context) (api.Stats, error) {
	return api.Stats{TotalRequests: 1}, nil
}

func TestPoller_HandlerError(t *testing.T) {
	p := New(DefaultConfig(), staticSource{}, StatsHandlerFunc(func(api.Stats) error {
		return errors.New("sink full")
	}), nil)
	p.poll()

	if got := p.Stats().Failures; got != 1 {
		t.Errorf("Failures = %d, want 1", got)
	}
}

func TestPoller_StartStop(t *testing.T) {
	var count atomic.Int32
	handler := StatsHandlerFunc(func(api.Stats) error {
		count.Add(1)
		return nil
	})

	p := New(Config{Interval: 20 * time.Millisecond, Timeout: time.Second}, staticSource{}, handler, nil)

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Immediate poll plus a few ticks.
	time.Sleep(90 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := count.Load(); got < 2 {
		t.Errorf("handler called %d times, want at least 2", got)
	}

	after := count.Load()
	time.Sleep(50 * time.Millisecond)
	if count.Load() != after {
		t.Error("poller kept running after Stop")
	}
}

func TestNew_Defaults(t *testing.T) {
	p := New(Config{}, staticSource{}, nil, nil)
	if p.cfg.Interval != 3*time.Second {
		t.Errorf("Interval = %v, want 3s", p.cfg.Interval)
	}
	if p.cfg.Timeout != 2*time.Second {
		t.Errorf("Timeout = %v, want 2s", p.cfg.Timeout)
	}
}
