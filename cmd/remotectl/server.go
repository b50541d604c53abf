package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rickgao/remote-input/internal/connection"
	"github.com/rickgao/remote-input/internal/gesture"
	"github.com/rickgao/remote-input/internal/poller"
	"github.com/rickgao/remote-input/internal/version"
)

// health is the /health response body.
type health struct {
	Status     string         `json:"status"`
	Version    string         `json:"version"`
	Transport  string         `json:"transport"`
	Components map[string]any `json:"components"`
}

// newHTTPHandler serves health, metrics and debug endpoints for the run command.
// rec and pol may be nil.
func newHTTPHandler(a *app, rec *gesture.Recognizer, pol *poller.Poller) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		h := health{
			Status:     "healthy",
			Version:    version.Version,
			Transport:  a.ctl.Status(),
			Components: make(map[string]any),
		}

		if a.mgr == nil {
			h.Components["websocket"] = "disabled"
		} else {
			stats := a.mgr.Stats()
			h.Components["websocket"] = map[string]any{
				"state":      stats.State.String(),
				"attempt":    stats.Attempt,
				"pending":    stats.Pending,
				"reconnects": stats.Reconnects,
				"fallbacks":  stats.Fallbacks,
			}
			if stats.State != connection.StateConnected {
				h.Status = "degraded"
			}
		}

		if pol != nil {
			ps := pol.Stats()
			remote := map[string]any{
				"polls":    ps.Polls,
				"failures": ps.Failures,
			}
			if !ps.LastOK.IsZero() {
				remote["last_ok"] = ps.LastOK.Format(time.RFC3339)
			}
			if ps.Polls > 0 && ps.LastOK.IsZero() {
				remote["status"] = "unreachable"
				h.Status = "unhealthy"
			}
			h.Components["remote"] = remote
		}

		if rec != nil {
			h.Components["gesture"] = rec.Stats()
		}

		w.Header().Set("Content-Type", "application/json")
		if h.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	})

	r.Get("/debug/latency", func(w http.ResponseWriter, req *http.Request) {
		samples := a.ctl.Latencies()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"count":      len(samples),
			"average_ms": a.ctl.AverageLatency().Milliseconds(),
			"samples":    samples,
		})
	})

	r.Get("/debug/router", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(a.pushes.Stats())
	})

	r.Handle(a.cfg.Metrics.Path, a.metrics.Handler())

	return r
}
