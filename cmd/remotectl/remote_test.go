package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/remote-input/internal/config"
)

// recordedRequest is one call seen by the fake remote service.
type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// fakeRemote is an HTTP-only remote input service.
type fakeRemote struct {
	*httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

func newFakeRemote(t *testing.T) *fakeRemote {
	t.Helper()
	f := &fakeRemote{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Body:   string(body),
		})
		f.mu.Unlock()

		switch r.URL.Path {
		case "/stats":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"total_requests":   7,
				"success_requests": 7,
				"success_rate":     100.0,
			})
		case "/actions":
			w.Write([]byte("queued"))
		default:
			w.Write([]byte("ok"))
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeRemote) calls(path string) []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedRequest
	for _, r := range f.requests {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeRemote) waitFor(t *testing.T, path string, n int) []recordedRequest {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := f.calls(path); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s: got %d calls, want %d", path, len(f.calls(path)), n)
	return nil
}

// httpOnlyConfig points the defaults at url with the websocket and poller off.
func httpOnlyConfig(url string) *config.Config {
	cfg := config.Default()
	cfg.Remote.BaseURL = url
	cfg.Remote.ForceHTTP = true
	disabled := false
	cfg.Stats.Enabled = &disabled
	cfg.Log.Level = "error"
	return cfg
}
