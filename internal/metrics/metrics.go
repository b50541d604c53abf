package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/remote-input/internal/api"
	"github.com/rickgao/remote-input/internal/connection"
	"github.com/rickgao/remote-input/internal/gesture"
)

const namespace = "remote_input"

// Metrics holds the collectors. It observes the connection manager and the gesture
// recognizer and records per-call latency for the controller.
type Metrics struct {
	registry *prometheus.Registry

	connState       *prometheus.GaugeVec
	stateChanges    *prometheus.CounterVec
	reconnects      prometheus.Counter
	reconnectDelay  prometheus.Histogram
	decodeErrors    prometheus.Counter
	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	gestureCommands *prometheus.CounterVec
	gestureErrors   *prometheus.CounterVec
	movesThrottled  prometheus.Counter
	remoteRequests  *prometheus.GaugeVec
	remoteLatency   *prometheus.GaugeVec
	remoteQueue     prometheus.Gauge
	remoteSuccess   prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		connState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "state",
			Help:      "1 for the current connection state, 0 otherwise",
		}, []string{"state"}),

		stateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "state_changes_total",
			Help:      "Connection state transitions by target state",
		}, []string{"to"}),

		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled after an unexpected close",
		}),

		reconnectDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnect_delay_seconds",
			Help:      "Backoff delay before each reconnect attempt",
			Buckets:   []float64{1, 2, 4, 8, 16, 32},
		}),

		decodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "decode_errors_total",
			Help:      "Inbound frames dropped because they could not be decoded",
		}),

		commandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "total",
			Help:      "Commands sent to the remote service",
		}, []string{"command", "transport", "status"}),

		commandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "duration_seconds",
			Help:      "Round trip time of commands",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"command", "transport"}),

		gestureCommands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gesture",
			Name:      "commands_total",
			Help:      "Commands produced by the gesture recognizer",
		}, []string{"kind"}),

		gestureErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gesture",
			Name:      "emit_errors_total",
			Help:      "Recognized commands that failed to send",
		}, []string{"kind"}),

		movesThrottled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gesture",
			Name:      "moves_throttled_total",
			Help:      "Move samples dropped by the rate limiter",
		}),

		remoteRequests: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "requests",
			Help:      "Request counters reported by the remote service",
		}, []string{"result"}),

		remoteLatency: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "latency_ms",
			Help:      "Average latency reported by the remote service, by stage",
		}, []string{"stage"}),

		remoteQueue: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "queue_length",
			Help:      "Remote service request queue length",
		}),

		remoteSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "success_rate_percent",
			Help:      "Remote service success rate",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// StateChanged implements connection.Observer.
func (m *Metrics) StateChanged(from, to connection.State) {
	m.connState.WithLabelValues(from.String()).Set(0)
	m.connState.WithLabelValues(to.String()).Set(1)
	m.stateChanges.WithLabelValues(to.String()).Inc()
}

// ReconnectScheduled implements connection.Observer.
func (m *Metrics) ReconnectScheduled(attempt int, delay time.Duration) {
	m.reconnects.Inc()
	m.reconnectDelay.Observe(delay.Seconds())
}

// DecodeFailed implements connection.Observer.
func (m *Metrics) DecodeFailed(err error) {
	m.decodeErrors.Inc()
}

// CommandEmitted implements gesture.Observer.
func (m *Metrics) CommandEmitted(kind gesture.CommandKind) {
	m.gestureCommands.WithLabelValues(kind.String()).Inc()
}

// MoveThrottled implements gesture.Observer.
func (m *Metrics) MoveThrottled() {
	m.movesThrottled.Inc()
}

// EmitFailed implements gesture.Observer.
func (m *Metrics) EmitFailed(kind gesture.CommandKind) {
	m.gestureErrors.WithLabelValues(kind.String()).Inc()
}

// ObserveCommand records one command sent over transport ("websocket" or "http").
func (m *Metrics) ObserveCommand(command, transport string, d time.Duration, err error) {
	m.commandsTotal.WithLabelValues(command, transport, statusLabel(err)).Inc()
	m.commandDuration.WithLabelValues(command, transport).Observe(d.Seconds())
}

// ObserveRemoteStats publishes a /stats snapshot.
func (m *Metrics) ObserveRemoteStats(s api.Stats) {
	m.remoteRequests.WithLabelValues("total").Set(float64(s.TotalRequests))
	m.remoteRequests.WithLabelValues("success").Set(float64(s.SuccessRequests))
	m.remoteRequests.WithLabelValues("failed").Set(float64(s.FailedRequests))
	m.remoteRequests.WithLabelValues("rejected").Set(float64(s.RejectedRequests))

	m.remoteLatency.WithLabelValues("average").Set(float64(s.AverageLatencyMS))
	m.remoteLatency.WithLabelValues("queue").Set(float64(s.LatencyBreakdown.QueueMS))
	m.remoteLatency.WithLabelValues("process").Set(float64(s.LatencyBreakdown.ProcessMS))
	m.remoteLatency.WithLabelValues("network").Set(float64(s.LatencyBreakdown.NetworkMS))

	m.remoteQueue.Set(float64(s.QueueLength))
	m.remoteSuccess.Set(s.SuccessRate)
}

// statusLabel keeps label cardinality small.
func statusLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var te *api.TransportError
	if errors.As(err, &te) && te.StatusCode > 0 {
		return strconv.Itoa(te.StatusCode)
	}
	switch {
	case errors.Is(err, connection.ErrTimeout):
		return "timeout"
	case errors.Is(err, connection.ErrNotConnected):
		return "not_connected"
	}
	var re *connection.RemoteError
	if errors.As(err, &re) {
		return "remote_error"
	}
	return "error"
}
