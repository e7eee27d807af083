package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tether"

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all host metrics.
type Registry struct {
	gatherer prometheus.Gatherer

	// Connection metrics
	Connections       *prometheus.GaugeVec
	ConnectionsTotal  *prometheus.CounterVec
	Disconnects       *prometheus.CounterVec
	InitDuration      prometheus.Histogram
	InitFailures      prometheus.Counter
	ProtocolErrors    *prometheus.CounterVec
	InboundMessages   *prometheus.CounterVec
	IdleEvictions     prometheus.Counter
	SendQueueOverflow prometheus.Counter

	// Broadcast metrics
	Broadcasts     *prometheus.CounterVec
	BroadcastBytes *prometheus.CounterVec
	RulesDelivered prometheus.Gauge
	RulesWaiting   prometheus.Gauge

	// Transport metrics
	ListenerUp       *prometheus.GaugeVec
	ListenerRestarts *prometheus.CounterVec
	CertGenerations  *prometheus.CounterVec
	DiagRequests     *prometheus.CounterVec
	HandshakesDenied *prometheus.CounterVec

	// Recording metrics
	RecordingRequests *prometheus.CounterVec
}

// Get returns the process-wide registry backed by the default
// prometheus registerer, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	})
	return registry
}

// NewIsolated returns a registry backed by its own prometheus registry.
// Used by tests and by hosts embedded in another process.
func NewIsolated() *Registry {
	reg := prometheus.NewRegistry()
	return New(reg, reg)
}

// New creates a registry whose collectors are registered with reg.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Registry {
	f := promauto.With(reg)
	r := &Registry{gatherer: gatherer}

	r.Connections = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections",
		Help:      "Open client connections by transport and state",
	}, []string{"transport", "state"})

	r.ConnectionsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connections_total",
		Help:      "Client connections accepted",
	}, []string{"transport"})

	r.Disconnects = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "disconnects_total",
		Help:      "Client connections closed, by reason",
	}, []string{"reason"})

	r.InitDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "initialization_duration_seconds",
		Help:      "Time to deliver the initial snapshot to a connection",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	})

	r.InitFailures = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "initialization_failures_total",
		Help:      "Connection initializations that failed",
	})

	r.ProtocolErrors = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "protocol_errors_total",
		Help:      "Inbound frames rejected by the decoder",
	}, []string{"reason"})

	r.InboundMessages = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inbound_messages_total",
		Help:      "Decoded inbound messages by type",
	}, []string{"type"})

	r.IdleEvictions = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "idle_evictions_total",
		Help:      "Connections closed by the liveness sweep",
	})

	r.SendQueueOverflow = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "send_queue_overflows_total",
		Help:      "Connections closed because their outbound queue filled",
	})

	r.Broadcasts = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcasts_total",
		Help:      "Broadcast operations by message type",
	}, []string{"type"})

	r.BroadcastBytes = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_bytes_total",
		Help:      "Bytes written to clients by broadcasts",
	}, []string{"type"})

	r.RulesDelivered = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rules_delivered",
		Help:      "Rules in the last resolved deliverable set",
	})

	r.RulesWaiting = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rules_waiting",
		Help:      "Rules withheld on missing variables",
	})

	r.ListenerUp = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "listener_up",
		Help:      "Whether a transport listener is accepting connections",
	}, []string{"transport"})

	r.ListenerRestarts = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "listener_restarts_total",
		Help:      "Delayed listener restart attempts",
	}, []string{"transport", "result"})

	r.CertGenerations = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "certificate_generations_total",
		Help:      "Certificate generation attempts by generator",
	}, []string{"generator", "result"})

	r.DiagRequests = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "diagnostic_requests_total",
		Help:      "Non-upgrade HTTP requests served by the diagnostic surface",
	}, []string{"transport", "route", "status"})

	r.HandshakesDenied = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handshakes_denied_total",
		Help:      "Websocket handshakes refused before upgrade",
	}, []string{"transport", "reason"})

	r.RecordingRequests = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recording_requests_total",
		Help:      "Recording coordinator requests by operation and status",
	}, []string{"op", "status"})

	return r
}

// Handler returns the exposition handler for this registry.
func (r *Registry) Handler() http.Handler {
	if r.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.gatherer
}

// RecordInit records one initialization outcome.
func (r *Registry) RecordInit(d time.Duration, err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.InitFailures.Inc()
		return
	}
	r.InitDuration.Observe(d.Seconds())
}

// RecordBroadcast records a fan-out of size bytes to n recipients.
func (r *Registry) RecordBroadcast(msgType string, size, n int) {
	if r == nil {
		return
	}
	r.Broadcasts.WithLabelValues(msgType).Inc()
	r.BroadcastBytes.WithLabelValues(msgType).Add(float64(size * n))
}

// RecordRestart records a delayed listener restart attempt.
func (r *Registry) RecordRestart(transport string, err error) {
	if r == nil {
		return
	}
	r.ListenerRestarts.WithLabelValues(transport, resultString(err)).Inc()
}

// RecordHandshakeDenied records a refused websocket handshake.
func (r *Registry) RecordHandshakeDenied(transport, reason string) {
	if r == nil {
		return
	}
	r.HandshakesDenied.WithLabelValues(transport, reason).Inc()
}

// RecordCertGeneration records one generator attempt.
func (r *Registry) RecordCertGeneration(generator string, err error) {
	if r == nil {
		return
	}
	r.CertGenerations.WithLabelValues(generator, resultString(err)).Inc()
}

// SetListenerUp marks a transport listener up or down.
func (r *Registry) SetListenerUp(transport string, up bool) {
	if r == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	r.ListenerUp.WithLabelValues(transport).Set(v)
}

// RecordRecording records a recording coordinator outcome.
func (r *Registry) RecordRecording(op, status string) {
	if r == nil {
		return
	}
	r.RecordingRequests.WithLabelValues(op, status).Inc()
}

func resultString(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordDiagRequest records a diagnostic HTTP request.
func (r *Registry) RecordDiagRequest(transport, route string, status int) {
	if r == nil {
		return
	}
	r.DiagRequests.WithLabelValues(transport, route, statusString(status)).Inc()
}

func statusString(status int) string {
	return strconv.Itoa(status)
}
