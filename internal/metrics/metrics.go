package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of the transport. All of them live in their
// own registry so tests can build as many instances as they like.
type Metrics struct {
	Registry *prometheus.Registry

	DatagramsReceived prometheus.Counter
	BytesReceived     prometheus.Counter
	ReceiveFailures   prometheus.Counter
	ActiveSessions    prometheus.Gauge
	SessionsStarted   prometheus.Counter
	SessionConflicts  prometheus.Counter

	SamplesDecoded prometheus.Counter
	DecodeErrors   prometheus.Counter

	Sends        *prometheus.CounterVec
	SendDuration prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		DatagramsReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "udpgps_datagrams_received_total",
			Help: "Datagrams read by listener sessions",
		}),
		BytesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "udpgps_bytes_received_total",
			Help: "Payload bytes read by listener sessions",
		}),
		ReceiveFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "udpgps_receive_failures_total",
			Help: "Listener sessions ended by a socket error",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "udpgps_active_sessions",
			Help: "Listener sessions currently bound",
		}),
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "udpgps_sessions_started_total",
			Help: "Listener sessions started",
		}),
		SessionConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "udpgps_session_conflicts_total",
			Help: "Start requests rejected because a session was active",
		}),
		SamplesDecoded: f.NewCounter(prometheus.CounterOpts{
			Name: "udpgps_samples_decoded_total",
			Help: "Datagrams decoded into a location reading",
		}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "udpgps_decode_errors_total",
			Help: "Datagrams that could not be decoded",
		}),
		Sends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "udpgps_sends_total",
			Help: "Send operations by result",
		}, []string{"result"}),
		SendDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "udpgps_send_duration_seconds",
			Help:    "Time spent resolving, writing and closing a send socket",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
}

var Default = New()

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
