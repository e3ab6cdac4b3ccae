package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "live_spaces"

// Metrics groups the server's prometheus collectors.
type Metrics struct {
	SpacesCreated   prometheus.Counter
	SpacesEnded     *prometheus.CounterVec
	SpacesLive      prometheus.Gauge
	TokensIssued    *prometheus.CounterVec
	PresenceSockets prometheus.Gauge
	PresenceUpdates prometheus.Counter
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SpacesCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "spaces_created_total",
			Help:      "Spaces created.",
		}),
		SpacesEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "spaces_ended_total",
			Help:      "Spaces ended, by reason.",
		}, []string{"reason"}),
		SpacesLive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "spaces_live",
			Help:      "Spaces currently live, as of the last sweep.",
		}),
		TokensIssued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tokens_issued_total",
			Help:      "LiveKit access tokens issued, by role.",
		}, []string{"role"}),
		PresenceSockets: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "presence_sockets",
			Help:      "Open presence websockets.",
		}),
		PresenceUpdates: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "presence_updates_total",
			Help:      "Presence updates accepted.",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}
