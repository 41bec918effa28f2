// Package observability groups the Prometheus instruments for the bridge.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the voice bridge.
type Metrics struct {
	ActiveSessions  prometheus.Gauge
	ActiveSpeakers  prometheus.Gauge
	Utterances      *prometheus.CounterVec
	BackendErrors   *prometheus.CounterVec
	BackendLatency  prometheus.Histogram
	RepliesPlayed   prometheus.Counter
	ResponsesHourly prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live voice sessions.",
		}),
		ActiveSpeakers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_speakers",
			Help:      "Speakers currently mid-utterance.",
		}),
		Utterances: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Finished utterances by outcome.",
		}, []string{"outcome"}),
		BackendErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "AI backend failures by class.",
		}, []string{"class"}),
		BackendLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_latency_ms",
			Help:      "AI backend round-trip latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000},
		}),
		RepliesPlayed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_played_total",
			Help:      "Reply buffers played into the session.",
		}),
		ResponsesHourly: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "responses_this_hour",
			Help:      "Responses admitted in the current hourly window.",
		}),
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
