// Package metrics exposes Prometheus counters/histograms/gauges for
// the probe service, built with the same promauto construction pattern
// as the teacher's metrics package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the service exposes.
type Metrics struct {
	// Probe/session metrics
	SessionsOpened prometheus.Counter
	SessionsClosed prometheus.Counter
	ActiveSessions prometheus.Gauge
	ParseErrors    *prometheus.CounterVec // label: error_kind
	OpenDuration   prometheus.Histogram

	// Sample metrics
	SamplesServed *prometheus.CounterVec // label: kind (video/audio)
	SampleSize    *prometheus.HistogramVec
	BadSamples    prometheus.Counter

	// GOP analysis metrics
	GOPAnalysesRun prometheus.Counter
	GOPsFound      prometheus.Histogram

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates and registers all metrics.
func New() *Metrics {
	return &Metrics{
		SessionsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mp4probe_sessions_opened_total",
			Help: "Total number of demux sessions opened",
		}),
		SessionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mp4probe_sessions_closed_total",
			Help: "Total number of demux sessions closed",
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mp4probe_active_sessions",
			Help: "Number of currently open demux sessions",
		}),
		ParseErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mp4probe_parse_errors_total",
				Help: "Total number of parse errors by taxonomy kind",
			},
			[]string{"error_kind"},
		),
		OpenDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mp4probe_open_duration_seconds",
			Help:    "Duration of Mp4Demuxer.Open calls",
			Buckets: prometheus.DefBuckets,
		}),
		SamplesServed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mp4probe_samples_served_total",
				Help: "Total number of samples returned by next_sample",
			},
			[]string{"kind"},
		),
		SampleSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mp4probe_sample_size_bytes",
				Help:    "Size of samples served",
				Buckets: prometheus.ExponentialBuckets(64, 2, 16),
			},
			[]string{"kind"},
		),
		BadSamples: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mp4probe_bad_samples_total",
			Help: "Total number of samples that failed AVCC validation",
		}),
		GOPAnalysesRun: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mp4probe_gop_analyses_total",
			Help: "Total number of GOP analyses run",
		}),
		GOPsFound: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mp4probe_gops_found",
			Help:    "Number of GOPs found per analysis",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),
		HTTPRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mp4probe_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mp4probe_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// RecordSessionOpen records a session being opened.
func (m *Metrics) RecordSessionOpen(durationSeconds float64) {
	m.SessionsOpened.Inc()
	m.ActiveSessions.Inc()
	m.OpenDuration.Observe(durationSeconds)
}

// RecordSessionClose records a session being closed.
func (m *Metrics) RecordSessionClose() {
	m.SessionsClosed.Inc()
	m.ActiveSessions.Dec()
}

// RecordParseError records a parse error by taxonomy kind.
func (m *Metrics) RecordParseError(kind string) {
	m.ParseErrors.WithLabelValues(kind).Inc()
}

// RecordSample records a sample being served.
func (m *Metrics) RecordSample(kind string, size int) {
	m.SamplesServed.WithLabelValues(kind).Inc()
	m.SampleSize.WithLabelValues(kind).Observe(float64(size))
}

// RecordBadSample records an AVCC validation failure.
func (m *Metrics) RecordBadSample() {
	m.BadSamples.Inc()
}

// RecordGOPAnalysis records a GOP analysis run.
func (m *Metrics) RecordGOPAnalysis(gopCount int) {
	m.GOPAnalysesRun.Inc()
	m.GOPsFound.Observe(float64(gopCount))
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, path, statusCodeToString(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(durationSeconds)
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
